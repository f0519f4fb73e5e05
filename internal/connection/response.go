/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

package connection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nabbar/swiftd/errpage"
	"github.com/nabbar/swiftd/mimetype"
)

// BuildResponse resolves the parsed request line against DocRoot and stages
// the resulting status line + headers (and, for GET/POST/unknown methods
// alike, the file body; HEAD gets the same headers with no body) onto c via
// SetResponse. A regular file
// under DocRoot is memory-mapped read-only and handed to the writer as a
// second output segment, so the body never gets copied into a Go-managed
// buffer; the mapping is released through onFlush once HandleWritable
// finishes writing it out. A URI over maxURILen bytes returns a non-nil
// error instead of staging anything, so the caller tears the connection
// down without writing a response.
func (c *Conn) BuildResponse() error {
	req := c.line.Result

	path, err := resolvePath(c.DocRoot, req.URI)
	if err != nil {
		if errors.Is(err, errURITooLong) {
			return err
		}
		c.stageError(403, "access to "+req.URI+" is not permitted")
		return nil
	}

	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		if os.IsNotExist(err) || err == unix.ENOENT {
			c.stageError(404, "the requested path "+req.URI+" was not found on this server")
			return nil
		}
		c.stageError(403, "access to "+req.URI+" is not permitted")
		return nil
	}

	var st unix.Stat_t
	if err = unix.Fstat(fd, &st); err != nil {
		_ = unix.Close(fd)
		c.stageError(500, "the server failed to read file metadata")
		return nil
	}
	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		_ = unix.Close(fd)
		c.stageError(403, "access to "+req.URI+" is not permitted")
		return nil
	}

	size := int(st.Size)
	ctype := mimetype.Lookup(path)
	mtime := time.Unix(st.Mtim.Sec, st.Mtim.Nsec).UTC()

	if c.notModified(mtime) {
		_ = unix.Close(fd)
		head := c.statusLine(304, "Not Modified") + notModifiedHeaderBlock(c.keepAlive)
		c.SetResponse([][]byte{[]byte(head)}, nil)
		return nil
	}

	if req.Method == MethodHead || size == 0 {
		_ = unix.Close(fd)
		head := c.statusLine(200, "OK") + headerBlock(ctype, size, mtime, c.keepAlive)
		c.SetResponse([][]byte{[]byte(head)}, nil)
		return nil
	}

	body, err := unix.Mmap(fd, 0, size, unix.PROT_READ, unix.MAP_SHARED)
	// The mapping keeps the file's contents reachable after the fd is
	// closed; closing fd here matches the original's mmap-then-close idiom.
	_ = unix.Close(fd)
	if err != nil {
		c.stageError(500, "the server failed to map the file into memory")
		return nil
	}

	head := c.statusLine(200, "OK") + headerBlock(ctype, size, mtime, c.keepAlive)
	c.SetResponse([][]byte{[]byte(head), body}, func() {
		_ = unix.Munmap(body)
	})
	return nil
}

// notModified reports whether the request carried an If-Modified-Since
// header equal (to the second) to the file's mtime, per the original's
// "modified = false" dispatch-table behavior.
func (c *Conn) notModified(mtime time.Time) bool {
	if c.ifModSince == "" {
		return false
	}
	ims, err := time.Parse(http1Date, c.ifModSince)
	if err != nil {
		return false
	}
	return ims.Equal(mtime.Truncate(time.Second))
}

func (c *Conn) stageError(code int, message string) {
	body := errpage.Render(code, message)
	head := c.statusLine(code, errpage.Reason(code)) + headerBlock("text/html; charset=utf-8", len(body), time.Now().UTC(), c.keepAlive)
	c.SetResponse([][]byte{[]byte(head), body}, nil)
}

func (c *Conn) statusLine(code int, reason string) string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reason)
}

// headerBlock emits the content headers (Content-Type, Content-Length,
// Last-Modified), which the original's dispatch table only attaches when
// modified is true — 304 responses go through notModifiedHeaderBlock
// instead, which omits all three.
func headerBlock(ctype string, length int, mtime time.Time, keepAlive bool) string {
	var b strings.Builder
	writeCommonHeaders(&b, keepAlive)
	b.WriteString("Content-Type: " + ctype + "\r\n")
	b.WriteString("Content-Length: " + strconv.Itoa(length) + "\r\n")
	b.WriteString("Last-Modified: " + mtime.Format(http1Date) + "\r\n")
	b.WriteString("\r\n")
	return b.String()
}

// notModifiedHeaderBlock emits the headers for a 304, which carries no
// Content-Type/Content-Length/Last-Modified and no body.
func notModifiedHeaderBlock(keepAlive bool) string {
	var b strings.Builder
	writeCommonHeaders(&b, keepAlive)
	b.WriteString("\r\n")
	return b.String()
}

func writeCommonHeaders(b *strings.Builder, keepAlive bool) {
	b.WriteString("Server: Swift\r\n")
	b.WriteString("Date: " + time.Now().UTC().Format(http1Date) + "\r\n")
	if keepAlive {
		b.WriteString("Connection: keep-alive\r\n")
		b.WriteString("Keep-Alive: timeout=300\r\n")
	} else {
		b.WriteString("Connection: close\r\n")
	}
}

const http1Date = "Mon, 02 Jan 2006 15:04:05 GMT"

// maxURILen rejects request paths longer than this many bytes, matching the
// original's fixed-size path buffer.
const maxURILen = 256

// resolvePath joins uri onto docRoot and rejects any resolved path that
// escapes docRoot (".." traversal), matching the original's path-prefix
// check before opening the file. A trailing slash (including the bare "/")
// defaults to index.html within that directory, matching the original's
// directory-index behavior. A uri that is empty or lacks the leading "/" is
// rejected with errInvalidPath.
func resolvePath(docRoot, uri string) (string, error) {
	if uri == "" || uri[0] != '/' {
		return "", errInvalidPath
	}
	if len(uri) > maxURILen {
		return "", errURITooLong
	}
	trailingSlash := strings.HasSuffix(uri, "/")
	clean := filepath.Clean(uri)
	if clean == "/" || clean == "." {
		clean = "/index.html"
	} else if trailingSlash {
		clean += "/index.html"
	}
	full := filepath.Join(docRoot, clean)
	rootWithSep := filepath.Clean(docRoot) + string(filepath.Separator)
	if !strings.HasPrefix(full, rootWithSep) && full != filepath.Clean(docRoot) {
		return "", errInvalidPath
	}
	return full, nil
}
