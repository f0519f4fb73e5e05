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
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestHandleReadableParsesRequestAcrossTwoWrites(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")

	if _, err := unix.Write(peer, []byte("GET /a HTTP/1.1\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != NeedMore {
		t.Fatalf("expected NeedMore before headers arrive, got %v", res)
	}

	if _, err := unix.Write(peer, []byte("Host: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err = c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != RequestReady {
		t.Fatalf("expected RequestReady, got %v", res)
	}
	if c.line.Result.URI != "/a" {
		t.Fatalf("expected URI /a, got %q", c.line.Result.URI)
	}
}

func TestHandleReadableReportsPeerClosed(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")
	_ = unix.Close(peer)

	res, err := c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != PeerClosed {
		t.Fatalf("expected PeerClosed, got %v", res)
	}
}

func TestHandleWritableDrainsMultipleSegments(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")

	flushed := false
	c.SetResponse([][]byte{[]byte("hello "), []byte("world")}, func() { flushed = true })

	done, err := c.HandleWritable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatalf("expected HandleWritable to finish in one call for a small payload")
	}
	if !flushed {
		t.Fatalf("expected onFlush to run once all segments were written")
	}

	got := make([]byte, 32)
	n, err := unix.Read(peer, got)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got[:n]) != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", string(got[:n]))
	}
}

func TestApplyHeadersDefaultsKeepAliveToFalse(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")

	if _, err := unix.Write(peer, []byte("GET /a HTTP/1.1\r\nHost: x\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != RequestReady {
		t.Fatalf("expected RequestReady, got %v", res)
	}
	if c.KeepAlive() {
		t.Fatalf("expected keep-alive to default to false without an explicit Connection header")
	}
}

func TestApplyHeadersHonorsExplicitKeepAlive(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")

	if _, err := unix.Write(peer, []byte("GET /a HTTP/1.1\r\nHost: x\r\nConnection: keep-alive\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.HandleReadable(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !c.KeepAlive() {
		t.Fatalf("expected keep-alive to be true with an explicit Connection: keep-alive header")
	}
}

// TestFillFromSocketCompactionPreservesOpenHeaderToken drives a header
// value across fillFromSocket's buffer-full compaction path and checks the
// header survives intact. Compacting flatly by c.pos (rather than by the
// earliest offset the header parser still has open) would shift the
// buffer's live bytes out from under HeaderParser's saved keyFrom/keyTo/
// valueFrom, corrupting the header the next time it's read back.
func TestFillFromSocketCompactionPreservesOpenHeaderToken(t *testing.T) {
	peer, fd := socketpair(t)
	c := New(1, fd, "/srv")

	reqLine := "GET /a HTTP/1.1\r\n"
	prefix := "X-Big: "
	firstChunk := strings.Repeat("a", 50)

	if _, err := unix.Write(peer, []byte(reqLine+prefix+firstChunk)); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != NeedMore {
		t.Fatalf("expected NeedMore, got %v", res)
	}
	if c.header.state != hsValue {
		t.Fatalf("expected header parser mid-value, got state %v", c.header.state)
	}

	// Fill the receive buffer to exactly capacity with more of the same
	// header value, forcing fillFromSocket's compaction path while the
	// header's key/value offsets are still open.
	remaining := RecvBufSize - c.last
	secondChunk := strings.Repeat("a", remaining)
	if _, err := unix.Write(peer, []byte(secondChunk)); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err = c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != NeedMore {
		t.Fatalf("expected NeedMore, got %v", res)
	}

	if _, err := unix.Write(peer, []byte("\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err = c.HandleReadable()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != RequestReady {
		t.Fatalf("expected RequestReady, got %v", res)
	}

	want := firstChunk + secondChunk
	var got string
	for _, h := range c.header.Headers {
		if h.Key == "X-Big" {
			got = h.Value
		}
	}
	if got != want {
		t.Fatalf("header value corrupted by compaction: got %d bytes, want %d bytes", len(got), len(want))
	}
}

func TestResetForNextRequestClearsResponseState(t *testing.T) {
	_, fd := socketpair(t)
	c := New(1, fd, "/srv")
	c.SetResponse([][]byte{[]byte("x")}, func() {})
	c.ResetForNextRequest()
	if c.outSegs != nil || c.onFlush != nil {
		t.Fatalf("expected response state cleared after reset")
	}
}
