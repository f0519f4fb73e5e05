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

// Package connection is the connection engine C: the per-socket state
// machine that turns reactor readiness notifications into parsed requests
// and, eventually, written responses. One Conn is created per accepted
// socket and lives until the peer closes, the idle timer fires, or a
// protocol error forces a teardown.
package connection

import (
	"errors"

	"golang.org/x/sys/unix"
)

// RecvBufSize is the size of a connection's request receive buffer. A
// request line plus headers larger than this is rejected rather than
// grown without bound.
const RecvBufSize = 8192

type connState int

const (
	stateRequestLine connState = iota
	stateHeaders
	stateWriteResponse
	stateClosing
)

// Conn is one accepted HTTP/1.1 connection. Its exported read/write
// handlers are invoked by the server aggregate in response to reactor
// events; nothing in Conn itself touches epoll.
type Conn struct {
	ID  uint64
	Fd  int
	Raw interface{} // opaque data the owner (e.g. the server aggregate) may attach

	recvBuf []byte
	pos     int
	last    int

	state  connState
	line   LineParser
	header HeaderParser

	keepAlive  bool
	host       string
	ifModSince string

	outSegs  [][]byte
	outSeg   int
	outOff   int
	onFlush  func()

	DocRoot string
}

// New constructs a Conn ready to read a request line off fd.
func New(id uint64, fd int, docRoot string) *Conn {
	return &Conn{
		ID:      id,
		Fd:      fd,
		recvBuf: make([]byte, RecvBufSize),
		DocRoot: docRoot,
	}
}

var (
	ErrPeerClosed  = errors.New("connection: peer closed")
	ErrBufferFull  = errors.New("connection: request too large for receive buffer")
	errInvalidPath = errors.New("connection: request path escapes document root")
	// errURITooLong is returned for a request-line URI over maxURILen bytes.
	// spec.md §8 calls for "a 400-style close without a response" here, not
	// an HTML error body — BuildResponse returns it unstaged so the server
	// aggregate tears the connection down without writing anything.
	errURITooLong = errors.New("connection: request uri exceeds maximum length")
)

// activeParserFloor delegates to whichever parser is currently running, per
// c.state, returning the earliest buffer offset it still needs.
func (c *Conn) activeParserFloor() (offset int, ok bool) {
	switch c.state {
	case stateRequestLine:
		return c.line.Floor()
	case stateHeaders:
		return c.header.Floor()
	default:
		return 0, false
	}
}

// rebaseActiveParser shifts whichever parser is currently running's saved
// offsets left by delta, after fillFromSocket compacts recvBuf by delta.
func (c *Conn) rebaseActiveParser(delta int) {
	switch c.state {
	case stateRequestLine:
		c.line.Rebase(delta)
	case stateHeaders:
		c.header.Rebase(delta)
	}
}

// fillFromSocket reads everything currently available on Fd into recvBuf,
// looping until EAGAIN so a single readiness notification drains a peer
// that wrote several packets before the reactor got around to us. It
// returns ErrPeerClosed on orderly close and ErrBufferFull if the request
// line/headers do not fit in RecvBufSize.
func (c *Conn) fillFromSocket() error {
	for {
		if c.last == len(c.recvBuf) {
			// Compact only back to the earliest offset either parser still
			// has saved across an AGAIN (an open method/URI/header-key
			// token), never flatly to c.pos: pos marks how far the scan has
			// read, but a token that started before pos and hasn't been
			// copied out of recvBuf yet (e.g. mid method name, mid header
			// key) still needs those bytes at their original relative
			// position. Shifting by c.pos alone would silently corrupt
			// whichever in-flight token started earliest.
			shift := c.pos
			if floor, ok := c.activeParserFloor(); ok && floor < shift {
				shift = floor
			}
			if shift == 0 {
				return ErrBufferFull
			}
			copy(c.recvBuf, c.recvBuf[shift:c.last])
			c.last -= shift
			c.pos -= shift
			c.rebaseActiveParser(shift)
		}

		n, err := unix.Read(c.Fd, c.recvBuf[c.last:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return nil
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrPeerClosed
		}
		c.last += n
	}
}

// ParseResult is what HandleReadable reports back to its caller.
type ParseResult int

const (
	// NeedMore means the reactor should re-arm Fd for read readiness and
	// wait for more bytes.
	NeedMore ParseResult = iota
	// RequestReady means a full request line and header block are parsed
	// and BuildResponse can be called.
	RequestReady
	// PeerClosed means the connection should be torn down without error.
	PeerClosed
	// ProtocolError means the connection should be torn down without
	// writing a response.
	ProtocolError
)

// HandleReadable drives the parser from whatever is newly available on Fd.
func (c *Conn) HandleReadable() (ParseResult, error) {
	if err := c.fillFromSocket(); err != nil {
		if errors.Is(err, ErrPeerClosed) {
			return PeerClosed, nil
		}
		return ProtocolError, err
	}

	if c.state == stateRequestLine {
		newPos, ok, err := c.line.Parse(c.recvBuf, c.pos, c.last)
		c.pos = newPos
		if err != nil {
			return ProtocolError, err
		}
		if !ok {
			return NeedMore, nil
		}
		c.state = stateHeaders
	}

	if c.state == stateHeaders {
		newPos, ok, err := c.header.Parse(c.recvBuf, c.pos, c.last)
		c.pos = newPos
		if err != nil {
			return ProtocolError, err
		}
		if !ok {
			return NeedMore, nil
		}
		c.applyHeaders()
		c.state = stateWriteResponse
		return RequestReady, nil
	}

	return NeedMore, nil
}

func (c *Conn) applyHeaders() {
	c.keepAlive = false
	for _, h := range c.header.Headers {
		switch normalizeHeaderKey(h.Key) {
		case "host":
			c.host = h.Value
		case "connection":
			switch normalizeHeaderKey(h.Value) {
			case "keep-alive":
				c.keepAlive = true
			case "close":
				c.keepAlive = false
			}
		case "if-modified-since":
			c.ifModSince = h.Value
		}
	}
}

func normalizeHeaderKey(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if ch >= 'A' && ch <= 'Z' {
			b[i] = ch + ('a' - 'A')
		}
	}
	return string(b)
}

// SetResponse stages raw response bytes (status line, headers, and — for
// small/static content — the body) to be flushed by HandleWritable.
func (c *Conn) SetResponse(segs [][]byte, onFlush func()) {
	c.outSegs = segs
	c.outSeg = 0
	c.outOff = 0
	c.onFlush = onFlush
}

// KeepAlive reports whether the connection should be reset for another
// request after the current response is fully written.
func (c *Conn) KeepAlive() bool { return c.keepAlive }

// ResetForNextRequest rewinds the parser state for a pipelined/keep-alive
// connection, preserving any bytes already read past the current request.
func (c *Conn) ResetForNextRequest() {
	c.line.Reset()
	c.header.Reset()
	c.state = stateRequestLine
	c.outSegs = nil
	c.outSeg = 0
	c.outOff = 0
	c.onFlush = nil
	c.host = ""
	c.ifModSince = ""
	if c.pos == c.last {
		c.pos, c.last = 0, 0
	}
}

// HandleWritable flushes as much of the staged response as the socket will
// currently accept, looping on short writes — and across segments, so a
// response built from a header slice plus an mmap'd body slice drains
// completely instead of stopping at the first short write the way the
// original single send() call did. It returns done=true once every segment
// has been written, at which point onFlush (if set) is invoked to release
// resources such as an mmap mapping.
func (c *Conn) HandleWritable() (done bool, err error) {
	for c.outSeg < len(c.outSegs) {
		seg := c.outSegs[c.outSeg]
		for c.outOff < len(seg) {
			n, werr := unix.Write(c.Fd, seg[c.outOff:])
			if werr == unix.EINTR {
				continue
			}
			if werr == unix.EAGAIN {
				return false, nil
			}
			if werr != nil {
				return false, werr
			}
			if n == 0 {
				return false, ErrPeerClosed
			}
			c.outOff += n
		}
		c.outSeg++
		c.outOff = 0
	}
	if c.onFlush != nil {
		c.onFlush()
		c.onFlush = nil
	}
	return true, nil
}

// Close releases the underlying socket.
func (c *Conn) Close() error {
	c.state = stateClosing
	return unix.Close(c.Fd)
}
