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
)

// Method is the HTTP method recognized on the request line. Anything else
// parses successfully as MethodUnknown, matching the original's tolerant
// method classification (only GET/HEAD/POST get a fast path; everything
// else is still a well-formed request line as far as the parser cares).
type Method int

const (
	MethodUnknown Method = iota
	MethodGet
	MethodHead
	MethodPost
)

var (
	ErrInvalidMethod  = errors.New("connection: invalid method")
	ErrInvalidRequest = errors.New("connection: invalid request line")
	ErrInvalidHeader  = errors.New("connection: invalid header")
)

const (
	cr = '\r'
	lf = '\n'
)

// lineState enumerates the request-line parser's states, named after the
// original state machine's labels.
type lineState int

const (
	lsStart lineState = iota
	lsMethod
	lsSpacesBeforeURI
	lsAfterSlashInURI
	lsHTTP
	lsHTTPH
	lsHTTPHT
	lsHTTPHTT
	lsHTTPHTTP
	lsFirstMajorDigit
	lsMajorDigit
	lsFirstMinorDigit
	lsMinorDigit
	lsSpacesAfterDigit
	lsAlmostDone
)

// RequestLine holds the parsed method, request URI and protocol version.
type RequestLine struct {
	Method     Method
	URI        string
	HTTPMajor  int
	HTTPMinor  int
}

// LineParser is a resumable request-line parser: Parse may be called
// repeatedly as more bytes arrive on the socket, continuing from wherever
// it left off. It copies the URI bytes out into its own string as soon as
// the URI ends, rather than keeping start/end pointers into the caller's
// receive buffer — the original's request_start/uri_start/uri_end pointers
// into a wrapping ring buffer dangle the moment that buffer is reused for
// the next pipelined request, which is the NUL-termination-on-reused-memory
// bug this rewrite avoids entirely.
type LineParser struct {
	state      lineState
	methodFrom int
	uriFrom    int
	Result     RequestLine
}

// Reset prepares the parser to parse a new request line, e.g. after a
// keep-alive request completes.
func (p *LineParser) Reset() {
	*p = LineParser{}
}

// Floor reports the earliest buffer offset still referenced by an in-flight
// method or URI token, or ok=false once nothing saved across an AGAIN
// points into the caller's buffer any more. The caller must not discard or
// shift away any byte at or after this offset until the parser reaches a
// state with no open token.
func (p *LineParser) Floor() (offset int, ok bool) {
	switch p.state {
	case lsMethod:
		return p.methodFrom, true
	case lsAfterSlashInURI:
		return p.uriFrom, true
	default:
		return 0, false
	}
}

// Rebase shifts every offset this parser has saved left by delta, to keep
// them valid after the caller compacts its buffer by the same amount.
func (p *LineParser) Rebase(delta int) {
	p.methodFrom -= delta
	p.uriFrom -= delta
}

// Parse consumes buf[pos:last]. It returns the new pos (how much of buf was
// consumed), and ok=true once the terminating LF of the request line has
// been seen. ok=false with err=nil means more bytes are needed (AGAIN).
func (p *LineParser) Parse(buf []byte, pos, last int) (newPos int, ok bool, err error) {
	i := pos
	for ; i < last; i++ {
		ch := buf[i]

		switch p.state {
		case lsStart:
			if ch == cr || ch == lf {
				continue
			}
			if (ch < 'A' || ch > 'Z') && ch != '_' {
				return i, false, ErrInvalidMethod
			}
			p.methodFrom = i
			p.state = lsMethod

		case lsMethod:
			if ch == ' ' {
				p.classifyMethod(buf[p.methodFrom:i])
				p.state = lsSpacesBeforeURI
				continue
			}
			if (ch < 'A' || ch > 'Z') && ch != '_' {
				return i, false, ErrInvalidMethod
			}

		case lsSpacesBeforeURI:
			if ch == '/' {
				p.uriFrom = i
				p.state = lsAfterSlashInURI
				continue
			}
			if ch != ' ' {
				return i, false, ErrInvalidRequest
			}

		case lsAfterSlashInURI:
			if ch == ' ' {
				p.Result.URI = string(buf[p.uriFrom:i])
				p.state = lsHTTP
			}

		case lsHTTP:
			switch ch {
			case ' ':
			case 'H':
				p.state = lsHTTPH
			default:
				return i, false, ErrInvalidRequest
			}

		case lsHTTPH:
			if ch != 'T' {
				return i, false, ErrInvalidRequest
			}
			p.state = lsHTTPHT

		case lsHTTPHT:
			if ch != 'T' {
				return i, false, ErrInvalidRequest
			}
			p.state = lsHTTPHTT

		case lsHTTPHTT:
			if ch != 'P' {
				return i, false, ErrInvalidRequest
			}
			p.state = lsHTTPHTTP

		case lsHTTPHTTP:
			if ch != '/' {
				return i, false, ErrInvalidRequest
			}
			p.state = lsFirstMajorDigit

		case lsFirstMajorDigit:
			if ch < '1' || ch > '9' {
				return i, false, ErrInvalidRequest
			}
			p.Result.HTTPMajor = int(ch - '0')
			p.state = lsMajorDigit

		case lsMajorDigit:
			if ch == '.' {
				p.state = lsFirstMinorDigit
				continue
			}
			if ch < '0' || ch > '9' {
				return i, false, ErrInvalidRequest
			}
			p.Result.HTTPMajor = p.Result.HTTPMajor*10 + int(ch-'0')

		case lsFirstMinorDigit:
			if ch < '0' || ch > '9' {
				return i, false, ErrInvalidRequest
			}
			p.Result.HTTPMinor = int(ch - '0')
			p.state = lsMinorDigit

		case lsMinorDigit:
			switch {
			case ch == cr:
				p.state = lsAlmostDone
			case ch == lf:
				return i + 1, true, nil
			case ch == ' ':
				p.state = lsSpacesAfterDigit
			case ch < '0' || ch > '9':
				return i, false, ErrInvalidRequest
			default:
				p.Result.HTTPMinor = p.Result.HTTPMinor*10 + int(ch-'0')
			}

		case lsSpacesAfterDigit:
			switch ch {
			case ' ':
			case cr:
				p.state = lsAlmostDone
			case lf:
				return i + 1, true, nil
			default:
				return i, false, ErrInvalidRequest
			}

		case lsAlmostDone:
			if ch != lf {
				return i, false, ErrInvalidRequest
			}
			return i + 1, true, nil
		}
	}
	return i, false, nil
}

func (p *LineParser) classifyMethod(m []byte) {
	switch string(m) {
	case "GET":
		p.Result.Method = MethodGet
	case "HEAD":
		p.Result.Method = MethodHead
	case "POST":
		p.Result.Method = MethodPost
	default:
		p.Result.Method = MethodUnknown
	}
}

type headerState int

const (
	hsStart headerState = iota
	hsKey
	hsSpacesBeforeColon
	hsSpacesAfterColon
	hsValue
	hsCR
	hsCRLF
	hsCRLFCR
)

// Header is one parsed "Key: Value" header line.
type Header struct {
	Key   string
	Value string
}

// HeaderParser is a resumable header-block parser, mirroring LineParser.
type HeaderParser struct {
	state     headerState
	keyFrom   int
	keyTo     int
	valueFrom int
	Headers   []Header
}

// Reset prepares the parser for a new header block.
func (p *HeaderParser) Reset() {
	*p = HeaderParser{}
}

// Floor reports the earliest buffer offset still referenced by the header
// currently being scanned (its key start, which appendHeader needs
// alongside keyTo/valueFrom when the value ends), or ok=false between
// headers when nothing is held open. Mirrors LineParser.Floor.
func (p *HeaderParser) Floor() (offset int, ok bool) {
	switch p.state {
	case hsKey, hsSpacesBeforeColon, hsSpacesAfterColon, hsValue:
		return p.keyFrom, true
	default:
		return 0, false
	}
}

// Rebase shifts every offset this parser has saved left by delta, to keep
// them valid after the caller compacts its buffer by the same amount.
func (p *HeaderParser) Rebase(delta int) {
	p.keyFrom -= delta
	p.keyTo -= delta
	p.valueFrom -= delta
}

// Parse consumes buf[pos:last] and returns the new pos and ok=true once the
// header block's terminating blank line has been seen.
func (p *HeaderParser) Parse(buf []byte, pos, last int) (newPos int, ok bool, err error) {
	i := pos
	for ; i < last; i++ {
		ch := buf[i]

		switch p.state {
		case hsStart:
			if ch == cr || ch == lf {
				continue
			}
			p.keyFrom = i
			p.state = hsKey

		case hsKey:
			switch ch {
			case ' ':
				p.keyTo = i
				p.state = hsSpacesBeforeColon
			case ':':
				p.keyTo = i
				p.state = hsSpacesAfterColon
			}

		case hsSpacesBeforeColon:
			switch ch {
			case ' ':
			case ':':
				p.state = hsSpacesAfterColon
			default:
				return i, false, ErrInvalidHeader
			}

		case hsSpacesAfterColon:
			if ch == ' ' {
				continue
			}
			p.valueFrom = i
			p.state = hsValue

		case hsValue:
			if ch == cr {
				p.appendHeader(buf, i)
				p.state = hsCR
			} else if ch == lf {
				p.appendHeader(buf, i)
				p.state = hsCRLF
			}

		case hsCR:
			if ch != lf {
				return i, false, ErrInvalidHeader
			}
			p.state = hsCRLF

		case hsCRLF:
			if ch == cr {
				p.state = hsCRLFCR
			} else {
				p.keyFrom = i
				p.state = hsKey
			}

		case hsCRLFCR:
			if ch != lf {
				return i, false, ErrInvalidHeader
			}
			return i + 1, true, nil
		}
	}
	return i, false, nil
}

func (p *HeaderParser) appendHeader(buf []byte, valueEnd int) {
	p.Headers = append(p.Headers, Header{
		Key:   string(buf[p.keyFrom:p.keyTo]),
		Value: string(buf[p.valueFrom:valueEnd]),
	})
}
