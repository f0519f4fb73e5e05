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

// Package apperr provides a small coded error type for configuration and
// startup failures. Hot-path code (parser, connection, timer, pool) uses
// plain wrapped stdlib errors instead; this package exists only for the
// boundary between the process and its environment: config files, listen
// sockets, log directories.
package apperr

import "fmt"

// Code identifies a class of startup/configuration failure.
type Code uint16

const (
	Unknown Code = iota
	CodeConfigRead
	CodeConfigParse
	CodeConfigValidate
	CodeListenSocket
	CodeLogDirUnwritable
	CodeEpollInit
)

var names = map[Code]string{
	Unknown:              "unknown error",
	CodeConfigRead:       "config file read error",
	CodeConfigParse:      "config file parse error",
	CodeConfigValidate:   "config validation error",
	CodeListenSocket:     "listen socket error",
	CodeLogDirUnwritable: "log directory unwritable",
	CodeEpollInit:        "epoll initialization error",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return "unknown error"
}

// Error is a coded error with an optional wrapped cause.
type Error struct {
	code   Code
	msg    string
	parent error
}

// New builds an Error of the given code wrapping parent (which may be nil).
func New(code Code, msg string, parent error) *Error {
	return &Error{code: code, msg: msg, parent: parent}
}

func (e *Error) Code() Code { return e.code }

func (e *Error) Error() string {
	if e.parent != nil {
		return fmt.Sprintf("%s: %s: %s", e.code, e.msg, e.parent.Error())
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *Error) Unwrap() error { return e.parent }
