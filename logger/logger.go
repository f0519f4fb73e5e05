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

// Package logger is a slim façade over logrus, trimmed down from the
// teacher's Logger.Entry(level, msg).ErrorAdd(...).Check(...)/.Log() chain
// to the subset this server exercises: a level-gated entry builder and hook
// wiring. Everything below the façade — file rotation, ring buffering,
// /dev/null fallback — lives in internal/logring.
package logger

import (
	"github.com/sirupsen/logrus"
)

// Level mirrors the teacher's logger.Level enum shape, backed directly by
// logrus's levels rather than a parallel private enum the façade would have
// to keep translating.
type Level = logrus.Level

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
)

// Logger wraps a *logrus.Logger with the entry-builder idiom the teacher's
// logger package uses elsewhere in the codebase.
type Logger struct {
	std *logrus.Logger
}

// New builds a Logger at level with no hooks; entries go to logrus's default
// stderr output, and further sinks (typically an *internal/logring.Ring) are
// registered with AddHook.
func New(level Level) *Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &Logger{std: l}
}

// SetLevel changes the minimum level entries are emitted at.
func (l *Logger) SetLevel(level Level) {
	l.std.SetLevel(level)
}

// AddHook registers hook (e.g. internal/logring.Ring) to receive every
// entry this Logger emits at or above its level; the ring itself does no
// further filtering (see internal/logring.Ring.Levels).
func (l *Logger) AddHook(hook logrus.Hook) {
	l.std.AddHook(hook)
}

// Entry is a single in-flight log record, built up with ErrorAdd/Field
// before Log emits it — mirroring the teacher's chained entry builder.
type Entry struct {
	e     *logrus.Entry
	level Level
	msg   string
}

// Entry starts a new log record at level with the given message.
func (l *Logger) Entry(level Level, msg string) *Entry {
	return &Entry{e: logrus.NewEntry(l.std), level: level, msg: msg}
}

// ErrorAdd attaches err to the entry under the conventional "error" field,
// a no-op if err is nil.
func (e *Entry) ErrorAdd(err error) *Entry {
	if err != nil {
		e.e = e.e.WithError(err)
	}
	return e
}

// Field attaches an arbitrary key/value pair to the entry.
func (e *Entry) Field(key string, val interface{}) *Entry {
	e.e = e.e.WithField(key, val)
	return e
}

// Log emits the entry at the level it was created with.
func (e *Entry) Log() {
	e.e.Log(e.level, e.msg)
}
