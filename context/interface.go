/*
MIT License

Copyright (c) 2019 Nicolas JUHEL

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in all
copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
SOFTWARE.
*/

package context

import (
	"context"

	libatm "github.com/nabbar/swiftd/atomic"
)

type FuncWalk[T comparable] func(key T, val interface{}) bool

// Config is a context-scoped map: once the context passed to New is
// canceled, the map is cleared on the next Store/Delete rather than going on
// accepting writes. internal/connection's Registry is built on this so a
// server shutdown drains every live connection ID without a separate
// teardown pass.
type Config[T comparable] interface {
	// Load returns the value stored for key, and whether it was present.
	Load(key T) (val interface{}, ok bool)
	// Store stores cfg under key, overwriting any existing value.
	Store(key T, cfg interface{})
	// Delete removes key from the map.
	Delete(key T)
	// Walk calls fct for every key-value pair currently stored.
	Walk(fct FuncWalk[T])
}

// New returns a new Config bound to ctx. If ctx is nil, it defaults to
// context.Background.
func New[T comparable](ctx context.Context) Config[T] {
	if ctx == nil {
		ctx = context.Background()
	}

	return &ccx[T]{
		m: libatm.NewMapAny[T](),
		x: ctx,
	}
}
