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

package atomic

import (
	"sync"
)

// Map is a concurrency-safe key/value store backed by sync.Map, typed by
// key but not by value — context.Config[T] layers a context-cancellation
// invariant on top of it.
type Map[K comparable] interface {
	// Load returns the value stored in the underlying store for this Map.
	// If no value is present, ok is false.
	Load(key K) (value any, ok bool)
	// Store atomically stores the given value in the underlying store for
	// this Map, overwriting any existing value for the given key.
	Store(key K, value any)
	// Delete atomically deletes the value stored for the given key.
	Delete(key K)

	// Range calls the given function for each key in the underlying store.
	// It calls the function in an unspecified order, and will stop calling
	// the function if the function returns false.
	Range(f func(key K, value any) bool)
}

// NewMapAny returns a new Map with the given key type, backed by a sync.Map.
func NewMapAny[K comparable]() Map[K] {
	return &ma[K]{
		m: sync.Map{},
	}
}
