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
	"context"
	"sync/atomic"

	libctx "github.com/nabbar/swiftd/context"
)

// Registry replaces the original intrusive design, where a connection's
// timer node was embedded by value and the owning connection recovered from
// a bare rbtree node pointer via field-offset arithmetic. Here every
// connection is given a permanent, never-reused uint64 ID at accept time;
// that ID alone is the handle passed to the reactor, the timer index and
// the worker pool, and is resolved back to the *Conn through this registry.
// Because IDs are never recycled there is no stale-handle ambiguity to
// guard with a separate generation counter.
type Registry struct {
	ids   uint64
	store libctx.Config[uint64]
}

// NewRegistry builds a registry bound to ctx: when ctx is canceled (server
// shutdown) every stored connection is dropped from the map on the next
// Store or Delete, per the teacher's context-scoped map idiom.
func NewRegistry(ctx context.Context) *Registry {
	return &Registry{store: libctx.New[uint64](ctx)}
}

// NextID allocates a fresh, never-reused connection ID.
func (r *Registry) NextID() uint64 {
	return atomic.AddUint64(&r.ids, 1)
}

// Store registers c under id.
func (r *Registry) Store(id uint64, c *Conn) {
	r.store.Store(id, c)
}

// Load resolves id back to its connection, if still registered.
func (r *Registry) Load(id uint64) (*Conn, bool) {
	v, ok := r.store.Load(id)
	if !ok || v == nil {
		return nil, false
	}
	return v.(*Conn), true
}

// Delete removes id from the registry.
func (r *Registry) Delete(id uint64) {
	r.store.Delete(id)
}

// Walk visits every currently registered connection.
func (r *Registry) Walk(fn func(id uint64, c *Conn) bool) {
	r.store.Walk(func(key uint64, val interface{}) bool {
		c, ok := val.(*Conn)
		if !ok {
			return true
		}
		return fn(key, c)
	})
}
