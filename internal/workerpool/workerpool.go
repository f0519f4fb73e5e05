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

// Package workerpool is the thread pool P: a fixed set of workers, each
// owning a small bounded ring queue, fed round-robin by whatever submits
// work (the reactor, dispatching a ready connection). A worker only ever
// touches its own queue, so no cross-worker contention exists beyond the
// single producer cursor each queue already serializes.
package workerpool

import (
	"sync"
	"sync/atomic"
)

// QueueSize is the number of slots in each worker's ring queue. It mirrors
// the original 8-bit cursor sizing (256 slots) while using a wider counter
// type so the "empty vs full" ambiguity classic 8-bit wraparound ring
// buffers have never arises: in/out are allowed to run past 65535 and are
// only folded into a slot index with % QueueSize at access time.
const QueueSize = 256

// Task is one unit of work handed to a worker.
type Task func()

type ringQueue struct {
	slots [QueueSize]Task
	in    uint32 // producer cursor, only the pool's Submit advances it
	out   uint32 // consumer cursor, CAS-advanced by the owning worker
}

func (q *ringQueue) len() uint32 {
	return atomic.LoadUint32(&q.in) - atomic.LoadUint32(&q.out)
}

func (q *ringQueue) full() bool {
	return q.len() >= QueueSize
}

// push is called only by Submit, which serializes producers with the
// worker's mu, so it does not need its own atomics beyond making `in`
// visible to the consumer.
func (q *ringQueue) push(t Task) bool {
	if q.full() {
		return false
	}
	in := atomic.LoadUint32(&q.in)
	q.slots[in%QueueSize] = t
	atomic.AddUint32(&q.in, 1)
	return true
}

// pop is called only by the owning worker goroutine, so the CAS is there to
// document the original single-writer contract rather than to resolve real
// contention.
func (q *ringQueue) pop() (Task, bool) {
	for {
		out := atomic.LoadUint32(&q.out)
		if atomic.LoadUint32(&q.in) == out {
			return nil, false
		}
		t := q.slots[out%QueueSize]
		if atomic.CompareAndSwapUint32(&q.out, out, out+1) {
			return t, true
		}
	}
}

type worker struct {
	queue ringQueue
	mu    sync.Mutex
	cond  *sync.Cond
	stop  bool
}

func newWorker() *worker {
	w := &worker{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

func (w *worker) run(wg *sync.WaitGroup, onDrop func()) {
	defer wg.Done()

	for {
		w.mu.Lock()
		for w.queue.len() == 0 && !w.stop {
			w.cond.Wait()
		}
		if w.queue.len() == 0 && w.stop {
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		if t, ok := w.queue.pop(); ok {
			t()
		} else if onDrop != nil {
			onDrop()
		}
	}
}

// Pool is the thread pool P.
type Pool struct {
	workers []*worker
	wg      sync.WaitGroup
	rr      uint32

	mu       sync.Mutex
	dropped  int64
	onDrop   func(dropped int64)
	started  bool
	stopping bool
}

// New builds a pool of n workers. onDrop, if non-nil, is invoked (with the
// running drop count) whenever Submit finds its target worker's queue full.
func New(n int, onDrop func(dropped int64)) *Pool {
	if n < 1 {
		n = 1
	}
	p := &Pool{
		workers: make([]*worker, n),
		onDrop:  onDrop,
	}
	for i := range p.workers {
		p.workers[i] = newWorker()
	}
	return p
}

// Start spawns one goroutine per worker.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go w.run(&p.wg, p.recordDrop)
	}
}

func (p *Pool) recordDrop() {
	p.mu.Lock()
	p.dropped++
	d := p.dropped
	cb := p.onDrop
	p.mu.Unlock()
	if cb != nil {
		cb(d)
	}
}

// Submit assigns t to the next worker in round-robin order. It returns
// false, without blocking, if that worker's queue is full; the caller
// (reactor) is expected to log and drop the corresponding connection event
// rather than stall the event loop.
func (p *Pool) Submit(t Task) bool {
	n := uint32(len(p.workers))
	idx := atomic.AddUint32(&p.rr, 1) % n
	w := p.workers[idx]

	w.mu.Lock()
	ok := w.queue.push(t)
	if ok {
		w.cond.Signal()
	}
	w.mu.Unlock()

	if !ok {
		p.recordDrop()
	}
	return ok
}

// Stop signals every worker to exit once its queue drains and blocks until
// they have all returned.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return
	}
	p.stopping = true
	p.mu.Unlock()

	for _, w := range p.workers {
		w.mu.Lock()
		w.stop = true
		w.cond.Broadcast()
		w.mu.Unlock()
	}
	p.wg.Wait()
}

// Dropped returns the total number of tasks dropped due to queue overflow.
func (p *Pool) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
