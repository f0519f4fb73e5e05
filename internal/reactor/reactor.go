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

// Package reactor is the event notification component E: a thin epoll
// wrapper using one-shot interest registration, so a connection's handler
// never races a second readiness notification for the same fd while it is
// still being serviced by a worker.
package reactor

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of the readiness a caller wants to be notified of.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
)

// Event reports what became ready for one registered interest. Data is
// exactly the value passed to Add/Rearm for this fd — the epoll "fd" union
// slot is repurposed to carry it, so the owning connection is recovered
// through the connection registry keyed by Data rather than by the raw fd.
type Event struct {
	Data     uint64
	Readable bool
	Writable bool
	Err      bool
	Hup      bool
}

// Reactor wraps a single epoll instance.
type Reactor struct {
	epfd int

	mu     sync.Mutex
	events []unix.EpollEvent
}

// New creates a Reactor able to report up to maxEvents readiness
// notifications per Wait call.
func New(maxEvents int) (*Reactor, error) {
	if maxEvents < 1 {
		maxEvents = 256
	}
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Reactor{epfd: fd, events: make([]unix.EpollEvent, maxEvents)}, nil
}

// toEpollEvents omits EPOLLET deliberately: level-triggered plus
// EPOLLONESHOT delivers the same at-most-once-per-arm semantics spec.md §8
// requires without also requiring every caller to drain a readable fd to
// EAGAIN before re-arming it for write — the accept loop still drains to
// EAGAIN on its own per spec.md §4.4, but read/write handlers only need to
// make one pass.
func toEpollEvents(in Interest) uint32 {
	var ev uint32 = unix.EPOLLONESHOT
	if in&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if in&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

// setData packs data into the Fd/Pad pair of ev. unix.EpollEvent has no
// SetUint64/Uint64 methods (those exist on the raw kernel epoll_data_t this
// package never touches directly) — Fd and Pad are two adjacent int32
// fields with no padding between them, so together they are exactly the
// 8-byte union slot the kernel calls epoll_data.u64, and punning a uint64
// pointer over them reproduces that layout without depending on Fd's
// int32(fd) meaning.
func setData(ev *unix.EpollEvent, data uint64) {
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = data
}

// dataOf is setData's inverse, used to recover the token from a returned
// event.
func dataOf(ev *unix.EpollEvent) uint64 {
	return *(*uint64)(unsafe.Pointer(&ev.Fd))
}

// Add registers fd for one-shot notification of the given interest. data is
// returned verbatim in Event.Data, letting the caller recover the owning
// connection without an fd->pointer lookup.
func (r *Reactor) Add(fd int, interest Interest, data uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	setData(&ev, data)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

// Rearm re-registers fd's one-shot interest after its handler has drained
// the previous notification. This must be called exactly once per
// notification or the fd stops generating events.
func (r *Reactor) Rearm(fd int, interest Interest, data uint64) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest)}
	setData(&ev, data)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

// Remove deregisters fd. Safe to call even if fd was never added.
func (r *Reactor) Remove(fd int) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

// Wait blocks up to timeoutMS (-1 for indefinitely, 0 for non-blocking) and
// returns the events that became ready. It retries internally on EINTR, per
// the Design Note that epoll_wait must not surface a spurious-interrupt
// error to the caller.
func (r *Reactor) Wait(timeoutMS int) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.EpollWait(r.epfd, r.events, timeoutMS)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := r.events[i]
		out = append(out, Event{
			Data:     dataOf(&e),
			Readable: e.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: e.Events&unix.EPOLLOUT != 0,
			Err:      e.Events&unix.EPOLLERR != 0,
			Hup:      e.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

// Close releases the epoll instance.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
