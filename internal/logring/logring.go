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

// Package logring is the async log pipeline L: a ring of large cell buffers
// fed by producer goroutines (the reactor, the pool, the connection engine)
// and drained by a single persistence goroutine, so no request-handling path
// ever blocks on a filesystem write. It is wired into the rest of the
// codebase as a logrus.Hook.
package logring

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nabbar/swiftd/ioutils"
)

const (
	// MemUseLimit bounds the total memory the ring's cells may occupy.
	MemUseLimit = 3 * 1024 * 1024 * 1024
	// LogUseLimit is the on-disk size at which the current log file is
	// rotated to a new one.
	LogUseLimit = 1 * 1024 * 1024 * 1024
	// DefaultCellSize is the size of one ring cell.
	DefaultCellSize = 30 * 1024 * 1024
	// RelogThreshold coalesces repeated "can't write log" errors so a
	// persistently broken disk doesn't itself become a log flood.
	RelogThreshold = 5 * time.Second
	// writerWaitTimeout bounds how long the persistence goroutine sleeps on
	// the condition variable between sealed cells. A cell sitting FREE but
	// partially filled for longer than this is promoted to FULL and flushed
	// anyway, so a quiet period never leaves recent log lines unwritten.
	writerWaitTimeout = 1 * time.Second
)

type cellStatus int

const (
	statusFree cellStatus = iota
	statusFull
)

type cell struct {
	status cellStatus
	buf    []byte
	used   int
}

// Ring is the async log pipeline. The zero value is not usable; construct
// with New.
type Ring struct {
	mu   sync.Mutex
	cond *sync.Cond

	cells    []*cell
	maxCells int
	curr     int
	persist  int
	cellSize int

	dir      string
	progName string
	pid      int
	fp       *os.File
	fpSize   int64
	fpDate   string
	devNull  bool

	dropped      int64
	lastErrAt    time.Time
	lastErrCount int

	stop chan struct{}
	done chan struct{}
}

// New creates a ring with the given cell size (0 selects DefaultCellSize),
// starting with two cells and growing lazily up to the cell count implied by
// MemUseLimit as contention demands it (see sealCurrent), writing to
// logDir/progName files. If logDir cannot be created or is not writable, the
// ring falls back to /dev/null without reporting it.
func New(logDir, progName string, cellSize int) *Ring {
	if cellSize <= 0 {
		cellSize = DefaultCellSize
	}
	maxCells := MemUseLimit / cellSize
	if maxCells < 2 {
		maxCells = 2
	}

	r := &Ring{
		cells:    make([]*cell, 0, 2),
		maxCells: maxCells,
		cellSize: cellSize,
		dir:      logDir,
		progName: progName,
		pid:      os.Getpid(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	for i := 0; i < 2; i++ {
		r.cells = append(r.cells, &cell{status: statusFree, buf: make([]byte, 0, cellSize)})
	}

	if err := ioutils.PathCheckCreate(false, logDir, 0644, 0755); err != nil {
		r.openDevNull()
	} else if err = r.openForDate(time.Now().UTC().Format("20060102")); err != nil {
		r.openDevNull()
	}

	go r.persistLoop()
	return r
}

func (r *Ring) openDevNull() {
	f, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	r.fp = f
	r.devNull = true
}

// baseName is {dir}/{prog}.{YYYYMMDD}.{pid}.log, per the configured log file
// layout. date is carried separately from r.fpDate so callers can probe a
// candidate date before committing to it.
func (r *Ring) baseName(date string) string {
	return filepath.Join(r.dir, fmt.Sprintf("%s.%s.%d.log", r.progName, date, r.pid))
}

// openForDate (re)opens the log file for date, closing whatever was open
// before (including falling back from /dev/null once the directory recovers).
// It is called on first start, on a date rollover, and after a size-based
// rotation reopens the same dated name.
func (r *Ring) openForDate(date string) error {
	name := r.baseName(date)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if r.fp != nil {
		_ = r.fp.Close()
	}

	var size int64
	if st, statErr := f.Stat(); statErr == nil {
		size = st.Size()
	}

	r.fp = f
	r.fpSize = size
	r.fpDate = date
	r.devNull = false
	return nil
}

// rotateBySize renames {base} -> {base}.1, shifting any existing {base}.N ->
// {base}.(N+1) first (descending, so no numbered file is ever overwritten),
// then reopens a fresh file under the same dated name. Per the file
// selection rule in spec.md §4.2/§6, triggered once the current file
// exceeds LogUseLimit.
func (r *Ring) rotateBySize() {
	if r.fp != nil {
		_ = r.fp.Close()
		r.fp = nil
	}
	base := r.baseName(r.fpDate)

	n := 0
	for {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", base, n+1)); err != nil {
			break
		}
		n++
	}
	for i := n; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", base, i), fmt.Sprintf("%s.%d", base, i+1))
	}
	_ = os.Rename(base, base+".1")

	if err := r.openForDate(r.fpDate); err != nil {
		r.openDevNull()
	}
}

// Append writes one already-formatted log line into the ring. It never
// blocks on I/O: if the current cell has room the line is copied in under
// the ring's mutex and Append returns; the persistence goroutine does the
// actual write later.
func (r *Ring) Append(line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.cells[r.curr]
	if c.used+len(line) > cap(c.buf) {
		r.sealCurrent()
		c = r.cells[r.curr]
	}

	if c.status == statusFull || c.used+len(line) > cap(c.buf) {
		// Ring fully saturated: every cell is FULL and none can absorb this
		// line. Drop it rather than block the caller, and coalesce the
		// "dropping logs" notice instead of emitting one per dropped line.
		r.dropped++
		now := time.Now()
		if now.Sub(r.lastErrAt) >= RelogThreshold {
			fmt.Fprintf(os.Stderr, "logring: dropped %d log lines, ring saturated\n", r.dropped)
			r.lastErrAt = now
			r.dropped = 0
		}
		return
	}

	c.buf = append(c.buf, line...)
	c.used += len(line)
}

// sealCurrent marks the current cell FULL and advances curr to the next
// FREE cell, signaling the persistence goroutine. Caller holds r.mu. If the
// next cell in the ring is still FULL (the persistence goroutine hasn't
// drained it yet) a new cell is spliced in instead, up to maxCells — the
// ring only grows under contention, never eagerly.
func (r *Ring) sealCurrent() {
	r.cells[r.curr].status = statusFull
	next := (r.curr + 1) % len(r.cells)
	if r.cells[next].status == statusFree {
		r.curr = next
	} else if len(r.cells) < r.maxCells {
		r.cells = append(r.cells, &cell{status: statusFree, buf: make([]byte, 0, r.cellSize)})
		r.curr = len(r.cells) - 1
	}
	r.cond.Signal()
}

// condWaitTimeout blocks on r.cond for at most timeout. Caller holds r.mu,
// same as for a bare Wait; it is released for the duration of the wait and
// reacquired before returning. sync.Cond has no native deadline, so a timer
// is used to force the wakeup by calling Broadcast itself, exactly like any
// other waiter would.
func (r *Ring) condWaitTimeout(timeout time.Duration) {
	timer := time.AfterFunc(timeout, func() {
		r.mu.Lock()
		r.cond.Broadcast()
		r.mu.Unlock()
	})
	defer timer.Stop()
	r.cond.Wait()
}

// promotePartialOnTimeout marks the persist cell FULL if Append has put
// something in it but the 1s wait elapsed before it filled up or was sealed
// outright, so a quiet connection doesn't keep its log lines buffered
// indefinitely. Caller holds r.mu.
func (r *Ring) promotePartialOnTimeout() {
	c := r.cells[r.persist]
	if c.status != statusFree || c.used == 0 {
		return
	}
	c.status = statusFull
	if r.persist != r.curr {
		return
	}
	next := (r.curr + 1) % len(r.cells)
	if r.cells[next].status == statusFree {
		r.curr = next
	} else if len(r.cells) < r.maxCells {
		r.cells = append(r.cells, &cell{status: statusFree, buf: make([]byte, 0, r.cellSize)})
		r.curr = len(r.cells) - 1
	}
}

func (r *Ring) persistLoop() {
	defer close(r.done)

	for {
		r.mu.Lock()
		for r.cells[r.persist].status != statusFull {
			select {
			case <-r.stop:
				r.flushRemainder()
				r.mu.Unlock()
				return
			default:
			}
			r.condWaitTimeout(writerWaitTimeout)
			if r.cells[r.persist].status != statusFull {
				r.promotePartialOnTimeout()
			}
			select {
			case <-r.stop:
				r.flushRemainder()
				r.mu.Unlock()
				return
			default:
			}
		}

		c := r.cells[r.persist]
		data := append([]byte(nil), c.buf[:c.used]...)
		r.mu.Unlock()

		r.writeOut(data)

		r.mu.Lock()
		c.used = 0
		c.buf = c.buf[:0]
		c.status = statusFree
		r.persist = (r.persist + 1) % len(r.cells)
		r.mu.Unlock()
	}
}

// flushRemainder drains any still-FULL cells on shutdown. Caller holds r.mu.
func (r *Ring) flushRemainder() {
	for n := 0; n < len(r.cells); n++ {
		c := r.cells[r.persist]
		if c.status == statusFull {
			data := append([]byte(nil), c.buf[:c.used]...)
			r.mu.Unlock()
			r.writeOut(data)
			r.mu.Lock()
			c.used = 0
			c.status = statusFree
		}
		r.persist = (r.persist + 1) % len(r.cells)
	}
}

// writeOut is only ever called from persistLoop, so it owns r.fp/r.fpSize/
// r.fpDate without needing r.mu — those fields are never touched by a
// producer goroutine.
func (r *Ring) writeOut(data []byte) {
	if !r.devNull {
		today := time.Now().UTC().Format("20060102")
		if today != r.fpDate {
			if err := r.openForDate(today); err != nil {
				r.openDevNull()
			}
		}
	}

	if len(data) == 0 || r.fp == nil {
		return
	}
	n, err := r.fp.Write(data)
	if err != nil {
		r.lastErrCount++
		now := time.Now()
		if now.Sub(r.lastErrAt) >= RelogThreshold {
			fmt.Fprintf(os.Stderr, "logring: write error (x%d): %v\n", r.lastErrCount, err)
			r.lastErrAt = now
			r.lastErrCount = 0
		}
		return
	}
	if r.devNull {
		return
	}
	if err := r.fp.Sync(); err != nil {
		r.lastErrCount++
		now := time.Now()
		if now.Sub(r.lastErrAt) >= RelogThreshold {
			fmt.Fprintf(os.Stderr, "logring: fsync error (x%d): %v\n", r.lastErrCount, err)
			r.lastErrAt = now
			r.lastErrCount = 0
		}
	}
	r.fpSize += int64(n)
	if r.fpSize >= LogUseLimit {
		r.rotateBySize()
	}
}

// Close seals the current cell, waits for the persistence goroutine to
// drain every remaining FULL cell, and closes the log file.
func (r *Ring) Close() error {
	r.mu.Lock()
	r.sealCurrent()
	close(r.stop)
	r.mu.Unlock()

	<-r.done

	if r.fp != nil {
		return r.fp.Close()
	}
	return nil
}

// Levels implements logrus.Hook: the ring accepts every level, leaving
// filtering to the logger façade in front of it.
func (r *Ring) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (r *Ring) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	r.Append([]byte(line))
	return nil
}
