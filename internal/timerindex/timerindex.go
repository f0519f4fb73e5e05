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

// Package timerindex keeps the set of connections waiting on an idle
// deadline ordered by that deadline, so the reactor loop can compute how
// long to block in epoll_wait and reap everything past due in one sweep.
package timerindex

import (
	"sync"

	"github.com/nabbar/swiftd/internal/rbtree"
)

// TimeoutDefaultMS is the idle timeout the server applies when its
// configuration does not set one.
const TimeoutDefaultMS int64 = 300000

type timerKey struct {
	deadline int64
	seq      uint64
}

func cmpKey(a, b timerKey) int {
	if a.deadline != b.deadline {
		if a.deadline < b.deadline {
			return -1
		}
		return 1
	}
	if a.seq != b.seq {
		if a.seq < b.seq {
			return -1
		}
		return 1
	}
	return 0
}

// Index is the deadline-ordered map T. The zero value is not usable;
// construct with New. One Index instance is owned by the Server aggregate
// and its mutex is the sole lock protecting both the tree and every
// registered owner's "has a pending timer" bit.
type Index struct {
	mu    sync.Mutex
	tree  *rbtree.Tree[timerKey, uint64]
	nodes map[uint64]*rbtree.Node[timerKey, uint64]
	seq   uint64
}

func New() *Index {
	return &Index{
		tree:  rbtree.New[timerKey, uint64](cmpKey),
		nodes: make(map[uint64]*rbtree.Node[timerKey, uint64]),
	}
}

// Add registers (or reschedules) ownerID's deadline at deadlineMS
// (milliseconds on the same clock the caller will later pass to Expire).
// Re-adding an owner that already has a pending timer replaces it.
func (idx *Index) Add(ownerID uint64, deadlineMS int64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if n, ok := idx.nodes[ownerID]; ok {
		idx.tree.Delete(n)
	}

	idx.seq++
	n := idx.tree.Insert(timerKey{deadline: deadlineMS, seq: idx.seq}, ownerID)
	idx.nodes[ownerID] = n
}

// Del cancels ownerID's pending timer, if any. Safe to call when none is
// pending.
func (idx *Index) Del(ownerID uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n, ok := idx.nodes[ownerID]
	if !ok {
		return
	}
	idx.tree.Delete(n)
	delete(idx.nodes, ownerID)
}

// Has reports whether ownerID currently has a pending timer.
func (idx *Index) Has(ownerID uint64) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	_, ok := idx.nodes[ownerID]
	return ok
}

// NextDeadlineMS returns the soonest pending deadline, for the reactor to
// size its epoll_wait timeout. ok is false when no timer is pending.
func (idx *Index) NextDeadlineMS() (deadline int64, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	m := idx.tree.Min()
	if m == nil {
		return 0, false
	}
	return m.Key.deadline, true
}

// Expire removes and returns every owner ID whose deadline is <= nowMS.
// Callers then drive each owner's connection teardown outside idx's lock.
func (idx *Index) Expire(nowMS int64) []uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var expired []uint64
	for {
		m := idx.tree.Min()
		if m == nil || m.Key.deadline > nowMS {
			break
		}
		expired = append(expired, m.Value)
		delete(idx.nodes, m.Value)
		idx.tree.Delete(m)
	}
	return expired
}

// Len reports how many timers are currently pending.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tree.Len()
}
