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

package logring

import "testing"

func TestNewStartsWithTwoCellsNotTheFullBudget(t *testing.T) {
	r := New(t.TempDir(), "swiftd-test", 64)
	defer func() { _ = r.Close() }()

	r.mu.Lock()
	n := len(r.cells)
	max := r.maxCells
	r.mu.Unlock()

	if n != 2 {
		t.Fatalf("expected 2 cells at start, got %d", n)
	}
	if max <= n {
		t.Fatalf("expected maxCells (%d) to exceed the starting cell count (%d)", max, n)
	}
}

func TestSealCurrentGrowsOnlyWhenNextCellIsStillFull(t *testing.T) {
	r := New(t.TempDir(), "swiftd-test", 64)
	defer func() { _ = r.Close() }()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Simulate both starting cells being FULL and undrained: sealing the
	// current one must splice in a third rather than overwrite data the
	// persistence goroutine hasn't consumed yet.
	r.cells[0].status = statusFull
	r.cells[1].status = statusFull
	r.curr = 0

	r.sealCurrent()

	if len(r.cells) != 3 {
		t.Fatalf("expected ring to grow to 3 cells, got %d", len(r.cells))
	}
	if r.curr != 2 {
		t.Fatalf("expected curr to advance to the newly spliced cell, got %d", r.curr)
	}
}
