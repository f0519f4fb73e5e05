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

package context_test

import (
	"context"
	"testing"

	libctx "github.com/nabbar/swiftd/context"
)

func TestConfigStoreLoadDelete(t *testing.T) {
	c := libctx.New[string](context.Background())

	c.Store("a", 1)
	if v, ok := c.Load("a"); !ok || v != 1 {
		t.Fatalf("expected to load stored value, got %v, %v", v, ok)
	}

	c.Delete("a")
	if _, ok := c.Load("a"); ok {
		t.Fatalf("expected key to be gone after Delete")
	}
}

func TestConfigWalkVisitsEveryKey(t *testing.T) {
	c := libctx.New[string](context.Background())
	c.Store("a", 1)
	c.Store("b", 2)

	seen := map[string]interface{}{}
	c.Walk(func(key string, val interface{}) bool {
		seen[key] = val
		return true
	})

	if len(seen) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(seen))
	}
}

func TestConfigStoreAfterCancelClearsMap(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := libctx.New[string](ctx)

	c.Store("a", 1)
	cancel()

	// The next write observes the canceled context and drops everything
	// instead of accepting the new value.
	c.Store("b", 2)

	if _, ok := c.Load("a"); ok {
		t.Fatalf("expected map to be cleared once the context was canceled")
	}
	if _, ok := c.Load("b"); ok {
		t.Fatalf("expected the post-cancel store to be dropped")
	}
}
