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

// Package rbtree implements a generic red-black ordered map keyed by a
// caller-supplied comparator, in the classic sentinel-node shape (every nil
// child and the tree root's parent point at one shared black sentinel
// rather than to Go's nil), so insert/delete fixups never need a nil check.
package rbtree

// Comparator reports whether a sorts before (<0), equal to (0), or after
// (>0) b. Ties must be broken by the caller (e.g. by folding a sequence
// number into the key) since the tree does not deduplicate equal keys.
type Comparator[K any] func(a, b K) int

type color bool

const (
	red   color = true
	black color = false
)

// Node is a tree node. Its address is a stable handle: callers may retain a
// *Node[K,V] returned by Insert and pass it back to Delete without a lookup.
type Node[K any, V any] struct {
	Key   K
	Value V

	left, right, parent *Node[K, V]
	color               color
}

// Tree is a red-black tree ordered by Comparator. The zero value is not
// usable; construct with New.
type Tree[K any, V any] struct {
	root *Node[K, V]
	nilN *Node[K, V]
	cmp  Comparator[K]
	size int
}

func New[K any, V any](cmp Comparator[K]) *Tree[K, V] {
	t := &Tree[K, V]{cmp: cmp}
	t.nilN = &Node[K, V]{color: black}
	t.nilN.left, t.nilN.right, t.nilN.parent = t.nilN, t.nilN, t.nilN
	t.root = t.nilN
	return t
}

func (t *Tree[K, V]) Len() int { return t.size }

// Min returns the leftmost node, or nil if the tree is empty.
func (t *Tree[K, V]) Min() *Node[K, V] {
	if t.root == t.nilN {
		return nil
	}
	return t.min(t.root)
}

func (t *Tree[K, V]) min(n *Node[K, V]) *Node[K, V] {
	for n.left != t.nilN {
		n = n.left
	}
	return n
}

// Next returns the in-order successor of n, or nil if n is the maximum.
func (t *Tree[K, V]) Next(n *Node[K, V]) *Node[K, V] {
	if n == nil || n == t.nilN {
		return nil
	}
	if n.right != t.nilN {
		s := t.min(n.right)
		return s
	}
	p := n.parent
	for p != t.nilN && n == p.right {
		n = p
		p = p.parent
	}
	if p == t.nilN {
		return nil
	}
	return p
}

// Insert adds key/value and returns the new node's handle.
func (t *Tree[K, V]) Insert(key K, val V) *Node[K, V] {
	var y = t.nilN
	x := t.root

	for x != t.nilN {
		y = x
		if t.cmp(key, x.Key) < 0 {
			x = x.left
		} else {
			x = x.right
		}
	}

	n := &Node[K, V]{Key: key, Value: val, color: red, left: t.nilN, right: t.nilN, parent: y}

	if y == t.nilN {
		t.root = n
	} else if t.cmp(key, y.Key) < 0 {
		y.left = n
	} else {
		y.right = n
	}

	t.size++
	t.insertFixup(n)
	return n
}

func (t *Tree[K, V]) rotateLeft(x *Node[K, V]) {
	y := x.right
	x.right = y.left
	if y.left != t.nilN {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (t *Tree[K, V]) rotateRight(x *Node[K, V]) {
	y := x.left
	x.left = y.right
	if y.right != t.nilN {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == t.nilN {
		t.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (t *Tree[K, V]) insertFixup(z *Node[K, V]) {
	for z.parent.color == red {
		if z.parent == z.parent.parent.left {
			y := z.parent.parent.right
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.right {
					z = z.parent
					t.rotateLeft(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateRight(z.parent.parent)
			}
		} else {
			y := z.parent.parent.left
			if y.color == red {
				z.parent.color = black
				y.color = black
				z.parent.parent.color = red
				z = z.parent.parent
			} else {
				if z == z.parent.left {
					z = z.parent
					t.rotateRight(z)
				}
				z.parent.color = black
				z.parent.parent.color = red
				t.rotateLeft(z.parent.parent)
			}
		}
	}
	t.root.color = black
}

func (t *Tree[K, V]) transplant(u, v *Node[K, V]) {
	if u.parent == t.nilN {
		t.root = v
	} else if u == u.parent.left {
		u.parent.left = v
	} else {
		u.parent.right = v
	}
	v.parent = u.parent
}

// Delete removes n from the tree. n must have been returned by Insert on
// this tree and not already deleted.
func (t *Tree[K, V]) Delete(z *Node[K, V]) {
	y := z
	yOrigColor := y.color
	var x *Node[K, V]

	if z.left == t.nilN {
		x = z.right
		t.transplant(z, z.right)
	} else if z.right == t.nilN {
		x = z.left
		t.transplant(z, z.left)
	} else {
		y = t.min(z.right)
		yOrigColor = y.color
		x = y.right
		if y.parent == z {
			x.parent = y
		} else {
			t.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		t.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.color = z.color
	}

	if yOrigColor == black {
		t.deleteFixup(x)
	}

	z.left, z.right, z.parent = nil, nil, nil
	t.size--
}

func (t *Tree[K, V]) deleteFixup(x *Node[K, V]) {
	for x != t.root && x.color == black {
		if x == x.parent.left {
			w := x.parent.right
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateLeft(x.parent)
				w = x.parent.right
			}
			if w.left.color == black && w.right.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.right.color == black {
					w.left.color = black
					w.color = red
					t.rotateRight(w)
					w = x.parent.right
				}
				w.color = x.parent.color
				x.parent.color = black
				w.right.color = black
				t.rotateLeft(x.parent)
				x = t.root
			}
		} else {
			w := x.parent.left
			if w.color == red {
				w.color = black
				x.parent.color = red
				t.rotateRight(x.parent)
				w = x.parent.left
			}
			if w.right.color == black && w.left.color == black {
				w.color = red
				x = x.parent
			} else {
				if w.left.color == black {
					w.right.color = black
					w.color = red
					t.rotateLeft(w)
					w = x.parent.left
				}
				w.color = x.parent.color
				x.parent.color = black
				w.left.color = black
				t.rotateRight(x.parent)
				x = t.root
			}
		}
	}
	x.color = black
}
