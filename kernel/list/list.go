// Copyright 2024 CloudWeGo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package list implements the intrusive doubly-linked list used throughout
// the kernel to thread a scheduler-visible entity (a thread control block)
// onto exactly one of: a ready queue, an IPC wait queue, or the defunct
// list, without ever allocating a separate list node.
//
// The teacher's container/ring package models list membership with an
// index into a backing slice; a kernel thread instead moves between
// several independently-sized collections over its lifetime, so the node
// here is a plain doubly-linked field embedded in the owner, generic over
// the owner type via Node[T].
package list

// Node is an intrusive list node. A value that wants to be listable embeds
// a Node and passes itself as the owner when inserting into a Head.
type Node[T any] struct {
	next, prev *Node[T]
	owner      T
	linked     bool
}

// Owner returns the value that embeds this node.
func (n *Node[T]) Owner() T { return n.owner }

// Linked reports whether the node currently belongs to some Head.
func (n *Node[T]) Linked() bool { return n.linked }

// Head is a circular doubly-linked list head. The zero value is an empty
// list ready to use.
type Head[T any] struct {
	root Node[T]
	len  int
}

// Init (re)initializes h as empty. Needed because Head's zero value links
// root to itself lazily on first use; Init makes that explicit for callers
// that reuse a Head.
func (h *Head[T]) Init() {
	h.root.next = &h.root
	h.root.prev = &h.root
	h.len = 0
}

func (h *Head[T]) lazyInit() {
	if h.root.next == nil {
		h.Init()
	}
}

// Empty reports whether the list has no entries.
func (h *Head[T]) Empty() bool {
	h.lazyInit()
	return h.root.next == &h.root
}

// Len returns the number of entries currently linked into h.
func (h *Head[T]) Len() int {
	h.lazyInit()
	return h.len
}

// PushBack links n (and its owner) at the tail of h. n must not already be
// linked into any Head.
func (h *Head[T]) PushBack(n *Node[T], owner T) {
	h.lazyInit()
	n.owner = owner
	n.linked = true
	n.prev = h.root.prev
	n.next = &h.root
	h.root.prev.next = n
	h.root.prev = n
	h.len++
}

// PushFront links n at the head of h.
func (h *Head[T]) PushFront(n *Node[T], owner T) {
	h.lazyInit()
	n.owner = owner
	n.linked = true
	n.next = h.root.next
	n.prev = &h.root
	h.root.next.prev = n
	h.root.next = n
	h.len++
}

// InsertBefore links n immediately before at, which must already belong to
// h.
func (h *Head[T]) InsertBefore(n *Node[T], owner T, at *Node[T]) {
	n.owner = owner
	n.linked = true
	n.prev = at.prev
	n.next = at
	at.prev.next = n
	at.prev = n
	h.len++
}

// Remove unlinks n from whatever Head it belongs to. It is a no-op if n is
// not currently linked, making timeout-vs-wakeup races safe to resolve by
// calling Remove from both paths (see kernel/ipc).
func (h *Head[T]) Remove(n *Node[T]) {
	if !n.linked {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next = nil
	n.prev = nil
	n.linked = false
	h.len--
}

// Front returns the first node, or nil if h is empty.
func (h *Head[T]) Front() *Node[T] {
	h.lazyInit()
	if h.root.next == &h.root {
		return nil
	}
	return h.root.next
}

// Each calls f for every node currently in h, front to back. f may remove
// the node it is given (e.g. to wake and dequeue a waiter); it must not
// touch other nodes' links.
func (h *Head[T]) Each(f func(n *Node[T]) (cont bool)) {
	h.lazyInit()
	n := h.root.next
	for n != &h.root {
		next := n.next
		if !f(n) {
			return
		}
		n = next
	}
}
