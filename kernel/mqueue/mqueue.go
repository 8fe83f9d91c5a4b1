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

// Package mqueue implements the bounded, fixed-slot-size message queue
// (spec.md §4.9): every slot is pre-allocated at Init and threaded onto a
// free list via an in-band next-index link, the same fixed-size-buffer
// reuse idea as the teacher's cache/mempool (a pool of ready-to-reuse
// buffers handed out on demand and returned when done) — but where
// mempool's pool holds power-of-two size classes and recycles through
// sync.Pool, a message queue has exactly one slot size and its own
// strict capacity, so Get/Put becomes a plain free-list head pointer and
// an occupied-list head/tail pair instead of sync.Pool's GC-aware arena.
package mqueue

import (
	"github.com/saeedhadi/rtkernel/kernel/ipc"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

const none = -1

type slot struct {
	data []byte
	size int // length of the message currently stored in data
	next int
}

// MessageQueue is a bounded queue of fixed-size messages.
type MessageQueue struct {
	ipc.Base
	msgSize int
	slots   []slot

	freeHead int
	head     int
	tail     int
	entry    int
}

// Init prepares a statically-owned MessageQueue with capacity slots, each
// holding up to msgSize bytes, and threads every slot onto the free list.
func (q *MessageQueue) Init(sched *thread.Scheduler, name string, msgSize, capacity int, flag object.Flag) {
	q.Base.Init(sched, name, object.ClassMessageQueue, flag)
	q.msgSize = msgSize
	q.slots = make([]slot, capacity)
	for i := range q.slots {
		q.slots[i].data = make([]byte, msgSize)
		q.slots[i].next = i + 1
	}
	if capacity > 0 {
		q.slots[capacity-1].next = none
	} else {
		q.freeHead = none
	}
	q.head, q.tail = none, none
}

// New creates a dynamically-owned MessageQueue.
func New(sched *thread.Scheduler, name string, msgSize, capacity int, flag object.Flag) *MessageQueue {
	q := &MessageQueue{}
	q.Init(sched, name, msgSize, capacity, flag)
	return q
}

// Send copies buf into a free slot and splices it onto the tail of the
// occupied list. Returns ErrGeneral if buf exceeds msgSize, ErrFull if no
// slot is free — sends never block, per spec.md §4.8/§4.9's shared note.
func (q *MessageQueue) Send(buf []byte) error {
	return q.enqueue(buf, false)
}

// Urgent is Send except the message is spliced onto the head of the
// occupied list, to be received before anything already queued.
func (q *MessageQueue) Urgent(buf []byte) error {
	return q.enqueue(buf, true)
}

func (q *MessageQueue) enqueue(buf []byte, urgent bool) error {
	if len(buf) > q.msgSize {
		return kerr.ErrGeneral
	}
	m := q.Gate().Disable()
	if q.freeHead == none {
		q.Gate().Enable(m)
		return kerr.ErrFull
	}
	idx := q.freeHead
	q.freeHead = q.slots[idx].next
	copy(q.slots[idx].data, buf)
	q.slots[idx].size = len(buf)
	q.slots[idx].next = none

	if urgent {
		q.slots[idx].next = q.head
		q.head = idx
		if q.tail == none {
			q.tail = idx
		}
	} else {
		if q.tail == none {
			q.head, q.tail = idx, idx
		} else {
			q.slots[q.tail].next = idx
			q.tail = idx
		}
	}
	q.entry++

	var woken *thread.Thread
	if q.Len() > 0 {
		woken = q.ResumeOne()
	}
	q.Gate().Enable(m)
	if woken != nil {
		q.Scheduler().Schedule()
	}
	return nil
}

// Recv blocks up to timeoutTicks ticks for a message if the queue is
// empty, then copies the head message into buf (truncated to len(buf)),
// returns the slot to the free list, and returns the number of bytes
// copied. timeoutTicks == 0 makes this a non-blocking try; negative
// blocks indefinitely.
func (q *MessageQueue) Recv(t *thread.Thread, timeoutTicks int32, buf []byte) (int, error) {
	m := q.Gate().Disable()
	if q.entry > 0 {
		n := q.dequeueLocked(buf)
		q.Gate().Enable(m)
		return n, nil
	}
	if timeoutTicks == 0 {
		q.Gate().Enable(m)
		return 0, kerr.ErrEmpty
	}
	if err := q.Suspend(t, timeoutTicks); err != nil {
		q.Gate().Enable(m)
		return 0, err
	}
	q.Gate().Enable(m)
	q.Scheduler().Schedule()

	if t.Error != nil {
		q.FixupTimeout()
		return 0, t.Error
	}

	m = q.Gate().Disable()
	n := q.dequeueLocked(buf)
	q.Gate().Enable(m)
	return n, nil
}

// TryRecv is Recv with a zero timeout.
func (q *MessageQueue) TryRecv(t *thread.Thread, buf []byte) (int, error) {
	return q.Recv(t, 0, buf)
}

func (q *MessageQueue) dequeueLocked(buf []byte) int {
	idx := q.head
	q.head = q.slots[idx].next
	if q.head == none {
		q.tail = none
	}
	n := len(buf)
	if q.slots[idx].size < n {
		n = q.slots[idx].size
	}
	copy(buf[:n], q.slots[idx].data)
	q.entry--

	q.slots[idx].next = q.freeHead
	q.freeHead = idx
	return n
}

// Entry reports the number of queued messages.
func (q *MessageQueue) Entry() int {
	return q.entry
}

// Cap reports the queue's slot capacity.
func (q *MessageQueue) Cap() int {
	return len(q.slots)
}

// Detach releases every waiter with ErrGeneral and unlinks the queue
// from the object registry, per spec.md §3.
func (q *MessageQueue) Detach() {
	q.ReleaseAll()
	q.Scheduler().Schedule()
	q.Object.Detach()
}
