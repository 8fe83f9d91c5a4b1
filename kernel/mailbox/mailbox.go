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

// Package mailbox implements the fixed-capacity mailbox (spec.md §4.8): a
// ring of machine-word-sized values where send never blocks on a full
// mailbox (it returns ErrFull instead), unlike the classic POSIX queue.
//
// Storage (ring.go) is grounded on the teacher's container/ring.Ring: one
// malloc for the backing slice, one-slot-at-a-time advance wrapping at
// capacity. A mailbox only ever reads its current head slot and writes
// its current tail slot, never walks arbitrary offsets, so the type here
// carries only that operation instead of the teacher's full generic
// Ring[V] (Head/Get/Next/Prev/Move/Do).
package mailbox

import (
	"github.com/saeedhadi/rtkernel/kernel/ipc"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

// Mailbox is a bounded ring of uintptr-sized values.
type Mailbox struct {
	ipc.Base
	pool     *ring
	inIndex  int
	outIndex int
	entry    int
}

// Init prepares a statically-owned Mailbox with the given capacity.
func (b *Mailbox) Init(sched *thread.Scheduler, name string, size int, flag object.Flag) {
	b.Base.Init(sched, name, object.ClassMailBox, flag)
	b.pool = newRing(size)
}

// New creates a dynamically-owned Mailbox.
func New(sched *thread.Scheduler, name string, size int, flag object.Flag) *Mailbox {
	b := &Mailbox{}
	b.Init(sched, name, size, flag)
	return b
}

// Send stores v at the tail. Returns ErrFull immediately if the mailbox
// is at capacity — sends never block, per spec.md §4.8's closing note.
func (b *Mailbox) Send(v uintptr) error {
	m := b.Gate().Disable()
	if b.entry == b.pool.cap() {
		b.Gate().Enable(m)
		return kerr.ErrFull
	}
	b.pool.set(b.inIndex, v)
	b.inIndex = b.pool.advance(b.inIndex)
	b.entry++
	var woken *thread.Thread
	if b.Len() > 0 {
		woken = b.ResumeOne()
	}
	b.Gate().Enable(m)
	if woken != nil {
		b.Scheduler().Schedule()
	}
	return nil
}

// Recv reads the head value into *out, blocking up to timeoutTicks ticks
// if the mailbox is empty. timeoutTicks == 0 makes this a non-blocking
// try; negative blocks indefinitely.
func (b *Mailbox) Recv(t *thread.Thread, timeoutTicks int32, out *uintptr) error {
	m := b.Gate().Disable()
	if b.entry > 0 {
		*out = b.pool.get(b.outIndex)
		b.outIndex = b.pool.advance(b.outIndex)
		b.entry--
		b.Gate().Enable(m)
		return nil
	}
	if timeoutTicks == 0 {
		b.Gate().Enable(m)
		return kerr.ErrEmpty
	}
	if err := b.Suspend(t, timeoutTicks); err != nil {
		b.Gate().Enable(m)
		return err
	}
	b.Gate().Enable(m)
	b.Scheduler().Schedule()

	if t.Error != nil {
		b.FixupTimeout()
		return t.Error
	}

	m = b.Gate().Disable()
	*out = b.pool.get(b.outIndex)
	b.outIndex = b.pool.advance(b.outIndex)
	b.entry--
	b.Gate().Enable(m)
	return nil
}

// TryRecv is Recv with a zero timeout.
func (b *Mailbox) TryRecv(t *thread.Thread, out *uintptr) error {
	return b.Recv(t, 0, out)
}

// Entry reports the number of stored values.
func (b *Mailbox) Entry() int {
	return b.entry
}

// Cap reports the mailbox's capacity.
func (b *Mailbox) Cap() int {
	return b.pool.cap()
}

// Detach releases every waiter with ErrGeneral and unlinks the mailbox
// from the object registry, per spec.md §3.
func (b *Mailbox) Detach() {
	b.ReleaseAll()
	b.Scheduler().Schedule()
	b.Object.Detach()
}
