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

// Package event implements the event flag group (spec.md §4.7): a single
// 32-bit bitmask with one shared wait queue, where each waiter carries
// its own (want, option) pair rather than the set being split per bit.
package event

import (
	"github.com/saeedhadi/rtkernel/kernel/ipc"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

// Option bits select how a Recv's want mask is matched and what happens
// to the set on a match, per spec.md §4.7.
type Option uint32

const (
	// And requires every bit in want to be set.
	And Option = 1 << iota
	// Or requires at least one bit in want to be set.
	Or
	// Clear consumes (clears) the matched bits from the set on wake.
	Clear
)

// Event is a 32-bit flag group. Unlike a semaphore or mutex, sending does
// not queue — send ORs bits into the live set and then re-evaluates every
// waiter against it.
type Event struct {
	ipc.Base
	Set uint32
}

// Init prepares a statically-owned Event with an empty set.
func (e *Event) Init(sched *thread.Scheduler, name string, flag object.Flag) {
	e.Base.Init(sched, name, object.ClassEvent, flag)
}

// New creates a dynamically-owned Event.
func New(sched *thread.Scheduler, name string, flag object.Flag) *Event {
	e := &Event{}
	e.Init(sched, name, flag)
	return e
}

func match(set, want uint32, opt Option) bool {
	switch {
	case opt&And != 0:
		return set&want == want
	case opt&Or != 0:
		return set&want != 0
	default:
		// spec.md §9 note 2: recv without AND or OR is treated as
		// no-match, left unspecified whether this should instead be a
		// call-time error.
		return false
	}
}

// Send ORs bits into the set, then walks the wait queue head-to-tail,
// waking every waiter whose (want, option) now matches. A CLEAR match
// strips its bits from the set before later waiters in the same walk are
// evaluated, so it can starve a later waiter whose bits it just removed —
// intentional, per spec.md §4.7.
func (e *Event) Send(bits uint32) {
	m := e.Gate().Disable()
	e.Set |= bits
	var woke bool
	e.WalkRemove(func(t *thread.Thread) bool {
		if !match(e.Set, t.EventSet, Option(t.EventInfo)) {
			return false
		}
		preClear := e.Set
		if Option(t.EventInfo)&Clear != 0 {
			e.Set &^= t.EventSet
		}
		t.EventRecv = matchedBits(preClear, t.EventSet, Option(t.EventInfo))
		t.Error = nil
		woke = true
		return true
	})
	e.Gate().Enable(m)
	if woke {
		e.Scheduler().Schedule()
	}
}

// matchedBits reconstructs the bits actually satisfying want, since Clear
// may have already stripped them from the live set by the time the
// caller records EventRecv.
func matchedBits(setBeforeClear, want uint32, opt Option) uint32 {
	if opt&And != 0 {
		return want
	}
	return setBeforeClear & want
}

// Recv waits for want to match against the live set per option, copying
// the satisfied bits to *out on success. timeoutTicks == 0 makes this a
// non-blocking try; negative blocks indefinitely.
func (e *Event) Recv(t *thread.Thread, want uint32, opt Option, timeoutTicks int32, out *uint32) error {
	m := e.Gate().Disable()
	if match(e.Set, want, opt) {
		got := matchedBits(e.Set, want, opt)
		if opt&Clear != 0 {
			e.Set &^= want
		}
		*out = got
		e.Gate().Enable(m)
		return nil
	}
	if timeoutTicks == 0 {
		e.Gate().Enable(m)
		return kerr.ErrTimeout
	}
	t.EventSet = want
	t.EventInfo = uint32(opt)
	if err := e.Suspend(t, timeoutTicks); err != nil {
		e.Gate().Enable(m)
		return err
	}
	e.Gate().Enable(m)
	e.Scheduler().Schedule()

	if t.Error != nil {
		e.FixupTimeout()
		return t.Error
	}
	*out = t.EventRecv
	return nil
}

// TryRecv is Recv with a zero timeout.
func (e *Event) TryRecv(t *thread.Thread, want uint32, opt Option, out *uint32) error {
	return e.Recv(t, want, opt, 0, out)
}

// Detach releases every waiter with ErrGeneral and unlinks the event from
// the object registry, per spec.md §3.
func (e *Event) Detach() {
	e.ReleaseAll()
	e.Scheduler().Schedule()
	e.Object.Detach()
}
