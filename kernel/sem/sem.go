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

// Package sem implements the counting semaphore (spec.md §4.5): a signed
// value with a bounded wait, the simplest of the five IPC primitives and
// the one every other primitive's Take-style operation is modeled on.
package sem

import (
	"github.com/saeedhadi/rtkernel/kernel/ipc"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

// Semaphore is a counting semaphore. Value > 0 means Take succeeds
// immediately and decrements it; Value <= 0 means Take fails or blocks,
// with the magnitude of the negative value equal to the waiter count
// (spec.md §3, invariant 2 in §8).
type Semaphore struct {
	ipc.Base
	Value int32
}

// Init prepares a statically-owned Semaphore with the given initial
// value and wait-queue flag.
func (s *Semaphore) Init(sched *thread.Scheduler, name string, value int32, flag object.Flag) {
	s.Base.Init(sched, name, object.ClassSemaphore, flag)
	s.Value = value
}

// New creates a dynamically-owned Semaphore.
func New(sched *thread.Scheduler, name string, value int32, flag object.Flag) *Semaphore {
	s := &Semaphore{}
	s.Init(sched, name, value, flag)
	return s
}

// Take attempts to decrement Value, blocking up to timeoutTicks ticks if
// it is not currently positive. timeoutTicks == 0 makes this a
// non-blocking try-take; a negative timeoutTicks blocks indefinitely.
// Per spec.md §4.5 step 4, a non-EOK wakeup (timeout, or the semaphore
// torn down under the waiter) corrects the waiter-count accounting that
// Suspend deliberately leaves inflated.
func (s *Semaphore) Take(t *thread.Thread, timeoutTicks int32) error {
	m := s.Gate().Disable()
	if s.Value > 0 {
		s.Value--
		s.Gate().Enable(m)
		return nil
	}
	if timeoutTicks == 0 {
		s.Gate().Enable(m)
		return kerr.ErrTimeout
	}
	s.Value--
	if err := s.Suspend(t, timeoutTicks); err != nil {
		s.Value++
		s.Gate().Enable(m)
		return err
	}
	s.Gate().Enable(m)
	s.Scheduler().Schedule()

	if t.Error != nil {
		// Undo the speculative decrement from the suspend path above, in
		// addition to the waiter-count correction FixupTimeout applies:
		// scenario B (spec.md §8) requires a sem that never saw a
		// release to return to Value == 0 after its sole waiter times
		// out, not Value == -1.
		m := s.Gate().Disable()
		s.Value++
		s.Gate().Enable(m)
		s.FixupTimeout()
		return t.Error
	}
	return nil
}

// TryTake is Take with a zero timeout.
func (s *Semaphore) TryTake(t *thread.Thread) error {
	return s.Take(t, 0)
}

// Release increments Value and, if a waiter is present, wakes the head
// of the wait queue rather than letting it observe the incremented
// value (spec.md §4.5: "if value <= 0 AND there is a waiter, resume the
// head waiter").
func (s *Semaphore) Release() {
	m := s.Gate().Disable()
	s.Value++
	var woken *thread.Thread
	if s.Value <= 0 && s.Len() > 0 {
		woken = s.ResumeOne()
	}
	s.Gate().Enable(m)
	if woken != nil {
		s.Scheduler().Schedule()
	}
}

// Detach releases every waiter with ErrGeneral and unlinks the semaphore
// from the object registry, per spec.md §3.
func (s *Semaphore) Detach() {
	s.ReleaseAll()
	s.Scheduler().Schedule()
	s.Object.Detach()
}
