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

// Package ipc implements the wait-queue base embedded by every blocking
// primitive (semaphore, mutex, event set, mailbox, message queue), per
// spec.md §3's "IPC base" and §4.7's shared suspend/resume plumbing.
//
// Base owns no business logic of its own — value/ownership/bitmask
// semantics live in kernel/sem, kernel/mutex, kernel/event, kernel/mailbox,
// and kernel/mqueue. It exists purely so those five packages do not each
// reimplement wait-queue insertion order, timeout bookkeeping, and the
// thread.Waitable detach contract.
package ipc

import (
	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/list"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

// Base is the embedded wait queue spec.md §3 describes: an intrusive
// list of waiting threads plus a waiter count, ordered per the owning
// object's Flag (FIFO or priority).
type Base struct {
	object.Object

	sched *thread.Scheduler

	wait        list.Head[*thread.Thread]
	WaiterCount int
}

// Init wires Base into the shared kernel scheduler (its gate, clock, and
// object registry) the way every IPC object's Init/Create constructor
// does before filling in its own type-specific fields.
func (b *Base) Init(sched *thread.Scheduler, name string, class object.Class, flag object.Flag) {
	b.Object.Init(sched.Registry(), name, class, flag)
	b.sched = sched
	b.wait.Init()
}

// Scheduler exposes the shared kernel scheduler: owning packages use it
// to call Schedule() after releasing the gate, per spec.md §4.2's
// "leave critical section, schedule()" contract every blocking and
// waking operation follows.
func (b *Base) Scheduler() *thread.Scheduler { return b.sched }

// Gate exposes the shared critical-section primitive to the owning
// package, which brackets its own value/ownership mutation with it.
func (b *Base) Gate() *irq.Gate { return b.sched.Gate() }

// Clock exposes the shared timer wheel so the owning package can arm a
// waiter's per-thread timeout.
func (b *Base) Clock() *clock.Wheel { return b.sched.Clock() }

// Len reports the current waiter count. Callers hold the gate.
func (b *Base) Len() int { return b.WaiterCount }

// Suspend links the calling thread t into the wait queue in the order
// its Flag selects, arms its per-thread timer if timeoutTicks > 0, and
// records the linkage so Resume/the timeout path can detach it later.
// The caller must already hold the gate and must call thread.Scheduler's
// Schedule (via t's own goroutine) after releasing it. Returns ErrGeneral
// if called from ISR context with a non-zero timeout, since nothing can
// legally block the tick ISR (spec.md §5's "ISR-safe operations never
// suspend the caller").
func (b *Base) Suspend(t *thread.Thread, timeoutTicks int32) error {
	if b.sched.Gate().InISR() {
		return kerr.ErrGeneral
	}
	if err := t.Suspend(); err != nil {
		return err
	}
	switch b.Flag {
	case object.FlagPriority:
		inserted := false
		b.wait.Each(func(n *list.Node[*thread.Thread]) bool {
			if n.Owner().CurrentPriority > t.CurrentPriority {
				b.wait.InsertBefore(t.ScheduleNode(), t, n)
				inserted = true
				return false
			}
			return true
		})
		if !inserted {
			b.wait.PushBack(t.ScheduleNode(), t)
		}
	default:
		b.wait.PushBack(t.ScheduleNode(), t)
	}
	b.WaiterCount++
	t.SetWaiting(b)
	if timeoutTicks > 0 {
		b.sched.Clock().Start(t.Timer(), uint64(timeoutTicks))
	}
	return nil
}

// ResumeOne wakes the head waiter: detaches it from the wait queue,
// decrements WaiterCount, clears its error, cancels its timer (via
// thread.Resume), and readies it. Returns nil if the queue was empty.
// The caller must hold the gate and call Schedule after releasing it.
func (b *Base) ResumeOne() *thread.Thread {
	node := b.wait.Front()
	if node == nil {
		return nil
	}
	t := node.Owner()
	b.wait.Remove(node)
	b.WaiterCount--
	t.Error = nil
	t.SetWaiting(nil)
	_ = t.Resume()
	return t
}

// WalkRemove visits every waiter head-to-tail and calls match, which is
// free to mutate the waiter's own exported fields (kernel/event stores
// its matched mask on thread.Thread.EventRecv this way). Any waiter for
// which match returns true is detached, has WaiterCount decremented, and
// is resumed. WalkRemove always visits every waiter regardless of
// earlier matches — spec.md §4.7 intentionally lets an earlier match's
// CLEAR prevent a later waiter from matching, so the full walk (not an
// early exit) is required. Callers are expected to set t.Error
// themselves inside match before this resumes it.
func (b *Base) WalkRemove(match func(t *thread.Thread) bool) {
	var hit []*thread.Thread
	b.wait.Each(func(n *list.Node[*thread.Thread]) bool {
		if match(n.Owner()) {
			hit = append(hit, n.Owner())
		}
		return true
	})
	for _, t := range hit {
		b.wait.Remove(t.ScheduleNode())
		b.WaiterCount--
		t.SetWaiting(nil)
		_ = t.Resume()
	}
}

// RemoveWaiter implements thread.Waitable: it unlinks t from the wait
// queue without touching WaiterCount. Deliberately so — spec.md §4.5
// step 4 describes the timeout path leaving waiter_count "inflated",
// corrected by the caller (FixupTimeout below) once Schedule returns
// control to it, not by this generic detach hook. A direct application
// call to thread.Resume on an IPC-suspended thread (bypassing the owning
// object's Take/Recv) hits this same path and leaves WaiterCount
// permanently inflated, matching the source's behavior for that
// unsupported usage.
func (b *Base) RemoveWaiter(t *thread.Thread) {
	b.wait.Remove(t.ScheduleNode())
}

// FixupTimeout corrects WaiterCount after a Suspend call returns with
// t.Error set to something other than nil (timeout, or the object was
// torn down while t waited): the thread left the wait queue through
// RemoveWaiter, which does not decrement WaiterCount on its own.
func (b *Base) FixupTimeout() {
	m := b.sched.Gate().Disable()
	b.WaiterCount--
	b.sched.Gate().Enable(m)
}

// ReleaseAll wakes every waiter with ErrGeneral, the step every
// detach/delete must perform before unlinking from the registry (spec.md
// §3: "detach/delete must first release every suspended waiter with
// error RT_ERROR"). As with Suspend/ResumeOne/WalkRemove, the caller is
// responsible for calling Scheduler().Schedule() afterward.
func (b *Base) ReleaseAll() {
	m := b.sched.Gate().Disable()
	var waiters []*thread.Thread
	b.wait.Each(func(n *list.Node[*thread.Thread]) bool {
		waiters = append(waiters, n.Owner())
		return true
	})
	for _, t := range waiters {
		b.wait.Remove(t.ScheduleNode())
		b.WaiterCount--
		t.Error = kerr.ErrGeneral
		t.SetWaiting(nil)
	}
	b.sched.Gate().Enable(m)
	for _, t := range waiters {
		_ = t.Resume()
	}
}
