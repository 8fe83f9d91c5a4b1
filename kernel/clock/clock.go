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

// Package clock implements the monotonic tick counter and timer wheel
// that drive every bounded wait in the kernel. A thread's one-shot timer
// (armed by Sleep, or by any IPC Take/Recv with a non-zero timeout) and
// generic periodic timers both live on the same ordered-by-deadline list;
// Advance is the Go counterpart of the tick ISR.
//
// Modeled after internal/iouring/eventloop.go's ticker-driven dispatch
// loop in the teacher, adapted so Advance is called explicitly by a
// driver (real hardware tick, or a test stepping ticks one at a time)
// rather than free-running off a time.Ticker: a simulated kernel must be
// deterministically steppable for the invariants in spec.md §8.
package clock

import (
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/list"
)

// Timer is a one-shot or periodic deadline callback. Every kernel thread
// owns exactly one (its per-thread timeout timer, created once in
// thread.Init and never freed separately); generic timers are created and
// destroyed independently.
type Timer struct {
	Name     string
	Timeout  uint64 // absolute tick at which this timer fires
	Period   uint64 // 0 = one-shot; otherwise re-armed for now+Period on fire
	Callback func(arg any)
	Arg      any
	Active   bool

	node list.Node[*Timer]
}

// Wheel holds the kernel's monotonic tick and the ordered list of active
// timers. The zero value is not ready to use; construct with NewWheel.
type Wheel struct {
	gate *irq.Gate
	tick uint64
	list list.Head[*Timer]
}

// NewWheel creates a Wheel guarded by gate, the same Gate instance used
// by every other kernel subsystem sharing this kernel (there is no
// separate lock for timers, per spec.md §5).
func NewWheel(gate *irq.Gate) *Wheel {
	w := &Wheel{gate: gate}
	w.list.Init()
	return w
}

// Tick returns the current tick count.
func (w *Wheel) Tick() uint64 {
	return w.tick
}

// Start (re)arms t to fire timeoutTicks from now, inserting it into the
// wheel in deadline order. Starting an already-active timer re-positions
// it.
func (w *Wheel) Start(t *Timer, timeoutTicks uint64) {
	m := w.gate.Disable()
	defer w.gate.Enable(m)
	w.startLocked(t, timeoutTicks)
}

func (w *Wheel) startLocked(t *Timer, timeoutTicks uint64) {
	w.removeLocked(t)
	t.Timeout = w.tick + timeoutTicks
	inserted := false
	w.list.Each(func(n *list.Node[*Timer]) bool {
		if n.Owner().Timeout > t.Timeout {
			w.list.InsertBefore(&t.node, t, n)
			inserted = true
			return false
		}
		return true
	})
	if !inserted {
		w.list.PushBack(&t.node, t)
	}
	t.Active = true
}

// Cancel removes t from the wheel if active. It is idempotent: canceling
// an already-fired or never-started timer is a safe no-op, the property
// the timeout-vs-wakeup race in kernel/ipc depends on.
func (w *Wheel) Cancel(t *Timer) {
	m := w.gate.Disable()
	defer w.gate.Enable(m)
	w.removeLocked(t)
}

func (w *Wheel) removeLocked(t *Timer) {
	if !t.Active {
		return
	}
	w.list.Remove(&t.node)
	t.Active = false
}

// Advance moves the tick forward by n ticks (n==1 for a real periodic
// tick source) and fires every timer whose deadline has passed. Expired
// timers are collected and unlinked under the kernel gate, then their
// callbacks run with the gate released between callbacks (so a callback
// that itself needs the gate — thread_timeout resuming a thread, or a
// periodic timer's own bookkeeping — does not deadlock against Advance),
// but with Gate.InISR() true for the whole dispatch so blocking kernel
// operations invoked transitively from a callback fail fast instead of
// hanging an interrupt handler.
func (w *Wheel) Advance(n uint64) {
	m := w.gate.Disable()
	w.tick += n
	var expired []*Timer
	w.list.Each(func(node *list.Node[*Timer]) bool {
		t := node.Owner()
		if t.Timeout > w.tick {
			return false
		}
		expired = append(expired, t)
		return true
	})
	for _, t := range expired {
		w.removeLocked(t)
	}
	w.gate.Enable(m)

	if len(expired) == 0 {
		return
	}
	w.gate.EnterISR(func() {
		for _, t := range expired {
			if t.Callback != nil {
				t.Callback(t.Arg)
			}
			if t.Period > 0 {
				w.Start(t, t.Period)
			}
		}
	})
}
