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

// Package irq implements the sole critical-section primitive the kernel
// uses to protect every shared data structure: a disable/enable pair
// standing in for rt_hw_interrupt_disable/rt_hw_interrupt_enable.
//
// On real hardware this masks the interrupt controller, which is
// inherently nestable: disabling twice and enabling once still leaves
// interrupts masked, because there is exactly one execution context (the
// CPU) and masking is just a counter on it. spec.md §4.1 requires the
// same property here. This simulation has no single execution context —
// every kernel thread and the tick driver are distinct goroutines — so
// Gate is a mutex keyed on the calling goroutine: the goroutine currently
// holding it may re-enter Disable any number of times (incrementing a
// depth counter) without blocking on itself, while every other goroutine
// still blocks until the depth returns to zero and Enable finally
// releases ownership. This is what lets e.g. Scheduler.closeThread cancel
// a thread's timer (kernel/clock.Wheel.Cancel, which disables the same
// Gate) without first releasing the section closeThread is already in,
// and what lets kernel/mutex.Take raise an owner's priority
// (Scheduler.ChangePriority, also gate-guarded) while still holding the
// mutex's own critical section.
package irq

import (
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Mask is the token returned by Disable and consumed by Enable.
type Mask struct{}

// Gate is one kernel's critical-section primitive. The zero value is
// ready to use.
type Gate struct {
	once  sync.Once
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64 // goroutine id currently holding the gate, 0 if unheld
	depth int

	inISR atomic.Int32
}

func (g *Gate) lazyInit() {
	g.once.Do(func() {
		g.cond = sync.NewCond(&g.mu)
	})
}

// goroutineID extracts the calling goroutine's id from its own stack
// trace header ("goroutine 123 [running]:"). Go deliberately exposes no
// public goroutine-id API; none of the examples carry a reentrant-lock
// library either, so this stdlib-only parse is what makes Gate's
// per-goroutine reentrancy possible.
func goroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	s := string(buf[:n])
	s = strings.TrimPrefix(s, "goroutine ")
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

// Disable enters the critical section, blocking until no other goroutine
// holds it. A goroutine that already holds the gate may call Disable
// again without blocking; each such call must be matched by its own
// Enable before the section is actually released to another goroutine.
func (g *Gate) Disable() Mask {
	g.lazyInit()
	id := goroutineID()

	g.mu.Lock()
	for g.owner != 0 && g.owner != id {
		g.cond.Wait()
	}
	g.owner = id
	g.depth++
	g.mu.Unlock()
	return Mask{}
}

// Enable leaves one level of the critical section entered by the
// matching Disable. Only the outermost Enable — the one that brings the
// nesting depth back to zero — actually wakes a waiting goroutine.
func (g *Gate) Enable(Mask) {
	g.mu.Lock()
	g.depth--
	if g.depth == 0 {
		g.owner = 0
		g.cond.Signal()
	}
	g.mu.Unlock()
}

// InISR reports whether the tick driver is currently running the ISR
// (kernel/clock.Wheel.Advance). Safe to call both inside and outside a
// Disable/Enable section, since it never touches the gate itself — the
// one addition beyond the source's prose spec: a real ISR that tried to
// block would simply never return on actual hardware, corrupting the
// kernel instead of failing cleanly, so this simulation turns that into a
// catchable error (see kernel/ipc.Base.Suspend).
func (g *Gate) InISR() bool {
	return g.inISR.Load() > 0
}

// EnterISR marks the Gate as running the tick ISR for the duration of fn,
// which the tick driver uses to bracket timer-callback dispatch. Nestable:
// kernel/clock.Wheel.Advance brackets its own callback dispatch the same
// way, and kernel/thread.Scheduler.Advance wraps both the clock tick and
// its own round-robin bookkeeping in an outer EnterISR, so the depth is
// tracked with a counter rather than a bool to keep InISR() true for the
// whole of the outer call regardless of what the inner one does.
func (g *Gate) EnterISR(fn func()) {
	g.inISR.Add(1)
	defer g.inISR.Add(-1)
	fn()
}
