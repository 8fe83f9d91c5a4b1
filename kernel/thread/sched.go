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

package thread

import (
	"math/bits"
	"sync"

	"github.com/saeedhadi/rtkernel/hw"
	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/list"
	"github.com/saeedhadi/rtkernel/kernel/object"
)

// maxGroups bounds PRI_MAX at 256 (32 groups of 8), the upper value
// spec.md §4.2 names for the two-level bitmap scheme.
const maxGroups = 32

// Scheduler owns the ready queues, the two-level ready bitmap, the
// currently-running thread, and the defunct list (spec.md components
// 2.5/2.6). It is the Go counterpart of the kernel's global mutable
// scheduler state (current_thread, ready[], the defunct list) — passed
// around explicitly instead of hidden behind package-level globals, per
// the "Global mutable state" redesign note in spec.md §9.
type Scheduler struct {
	gate     *irq.Gate
	clock    *clock.Wheel
	registry *object.Registry

	priMax      int
	ready       []list.Head[*Thread]
	bitmapGroup uint32
	bitmapSub   [maxGroups]uint8

	current       *Thread
	defunct       list.Head[*Thread]
	pendingSwitch bool

	threads map[string]*Thread

	idle *Thread

	// idleMu/idleCh let an external driver goroutine (cmd/rtsim's main
	// loop, or a test stepping ticks) learn when every application
	// thread has blocked and only the idle thread remains runnable —
	// the simulation's substitute for the real kernel's property that,
	// once rt_system_scheduler_start runs, nothing outside the thread
	// ring executes at all. A Go driver goroutine necessarily keeps
	// running concurrently with kernel thread goroutines (it has to, to
	// call Advance()), so WaitIdle gives it a deterministic rendezvous
	// point instead of guessing with a sleep.
	idleMu sync.Mutex
	idleCh chan struct{}
}

// NewScheduler creates a Scheduler with priMax priority levels
// (1..256) sharing gate, clk, and reg with the rest of the kernel. It
// also creates and starts an idle thread at the lowest priority level,
// whose job is to reap the defunct list (the Go counterpart of the
// source's idle-hook reaper) and otherwise yield continuously so any
// ready application thread preempts it immediately.
func NewScheduler(gate *irq.Gate, clk *clock.Wheel, reg *object.Registry, priMax int) *Scheduler {
	if priMax <= 0 || priMax > maxGroups*8 {
		panic("rtkernel: priMax out of range")
	}
	s := &Scheduler{
		gate:     gate,
		clock:    clk,
		registry: reg,
		priMax:   priMax,
		ready:    make([]list.Head[*Thread], priMax),
		threads:  make(map[string]*Thread),
		idleCh:   make(chan struct{}),
	}
	for i := range s.ready {
		s.ready[i].Init()
	}
	s.defunct.Init()

	idle, err := New(s, "idle", func(any) {
		for {
			s.Reap()
			s.idle.Yield()
		}
	}, nil, uint8(priMax-1), 10)
	if err != nil {
		panic(err)
	}
	s.idle = idle
	if err := idle.Startup(); err != nil {
		panic(err)
	}
	return s
}

// PriMax returns the number of priority levels this scheduler was built
// with.
func (s *Scheduler) PriMax() int { return s.priMax }

// Gate exposes the scheduler's shared critical-section primitive, so
// kernel/ipc and the five IPC packages built on it guard their own
// value/ownership state with the same single gate rather than a
// finer-grained lock (spec.md §5: "there are no kernel-level locks
// distinct from the interrupt gate").
func (s *Scheduler) Gate() *irq.Gate { return s.gate }

// Clock exposes the scheduler's shared timer wheel, so IPC waits can arm
// a waiter's per-thread timeout on the same wheel that drives Advance.
func (s *Scheduler) Clock() *clock.Wheel { return s.clock }

// Registry exposes the scheduler's shared object registry, so IPC
// objects register themselves the same way threads do.
func (s *Scheduler) Registry() *object.Registry { return s.registry }

// Start performs the initial jump into the highest-priority ready thread
// (normally the idle thread, until application threads call Startup).
// It is the Go counterpart of rt_hw_context_switch_to used once at boot.
func (s *Scheduler) Start() {
	m := s.gate.Disable()
	target := s.pickLocked()
	s.current = target
	s.gate.Enable(m)
	if target == s.idle {
		s.notifyIdle()
	}
	hw.SwitchTo(target.ctx)
}

// Self returns the currently running thread.
func (s *Scheduler) Self() *Thread {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	return s.current
}

// Find looks up a thread by name, the typed counterpart of rt_thread_find
// (which in the source casts a generic rt_object* back to rt_thread*; Go
// keeps a parallel typed map instead of an unsafe cast, per spec.md §9's
// "embedded inheritance via first-member struct" redesign note).
func (s *Scheduler) Find(name string) *Thread {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	return s.threads[name]
}

func (s *Scheduler) registerThread(t *Thread) {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	s.threads[t.Name] = t
}

func (s *Scheduler) unregisterThread(t *Thread) {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	if cur, ok := s.threads[t.Name]; ok && cur == t {
		delete(s.threads, t.Name)
	}
}

func (s *Scheduler) groupAndBit(priority uint8) (group, bit int) {
	return int(priority) / 8, int(priority) % 8
}

func (s *Scheduler) insertReadyLocked(t *Thread) {
	s.ready[t.CurrentPriority].PushBack(&t.scheduleNode, t)
	g, b := s.groupAndBit(t.CurrentPriority)
	s.bitmapSub[g] |= 1 << uint(b)
	s.bitmapGroup |= 1 << uint(g)
}

func (s *Scheduler) removeReadyLocked(t *Thread) {
	s.ready[t.CurrentPriority].Remove(&t.scheduleNode)
	g, b := s.groupAndBit(t.CurrentPriority)
	if s.ready[t.CurrentPriority].Empty() {
		s.bitmapSub[g] &^= 1 << uint(b)
		if s.bitmapSub[g] == 0 {
			s.bitmapGroup &^= 1 << uint(g)
		}
	}
}

func (s *Scheduler) rotateLocked(t *Thread) {
	s.removeReadyLocked(t)
	s.insertReadyLocked(t)
}

// pickLocked returns the head of the highest-urgency non-empty ready
// queue, found in O(1) via the two-level bitmap the way spec.md §4.2
// describes (and the way the teacher's unsafex/malloc bitmap allocator
// computes block indices with math/bits). Must be called with the gate
// held.
func (s *Scheduler) pickLocked() *Thread {
	if s.bitmapGroup == 0 {
		return s.idle
	}
	g := bits.TrailingZeros32(s.bitmapGroup)
	sub := s.bitmapSub[g]
	b := bits.TrailingZeros8(sub)
	node := s.ready[g*8+b].Front()
	if node == nil {
		return s.idle
	}
	return node.Owner()
}

// Schedule computes the highest-urgency ready thread and, if it differs
// from the one currently running, performs a context switch. Per
// spec.md §4.2, Schedule may be invoked with interrupts masked by the
// caller's own critical section, and if it is invoked while the tick ISR
// is running (kernel/clock.Wheel.Advance, nested interrupts included) the
// actual switch is deferred until the outermost ISR returns — consumed by
// the next call to CheckPreempt from the thread that is actually running.
//
// Must be called from the currently-running thread's own goroutine:
// Schedule performs the hardware handoff itself (hw.Switch), which parks
// the calling goroutine, so calling it from anywhere else (the tick
// driver, another thread) would attempt to suspend the wrong stack. The
// ISR-deferred path above exists precisely so that timer callbacks, which
// run on the tick driver's goroutine, never reach that code.
func (s *Scheduler) Schedule() {
	m := s.gate.Disable()
	if s.gate.InISR() {
		s.pendingSwitch = true
		s.gate.Enable(m)
		return
	}
	target := s.pickLocked()
	prev := s.current
	if target == prev {
		s.gate.Enable(m)
		if target == s.idle {
			s.notifyIdle()
		}
		return
	}
	s.current = target
	s.gate.Enable(m)
	if target == s.idle {
		s.notifyIdle()
	}
	hw.Switch(prev.ctx, target.ctx)
}

// notifyIdle wakes every WaitIdle caller. Safe to call without the gate
// held; it only ever touches idleMu, a lock private to this rendezvous
// and independent of the kernel's critical-section gate.
func (s *Scheduler) notifyIdle() {
	s.idleMu.Lock()
	close(s.idleCh)
	s.idleCh = make(chan struct{})
	s.idleMu.Unlock()
}

// WaitIdle blocks the calling (driver) goroutine until the scheduler
// next reaches the idle thread, i.e. until every application thread
// ready at the time WaitIdle is called has run to its next blocking
// point or terminated. Tests and cmd/rtsim use this instead of a sleep
// to deterministically observe kernel state between driving ticks,
// since Go gives a driver goroutine no other way to know a
// concurrently-running thread goroutine has made progress.
//
// It deliberately waits for the *next* signal rather than short-circuiting
// when the scheduler happens to already be idle: the idle thread's own
// loop (Reap then Yield, forever) re-notifies every pass, so a signal
// captured strictly after some driver action (Advance, starting threads)
// is guaranteed — by the gate's happens-before ordering — to reflect
// state at or after that action, never a stale notification that raced
// ahead of it.
func (s *Scheduler) WaitIdle() {
	s.idleMu.Lock()
	ch := s.idleCh
	s.idleMu.Unlock()
	<-ch
}

// CheckPreempt consumes a pending tick-driven reschedule request. Call it
// from the currently-running thread at a safe point (a loop iteration
// boundary, or any blocking kernel entry point already does). This is the
// Go-simulation substitute for genuine asynchronous interrupt preemption:
// nothing in the Go runtime lets one goroutine forcibly suspend another
// at an arbitrary instruction, so round-robin rotation triggered by
// Advance takes effect the next time the running thread reaches a
// cooperative check-in rather than instantaneously. See DESIGN.md.
func (s *Scheduler) CheckPreempt() {
	m := s.gate.Disable()
	if !s.pendingSwitch || s.gate.InISR() {
		s.gate.Enable(m)
		return
	}
	s.pendingSwitch = false
	s.gate.Enable(m)
	s.Schedule()
}

// Advance drives the tick clock forward by n ticks: it fires expired
// per-thread/generic timers (via the shared clock.Wheel) and, per
// spec.md §4.2, decrements the running thread's round-robin budget,
// rotating it to the tail of its ready queue and requesting a reschedule
// once the budget is exhausted.
func (s *Scheduler) Advance(n uint64) {
	s.gate.EnterISR(func() {
		s.clock.Advance(n)
		s.tickRoundRobin(n)
	})
}

func (s *Scheduler) tickRoundRobin(n uint64) {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	cur := s.current
	if cur == nil || cur.State != StateReady || cur == s.idle {
		return
	}
	if uint64(cur.RemainingTick) > n {
		cur.RemainingTick -= uint32(n)
		return
	}
	cur.RemainingTick = cur.InitTick
	s.rotateLocked(cur)
	s.pendingSwitch = true
}

// ChangePriority moves t to a new priority level, re-enqueuing it in its
// new ready slot if it is currently Ready. kernel/mutex calls this
// directly for priority inheritance (spec.md §4.6 step 4); Thread.Control
// with CtrlChangePriority is the public API wrapper.
func (s *Scheduler) ChangePriority(t *Thread, priority uint8) {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	if t.CurrentPriority == priority {
		return
	}
	if t.State == StateReady {
		s.removeReadyLocked(t)
		t.CurrentPriority = priority
		s.insertReadyLocked(t)
		return
	}
	t.CurrentPriority = priority
}

func (s *Scheduler) pushDefunct(t *Thread) {
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	s.defunct.PushBack(&t.scheduleNode, t)
}

// Reap frees every thread currently on the defunct list (detaching its
// registry entry), the Go counterpart of the idle-hook reaper spec.md §3
// describes for dynamic threads. Safe to call from the idle thread loop
// or directly from a test; must not be called from ISR context.
func (s *Scheduler) Reap() {
	m := s.gate.Disable()
	var dead []*Thread
	s.defunct.Each(func(n *list.Node[*Thread]) bool {
		dead = append(dead, n.Owner())
		return true
	})
	for _, t := range dead {
		s.defunct.Remove(&t.scheduleNode)
	}
	s.gate.Enable(m)
	for _, t := range dead {
		t.Object.Detach()
		s.unregisterThread(t)
	}
}

// closeThread forcibly transitions t to Close from Ready or Suspend. It
// cannot be used on the currently-running thread: Go has no mechanism to
// forcibly suspend another goroutine's stack from the outside, so a
// running thread can only be closed by returning from its own entry
// function (which drives Thread.exit). See DESIGN.md.
func (s *Scheduler) closeThread(t *Thread) error {
	m := s.gate.Disable()
	if t == s.current {
		s.gate.Enable(m)
		return kerr.ErrGeneral
	}
	switch t.State {
	case StateReady:
		s.removeReadyLocked(t)
	case StateSuspend:
		if t.waitingOn != nil {
			t.waitingOn.RemoveWaiter(t)
			t.waitingOn = nil
		}
	default:
		s.gate.Enable(m)
		return kerr.ErrGeneral
	}
	t.State = StateClose
	s.clock.Cancel(t.timer)
	s.gate.Enable(m)

	if t.dynamic {
		s.pushDefunct(t)
	} else {
		_ = t.Detach()
	}
	return nil
}
