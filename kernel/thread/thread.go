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

// Package thread implements the thread control block and its lifecycle
// (spec.md §4.3, component 2.5) together with the fixed-priority
// scheduler that owns the ready queues (spec.md §4.2, component 2.6).
//
// The two live in one package deliberately: spec.md's scheduler operates
// directly on rt_thread fields (current_priority, the ready-queue node),
// and a thread's lifecycle operations (Suspend/Resume/Yield) in turn call
// straight into the scheduler's ready-queue bookkeeping. Splitting them
// into two Go packages would force an import cycle (thread needs to
// enqueue itself on the scheduler's ready list; the scheduler needs the
// Thread type to enqueue). Keeping them together mirrors how the source
// kernel's thread.c and the scheduler logic inside it share the same
// global ready table — see DESIGN.md.
package thread

import (
	"github.com/saeedhadi/rtkernel/hw"
	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/list"
	"github.com/saeedhadi/rtkernel/kernel/object"
)

// State is a thread's lifecycle state (spec.md §3).
type State byte

const (
	StateInit State = iota
	StateReady
	StateSuspend
	StateClose
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateReady:
		return "ready"
	case StateSuspend:
		return "suspend"
	case StateClose:
		return "close"
	default:
		return "unknown"
	}
}

// Command selects the operation performed by Thread.Control, mirroring
// spec.md §6's {CHANGE_PRIORITY, STARTUP, CLOSE}.
type Command int

const (
	CtrlChangePriority Command = iota
	CtrlStartup
	CtrlClose
)

// Waitable is implemented by any IPC wait queue (kernel/ipc.Base) so that
// Thread.Resume and the timeout path can detach a waiting thread from
// whichever queue it is currently linked into without thread importing
// the ipc package.
type Waitable interface {
	RemoveWaiter(t *Thread)
}

// Thread is the kernel's thread control block (spec.md §3).
type Thread struct {
	object.Object

	sched *Scheduler
	ctx   *hw.Context
	entry func(arg any)
	arg   any

	InitPriority    uint8
	CurrentPriority uint8
	InitTick        uint32
	RemainingTick   uint32
	State           State
	Flags           uint32
	Error           error

	// EventSet/EventInfo/EventRecv are populated by kernel/event while
	// this thread is suspended waiting for a flag mask: EventSet is the
	// bitmask requested, EventInfo the AND/OR/CLEAR option bits, and
	// EventRecv the bits actually delivered once a send() matches. All
	// three are opaque to this package.
	EventSet  uint32
	EventInfo uint32
	EventRecv uint32

	// StackSize is carried for API fidelity with spec.md's TCB (stack
	// base & size); this simulation has no raw stack to size, since the
	// Go runtime grows each thread's backing goroutine stack itself —
	// out of scope per spec.md §1's "heap allocator... out of scope" and
	// the hw package's doc comment.
	StackSize int

	UserData any

	timer        *clock.Timer
	scheduleNode list.Node[*Thread]
	waitingOn    Waitable

	dynamic bool
}

// Init prepares a statically-owned Thread: it is the Go counterpart of
// rt_thread_init, filling in the TCB and leaving State at Init until
// Startup is called. priority 0 is most urgent; tick is the round-robin
// budget in ticks.
func (t *Thread) Init(s *Scheduler, name string, entry func(arg any), arg any, priority uint8, tick uint32) error {
	return t.initCommon(s, name, entry, arg, priority, tick, false)
}

// New prepares a kernel-tracked dynamic Thread: identical to Init except
// that Delete (rather than Detach) enqueues it on the defunct list for
// later reaping instead of detaching it immediately, per spec.md §3's
// static/dynamic lifecycle split.
func New(s *Scheduler, name string, entry func(arg any), arg any, priority uint8, tick uint32) (*Thread, error) {
	t := &Thread{}
	if err := t.initCommon(s, name, entry, arg, priority, tick, true); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Thread) initCommon(s *Scheduler, name string, entry func(arg any), arg any, priority uint8, tick uint32, dynamic bool) error {
	if int(priority) >= s.priMax {
		return kerr.ErrGeneral
	}
	t.sched = s
	t.entry = entry
	t.arg = arg
	t.InitPriority = priority
	t.CurrentPriority = priority
	t.InitTick = tick
	t.RemainingTick = tick
	t.State = StateInit
	t.dynamic = dynamic
	t.Object.Init(s.registry, name, object.ClassThread, object.FlagFIFO)
	t.timer = &clock.Timer{
		Name:     name + ".timeout",
		Callback: func(arg any) { arg.(*Thread).onTimeout() },
		Arg:      t,
	}
	t.ctx = hw.NewContext(func(any) { t.entry(t.arg) }, nil, t.exit)
	s.registerThread(t)
	return nil
}

// Startup transitions Init -> Suspend -> Ready via Resume, per spec.md
// §4.3's documented indirection (Resume's precondition requires Suspend).
func (t *Thread) Startup() error {
	if t.State != StateInit {
		return kerr.ErrGeneral
	}
	t.State = StateSuspend
	return t.Resume()
}

// Suspend requires State == Ready; it removes t from its ready queue and
// sets State = Suspend. It does not touch any IPC wait queue — the
// caller (kernel/ipc.Base.Suspend) links t into its own wait queue
// separately, matching the source's rt_ipc_object_suspend calling
// rt_thread_suspend first and threading the wait-queue node itself.
func (t *Thread) Suspend() error {
	s := t.sched
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	if t.State != StateReady {
		return kerr.ErrGeneral
	}
	s.removeReadyLocked(t)
	t.State = StateSuspend
	return nil
}

// Resume requires State == Suspend. It detaches t from any wait queue it
// is linked into, cancels its per-thread timer, and inserts it into the
// ready queue. Calling Resume on a thread that is not Suspend returns
// ErrGeneral, matching spec.md §4.3.
func (t *Thread) Resume() error {
	s := t.sched
	m := s.gate.Disable()
	defer s.gate.Enable(m)
	if t.State != StateSuspend {
		return kerr.ErrGeneral
	}
	if t.waitingOn != nil {
		t.waitingOn.RemoveWaiter(t)
		t.waitingOn = nil
	}
	s.clock.Cancel(t.timer)
	t.State = StateReady
	s.insertReadyLocked(t)
	return nil
}

// Yield rotates t to the tail of its priority's ready queue and invokes
// the scheduler. Must be called by t's own running goroutine.
func (t *Thread) Yield() {
	s := t.sched
	m := s.gate.Disable()
	s.rotateLocked(t)
	s.gate.Enable(m)
	s.Schedule()
}

// Sleep suspends t for the given number of ticks, waking unconditionally
// once the deadline passes (spec.md §4.3: sleep is suspend + arm timer +
// schedule; the thread_timeout callback's ETIMEOUT is the *normal* wakeup
// reason here, not a failure, so Sleep always returns nil once it is
// rescheduled). ticks == 0 returns immediately without suspending.
func (t *Thread) Sleep(ticks uint32) error {
	if ticks == 0 {
		return nil
	}
	s := t.sched
	if err := t.Suspend(); err != nil {
		return err
	}
	s.clock.Start(t.timer, uint64(ticks))
	s.Schedule()
	t.Error = nil
	return nil
}

// Delay is an alias for Sleep, matching spec.md §6's thread API listing
// both names.
func (t *Thread) Delay(ticks uint32) error {
	return t.Sleep(ticks)
}

// Detach unregisters t from the object registry. For a static thread this
// is the whole of teardown; a dynamic thread instead goes through Delete
// + the defunct-list reaper (Scheduler.Reap).
func (t *Thread) Detach() error {
	t.Object.Detach()
	t.sched.unregisterThread(t)
	return nil
}

// Delete tears down a dynamic thread: if it is the currently running
// thread, deletion happens naturally when it returns from its entry
// function (exit enqueues dynamic threads on the defunct list). If it is
// blocked or suspended, Delete closes it immediately via the same close
// path CtrlClose uses.
func (t *Thread) Delete() error {
	if !t.dynamic {
		return kerr.ErrGeneral
	}
	if t == t.sched.Self() {
		// the running thread cannot delete itself synchronously; it must
		// return from its entry function, which drives exit() below.
		return kerr.ErrGeneral
	}
	return t.sched.closeThread(t)
}

// Control implements spec.md §6's rt_thread_control: CHANGE_PRIORITY,
// STARTUP, CLOSE.
func (t *Thread) Control(cmd Command, arg any) error {
	switch cmd {
	case CtrlChangePriority:
		p, ok := arg.(uint8)
		if !ok {
			return kerr.ErrGeneral
		}
		t.sched.ChangePriority(t, p)
		return nil
	case CtrlStartup:
		return t.Startup()
	case CtrlClose:
		return t.sched.closeThread(t)
	default:
		return kerr.ErrGeneral
	}
}

// onTimeout is the per-thread timer's callback (thread_timeout in
// spec.md §4.3), invoked by the clock wheel when a bounded wait expires.
// It runs inside Advance's ISR dispatch, so the Schedule() call at the
// end is deferred until the outermost tick "interrupt" returns (see
// Scheduler.Schedule and Scheduler.CheckPreempt).
func (t *Thread) onTimeout() {
	s := t.sched
	m := s.gate.Disable()
	t.Error = kerr.ErrTimeout
	if t.waitingOn != nil {
		t.waitingOn.RemoveWaiter(t)
		t.waitingOn = nil
	}
	if t.State == StateSuspend {
		t.State = StateReady
		s.insertReadyLocked(t)
	}
	s.gate.Enable(m)
	s.Schedule()
}

// exit runs when t's entry function returns (the hw.Context onExit
// trampoline — the Go analogue of rt_thread_exit, which spec.md §9 notes
// is seeded as the initial stack's return address so a thread function
// returning falls straight into kernel cleanup).
func (t *Thread) exit() {
	s := t.sched
	m := s.gate.Disable()
	if t.State == StateReady {
		s.removeReadyLocked(t)
	}
	t.State = StateClose
	s.clock.Cancel(t.timer)
	next := s.pickLocked()
	s.current = next
	s.gate.Enable(m)
	if next == s.idle {
		s.notifyIdle()
	}

	if t.dynamic {
		s.pushDefunct(t)
	} else {
		_ = t.Detach()
	}
	hw.ExitTo(next.ctx)
}

// SetWaiting records that t is suspended on w, so Resume/onTimeout can
// detach it generically. Called by kernel/ipc.Base.Suspend.
func (t *Thread) SetWaiting(w Waitable) {
	t.waitingOn = w
}

// WaitingOn returns whatever Waitable t is currently suspended on, or
// nil. kernel/mutex type-asserts this back to *mutex.Mutex to walk a
// chain of mutexes owned-and-blocked-on by the same thread when
// propagating priority inheritance (spec.md §4.6: "chainable across
// mutexes owned by the same thread").
func (t *Thread) WaitingOn() Waitable {
	return t.waitingOn
}

// Timer exposes t's per-thread one-shot timer to kernel/ipc, which arms
// it for bounded waits.
func (t *Thread) Timer() *clock.Timer {
	return t.timer
}

// ScheduleNode exposes t's intrusive node to kernel/ipc's wait queues.
func (t *Thread) ScheduleNode() *list.Node[*Thread] {
	return &t.scheduleNode
}
