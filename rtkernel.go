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

// Package rtkernel is the root façade: it bundles one scheduler, one
// clock wheel, and one object registry into a single Kernel and exposes
// constructors for threads and every IPC primitive pre-wired to them —
// the explicit counterpart of the source kernel's implicit global state
// (current_thread, ready[], the timer list).
//
// A package-level Default kernel is also provided, mirroring
// concurrency/gopool's defaultGoPool; there are no package-level
// wrapper functions around it. Nothing here forces a singleton on
// callers that want several kernels (e.g. kernel/scenarios_test.go and
// cmd/rtsim build their own per scenario to keep scenarios independent).
package rtkernel

import (
	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/event"
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/mailbox"
	"github.com/saeedhadi/rtkernel/kernel/mqueue"
	"github.com/saeedhadi/rtkernel/kernel/mutex"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/sem"
	"github.com/saeedhadi/rtkernel/kernel/thread"
)

// Kernel bundles the shared scheduler, clock, and object registry that
// every thread and IPC object in one simulated system must share.
type Kernel struct {
	gate      irq.Gate
	clock     *clock.Wheel
	registry  *object.Registry
	scheduler *thread.Scheduler
}

// New builds a Kernel with priMax priority levels (0 is most urgent,
// priMax-1 is reserved for the auto-created idle thread).
func New(priMax int) *Kernel {
	k := &Kernel{}
	k.registry = object.NewRegistry()
	k.clock = clock.NewWheel(&k.gate)
	k.scheduler = thread.NewScheduler(&k.gate, k.clock, k.registry, priMax)
	return k
}

// Scheduler returns the kernel's scheduler, for callers that need direct
// access to Start/Advance/WaitIdle/Self/Find.
func (k *Kernel) Scheduler() *thread.Scheduler { return k.scheduler }

// Clock returns the kernel's tick wheel.
func (k *Kernel) Clock() *clock.Wheel { return k.clock }

// Registry returns the kernel's object registry.
func (k *Kernel) Registry() *object.Registry { return k.registry }

// NewThread creates a dynamically-owned thread on this kernel, per
// kernel/thread.New.
func (k *Kernel) NewThread(name string, entry func(arg any), arg any, priority uint8, tick uint32) (*thread.Thread, error) {
	return thread.New(k.scheduler, name, entry, arg, priority, tick)
}

// NewSemaphore creates a dynamically-owned counting semaphore.
func (k *Kernel) NewSemaphore(name string, value int32, flag object.Flag) *sem.Semaphore {
	return sem.New(k.scheduler, name, value, flag)
}

// NewMutex creates a dynamically-owned priority-inheriting mutex.
func (k *Kernel) NewMutex(name string) *mutex.Mutex {
	return mutex.New(k.scheduler, name)
}

// NewEvent creates a dynamically-owned event flag group.
func (k *Kernel) NewEvent(name string, flag object.Flag) *event.Event {
	return event.New(k.scheduler, name, flag)
}

// NewMailbox creates a dynamically-owned mailbox of the given capacity.
func (k *Kernel) NewMailbox(name string, size int, flag object.Flag) *mailbox.Mailbox {
	return mailbox.New(k.scheduler, name, size, flag)
}

// NewMessageQueue creates a dynamically-owned message queue with the
// given per-message size and slot capacity.
func (k *Kernel) NewMessageQueue(name string, msgSize, capacity int, flag object.Flag) *mqueue.MessageQueue {
	return mqueue.New(k.scheduler, name, msgSize, capacity, flag)
}

// Start begins executing the most urgent ready thread. Must be called
// exactly once, after every thread the boot sequence needs has been
// created and started (kernel/thread.Thread.Startup).
func (k *Kernel) Start() { k.scheduler.Start() }

// Advance ticks the kernel's clock wheel by n ticks, firing any timers
// whose deadline falls within that span and checking for a round-robin
// preemption, per kernel/thread.Scheduler.Advance.
func (k *Kernel) Advance(n uint64) { k.scheduler.Advance(n) }

// WaitIdle blocks the calling (non-kernel) goroutine until the kernel's
// idle thread next becomes current, the deterministic rendezvous point a
// driver uses to observe that a round of kernel-thread activity has
// settled.
func (k *Kernel) WaitIdle() { k.scheduler.WaitIdle() }

var defaultKernel = New(32)

// Default returns the package-level default Kernel, created with 32
// priority levels, for callers that need only one kernel instance.
func Default() *Kernel { return defaultKernel }
