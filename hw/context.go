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

// Package hw is the hardware boundary spec.md §1 and §6 name as external
// collaborators: hw_interrupt_disable/enable (kernel/irq.Gate instead),
// hw_stack_init, hw_context_switch, and hw_context_switch_to. There is no
// real stack or register file to manipulate in a Go program, so Context
// is backed by a parked goroutine: Resume/Park are the Go equivalents of
// swapping two stack pointers, and Switch/SwitchTo/ExitTo are the Go
// equivalents of the three hw_context_switch* entry points. Everything
// above this package — scheduling decisions, ready queues, priority
// inheritance — is real kernel logic; this package only supplies the
// mechanism for "make the CPU run a different instruction stream".
package hw

// Context is the Go stand-in for a thread's saved execution state (a
// stack pointer, in the source kernel).
type Context struct {
	baton chan struct{}
}

// NewContext creates a Context whose goroutine runs entry(arg) once first
// resumed. onExit is invoked once entry returns and is expected to switch
// execution elsewhere (via ExitTo) before returning itself — the Go
// analogue of the exit trampoline hw_stack_init plants on a thread's
// initial stack, so a thread function returning falls straight into
// kernel cleanup instead of crashing into whatever is above it on the
// stack.
func NewContext(entry func(arg any), arg any, onExit func()) *Context {
	c := &Context{baton: make(chan struct{})}
	go func() {
		<-c.baton
		entry(arg)
		onExit()
	}()
	return c
}

// Resume hands the CPU to this context.
func (c *Context) Resume() {
	c.baton <- struct{}{}
}

// Park surrenders the CPU, blocking the calling goroutine until the next
// Resume.
func (c *Context) Park() {
	<-c.baton
}

// Switch hands off from the currently running context to "to", then
// blocks until "from" is itself resumed again — the Go equivalent of
// hw_context_switch(&from->sp, &to->sp).
func Switch(from, to *Context) {
	to.Resume()
	from.Park()
}

// SwitchTo performs the initial jump into "to" with no prior running
// context to park — the Go equivalent of hw_context_switch_to(&to->sp),
// used once at scheduler startup.
func SwitchTo(to *Context) {
	to.Resume()
}

// ExitTo hands off to "to" without parking the caller, for use from a
// context that is terminating (spec.md's rt_thread_exit never returns to
// its own stack on real hardware; here the finishing goroutine simply
// returns after handing off, rather than parking forever).
func ExitTo(to *Context) {
	to.Resume()
}
