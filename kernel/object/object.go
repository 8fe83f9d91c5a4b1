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

// Package object implements the kernel object registry: every schedulable
// or wait-target entity (thread, timer, semaphore, mutex, event, mailbox,
// message queue) registers under a name and a class tag so it can be
// looked up later (kernel/thread.Find) and enumerated for diagnostics.
//
// The teacher's container/strmap is a read-only, build-once-query-many
// table — unsuitable here, since kernel objects are registered and
// unregistered continuously over the kernel's lifetime. We keep strmap's
// idea (name -> tagged value) but back it with a mutex-guarded map, which
// is the correct trade-off for a table that mutates on every thread/IPC
// object create and delete.
package object

import "sync"

// Class tags the kind of kernel object, mirroring the rt-thread object
// class enumeration.
type Class byte

const (
	ClassNone Class = iota
	ClassThread
	ClassTimer
	ClassSemaphore
	ClassMutex
	ClassEvent
	ClassMailBox
	ClassMessageQueue
)

func (c Class) String() string {
	switch c {
	case ClassThread:
		return "thread"
	case ClassTimer:
		return "timer"
	case ClassSemaphore:
		return "semaphore"
	case ClassMutex:
		return "mutex"
	case ClassEvent:
		return "event"
	case ClassMailBox:
		return "mailbox"
	case ClassMessageQueue:
		return "msgqueue"
	default:
		return "none"
	}
}

// MaxNameLen is RT_NAME_MAX from the source kernel. Object.Init does not
// enforce it: names of any length are stored and registered unchanged.
const MaxNameLen = 8

// Flag bit 0 selects the wait-queue ordering used by any IPC object that
// embeds this header.
type Flag byte

const (
	FlagFIFO     Flag = 0
	FlagPriority Flag = 1
)

// Object is the header every kernel object carries: a stable name, a class
// tag, and the flag that (for IPC objects) selects wait-queue ordering.
type Object struct {
	Name  string
	Class Class
	Flag  Flag

	registry *Registry
}

// Init fills in the object header and, if reg is non-nil, registers it.
// Passing a nil registry is valid for purely local/test objects that never
// need Find.
func (o *Object) Init(reg *Registry, name string, class Class, flag Flag) {
	o.Name = name
	o.Class = class
	o.Flag = flag
	o.registry = nil
	if reg != nil {
		reg.register(o)
		o.registry = reg
	}
}

// Detach removes the object from its registry, if any. Safe to call more
// than once.
func (o *Object) Detach() {
	if o.registry != nil {
		o.registry.unregister(o)
		o.registry = nil
	}
}

// Registry is a live, name-keyed table of kernel objects, guarded by a
// mutex because registration/unregistration happens continuously as
// threads and IPC objects come and go (unlike strmap's build-once table).
type Registry struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{objects: make(map[string]*Object)}
}

func (r *Registry) register(o *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[o.Name] = o
}

func (r *Registry) unregister(o *Object) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.objects[o.Name]; ok && cur == o {
		delete(r.objects, o.Name)
	}
}

// Find looks up an object by name, optionally restricted to class. It
// returns nil if no such object is registered.
func (r *Registry) Find(name string, class Class) *Object {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.objects[name]
	if !ok {
		return nil
	}
	if class != ClassNone && o.Class != class {
		return nil
	}
	return o
}

// Len returns the number of currently-registered objects.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.objects)
}

// Each calls f for every registered object. f must not register or
// unregister objects on r.
func (r *Registry) Each(f func(*Object)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.objects {
		f(o)
	}
}
