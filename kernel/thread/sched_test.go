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

package thread_test

import (
	"testing"

	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/saeedhadi/rtkernel/kernel/thread"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKernel(t *testing.T) *thread.Scheduler {
	t.Helper()
	var gate irq.Gate
	reg := object.NewRegistry()
	clk := clock.NewWheel(&gate)
	return thread.NewScheduler(&gate, clk, reg, 32)
}

// TestStartRunsMostUrgent confirms Start jumps straight to the highest
// priority ready thread rather than idle, when one exists.
func TestStartRunsMostUrgent(t *testing.T) {
	s := newKernel(t)
	ran := make(chan struct{})
	th, err := thread.New(s, "th", func(any) { close(ran) }, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, th.Startup())

	s.Start()
	s.WaitIdle()
	select {
	case <-ran:
	default:
		t.Fatal("thread never ran")
	}
}

// TestRoundRobin is Scenario E from spec.md §8: two equal-priority
// threads with a tick budget of 2 must both get CPU time as 10 ticks
// elapse, rather than one starving the other. CheckPreempt is the
// cooperative check-in a busy thread calls to observe a tick-driven
// rotation request, since nothing in Go lets Advance forcibly suspend a
// goroutine that never calls back into the scheduler.
func TestRoundRobin(t *testing.T) {
	s := newKernel(t)
	var countA, countB int

	a, err := thread.New(s, "A", func(any) {
		for i := 0; i < 8; i++ {
			countA++
			s.CheckPreempt()
		}
	}, nil, 5, 2)
	require.NoError(t, err)
	b, err := thread.New(s, "B", func(any) {
		for i := 0; i < 8; i++ {
			countB++
			s.CheckPreempt()
		}
	}, nil, 5, 2)
	require.NoError(t, err)
	require.NoError(t, a.Startup())
	require.NoError(t, b.Startup())

	s.Start()
	s.Advance(10)
	s.WaitIdle()

	assert.Greater(t, countA, 0)
	assert.Greater(t, countB, 0)
}

// TestChangePriorityOfSuspendedThread confirms raising the priority of a
// thread that is suspended (asleep) updates its CurrentPriority right
// away, the case kernel/mutex hits when it raises a sleeping owner for
// priority inheritance.
func TestChangePriorityOfSuspendedThread(t *testing.T) {
	s := newKernel(t)
	blocker, err := thread.New(s, "blocker", func(any) {
		s.Self().Sleep(1000)
	}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, blocker.Startup())

	s.Start()
	s.WaitIdle()

	s.ChangePriority(blocker, 2)
	assert.Equal(t, uint8(2), blocker.CurrentPriority)
}
