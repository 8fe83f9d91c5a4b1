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

package mutex

import (
	"testing"

	"github.com/saeedhadi/rtkernel/kernel/clock"
	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
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

// TestRecursiveHold exercises recursive acquisition by the same owner:
// Hold must count up and back down without releasing the mutex early.
func TestRecursiveHold(t *testing.T) {
	s := newKernel(t)
	mu := New(s, "m0")

	main, err := thread.New(s, "main", func(any) {}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, main.Startup())

	require.NoError(t, mu.Take(main, -1))
	require.NoError(t, mu.Take(main, -1))
	assert.Equal(t, 2, mu.Hold)
	assert.Same(t, main, mu.Owner)

	require.NoError(t, mu.Release(main))
	assert.Same(t, main, mu.Owner, "still held once more")
	assert.Equal(t, 1, mu.Hold)

	require.NoError(t, mu.Release(main))
	assert.Nil(t, mu.Owner)
	assert.Equal(t, int32(1), mu.Value)
}

// TestReleaseByNonOwner confirms a thread that never took the mutex
// cannot release it.
func TestReleaseByNonOwner(t *testing.T) {
	s := newKernel(t)
	mu := New(s, "m0")

	owner, err := thread.New(s, "owner", func(any) {}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, owner.Startup())
	bystander, err := thread.New(s, "bystander", func(any) {}, nil, 6, 10)
	require.NoError(t, err)
	require.NoError(t, bystander.Startup())

	require.NoError(t, mu.Take(owner, -1))
	err = mu.Release(bystander)
	assert.ErrorIs(t, err, kerr.ErrGeneral)
}

// TestPriorityInheritance is Scenario A from spec.md §8: L (priority 10)
// holds the mutex and is doing unrelated work (asleep). M (priority 5)
// runs and finishes while L still holds the lock, observing L's
// priority unchanged. H (priority 1) then blocks on the mutex, which
// must raise L's current priority to 1; releasing restores L to 10 and
// hands the mutex straight to H.
func TestPriorityInheritance(t *testing.T) {
	s := newKernel(t)
	mu := New(s, "m0")

	var lPriorityBeforeH, lPriorityAtRelease uint8
	var hErr error

	low, err := thread.New(s, "L", func(any) {
		self := s.Self()
		require.NoError(t, mu.Take(self, -1))
		self.Sleep(100)
		require.NoError(t, mu.Release(self))
		lPriorityAtRelease = self.CurrentPriority
	}, nil, 10, 10)
	require.NoError(t, err)
	require.NoError(t, low.Startup())

	s.Start()
	s.WaitIdle()
	assert.Same(t, low, mu.Owner)
	assert.Equal(t, uint8(10), low.CurrentPriority)

	mid, err := thread.New(s, "M", func(any) {}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, mid.Startup())
	s.WaitIdle()

	lPriorityBeforeH = low.CurrentPriority
	assert.Equal(t, uint8(10), lPriorityBeforeH, "M running and finishing must not disturb L")

	high, err := thread.New(s, "H", func(any) {
		hErr = mu.Take(s.Self(), -1)
	}, nil, 1, 10)
	require.NoError(t, err)
	require.NoError(t, high.Startup())
	s.WaitIdle()

	assert.Equal(t, uint8(1), low.CurrentPriority, "L must inherit H's priority while H waits")
	assert.Equal(t, 1, mu.Len())

	s.Advance(100)
	s.WaitIdle()

	require.NoError(t, hErr)
	assert.Same(t, high, mu.Owner)
	assert.Equal(t, uint8(10), lPriorityAtRelease, "L must have been restored before releasing")
	assert.Equal(t, uint8(10), low.CurrentPriority, "L stays restored after handing off")
}

// TestTimedWaitOnMutex confirms a bounded Take on an already-held mutex
// expires with ErrTimeout and does not disturb the owner.
func TestTimedWaitOnMutex(t *testing.T) {
	s := newKernel(t)
	mu := New(s, "m0")

	owner, err := thread.New(s, "owner", func(any) {
		self := s.Self()
		require.NoError(t, mu.Take(self, -1))
		self.Sleep(100)
	}, nil, 5, 10)
	require.NoError(t, err)

	var waitErr error
	waiter, err := thread.New(s, "waiter", func(any) {
		waitErr = mu.Take(s.Self(), 10)
	}, nil, 6, 10)
	require.NoError(t, err)

	require.NoError(t, owner.Startup())
	require.NoError(t, waiter.Startup())

	s.Start()
	s.WaitIdle()
	assert.Equal(t, 1, mu.Len())

	s.Advance(10)
	s.WaitIdle()

	assert.ErrorIs(t, waitErr, kerr.ErrTimeout)
	assert.Same(t, owner, mu.Owner)
	assert.Equal(t, 0, mu.Len())
}
