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

// Package kernel_test exercises the full rtkernel.Kernel façade against
// the six scenarios named in spec.md §8, each built as its own Kernel so
// the scenarios stay independent of one another.
package kernel_test

import (
	"testing"

	"github.com/saeedhadi/rtkernel"
	"github.com/saeedhadi/rtkernel/kernel/event"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarioA_PriorityInheritance: a low priority thread holds a mutex;
// a high priority thread blocks on it and raises the owner to its own
// priority; releasing restores the owner's priority and hands the mutex
// to the waiter.
func TestScenarioA_PriorityInheritance(t *testing.T) {
	k := rtkernel.New(32)
	mu := k.NewMutex("mA")

	var hErr error
	low, err := k.NewThread("L", func(any) {
		self := k.Scheduler().Self()
		require.NoError(t, mu.Take(self, -1))
		self.Sleep(10)
		require.NoError(t, mu.Release(self))
	}, nil, 10, 10)
	require.NoError(t, err)
	require.NoError(t, low.Startup())

	k.Start()
	k.WaitIdle()
	assert.Equal(t, uint8(10), low.CurrentPriority)

	high, err := k.NewThread("H", func(any) {
		hErr = mu.Take(k.Scheduler().Self(), -1)
	}, nil, 1, 10)
	require.NoError(t, err)
	require.NoError(t, high.Startup())
	k.WaitIdle()

	assert.Equal(t, uint8(1), low.CurrentPriority, "L must be raised to H's priority while H waits")
	assert.Equal(t, 1, mu.Len())

	k.Advance(10)
	k.WaitIdle()

	require.NoError(t, hErr)
	assert.Equal(t, high, mu.Owner)
	assert.Equal(t, uint8(10), low.CurrentPriority, "L must be restored once it releases the mutex")
}

// TestScenarioB_TimedSemaphoreWait: a bounded Take on a semaphore that
// never posts expires with ErrTimeout and restores value/waiter_count.
func TestScenarioB_TimedSemaphoreWait(t *testing.T) {
	k := rtkernel.New(32)
	s := k.NewSemaphore("sB", 0, object.FlagFIFO)

	var takeErr error
	waiter, err := k.NewThread("waiter", func(any) {
		takeErr = s.Take(k.Scheduler().Self(), 50)
	}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, waiter.Startup())

	k.Start()
	k.WaitIdle()
	k.Advance(50)
	k.WaitIdle()

	assert.ErrorIs(t, takeErr, kerr.ErrTimeout)
	assert.Equal(t, int32(0), s.Value)
	assert.Equal(t, 0, s.Len())
}

// TestScenarioC_EventAndClear: a waiter asking for two bits with
// AND|CLEAR only wakes once both have arrived, and the matched bits are
// cleared from the group atomically with delivery.
func TestScenarioC_EventAndClear(t *testing.T) {
	k := rtkernel.New(32)
	ev := k.NewEvent("eC", object.FlagFIFO)

	var recvErr error
	var out uint32
	waiter, err := k.NewThread("waiter", func(any) {
		recvErr = ev.Recv(k.Scheduler().Self(), 0b0101, event.And|event.Clear, -1, &out)
	}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, waiter.Startup())

	k.Start()
	k.WaitIdle()

	sender, err := k.NewThread("sender", func(any) {
		ev.Send(0b0100)
		ev.Send(0b0001)
	}, nil, 6, 10)
	require.NoError(t, err)
	require.NoError(t, sender.Startup())
	k.WaitIdle()

	require.NoError(t, recvErr)
	assert.Equal(t, uint32(0b0101), out)
	assert.Equal(t, uint32(0), ev.Set)
}

// TestScenarioD_QueueFIFOAndUrgent: a message queue delivers FIFO sends
// in order, except an urgent send jumps straight to the head.
func TestScenarioD_QueueFIFOAndUrgent(t *testing.T) {
	k := rtkernel.New(32)
	q := k.NewMessageQueue("qD", 8, 4, object.FlagFIFO)

	require.NoError(t, q.Send([]byte("first")))
	require.NoError(t, q.Send([]byte("second")))
	require.NoError(t, q.Urgent([]byte("jumped")))

	main, err := k.NewThread("main", func(any) {}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, main.Startup())

	buf := make([]byte, 8)
	n, err := q.TryRecv(main, buf)
	require.NoError(t, err)
	assert.Equal(t, "jumped", string(buf[:n]))

	n, err = q.TryRecv(main, buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	n, err = q.TryRecv(main, buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]))
}

// TestScenarioE_RoundRobin: two equal-priority threads with a tick
// budget of 2 both get CPU time as ticks elapse, rather than one
// starving the other. Go cannot forcibly preempt a goroutine that never
// calls back into the scheduler, so both loops check in cooperatively
// via Scheduler.CheckPreempt and are bounded so the kernel can settle
// back to idle.
func TestScenarioE_RoundRobin(t *testing.T) {
	k := rtkernel.New(32)
	var countA, countB int

	a, err := k.NewThread("A", func(any) {
		for i := 0; i < 8; i++ {
			countA++
			k.Scheduler().CheckPreempt()
		}
	}, nil, 5, 2)
	require.NoError(t, err)
	b, err := k.NewThread("B", func(any) {
		for i := 0; i < 8; i++ {
			countB++
			k.Scheduler().CheckPreempt()
		}
	}, nil, 5, 2)
	require.NoError(t, err)
	require.NoError(t, a.Startup())
	require.NoError(t, b.Startup())

	k.Start()
	k.Advance(10)
	k.WaitIdle()

	assert.Greater(t, countA, 0)
	assert.Greater(t, countB, 0)
}

// TestScenarioF_MailboxFull: a mailbox at capacity rejects a further
// send with ErrFull instead of blocking the sender.
func TestScenarioF_MailboxFull(t *testing.T) {
	k := rtkernel.New(32)
	mb := k.NewMailbox("mbF", 2, object.FlagFIFO)

	require.NoError(t, mb.Send(1))
	require.NoError(t, mb.Send(2))
	err := mb.Send(3)
	assert.ErrorIs(t, err, kerr.ErrFull)
	assert.Equal(t, 2, mb.Entry())
}
