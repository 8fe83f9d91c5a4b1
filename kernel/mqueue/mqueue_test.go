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

package mqueue

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

// TestFIFOAndUrgent is Scenario D from spec.md §8: a normal send queues
// at the tail; an urgent send jumps the queue to the head.
func TestFIFOAndUrgent(t *testing.T) {
	s := newKernel(t)
	q := New(s, "q0", 8, 4, object.FlagFIFO)
	main, err := thread.New(s, "main", func(any) {}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, main.Startup())

	require.NoError(t, q.Send([]byte("first")))
	require.NoError(t, q.Send([]byte("second")))
	require.NoError(t, q.Urgent([]byte("jumped")))

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

	_, err = q.TryRecv(main, buf)
	assert.ErrorIs(t, err, kerr.ErrEmpty)
}

// TestSendOversized confirms a payload larger than msgSize is rejected
// with ErrGeneral rather than truncated.
func TestSendOversized(t *testing.T) {
	s := newKernel(t)
	q := New(s, "q0", 4, 2, object.FlagFIFO)
	err := q.Send([]byte("too long"))
	assert.ErrorIs(t, err, kerr.ErrGeneral)
	assert.Equal(t, 0, q.Entry())
}

// TestSendFull confirms send never blocks: once every slot is occupied,
// Send returns ErrFull immediately.
func TestSendFull(t *testing.T) {
	s := newKernel(t)
	q := New(s, "q0", 4, 1, object.FlagFIFO)
	require.NoError(t, q.Send([]byte("a")))
	err := q.Send([]byte("b"))
	assert.ErrorIs(t, err, kerr.ErrFull)
}

// TestRecvWakesOnSend has a waiter block on an empty queue, then a
// sender deliver a message that wakes it with the correct payload.
func TestRecvWakesOnSend(t *testing.T) {
	s := newKernel(t)
	q := New(s, "q0", 8, 2, object.FlagFIFO)

	var recvErr error
	var n int
	buf := make([]byte, 8)
	waiter, err := thread.New(s, "waiter", func(any) {
		n, recvErr = q.Recv(s.Self(), -1, buf)
	}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, waiter.Startup())

	s.Start()
	s.WaitIdle()
	assert.Equal(t, 1, q.Len())

	sender, err := thread.New(s, "sender", func(any) {
		require.NoError(t, q.Send([]byte("hi")))
	}, nil, 6, 10)
	require.NoError(t, err)
	require.NoError(t, sender.Startup())
	s.WaitIdle()

	require.NoError(t, recvErr)
	assert.Equal(t, "hi", string(buf[:n]))
	assert.Equal(t, 0, q.Len())
}

// TestRecvTimeout confirms a bounded Recv on a perpetually empty queue
// expires with ErrTimeout and restores waiter_count to 0.
func TestRecvTimeout(t *testing.T) {
	s := newKernel(t)
	q := New(s, "q0", 8, 2, object.FlagFIFO)

	var recvErr error
	buf := make([]byte, 8)
	waiter, err := thread.New(s, "waiter", func(any) {
		_, recvErr = q.Recv(s.Self(), 15, buf)
	}, nil, 5, 10)
	require.NoError(t, err)
	require.NoError(t, waiter.Startup())

	s.Start()
	s.WaitIdle()
	s.Advance(15)
	s.WaitIdle()

	assert.ErrorIs(t, recvErr, kerr.ErrTimeout)
	assert.Equal(t, 0, q.Len())
}
