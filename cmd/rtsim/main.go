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

// Command rtsim is a tiny driver that builds a rtkernel.Kernel and runs
// spec.md §8's scenarios A-F against it, printing a pass/fail line for
// each. It is not part of the kernel API — it exists to exercise the
// façade end-to-end the way a real embedded demo image would exercise a
// freshly ported kernel before trusting it.
package main

import (
	"fmt"
	"os"

	"github.com/saeedhadi/rtkernel"
	"github.com/saeedhadi/rtkernel/kernel/kerr"
	"github.com/saeedhadi/rtkernel/kernel/object"
)

type scenario struct {
	name string
	run  func() error
}

func main() {
	scenarios := []scenario{
		{"A priority inheritance", scenarioA},
		{"B timed semaphore wait", scenarioB},
		{"C event AND+CLEAR", scenarioC},
		{"D queue FIFO+urgent", scenarioD},
		{"E round robin", scenarioE},
		{"F mailbox full", scenarioF},
	}

	failed := 0
	for _, sc := range scenarios {
		if err := sc.run(); err != nil {
			fmt.Printf("FAIL %-28s %v\n", sc.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS %-28s\n", sc.name)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func require(cond bool, msg string) error {
	if !cond {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

// scenarioA: L(10) holds a mutex; H(1) blocks on it and raises L to 1;
// releasing restores L to 10 and hands the mutex to H.
func scenarioA() error {
	k := rtkernel.New(32)
	mu := k.NewMutex("mA")

	var hErr error
	low, err := k.NewThread("L", func(any) {
		self := k.Scheduler().Self()
		_ = mu.Take(self, -1)
		self.Sleep(10)
		_ = mu.Release(self)
	}, nil, 10, 10)
	if err != nil {
		return err
	}
	if err := low.Startup(); err != nil {
		return err
	}

	k.Start()
	k.WaitIdle()

	high, err := k.NewThread("H", func(any) {
		hErr = mu.Take(k.Scheduler().Self(), -1)
	}, nil, 1, 10)
	if err != nil {
		return err
	}
	if err := high.Startup(); err != nil {
		return err
	}
	k.WaitIdle()

	if err := require(low.CurrentPriority == 1, "L not raised while H waits"); err != nil {
		return err
	}

	k.Advance(10)
	k.WaitIdle()

	if hErr != nil {
		return hErr
	}
	return require(mu.Owner == high, "H did not acquire the mutex")
}

// scenarioB: a semaphore's bounded wait expires with ETIMEOUT and the
// value/waiter_count invariant is restored.
func scenarioB() error {
	k := rtkernel.New(32)
	s := k.NewSemaphore("sB", 0, object.FlagFIFO)

	var takeErr error
	waiter, err := k.NewThread("waiter", func(any) {
		takeErr = s.Take(k.Scheduler().Self(), 50)
	}, nil, 5, 10)
	if err != nil {
		return err
	}
	if err := waiter.Startup(); err != nil {
		return err
	}

	k.Start()
	k.WaitIdle()
	k.Advance(50)
	k.WaitIdle()

	if takeErr != kerr.ErrTimeout {
		return fmt.Errorf("expected ErrTimeout, got %v", takeErr)
	}
	return require(s.Value == 0 && s.Len() == 0, "value/waiter_count not restored")
}

// scenarioC: an AND|CLEAR waiter wakes only once its full mask is met,
// and the delivered mask matches what it asked for.
func scenarioC() error {
	k := rtkernel.New(32)
	ev := k.NewEvent("eC", object.FlagFIFO)

	var recvErr error
	var out uint32
	waiter, err := k.NewThread("waiter", func(any) {
		recvErr = ev.Recv(k.Scheduler().Self(), 0b0101, 1|4, -1, &out) // And=1, Clear=4
	}, nil, 5, 10)
	if err != nil {
		return err
	}
	if err := waiter.Startup(); err != nil {
		return err
	}

	k.Start()
	k.WaitIdle()

	sender, err := k.NewThread("sender", func(any) {
		ev.Send(0b0100)
		ev.Send(0b0001)
	}, nil, 6, 10)
	if err != nil {
		return err
	}
	if err := sender.Startup(); err != nil {
		return err
	}
	k.WaitIdle()

	if recvErr != nil {
		return recvErr
	}
	return require(out == 0b0101 && ev.Set == 0, "event mask/clear mismatch")
}

// scenarioD: a message queue delivers an urgent send ahead of FIFO sends.
func scenarioD() error {
	k := rtkernel.New(32)
	q := k.NewMessageQueue("qD", 8, 4, object.FlagFIFO)

	if err := q.Send([]byte("first")); err != nil {
		return err
	}
	if err := q.Urgent([]byte("jumped")); err != nil {
		return err
	}

	buf := make([]byte, 8)
	main, err := k.NewThread("main", func(any) {}, nil, 5, 10)
	if err != nil {
		return err
	}
	if err := main.Startup(); err != nil {
		return err
	}
	n, err := q.TryRecv(main, buf)
	if err != nil {
		return err
	}
	return require(string(buf[:n]) == "jumped", "urgent send did not jump the queue")
}

// scenarioE: two equal-priority threads with a tick budget of 2 share the
// CPU under the scheduler's round-robin rotation as 10 ticks elapse. Each
// loop iteration calls CheckPreempt at a cooperative check-in point, the
// Go-simulation substitute for genuine asynchronous preemption (see
// kernel/thread.Scheduler.CheckPreempt); a bounded iteration count keeps
// both threads from looping forever once the tick source goes quiet.
func scenarioE() error {
	k := rtkernel.New(32)
	var countA, countB int

	a, err := k.NewThread("A", func(any) {
		for i := 0; i < 8; i++ {
			countA++
			k.Scheduler().CheckPreempt()
		}
	}, nil, 5, 2)
	if err != nil {
		return err
	}
	b, err := k.NewThread("B", func(any) {
		for i := 0; i < 8; i++ {
			countB++
			k.Scheduler().CheckPreempt()
		}
	}, nil, 5, 2)
	if err != nil {
		return err
	}
	if err := a.Startup(); err != nil {
		return err
	}
	if err := b.Startup(); err != nil {
		return err
	}

	k.Start()
	k.Advance(10)
	k.WaitIdle()

	return require(countA > 0 && countB > 0, "round robin starved one thread entirely")
}

// scenarioF: a full mailbox rejects a send with ErrFull rather than
// blocking the sender.
func scenarioF() error {
	k := rtkernel.New(32)
	mb := k.NewMailbox("mbF", 2, object.FlagFIFO)

	if err := mb.Send(1); err != nil {
		return err
	}
	if err := mb.Send(2); err != nil {
		return err
	}
	err := mb.Send(3)
	if err != kerr.ErrFull {
		return fmt.Errorf("expected ErrFull, got %v", err)
	}
	return nil
}
