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

package clock

import (
	"testing"

	"github.com/saeedhadi/rtkernel/kernel/irq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartFiresAtDeadline(t *testing.T) {
	var gate irq.Gate
	w := NewWheel(&gate)
	fired := 0
	timer := &Timer{Callback: func(any) { fired++ }}

	w.Start(timer, 3)
	w.Advance(1)
	w.Advance(1)
	assert.Equal(t, 0, fired)
	w.Advance(1)
	assert.Equal(t, 1, fired)
	assert.False(t, timer.Active)
}

func TestCancelIsIdempotent(t *testing.T) {
	var gate irq.Gate
	w := NewWheel(&gate)
	fired := 0
	timer := &Timer{Callback: func(any) { fired++ }}

	w.Start(timer, 5)
	w.Cancel(timer)
	assert.NotPanics(t, func() { w.Cancel(timer) })

	w.Advance(10)
	assert.Equal(t, 0, fired)
}

func TestPeriodicTimerRearms(t *testing.T) {
	var gate irq.Gate
	w := NewWheel(&gate)
	fired := 0
	timer := &Timer{Period: 2, Callback: func(any) { fired++ }}
	w.Start(timer, 2)

	w.Advance(2)
	assert.Equal(t, 1, fired)
	w.Advance(2)
	assert.Equal(t, 2, fired)
}

func TestOrderingMultipleTimers(t *testing.T) {
	var gate irq.Gate
	w := NewWheel(&gate)
	var order []string
	a := &Timer{Callback: func(any) { order = append(order, "a") }}
	b := &Timer{Callback: func(any) { order = append(order, "b") }}

	w.Start(b, 5)
	w.Start(a, 2)

	w.Advance(2)
	require.Equal(t, []string{"a"}, order)
	w.Advance(3)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestRestartRepositions(t *testing.T) {
	var gate irq.Gate
	w := NewWheel(&gate)
	timer := &Timer{}
	w.Start(timer, 10)
	w.Start(timer, 2)
	assert.Equal(t, uint64(2), timer.Timeout)
}
