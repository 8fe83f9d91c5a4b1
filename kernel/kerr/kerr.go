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

// Package kerr defines the kernel's error taxonomy (spec.md §7): EOK is
// represented by a nil error, and the remaining codes are sentinel
// values every IPC and thread operation returns directly rather than
// raising an exception.
package kerr

import "errors"

var (
	// ErrGeneral covers a precondition violation: wrong thread state for
	// the requested transition, wrong owner on a mutex release, an
	// oversized message, or an object torn down while a thread waited on
	// it.
	ErrGeneral = errors.New("rtkernel: operation not permitted in current state")

	// ErrTimeout is returned when a bounded wait's deadline passed before
	// the resource became available.
	ErrTimeout = errors.New("rtkernel: wait timed out")

	// ErrFull is the non-blocking capacity error on mailbox/message queue
	// send.
	ErrFull = errors.New("rtkernel: object full")

	// ErrEmpty is the non-blocking capacity error on mailbox/message
	// queue receive with no wait.
	ErrEmpty = errors.New("rtkernel: object empty")
)

// Code maps a kernel error (nil meaning EOK) to the legacy signed integer
// code spec.md's external interface describes, for callers that want the
// numeric form (tests, cmd/rtsim).
func Code(err error) int {
	switch err {
	case nil:
		return 0
	case ErrTimeout:
		return -3
	case ErrFull:
		return -5
	case ErrEmpty:
		return -6
	case ErrGeneral:
		return -1
	default:
		return -1
	}
}
