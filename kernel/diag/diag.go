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

// Package diag implements the kernel's diagnostic hook: a structured
// logger with a debug-level Trace helper, and the Assert/Fatal pair that
// stands in for the source's "invoke a diagnostic hook and halt" for
// unrecoverable conditions (null pointer, bad state transition). No other
// package in this module calls Trace, Assert or Fatal.
//
// The teacher logs with stdlib log in exactly one place
// (concurrency/gopool); the wider example pack standardizes on
// github.com/rs/zerolog for structured logging (see
// logiface-zerolog/zerolog.go), which is what this package wraps.
package diag

import (
	"os"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
	With().
	Timestamp().
	Logger().
	Level(zerolog.WarnLevel)

// SetLogger replaces the package-wide diagnostic logger, e.g. to silence
// it in tests or to route it to a structured sink in production.
func SetLogger(l zerolog.Logger) {
	logger = l
}

// Logger returns the current diagnostic logger.
func Logger() *zerolog.Logger {
	return &logger
}

// Trace logs a low-level scheduler/IPC event at debug level; disabled by
// default (the package logger's level defaults to warn).
func Trace(msg string, kv ...any) {
	event := logger.Debug()
	addFields(event, kv)
	event.Msg(msg)
}

// Assert halts the kernel (via panic, through zerolog's Panic level) if
// cond is false. This is the Go counterpart of the source's fatal-
// assertion path: callers that want the "halt" to be recoverable (e.g. a
// test asserting on a specific bad-state transition) can recover() the
// resulting panic, since Go offers no non-recoverable halt shy of
// os.Exit.
func Assert(cond bool, msg string, kv ...any) {
	if cond {
		return
	}
	event := logger.Panic()
	addFields(event, kv)
	event.Msg(msg)
}

// Fatal unconditionally halts the kernel, used for conditions the source
// treats as always-fatal (double free of a static object, operating on an
// object whose class tag doesn't match the expected one).
func Fatal(msg string, kv ...any) {
	event := logger.Panic()
	addFields(event, kv)
	event.Msg(msg)
}

// addFields interprets kv as alternating string-key/value pairs, the
// convention used by zerolog.Event.Fields.
func addFields(event *zerolog.Event, kv []any) {
	if len(kv) == 0 {
		return
	}
	fields := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		fields[key] = kv[i+1]
	}
	event.Fields(fields)
}
