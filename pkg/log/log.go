// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package log is the core's leveled logging surface. It mirrors the
// teacher's Logf/Fatalf idiom (level-gated structured logs, no logging
// backend baked in) rather than pulling in a full logging framework: a
// headless fuzzing campaign's "UI" in verbose mode is exactly this log
// stream.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

var verbosity int32

// SetVerbose sets the minimum level that will be printed. The CLI's
// top-level -verbose flag maps directly onto this: 0 is the default
// (only level-0 "always show" messages), higher values surface
// progressively more detail.
func SetVerbose(level int) {
	atomic.StoreInt32(&verbosity, int32(level))
}

// Logf prints msg if level is at or below the configured verbosity.
// Level 0 is reserved for messages an operator always wants to see
// (connected, crash captured, reset run); higher levels are debug detail.
func Logf(level int, msg string, args ...interface{}) {
	if int32(level) > atomic.LoadInt32(&verbosity) {
		return
	}
	fmt.Fprintf(os.Stderr, "%s "+msg+"\n", append([]interface{}{timestamp()}, args...)...)
}

// Fatalf prints msg unconditionally and exits the process. Reserved for
// errors the core treats as fatal: reset-handler failure, unrecoverable
// initialization errors.
func Fatalf(msg string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s FATAL: "+msg+"\n", append([]interface{}{timestamp()}, args...)...)
	os.Exit(1)
}

func timestamp() string {
	return time.Now().Format("2006/01/02 15:04:05")
}
