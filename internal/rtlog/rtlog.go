// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package rtlog provides the runtime's panic reporter, monotonic duration
// helper and verbosity-gated diagnostic logger. It plays the role the
// original C runtime's utils.c/utils.h pair play: every other package in
// this module panics through here rather than handling fatal runtime
// errors itself.
package rtlog

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Source tags a panic or log line by the subsystem that raised it, mirroring
// the original runtime's ErrorSource enum.
type Source string

const (
	SourceForkserver Source = "Forkserver"
	SourcePersistent Source = "Persistent mode"
	SourceFuzzInput  Source = "Fuzz input"
	SourceIPC        Source = "IPC"
)

var (
	debugLevel     int
	debugLevelOnce sync.Once
)

func level() int {
	debugLevelOnce.Do(func() {
		v := os.Getenv("CHEETAH_DEBUG")
		if v == "" {
			return
		}
		fmt.Sscanf(v, "%d", &debugLevel)
	})
	return debugLevel
}

// Logf prints a diagnostic line to stderr when CHEETAH_DEBUG names a level
// at or above the given level. Mirrors the teacher's log.Logf(level, ...)
// convention (syz-fuzzer/proc.go, syz-fuzzer/control.go).
func Logf(lvl int, format string, args ...any) {
	if level() < lvl {
		return
	}
	fmt.Fprintf(os.Stderr, "cheetah: "+format+"\n", args...)
}

// cleanupFunc is registered by ipc/fuzzinput at init time so Panic can make
// a best-effort attempt to release shared resources before terminating,
// matching utils.c's panic() calling ipc_cleanup()/fuzz_input_cleanup().
type cleanupFunc func()

var (
	cleanupMu    sync.Mutex
	cleanupHooks []cleanupFunc
)

// RegisterCleanup adds a best-effort cleanup hook run by Panic before the
// process terminates.
func RegisterCleanup(f cleanupFunc) {
	cleanupMu.Lock()
	defer cleanupMu.Unlock()
	cleanupHooks = append(cleanupHooks, f)
}

// Panic reports a fatal runtime failure in the format
// "<source> runtime failure: <message> (errno=\"<err>\")", flushes stderr,
// best-effort releases IPC/input resources, then terminates the process.
// It never returns.
func Panic(source Source, err error) {
	msg := fmt.Sprintf("%s runtime failure: %s (errno=%q)", source, err.Error(), errnoString(err))
	os.Stderr.Write(Truncate([]byte(msg), maxPanicMessage, 0))
	os.Stderr.Write([]byte("\n"))
	os.Stderr.Sync()

	cleanupMu.Lock()
	hooks := append([]cleanupFunc(nil), cleanupHooks...)
	cleanupMu.Unlock()
	for _, h := range hooks {
		func() {
			defer func() { recover() }()
			h()
		}()
	}

	os.Exit(2)
}

func errnoString(err error) string {
	if err == nil {
		return "success"
	}
	return err.Error()
}

// DurationMS returns the elapsed time between start and end in whole
// milliseconds, saturating at 0 for negative deltas (the original's
// duration_ms operates on unsigned time_t and cannot go negative either).
func DurationMS(start, end time.Time) uint64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}
