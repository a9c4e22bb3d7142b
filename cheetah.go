// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package cheetah is the target-side runtime of a coverage-guided fuzzing
// harness: link it into a program under test and call SpawnForkserver or
// SpawnPersistentLoop from the entry point the fuzzer drives. Both entry
// points are no-ops, returning control immediately, when the process was
// not launched under a fuzzer.
package cheetah

import (
	"github.com/z2-2z/cheetah/internal/forkserver"
	"github.com/z2-2z/cheetah/internal/fuzzinput"
	"github.com/z2-2z/cheetah/internal/persistent"
)

// SpawnForkserver starts fork-server mode. When a fuzzer is attached it
// never returns in the long-lived parent process; instead, each child
// forked per RUN command returns here to run a single fuzzed execution. It
// returns immediately, doing nothing, when called standalone (no fuzzer
// attached) or a second time in a process that already inherited
// started=true from its parent.
func SpawnForkserver() {
	forkserver.Spawn()
}

// SpawnPersistentLoop drives persistent mode. Call it in a loop:
//
//	for cheetah.SpawnPersistentLoop(iterations) {
//	    fuzzOnce(cheetah.FuzzInputPtr(), cheetah.FuzzInputLen())
//	}
//
// iterations bounds how many fuzzed executions a single forked child
// handles before the runtime re-forks a fresh child for isolation; it is
// only consulted on the first call. Returns false once the loop should end.
func SpawnPersistentLoop(iterations uint64) bool {
	return persistent.Spawn(iterations)
}

// FuzzInputPtr returns the bytes of the current fuzz input.
func FuzzInputPtr() []byte {
	return fuzzinput.Ptr()
}

// FuzzInputLen returns the number of valid bytes in the current fuzz input.
func FuzzInputLen() int {
	return fuzzinput.Len()
}

// FuzzInputMaxLen returns the maximum input length the fuzzer may supply,
// or 0 when unknown (standalone stdin runs have no declared ceiling).
func FuzzInputMaxLen() int {
	return fuzzinput.MaxLen()
}

// FuzzInputCapacity returns the page-aligned byte size of the backing
// region, informational only.
func FuzzInputCapacity() int {
	return fuzzinput.Capacity()
}

// FuzzInputConsume advances a cursor over the current fuzz input by
// min(n, remaining), returning the skipped-over bytes and how many bytes
// were actually consumed.
func FuzzInputConsume(n int) (prefix []byte, consumed int) {
	return fuzzinput.Consume(n)
}
