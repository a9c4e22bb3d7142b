// Copyright 2022 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package testutil holds small helpers shared across the module's test
// files: iteration counts scaled for -short and -race runs, a seeded RNG
// for reproducible fuzz-like tests, and random input generation for the
// fuzzinput consume tests.
package testutil

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

func IterCount() int {
	iters := 1000
	if testing.Short() {
		iters /= 10
	}
	if RaceEnabled {
		iters /= 10
	}
	return iters
}

func RandSource(t *testing.T) rand.Source {
	seed := time.Now().UnixNano()
	if fixed := os.Getenv("SYZ_SEED"); fixed != "" {
		seed, _ = strconv.ParseInt(fixed, 0, 64)
	}
	if os.Getenv("CI") != "" {
		seed = 0 // required for deterministic coverage reports
	}
	t.Logf("seed=%v", seed)
	return rand.NewSource(seed)
}

// RandInput generates a random byte slice suitable for exercising the
// fuzz-input region (length-prefixed buffer, Consume cursor), capped well
// under the 1MB declared input ceiling.
func RandInput(r *rand.Rand) []byte {
	const maxLen = 1 << 16 // 64 KB.
	slice := make([]byte, r.Intn(maxLen))
	r.Read(slice)
	return slice
}
