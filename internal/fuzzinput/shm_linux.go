// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package fuzzinput

import (
	"fmt"
	"os"
	"strconv"

	"github.com/z2-2z/cheetah/internal/sysvipc"
)

const envFuzzInputSHM = "__FUZZ_INPUT_SHM"

// declaredInputMaxLen is the capacity the fuzzer and target agree on for
// the shared input segment. Unlike the command/status channel, the wire
// protocol does not carry this value explicitly; the fuzzer-side and
// target-side builds of a given harness are expected to share a build-time
// constant the way the original's INPUT_MAX_LEN macro does.
const declaredInputMaxLen = 1 << 20 // 1 MiB

func shmInputID() (int, bool) {
	v := os.Getenv(envFuzzInputSHM)
	if v == "" {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func attachShm(id int) (*region, error) {
	size := headerSize + declaredInputMaxLen
	mem, err := sysvipc.AttachShm(id, size)
	if err != nil {
		return nil, fmt.Errorf("fuzzinput: attach shared-memory segment %d: %w", id, err)
	}
	pageSize := os.Getpagesize()
	return &region{
		mem:      mem,
		capacity: (size + pageSize - 1) / pageSize * pageSize,
		maxLen:   declaredInputMaxLen,
		private:  false,
	}, nil
}
