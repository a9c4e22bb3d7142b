// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzinput delivers the per-run fuzz input: a shared-memory
// segment attached from the fuzzer, or a one-shot read of standard input
// into a process-private anonymous region when no fuzzer is present.
// Grounded on original_source/input.c.
package fuzzinput

import (
	"os"
	"sync"

	"github.com/z2-2z/cheetah/internal/rtlog"
)

// region backs the attached input, regardless of which source supplied it.
// Layout: a 4-byte little-endian length header followed by the data bytes;
// Ptr/Len/Consume operate past the header.
type region struct {
	mem      []byte  // full mapping, header included
	file     *os.File // backing memfd, set only for the stdin fallback
	capacity int     // page-aligned size of mem, informational
	maxLen   int     // fuzzer-declared ceiling, 0 if unknown (stdin fallback)
	private  bool    // true only for the stdin-fallback anonymous mapping
	cursor   int
}

const headerSize = 4

var (
	initOnce sync.Once
	current  *region
)

func init() {
	rtlog.RegisterCleanup(Cleanup)
}

func ensureAttached() *region {
	initOnce.Do(func() {
		if shmID, ok := shmInputID(); ok {
			r, err := attachShm(shmID)
			if err != nil {
				rtlog.Panic(rtlog.SourceFuzzInput, err)
			}
			current = r
			return
		}
		r, err := readStdinFallback()
		if err != nil {
			rtlog.Panic(rtlog.SourceFuzzInput, err)
		}
		current = r
	})
	return current
}

func length(r *region) int {
	if len(r.mem) < headerSize {
		return 0
	}
	n := int(uint32(r.mem[0]) | uint32(r.mem[1])<<8 | uint32(r.mem[2])<<16 | uint32(r.mem[3])<<24)
	if n < 0 || n > len(r.mem)-headerSize {
		return 0
	}
	return n
}

// Ptr returns the current input's bytes. The fuzzer may have set Len bytes
// valid; the returned slice is exactly that length.
func Ptr() []byte {
	r := ensureAttached()
	n := length(r)
	return r.mem[headerSize : headerSize+n]
}

// Len returns the number of valid bytes in the current input.
func Len() int {
	return length(ensureAttached())
}

// MaxLen returns the maximum input length the fuzzer may supply, or 0 when
// unknown (the stdin fallback has no declared ceiling beyond capacity).
func MaxLen() int {
	return ensureAttached().maxLen
}

// Capacity returns the page-aligned byte size of the backing region,
// informational only.
func Capacity() int {
	return ensureAttached().capacity
}

// Consume advances the read cursor by min(n, remaining) and returns the
// slice of bytes skipped over and how many bytes were actually consumed.
// cursor = min(cursor+n, length), not cursor += n unconditionally: the
// original's cursor += length for an in-bounds n is a bug, not a feature.
func Consume(n int) (prefix []byte, consumed int) {
	r := ensureAttached()
	total := length(r)
	data := r.mem[headerSize : headerSize+total]

	if n < 0 {
		n = 0
	}
	start := r.cursor
	if start > total {
		start = total
	}
	end := start + n
	if end > total {
		end = total
	}
	r.cursor = end
	return data[start:end], end - start
}

// Cleanup releases the backing region, but only when it is the
// process-private standard-input fallback; shared segments attached from
// the fuzzer are left attached for throughput.
func Cleanup() {
	if current == nil || !current.private {
		return
	}
	unmapPrivate(current)
	current = nil
}
