// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package fuzzinput

import (
	"fmt"
	"io"
	"os"

	"github.com/z2-2z/cheetah/pkg/osutil"
)

// readStdinFallback reads all of standard input once into a memfd-backed
// mapping that mimics the shared-memory layout (a 4-byte length header
// followed by data), growing by one page at a time via osutil's
// ftruncate+mremap pair. Used for a one-shot, stdin-driven run when no
// fuzzer is attached (e.g. crash reproduction).
func readStdinFallback() (*region, error) {
	pageSize := os.Getpagesize()
	f, mem, err := osutil.CreateMemMappedFile(pageSize)
	if err != nil {
		return nil, fmt.Errorf("fuzzinput: %w", err)
	}

	total := 0
	for {
		if total+headerSize >= len(mem) {
			grown, err := growMapping(f, mem)
			if err != nil {
				osutil.CloseMemMappedFile(f, mem)
				return nil, err
			}
			mem = grown
		}

		n, err := io.ReadFull(os.Stdin, mem[headerSize+total:])
		total += n
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			break
		}
		if err != nil {
			osutil.CloseMemMappedFile(f, mem)
			return nil, fmt.Errorf("fuzzinput: read stdin: %w", err)
		}
		// Filled the remainder of the current mapping without hitting EOF;
		// grow and keep reading.
		grown, err := growMapping(f, mem)
		if err != nil {
			osutil.CloseMemMappedFile(f, mem)
			return nil, err
		}
		mem = grown
	}

	mem[0] = byte(total)
	mem[1] = byte(total >> 8)
	mem[2] = byte(total >> 16)
	mem[3] = byte(total >> 24)

	return &region{
		mem:      mem,
		file:     f,
		capacity: len(mem),
		maxLen:   0,
		private:  true,
	}, nil
}

func growMapping(f *os.File, mem []byte) ([]byte, error) {
	newLen := len(mem) + os.Getpagesize()
	grown, err := osutil.GrowMemMappedFile(f, mem, newLen)
	if err != nil {
		return nil, fmt.Errorf("fuzzinput: %w", err)
	}
	return grown, nil
}

func unmapPrivate(r *region) {
	if r.mem != nil && r.file != nil {
		osutil.CloseMemMappedFile(r.file, r.mem)
	}
}
