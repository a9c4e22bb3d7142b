// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package procfork

import (
	"golang.org/x/sys/unix"
)

// rawFork issues fork(2) directly rather than going through os/exec or
// syscall.ForkExec, since the child must resume execution past the Go
// runtime's entry point in the same address space instead of exec'ing a new
// image. RawSyscall (not Syscall) is used deliberately: it does not run the
// pre/post-syscall runtime hooks that assume a live scheduler, which the
// child does not have until fork returns.
func rawFork() (pid int, err error) {
	r1, _, errno := unix.RawSyscall(unix.SYS_FORK, 0, 0, 0)
	if errno != 0 {
		return 0, errno
	}
	return int(r1), nil
}

func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	// Sigset_t on linux/amd64 and linux/arm64 is a [16]uint64 bitmask; bit
	// (sig-1) selects the signal, matching sigaddset's layout.
	word := (sig - 1) / 64
	bit := uint((sig - 1) % 64)
	set.Val[word] |= 1 << bit
}
