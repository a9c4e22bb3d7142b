// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package sysvipc wraps the handful of System V IPC primitives this runtime
// needs: shared memory segments (shmget/shmat/shmdt) for the command/status
// and fuzz-input channels, and semaphore sets (semget/semop) for the
// counting semaphores the shared-memory IPC backend posts/waits on from
// ordinary goroutines and from signal-delivery goroutines alike.
//
// golang.org/x/sys/unix does not wrap semop, so both families are driven
// through unix.Syscall with the documented syscall numbers, the same way
// pkg/osutil/sharedmem_memfd.go in the teacher drives memfd_create + mmap
// directly rather than through a higher-level wrapper.
package sysvipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ipcCreat  = 0o1000
	ipcExcl   = 0o2000
	ipcRmid   = 0
	ipcPrivat = 0
)

// AttachShm attaches an existing System V shared-memory segment identified
// by id, as created by the fuzzer before launching the target. The caller
// supplies the expected size: the wire protocol fixes the size of both the
// command/status IPC segment and (by convention of the attaching side) the
// fuzz-input segment, so there is no need to round-trip through shmctl
// IPC_STAT to discover it.
func AttachShm(id int, size int) ([]byte, error) {
	addr, _, errno := unix.Syscall(unix.SYS_SHMAT, uintptr(id), 0, 0)
	if errno != 0 {
		return nil, fmt.Errorf("shmat(%d): %w", id, errno)
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

// CreateShm allocates a brand-new System V shared-memory segment of the
// given size, used only in tests (internal/fuzzsim and
// internal/ipc.CreateShmSegment) to play the role a real fuzzer plays when it sets up __FORKSERVER_SHM /
// __FUZZ_INPUT_SHM before exec'ing the target.
func CreateShm(size int) (id int, mem []byte, err error) {
	r1, _, errno := unix.Syscall(unix.SYS_SHMGET, uintptr(ipcPrivat), uintptr(size), uintptr(0o600|ipcCreat|ipcExcl))
	if errno != 0 {
		return 0, nil, fmt.Errorf("shmget: %w", errno)
	}
	id = int(r1)
	mem, err = AttachShm(id, size)
	if err != nil {
		RemoveShm(id)
		return 0, nil, err
	}
	return id, mem, nil
}

// DetachShm detaches a previously attached segment without destroying it.
func DetachShm(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_SHMDT, uintptr(unsafe.Pointer(&mem[0])), 0, 0)
	if errno != 0 {
		return fmt.Errorf("shmdt: %w", errno)
	}
	return nil
}

// RemoveShm marks a segment for destruction once the last process detaches.
func RemoveShm(id int) error {
	_, _, errno := unix.Syscall(unix.SYS_SHMCTL, uintptr(id), uintptr(ipcRmid), 0)
	if errno != 0 {
		return fmt.Errorf("shmctl(IPC_RMID): %w", errno)
	}
	return nil
}
