// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package sysvipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sembuf mirrors struct sembuf from <sys/sem.h>, used as the single
// argument to semop(2) for both Post (sem_op=+1) and Wait (sem_op=-1).
type sembuf struct {
	semnum uint16
	semop  int16
	semflg int16
}

const setvalCmd = 16 // SETVAL, from <sys/sem.h>

// semctlArg is the fourth argument to semctl(2) when cmd is SETVAL; on
// Linux this is a union but passing a bare integer through the union slot
// works for SETVAL same as it does from C.
type semctlArg struct {
	val int
}

// CreateSemSet allocates a System V semaphore set with a single semaphore
// initialized to zero, the counting semaphore backing one direction of the
// shared-memory IPC channel (command or status).
func CreateSemSet() (id int, err error) {
	r1, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(ipcPrivat), 1, uintptr(0o600|ipcCreat|ipcExcl))
	if errno != 0 {
		return 0, fmt.Errorf("semget: %w", errno)
	}
	id = int(r1)
	if err := SetVal(id, 0); err != nil {
		RemoveSemSet(id)
		return 0, err
	}
	return id, nil
}

// SetVal sets the value of semaphore 0 in the set, used once at creation.
func SetVal(id int, val int) error {
	arg := semctlArg{val: val}
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, uintptr(setvalCmd), uintptr(arg.val), 0, 0)
	if errno != 0 {
		return fmt.Errorf("semctl(SETVAL): %w", errno)
	}
	return nil
}

// RemoveSemSet destroys a semaphore set created with CreateSemSet.
func RemoveSemSet(id int) error {
	const ipcRmidCmd = 0
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(id), 0, uintptr(ipcRmidCmd), 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("semctl(IPC_RMID): %w", errno)
	}
	return nil
}

// Post increments semaphore 0 by one (sem_post equivalent). It is safe to
// call from a goroutine handling a signal, the same way sem_post is safe to
// call from a C signal handler.
func Post(id int) error {
	return semop(id, +1)
}

// Wait decrements semaphore 0 by one, blocking until it is non-negative
// (sem_wait equivalent). EINTR is retried transparently.
func Wait(id int) error {
	return semop(id, -1)
}

func semop(id int, delta int16) error {
	ops := [1]sembuf{{semnum: 0, semop: delta, semflg: 0}}
	for {
		_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(id), uintptr(unsafe.Pointer(&ops[0])), 1)
		if errno == 0 {
			return nil
		}
		if errno == unix.EINTR {
			continue
		}
		return fmt.Errorf("semop: %w", errno)
	}
}
