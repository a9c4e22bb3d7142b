// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/z2-2z/cheetah/internal/sysvipc"
)

// Shared-memory segment layout. POSIX unnamed semaphores embedded directly
// in shared memory (the original's approach) have no safe no-cgo Go
// binding, so each direction's semaphore lives in its own System V
// semaphore set instead, with the set ids stored as a small header at the
// front of the segment. Whoever creates the segment (the fuzzer, or
// internal/fuzzsim standing in for one in tests) creates the two semaphore
// sets first and writes their ids into this header before handing the
// segment id to the target.
//
//	offset 0:  commandSemID int32
//	offset 4:  statusSemID  int32
//	offset 8:  lastOp       byte   (debug-only alternation tag)
//	offset 9:  pad          [3]byte
//	offset 12: command channel: messageSize uint32, buffer [maxMessage]byte
//	offset 12+4+maxMessage: status channel: messageSize uint32, buffer [maxMessage]byte
const (
	maxMessage = 64

	hdrSize        = 12
	chanHdrSize    = 4
	chanSize       = chanHdrSize + maxMessage
	commandChanOff = hdrSize
	statusChanOff  = hdrSize + chanSize
	segmentSize    = hdrSize + 2*chanSize

	offCommandSemID = 0
	offStatusSemID  = 4
	offLastOp       = 8
)

const (
	lastOpNone    byte = 0
	lastOpCommand byte = 1
	lastOpStatus  byte = 2
)

type shmChannel struct {
	mem          []byte
	commandSemID int
	statusSemID  int
	lastOp       byte
}

func openShm(id int) (*shmChannel, error) {
	mem, err := sysvipc.AttachShm(id, segmentSize)
	if err != nil {
		return nil, fmt.Errorf("ipc: attach shared-memory channel %d: %w", id, err)
	}
	return &shmChannel{
		mem:          mem,
		commandSemID: int(binary.LittleEndian.Uint32(mem[offCommandSemID:])),
		statusSemID:  int(binary.LittleEndian.Uint32(mem[offStatusSemID:])),
		lastOp:       mem[offLastOp],
	}, nil
}

// CreateShmSegment allocates and initializes a new shared-memory IPC
// segment, used by this package's tests to play the role a real fuzzer
// plays before launching the target (internal/fuzzsim builds its own
// segment with the same layout).
func CreateShmSegment() (shmID int, cleanup func(), err error) {
	commandSemID, err := sysvipc.CreateSemSet()
	if err != nil {
		return 0, nil, fmt.Errorf("ipc: create command semaphore: %w", err)
	}
	statusSemID, err := sysvipc.CreateSemSet()
	if err != nil {
		sysvipc.RemoveSemSet(commandSemID)
		return 0, nil, fmt.Errorf("ipc: create status semaphore: %w", err)
	}

	id, mem, err := sysvipc.CreateShm(segmentSize)
	if err != nil {
		sysvipc.RemoveSemSet(commandSemID)
		sysvipc.RemoveSemSet(statusSemID)
		return 0, nil, fmt.Errorf("ipc: create shared-memory channel: %w", err)
	}
	binary.LittleEndian.PutUint32(mem[offCommandSemID:], uint32(commandSemID))
	binary.LittleEndian.PutUint32(mem[offStatusSemID:], uint32(statusSemID))
	mem[offLastOp] = lastOpNone

	cleanup = func() {
		sysvipc.DetachShm(mem)
		sysvipc.RemoveShm(id)
		sysvipc.RemoveSemSet(commandSemID)
		sysvipc.RemoveSemSet(statusSemID)
	}
	return id, cleanup, nil
}

// SendExact writes message_size then the payload into the status channel
// (target→fuzzer direction) and posts the status semaphore. Messages over
// maxMessage bytes panic-worthy per the protocol; callers (handshake, status
// reports) never exceed it so this returns an error instead of asserting.
func (s *shmChannel) SendExact(buf []byte) error {
	if len(buf) > maxMessage {
		return fmt.Errorf("ipc: message of %d bytes exceeds %d-byte shared-memory ceiling", len(buf), maxMessage)
	}
	if err := s.checkAlternation(lastOpStatus); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(s.mem[statusChanOff:], uint32(len(buf)))
	copy(s.mem[statusChanOff+chanHdrSize:], buf)
	if err := sysvipc.Post(s.statusSemID); err != nil {
		return fmt.Errorf("ipc: post status semaphore: %w", err)
	}
	return nil
}

// RecvExact waits on the command channel (fuzzer→target direction) and
// copies exactly len(buf) bytes, asserting the sender's message_size
// matches.
func (s *shmChannel) RecvExact(buf []byte) error {
	if err := sysvipc.Wait(s.commandSemID); err != nil {
		return fmt.Errorf("ipc: wait on command semaphore: %w", err)
	}
	size := binary.LittleEndian.Uint32(s.mem[commandChanOff:])
	if int(size) != len(buf) {
		return fmt.Errorf("ipc: command channel message_size mismatch: got %d, want %d", size, len(buf))
	}
	copy(buf, s.mem[commandChanOff+chanHdrSize:commandChanOff+chanHdrSize+len(buf)])
	if err := s.checkAlternation(lastOpCommand); err != nil {
		return err
	}
	return nil
}

func (s *shmChannel) RecvCommand() (Command, error) {
	var buf [1]byte
	if err := s.RecvExact(buf[:]); err != nil {
		return 0, err
	}
	return Command(buf[0]), nil
}

// SendStatus writes the one-byte status through the same path as the
// handshake ACK; both are one-byte status-channel messages.
func (s *shmChannel) SendStatus(st Status) error {
	return s.SendExact([]byte{byte(st)})
}

func (s *shmChannel) checkAlternation(op byte) error {
	if debugAlternation && s.lastOp == op {
		return fmt.Errorf("ipc: non-alternating operations (last=%d, this=%d)", s.lastOp, op)
	}
	s.lastOp = op
	if debugAlternation {
		s.mem[offLastOp] = op
	}
	return nil
}

// Close is a deliberate no-op: shared-memory segments attached from the
// fuzzer are left attached across fork so a child forked afterwards can
// still reach the same channel; detaching here would race the next fork
// for no benefit, since the segment is reclaimed by the fuzzer (or the
// kernel at process exit) regardless.
func (s *shmChannel) Close() {}
