// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package fuzzsim

import (
	"encoding/binary"
	"fmt"
	"os/exec"

	"github.com/z2-2z/cheetah/internal/ipc"
	"github.com/z2-2z/cheetah/internal/sysvipc"
)

// Mirrors the layout internal/ipc's shm.go defines; kept in lockstep since
// both sides of the segment must agree on offsets without a shared header
// file (there is no C-style #include to share between processes here).
const (
	maxMessage     = 64
	hdrSize        = 12
	chanHdrSize    = 4
	chanSize       = chanHdrSize + maxMessage
	commandChanOff = hdrSize
	statusChanOff  = hdrSize + chanSize
	segmentSize    = hdrSize + 2*chanSize

	offCommandSemID = 0
	offStatusSemID  = 4
)

type shmSession struct {
	mem          []byte
	commandSemID int
	statusSemID  int
}

func launchShm(cmd *exec.Cmd) (session, func(), error) {
	id, mem, commandSemID, statusSemID, err := createSegment()
	if err != nil {
		return nil, nil, err
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("__FORKSERVER_SHM=%d", id))

	sess := &shmSession{mem: mem, commandSemID: commandSemID, statusSemID: statusSemID}
	cleanup := func() {
		sysvipc.DetachShm(mem)
		sysvipc.RemoveShm(id)
		sysvipc.RemoveSemSet(commandSemID)
		sysvipc.RemoveSemSet(statusSemID)
	}
	return sess, cleanup, nil
}

func createSegment() (id int, mem []byte, commandSemID, statusSemID int, err error) {
	commandSemID, err = sysvipc.CreateSemSet()
	if err != nil {
		return 0, nil, 0, 0, fmt.Errorf("fuzzsim: create command semaphore: %w", err)
	}
	statusSemID, err = sysvipc.CreateSemSet()
	if err != nil {
		sysvipc.RemoveSemSet(commandSemID)
		return 0, nil, 0, 0, fmt.Errorf("fuzzsim: create status semaphore: %w", err)
	}
	id, mem, err = sysvipc.CreateShm(segmentSize)
	if err != nil {
		sysvipc.RemoveSemSet(commandSemID)
		sysvipc.RemoveSemSet(statusSemID)
		return 0, nil, 0, 0, fmt.Errorf("fuzzsim: create shared-memory channel: %w", err)
	}
	binary.LittleEndian.PutUint32(mem[offCommandSemID:], uint32(commandSemID))
	binary.LittleEndian.PutUint32(mem[offStatusSemID:], uint32(statusSemID))
	return id, mem, commandSemID, statusSemID, nil
}

func (s *shmSession) readHandshakeID() (uint32, error) {
	var buf [4]byte
	if err := s.recv(s.statusSemID, statusChanOff, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (s *shmSession) sendConfig(cfg ipc.ForkserverConfig) error {
	buf := ipc.EncodeConfig(cfg)
	if err := s.send(s.commandSemID, commandChanOff, buf[:]); err != nil {
		return err
	}
	var ack [1]byte
	return s.recv(s.statusSemID, statusChanOff, ack[:])
}

func (s *shmSession) sendCommand(cmd ipc.Command) error {
	return s.send(s.commandSemID, commandChanOff, []byte{byte(cmd)})
}

func (s *shmSession) readStatus() (ipc.Status, error) {
	var buf [1]byte
	if err := s.recv(s.statusSemID, statusChanOff, buf[:]); err != nil {
		return 0, err
	}
	return ipc.Status(buf[0]), nil
}

func (s *shmSession) send(semID, off int, buf []byte) error {
	binary.LittleEndian.PutUint32(s.mem[off:], uint32(len(buf)))
	copy(s.mem[off+chanHdrSize:], buf)
	return sysvipc.Post(semID)
}

func (s *shmSession) recv(semID, off int, buf []byte) error {
	if err := sysvipc.Wait(semID); err != nil {
		return err
	}
	copy(buf, s.mem[off+chanHdrSize:off+chanHdrSize+len(buf)])
	return nil
}
