// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package fuzzsim

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/z2-2z/cheetah/internal/ipc"
)

// pipeSession drives the fuzzer side of the pipe backend: it writes on the
// descriptor the target reads, and reads from the descriptor the target
// writes, the mirror image of internal/ipc's pipeChannel.
type pipeSession struct {
	w *os.File // fuzzer writes, target reads
	r *os.File // fuzzer reads, target writes
}

func launchPipe(cmd *exec.Cmd) (session, func(), error) {
	toTargetR, toTargetW, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("fuzzsim: pipe: %w", err)
	}
	fromTargetR, fromTargetW, err := os.Pipe()
	if err != nil {
		toTargetR.Close()
		toTargetW.Close()
		return nil, nil, fmt.Errorf("fuzzsim: pipe: %w", err)
	}

	// The target's __FORKSERVER_FD=N convention wants read=N, write=N+1
	// as adjacent inherited descriptors; ExtraFiles appends starting at
	// fd 3, so two consecutive ExtraFiles entries land on N and N+1.
	cmd.ExtraFiles = []*os.File{toTargetR, fromTargetW}
	fd := 3
	cmd.Env = append(cmd.Env, fmt.Sprintf("__FORKSERVER_FD=%d", fd))

	sess := &pipeSession{w: toTargetW, r: fromTargetR}
	cleanup := func() {
		toTargetR.Close()
		toTargetW.Close()
		fromTargetR.Close()
		fromTargetW.Close()
	}
	return sess, cleanup, nil
}

func (p *pipeSession) readHandshakeID() (uint32, error) {
	var buf [4]byte
	if err := readExact(p.r, buf[:]); err != nil {
		return 0, err
	}
	id, _, _ := ipc.DecodeHandshakeID(buf)
	return id, nil
}

func (p *pipeSession) sendConfig(cfg ipc.ForkserverConfig) error {
	buf := ipc.EncodeConfig(cfg)
	if err := writeExact(p.w, buf[:]); err != nil {
		return err
	}
	var ack [1]byte
	return readExact(p.r, ack[:])
}

func (p *pipeSession) sendCommand(cmd ipc.Command) error {
	return writeExact(p.w, []byte{byte(cmd)})
}

func (p *pipeSession) readStatus() (ipc.Status, error) {
	var buf [1]byte
	if err := readExact(p.r, buf[:]); err != nil {
		return 0, err
	}
	return ipc.Status(buf[0]), nil
}

func readExact(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Read(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func writeExact(f *os.File, buf []byte) error {
	for len(buf) > 0 {
		n, err := f.Write(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			return err
		}
	}
	return nil
}
