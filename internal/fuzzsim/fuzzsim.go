// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package fuzzsim is a test-only stand-in for the fuzzer side of the
// protocol: it launches a target binary the way a real fuzzer would
// (setting up the pipe or shared-memory backend and the matching
// environment variables), drives the handshake, and exposes RunCommand /
// ReadStatus so integration tests can script concrete protocol scenarios
// end-to-end instead of only unit-testing each package in isolation.
package fuzzsim

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/google/uuid"

	"github.com/z2-2z/cheetah/internal/ipc"
)

// Target is a running target process plus whichever side of the IPC
// channel the simulated fuzzer drives.
type Target struct {
	cmd   *exec.Cmd
	id    string
	sess  session
	close func()
}

// session abstracts over the two backends from the fuzzer's point of view:
// the mirror image of internal/ipc's target-oriented Channel.
type session interface {
	sendConfig(ipc.ForkserverConfig) error
	readHandshakeID() (uint32, error)
	sendCommand(ipc.Command) error
	readStatus() (ipc.Status, error)
}

// Options configures how the target is launched.
type Options struct {
	// Backend selects "pipe" or "shm"; defaults to "pipe".
	Backend string
	// Env is appended to the target's environment.
	Env []string
	// ExtraArgs is appended to the target command line.
	ExtraArgs []string
}

// Launch starts binPath as a target process wired to a fresh IPC channel.
// id is a per-launch correlation tag (not a protocol field): under a
// fork-server stress test a target's pid can be reused within the
// lifetime of a single test run long before log lines referencing it are
// read back, so log correlation uses this tag instead of pid.
func Launch(binPath string, opts Options) (*Target, error) {
	id := uuid.NewString()

	backend := opts.Backend
	if backend == "" {
		backend = "pipe"
	}

	cmd := exec.Command(binPath, opts.ExtraArgs...)
	cmd.Env = append(os.Environ(), opts.Env...)
	cmd.Env = append(cmd.Env, "CHEETAH_FUZZSIM_ID="+id)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	var (
		sess  session
		close func()
		err   error
	)
	switch backend {
	case "pipe":
		sess, close, err = launchPipe(cmd)
	case "shm":
		sess, close, err = launchShm(cmd)
	default:
		return nil, fmt.Errorf("fuzzsim: unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		close()
		return nil, fmt.Errorf("fuzzsim: start target: %w", err)
	}

	return &Target{cmd: cmd, id: id, sess: sess, close: close}, nil
}

// Handshake reads the target's handshake identifier and replies with cfg,
// returning the decoded mode.
func (t *Target) Handshake(cfg ipc.ForkserverConfig) (ipc.Mode, error) {
	id, err := t.sess.readHandshakeID()
	if err != nil {
		return 0, fmt.Errorf("fuzzsim: read handshake id: %w", err)
	}
	_, mode, ok := ipc.DecodeHandshakeID(ipc.EncodeHandshakeID(id))
	if !ok {
		return 0, fmt.Errorf("fuzzsim: bad handshake id %#x", id)
	}
	if err := t.sess.sendConfig(cfg); err != nil {
		return 0, fmt.Errorf("fuzzsim: send config: %w", err)
	}
	return mode, nil
}

// RunCommand sends cmd to the target.
func (t *Target) RunCommand(cmd ipc.Command) error {
	return t.sess.sendCommand(cmd)
}

// ReadStatus reads the next status byte from the target.
func (t *Target) ReadStatus() (ipc.Status, error) {
	return t.sess.readStatus()
}

// Wait waits for the target process to exit.
func (t *Target) Wait() error {
	return t.cmd.Wait()
}

// Close releases the IPC resources this Target allocated.
func (t *Target) Close() {
	if t.close != nil {
		t.close()
	}
}

