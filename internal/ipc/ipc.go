// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package ipc

import (
	"fmt"
	"os"
	"strconv"
)

// debugAlternation gates the shared-memory backend's last_op alternation
// check: cheap enough to always run, but the original treats it as a
// debug-build-only assertion, so it is tied to CHEETAH_DEBUG here rather
// than always-on.
var debugAlternation = os.Getenv("CHEETAH_DEBUG") != ""

// Channel is the uniform contract both IPC backends satisfy: exact-length
// byte transfer in each direction plus typed one-byte command/status
// helpers, and a Close releasing backend-specific resources on the child
// path.
type Channel interface {
	// SendExact writes len(buf) bytes, retrying on short writes.
	SendExact(buf []byte) error
	// RecvExact reads len(buf) bytes, retrying on short reads.
	RecvExact(buf []byte) error
	// RecvCommand reads the next one-byte command from the fuzzer.
	RecvCommand() (Command, error)
	// SendStatus writes a one-byte status to the fuzzer.
	SendStatus(Status) error
	// Close releases backend resources. Safe to call more than once.
	Close()
}

const (
	envForkserverFD  = "__FORKSERVER_FD"
	envForkserverSHM = "__FORKSERVER_SHM"
	envFuzzInputSHM  = "__FUZZ_INPUT_SHM"

	// reservedFD is a well-known fuzzer's reserved descriptor; a target
	// reporting __FORKSERVER_FD=198 is not talking to this protocol's
	// fuzzer and should be treated as standalone.
	reservedFD = 198
	minFD      = 3
)

// Open selects an IPC backend from the environment and performs the
// handshake for the given mode. It returns ErrStandalone when none of
// __FORKSERVER_FD / __FORKSERVER_SHM is present or usable, in which case
// the caller must treat the runtime as disabled.
func Open(mode Mode) (Channel, ForkserverConfig, error) {
	if shmID, ok := shmEnv(envForkserverSHM); ok {
		ch, err := openShm(shmID)
		if err != nil {
			return nil, ForkserverConfig{}, err
		}
		cfg, err := handshake(ch, mode)
		if err != nil {
			ch.Close()
			return nil, ForkserverConfig{}, err
		}
		return ch, cfg, nil
	}

	if fd, ok := fdEnv(envForkserverFD); ok {
		ch, err := openPipe(fd)
		if err != nil {
			return nil, ForkserverConfig{}, err
		}
		cfg, err := handshake(ch, mode)
		if err != nil {
			ch.Close()
			return nil, ForkserverConfig{}, err
		}
		return ch, cfg, nil
	}

	return nil, ForkserverConfig{}, ErrStandalone
}

// FuzzInputSHM reports the shared-memory id for the fuzz input region, if
// the fuzzer supplied one.
func FuzzInputSHM() (int, bool) {
	return shmEnv(envFuzzInputSHM)
}

func shmEnv(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func fdEnv(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	fd, err := strconv.Atoi(v)
	if err != nil || fd < minFD || fd == reservedFD {
		return 0, false
	}
	return fd, true
}

// handshake sends the 4-byte identifier, reads the 40-byte config, and
// sends the 1-byte ACK, per the wire protocol in SPEC_FULL.md §6.
func handshake(ch Channel, mode Mode) (ForkserverConfig, error) {
	idBuf := EncodeHandshakeID(HandshakeID(mode))
	if err := ch.SendExact(idBuf[:]); err != nil {
		return ForkserverConfig{}, fmt.Errorf("ipc: handshake send: %w", err)
	}

	var cfgBuf [ConfigWireSize]byte
	if err := ch.RecvExact(cfgBuf[:]); err != nil {
		return ForkserverConfig{}, fmt.Errorf("ipc: handshake recv config: %w", err)
	}
	cfg := DecodeConfig(cfgBuf)

	if err := ch.SendExact([]byte{HandshakeACK}); err != nil {
		return ForkserverConfig{}, fmt.Errorf("ipc: handshake ack: %w", err)
	}
	return cfg, nil
}
