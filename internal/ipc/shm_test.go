// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package ipc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/z2-2z/cheetah/internal/sysvipc"
)

// fuzzerSide pokes the shared segment the way a real fuzzer would: it
// writes to the command channel and reads from the status channel, the
// mirror image of shmChannel's target-oriented Send/Recv.
type fuzzerSide struct {
	mem []byte
}

func (f *fuzzerSide) send(id, off int, buf []byte) error {
	binary.LittleEndian.PutUint32(f.mem[off:], uint32(len(buf)))
	copy(f.mem[off+chanHdrSize:], buf)
	return sysvipc.Post(id)
}

func (f *fuzzerSide) recv(id, off int, buf []byte) error {
	if err := sysvipc.Wait(id); err != nil {
		return err
	}
	copy(buf, f.mem[off+chanHdrSize:off+chanHdrSize+len(buf)])
	return nil
}

func TestShmChannelHandshakeAndRunCycle(t *testing.T) {
	id, cleanup, err := CreateShmSegment()
	require.NoError(t, err)
	defer cleanup()

	target, err := openShm(id)
	require.NoError(t, err)
	fuzzer := &fuzzerSide{mem: target.mem}

	errc := make(chan error, 1)

	idBuf := EncodeHandshakeID(HandshakeID(ModePersistent))
	go func() { errc <- target.SendExact(idBuf[:]) }()
	var gotID [4]byte
	require.NoError(t, fuzzer.recv(target.statusSemID, statusChanOff, gotID[:]))
	require.NoError(t, <-errc)
	_, mode, ok := DecodeHandshakeID(gotID)
	require.True(t, ok)
	require.Equal(t, ModePersistent, mode)

	cfg := ForkserverConfig{TimeoutMS: 2000, Signal: 15}
	cfgBuf := EncodeConfig(cfg)
	go func() { errc <- fuzzer.send(target.commandSemID, commandChanOff, cfgBuf[:]) }()
	var gotCfgBuf [ConfigWireSize]byte
	require.NoError(t, target.RecvExact(gotCfgBuf[:]))
	require.NoError(t, <-errc)
	require.Equal(t, cfg, DecodeConfig(gotCfgBuf))

	go func() { errc <- target.SendExact([]byte{HandshakeACK}) }()
	var ack [1]byte
	require.NoError(t, fuzzer.recv(target.statusSemID, statusChanOff, ack[:]))
	require.NoError(t, <-errc)
	require.Equal(t, HandshakeACK, ack[0])

	go func() { errc <- fuzzer.send(target.commandSemID, commandChanOff, []byte{byte(CommandRun)}) }()
	cmd, err := target.RecvCommand()
	require.NoError(t, err)
	require.NoError(t, <-errc)
	require.Equal(t, CommandRun, cmd)

	go func() { errc <- target.SendStatus(StatusExit) }()
	var status [1]byte
	require.NoError(t, fuzzer.recv(target.statusSemID, statusChanOff, status[:]))
	require.NoError(t, <-errc)
	require.Equal(t, byte(StatusExit), status[0])
}

func TestShmChannelOversizedMessageRejected(t *testing.T) {
	id, cleanup, err := CreateShmSegment()
	require.NoError(t, err)
	defer cleanup()

	target, err := openShm(id)
	require.NoError(t, err)

	err = target.SendExact(make([]byte, maxMessage+1))
	require.Error(t, err)
}
