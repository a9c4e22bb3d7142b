// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package ipc

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// newLoopbackPipePair builds a pipeChannel over two fresh pipes and returns
// the test's ends of them, simulating the fuzzer side of the conversation
// without forking.
func newLoopbackPipePair(t *testing.T) (target *pipeChannel, fuzzerR, fuzzerW *os.File) {
	t.Helper()
	toTarget, toTargetW, err := os.Pipe()
	require.NoError(t, err)
	fromTarget, fromTargetW, err := os.Pipe()
	require.NoError(t, err)

	t.Cleanup(func() {
		toTarget.Close()
		toTargetW.Close()
		fromTarget.Close()
		fromTargetW.Close()
	})

	return &pipeChannel{r: toTarget, w: fromTargetW}, fromTarget, toTargetW
}

func TestPipeChannelSendRecv(t *testing.T) {
	target, fuzzerR, fuzzerW := newLoopbackPipePair(t)

	go func() {
		require.NoError(t, target.SendStatus(StatusExit))
	}()
	var b [1]byte
	_, err := fuzzerR.Read(b[:])
	require.NoError(t, err)
	require.Equal(t, byte(StatusExit), b[0])

	go func() {
		_, err := fuzzerW.Write([]byte{byte(CommandRun)})
		require.NoError(t, err)
	}()
	cmd, err := target.RecvCommand()
	require.NoError(t, err)
	require.Equal(t, CommandRun, cmd)
}
