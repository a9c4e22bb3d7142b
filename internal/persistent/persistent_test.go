// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package persistent

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/z2-2z/cheetah/internal/ipc"
)

func TestConvertStatusCleanExitIsExit(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	status := unix.WaitStatus(0 << 8)
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusExit, got)
}

func TestConvertStatusExitCodeMarkedAsCrash(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	cfg.ExitCodes[23/8] |= 1 << uint(23%8)
	status := unix.WaitStatus(23 << 8)
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, got)
}

func TestConvertStatusSignaledIsAlwaysCrash(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	status := unix.WaitStatus(int(unix.SIGSEGV))
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, got)
}

func TestSpawnZeroIterationsReturnsFalseWithoutHandshake(t *testing.T) {
	resetState(t)
	got := Spawn(0)
	require.False(t, got)
	require.Equal(t, stateInit, st)
}

func resetState(t *testing.T) {
	t.Helper()
	mu.Lock()
	started = false
	st = stateInit
	iterationsBudget = 0
	remaining = 0
	ch = nil
	mu.Unlock()
}
