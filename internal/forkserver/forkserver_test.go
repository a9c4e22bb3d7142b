// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package forkserver

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/z2-2z/cheetah/internal/ipc"
)

func TestConvertStatusExitCleanIsExit(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	status := exitedStatus(t, 0)
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusExit, got)
}

func TestConvertStatusExitCodeMarkedAsCrash(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	cfg.ExitCodes[23/8] |= 1 << uint(23%8)
	status := exitedStatus(t, 23)
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, got)
}

func TestConvertStatusSignaledIsAlwaysCrash(t *testing.T) {
	cfg := ipc.ForkserverConfig{}
	status := signaledStatus(t, unix.SIGSEGV)
	got, err := convertStatus(status, cfg)
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, got)
}

// exitedStatus and signaledStatus build synthetic wait statuses without
// needing a real child process, using the same encoding the kernel uses
// (unix.WaitStatus is a thin wrapper over the raw int wstatus word).
func exitedStatus(t *testing.T, code int) unix.WaitStatus {
	t.Helper()
	return unix.WaitStatus(code << 8)
}

func signaledStatus(t *testing.T, sig unix.Signal) unix.WaitStatus {
	t.Helper()
	return unix.WaitStatus(int(sig))
}
