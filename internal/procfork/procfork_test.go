// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package procfork

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSetIntervalDisarm(t *testing.T) {
	disarm, err := SetInterval(50 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, disarm())
}

func TestBlockUnblockSignals(t *testing.T) {
	require.NoError(t, BlockSignals(unix.SIGUSR1))
	require.NoError(t, UnblockSignals(unix.SIGUSR1))
}

func TestWaitForChildImmediateExit(t *testing.T) {
	pid, isChild, err := Fork()
	require.NoError(t, err)
	if isChild {
		unix.Exit(0)
	}

	res, err := WaitForChild(pid, unix.SIGTERM, 2*time.Second)
	require.NoError(t, err)
	require.False(t, res.TimedOut)
	require.True(t, res.Status.Exited())
	require.Equal(t, 0, res.Status.ExitStatus())
}

func TestWaitForChildTimeoutEscalates(t *testing.T) {
	pid, isChild, err := Fork()
	require.NoError(t, err)
	if isChild {
		// Keep the soft signal pending so that only the SIGKILL escalation
		// can end the child.
		BlockSignals(unix.SIGTERM)
		for {
			unix.Pause()
		}
	}

	res, err := WaitForChild(pid, unix.SIGTERM, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, res.TimedOut)
	require.True(t, res.Status.Signaled())
	require.Equal(t, unix.SIGKILL, res.Status.Signal())
}
