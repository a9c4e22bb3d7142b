// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package cheetah_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/z2-2z/cheetah"
	"github.com/z2-2z/cheetah/internal/fuzzsim"
	"github.com/z2-2z/cheetah/internal/ipc"
)

// TestHelperProcess is not a real test: it is invoked by the package's own
// test binary, re-exec'd with -test.run=TestHelperProcess, to play the
// target side of a scenario under fuzzsim's control. This is the same
// self-re-exec pattern os/exec's own tests use (TestHelperProcess /
// GO_WANT_HELPER_PROCESS) rather than building and shipping a separate
// testdata binary.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("CHEETAH_WANT_TARGET_PROCESS")
	if mode == "" {
		return
	}
	defer os.Exit(0)

	switch mode {
	case "forkserver-exit0":
		cheetah.SpawnForkserver()
		os.Exit(0)
	case "forkserver-trap":
		cheetah.SpawnForkserver()
		unix.Kill(unix.Getpid(), unix.SIGTRAP)
	case "forkserver-exit23":
		cheetah.SpawnForkserver()
		os.Exit(23)
	case "forkserver-sleep":
		cheetah.SpawnForkserver()
		time.Sleep(10 * time.Second)
		os.Exit(0)
	case "persistent-2iter":
		for cheetah.SpawnPersistentLoop(2) {
		}
		os.Exit(0)
	case "persistent-sleep":
		for cheetah.SpawnPersistentLoop(1000) {
			time.Sleep(9999 * time.Second)
		}
		os.Exit(0)
	}
}

func helperOpts(scenario string) fuzzsim.Options {
	return fuzzsim.Options{
		Backend:   "pipe",
		ExtraArgs: []string{"-test.run=TestHelperProcess"},
		Env:       []string{"CHEETAH_WANT_TARGET_PROCESS=" + scenario},
	}
}

func TestForkserverHappyRunExit(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("forkserver-exit0"))
	require.NoError(t, err)
	defer target.Close()

	mode, err := target.Handshake(ipc.ForkserverConfig{TimeoutMS: 5000, Signal: int32(unix.SIGTERM)})
	require.NoError(t, err)
	require.Equal(t, ipc.ModeForkserver, mode)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	status, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusExit, status)

	require.NoError(t, target.RunCommand(ipc.CommandStop))
	require.NoError(t, target.Wait())
}

func TestForkserverCrashViaSignal(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("forkserver-trap"))
	require.NoError(t, err)
	defer target.Close()

	_, err = target.Handshake(ipc.ForkserverConfig{TimeoutMS: 5000, Signal: int32(unix.SIGTERM)})
	require.NoError(t, err)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	status, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, status)

	require.NoError(t, target.RunCommand(ipc.CommandStop))
	require.NoError(t, target.Wait())
}

func TestForkserverCrashViaExitCode(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("forkserver-exit23"))
	require.NoError(t, err)
	defer target.Close()

	cfg := ipc.ForkserverConfig{TimeoutMS: 5000, Signal: int32(unix.SIGTERM)}
	cfg.ExitCodes[23/8] |= 1 << uint(23%8)
	_, err = target.Handshake(cfg)
	require.NoError(t, err)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	status, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusCrash, status)

	require.NoError(t, target.RunCommand(ipc.CommandStop))
	require.NoError(t, target.Wait())
}

func TestForkserverTimeoutEscalatesToKill(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("forkserver-sleep"))
	require.NoError(t, err)
	defer target.Close()

	_, err = target.Handshake(ipc.ForkserverConfig{TimeoutMS: 100, Signal: int32(unix.SIGTERM)})
	require.NoError(t, err)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	status, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusTimeout, status)

	require.NoError(t, target.RunCommand(ipc.CommandStop))
	require.NoError(t, target.Wait())
}

func TestPersistentTwoIterationLoop(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("persistent-2iter"))
	require.NoError(t, err)
	defer target.Close()

	mode, err := target.Handshake(ipc.ForkserverConfig{TimeoutMS: 5000, Signal: int32(unix.SIGTERM)})
	require.NoError(t, err)
	require.Equal(t, ipc.ModePersistent, mode)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	s1, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusExit, s1)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	s2, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusExit, s2)

	require.NoError(t, target.RunCommand(ipc.CommandStop))
	require.NoError(t, target.Wait())
}

func TestPersistentTimeout(t *testing.T) {
	target, err := fuzzsim.Launch(os.Args[0], helperOpts("persistent-sleep"))
	require.NoError(t, err)
	defer target.Close()

	_, err = target.Handshake(ipc.ForkserverConfig{TimeoutMS: 500, Signal: int32(unix.SIGTERM)})
	require.NoError(t, err)

	require.NoError(t, target.RunCommand(ipc.CommandRun))
	status, err := target.ReadStatus()
	require.NoError(t, err)
	require.Equal(t, ipc.StatusTimeout, status)
	target.Wait()
}

func TestDriveNConcurrentForkservers(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := fuzzsim.DriveN(ctx, os.Args[0], 4, helperOpts("forkserver-exit0"), func(_ context.Context, target *fuzzsim.Target) error {
		if _, err := target.Handshake(ipc.ForkserverConfig{TimeoutMS: 5000, Signal: int32(unix.SIGTERM)}); err != nil {
			return err
		}
		if err := target.RunCommand(ipc.CommandRun); err != nil {
			return err
		}
		if _, err := target.ReadStatus(); err != nil {
			return err
		}
		if err := target.RunCommand(ipc.CommandStop); err != nil {
			return err
		}
		return target.Wait()
	})
	require.NoError(t, err)
}
