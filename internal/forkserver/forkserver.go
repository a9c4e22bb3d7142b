// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package forkserver implements fork-server mode: a long-lived parent that
// clones a fresh child per RUN command, each child resuming past Spawn back
// into the user program, while the parent waits for the child and reports
// its outcome. Grounded on original_source/forkserver.c, restructured from
// the original's recursive wait-with-escalation into the iterative form
// internal/procfork.WaitForChild already provides.
package forkserver

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/z2-2z/cheetah/internal/ipc"
	"github.com/z2-2z/cheetah/internal/procfork"
	"github.com/z2-2z/cheetah/internal/rtlog"
)

var (
	mu      sync.Mutex
	started bool
)

// Spawn performs the handshake and, if a fuzzer is attached, never returns:
// the parent loops handling RUN/STOP until the fuzzer goes away, and each
// forked child returns control to the caller instead. A second call after
// the first (e.g. from a child that inherited started=true across fork) is
// a no-op and returns immediately.
func Spawn() {
	mu.Lock()
	if started {
		mu.Unlock()
		return
	}
	started = true
	mu.Unlock()

	ch, cfg, err := ipc.Open(ipc.ModeForkserver)
	if err != nil {
		if errors.Is(err, ipc.ErrStandalone) {
			return
		}
		rtlog.Panic(rtlog.SourceForkserver, err)
		return
	}

	runParentLoop(ch, cfg)
}

func runParentLoop(ch ipc.Channel, cfg ipc.ForkserverConfig) {
	for {
		cmd, err := ch.RecvCommand()
		if err != nil {
			// Broken connection or EOF: the fuzzer has gone away.
			os.Exit(0)
		}

		switch cmd {
		case ipc.CommandStop:
			os.Exit(0)
		case ipc.CommandRun:
			// fallthrough to handling below
		default:
			rtlog.Panic(rtlog.SourceForkserver, fmt.Errorf("invalid command byte %d", cmd))
		}

		pid, isChild, err := procfork.Fork()
		if err != nil {
			rtlog.Panic(rtlog.SourceForkserver, err)
		}
		if isChild {
			ch.Close()
			return
		}

		status, err := waitAndConvert(pid, cfg)
		if err != nil {
			rtlog.Panic(rtlog.SourceForkserver, err)
		}
		if err := ch.SendStatus(status); err != nil {
			os.Exit(0)
		}
	}
}

func waitAndConvert(pid int, cfg ipc.ForkserverConfig) (ipc.Status, error) {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	sig := unix.Signal(cfg.Signal)
	if sig == 0 {
		sig = unix.SIGTERM
	}

	res, err := procfork.WaitForChild(pid, sig, timeout)
	if err != nil {
		return 0, fmt.Errorf("forkserver: waitpid: %w", err)
	}
	if res.TimedOut {
		return ipc.StatusTimeout, nil
	}
	return convertStatus(res.Status, cfg)
}

// convertStatus classifies a terminated child's disposition: a normal exit
// is CRASH iff the exit code is marked in the config's exit-code bitmap,
// any signal termination is always CRASH.
func convertStatus(status unix.WaitStatus, cfg ipc.ForkserverConfig) (ipc.Status, error) {
	switch {
	case status.Exited():
		if cfg.CrashExitCode(status.ExitStatus()) {
			return ipc.StatusCrash, nil
		}
		return ipc.StatusExit, nil
	case status.Signaled():
		return ipc.StatusCrash, nil
	default:
		return 0, fmt.Errorf("forkserver: unexpected wait status %v", status)
	}
}
