// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package persistent implements persistent mode: a child process runs the
// user's loop body many times, with an interval timer and a set of fatal
// signal handlers converting in-loop crashes and hangs into status reports,
// while an outer parent still clones one child per "outer" run for
// isolation. Grounded on original_source/runtime/persistent.c.
package persistent

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

type state int

const (
	stateInit state = iota
	stateIter
	stateStop
)

// timeoutToleranceMS absorbs handler-latency jitter: the alarm handler
// declares a timeout once elapsed >= timeout_ms - this band, not only once
// elapsed == timeout_ms exactly.
const timeoutToleranceMS = 100

var (
	mu               sync.Mutex
	started          bool
	st               state
	iterationsBudget uint64
	remaining        uint64
	cfg              ipc.ForkserverConfig
	ch               ipc.Channel
	startTime        time.Time
	disarmTimer      func() error
)

// handledSignals is the set of signals persistent mode installs handlers
// for: the timeout watchdog, the crash reporters, and graceful shutdown.
var handledSignals = []unix.Signal{
	unix.SIGALRM,
	unix.SIGBUS, unix.SIGABRT, unix.SIGILL, unix.SIGFPE, unix.SIGSEGV, unix.SIGTRAP,
	unix.SIGINT, unix.SIGTERM,
}

// Spawn is the persistent-mode entry point, callable repeatedly by the
// user's loop body: `for persistent.Spawn(n) { fuzzOnce() }`. The first call
// performs the handshake and drives an outer fork/wait loop that never
// returns to the caller except through a forked child, which instead enters
// the in-process iteration state machine and returns true/false per call.
func Spawn(iterations uint64) bool {
	mu.Lock()
	if started {
		mu.Unlock()
		return iterTick()
	}
	if iterations == 0 {
		// Do not enter the loop at all: no handshake and no state change.
		mu.Unlock()
		return false
	}
	started = true
	iterationsBudget = iterations
	mu.Unlock()

	c, config, err := ipc.Open(ipc.ModePersistent)
	if err != nil {
		if errors.Is(err, ipc.ErrStandalone) {
			mu.Lock()
			st = stateStop
			mu.Unlock()
			return true
		}
		rtlog.Panic(rtlog.SourcePersistent, err)
	}

	mu.Lock()
	ch = c
	cfg = config
	mu.Unlock()

	return runParentLoop()
}

func runParentLoop() bool {
	for {
		cmd, err := ch.RecvCommand()
		if err != nil {
			os.Exit(0)
		}

		switch cmd {
		case ipc.CommandStop:
			os.Exit(0)
		case ipc.CommandRun:
			// fallthrough to fork below
		default:
			rtlog.Panic(rtlog.SourcePersistent, fmt.Errorf("invalid command byte %d", cmd))
		}

		pid, isChild, err := procfork.Fork()
		if err != nil {
			rtlog.Panic(rtlog.SourcePersistent, err)
		}
		if isChild {
			return childEntersIter()
		}

		res, err := procfork.WaitForChild(pid, 0, 0)
		if err != nil {
			rtlog.Panic(rtlog.SourcePersistent, err)
		}
		if res.Status.Signaled() && res.Status.Signal() == unix.SIGKILL {
			// The child's own signal handler already reported a status
			// before self-terminating; sending another would violate
			// "never both" from the one-status-per-iteration invariant.
			continue
		}
		status, err := convertStatus(res.Status, cfg)
		if err != nil {
			rtlog.Panic(rtlog.SourcePersistent, err)
		}
		if err := ch.SendStatus(status); err != nil {
			os.Exit(0)
		}
	}
}

func childEntersIter() bool {
	mu.Lock()
	// iterationsBudget counts this first run too: a budget of 1 means "run
	// once, then stop" with no further ITER ticks, matching the original's
	// iterations -= 1 immediately after the fork-child branch.
	remaining = iterationsBudget - 1
	startTime = time.Now()
	mu.Unlock()

	if err := procfork.UnblockSignals(handledSignals...); err != nil {
		rtlog.Panic(rtlog.SourcePersistent, err)
	}
	installSignalHandlers()

	timeoutMS := cfg.TimeoutMS
	interval := time.Duration(timeoutMS) * time.Millisecond
	if interval < time.Second {
		interval = time.Second
	}
	disarm, err := procfork.SetInterval(interval)
	if err != nil {
		rtlog.Panic(rtlog.SourcePersistent, err)
	}
	mu.Lock()
	disarmTimer = disarm
	st = stateIter
	mu.Unlock()

	return true
}

func iterTick() bool {
	mu.Lock()
	if st == stateStop {
		mu.Unlock()
		return false
	}
	if remaining == 0 {
		st = stateStop
		mu.Unlock()
		return false
	}
	localCh := ch
	mu.Unlock()

	if err := localCh.SendStatus(ipc.StatusExit); err != nil {
		os.Exit(0)
	}

	mu.Lock()
	remaining--
	mu.Unlock()

	cmd, err := localCh.RecvCommand()
	if err != nil {
		os.Exit(0)
	}

	switch cmd {
	case ipc.CommandStop:
		mu.Lock()
		st = stateStop
		mu.Unlock()
		return false
	case ipc.CommandRun:
		mu.Lock()
		startTime = time.Now()
		mu.Unlock()
		return true
	default:
		rtlog.Panic(rtlog.SourcePersistent, fmt.Errorf("invalid command byte %d", cmd))
		return false
	}
}

// convertStatus mirrors internal/forkserver's classification: a clean exit
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
		return 0, fmt.Errorf("persistent: unexpected wait status %v", status)
	}
}
