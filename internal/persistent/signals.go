// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package persistent

import (
	"os"
	"os/signal"
	"time"

	"golang.org/x/sys/unix"

	"github.com/z2-2z/cheetah/internal/ipc"
	"github.com/z2-2z/cheetah/internal/rtlog"
)

// installSignalHandlers starts a dedicated goroutine translating the
// handled signals into status reports. signal.Notify's channel delivery is
// not a POSIX signal handler: there is no async-signal-safety constraint to
// honor here, which is why this package is comfortable taking a mutex and
// calling into the IPC channel directly from the delivery goroutine, unlike
// the original's handlers which could only call sem_post. Re-installed
// fresh in every child right after fork, since a forked child starts with
// only the forking OS thread alive and needs its own live goroutine
// scheduled to consume deliveries rather than relying on whatever state was
// inherited from the pre-fork parent.
func installSignalHandlers() {
	sigc := make(chan os.Signal, len(handledSignals))
	notifySignals := make([]os.Signal, len(handledSignals))
	for i, s := range handledSignals {
		notifySignals[i] = s
	}
	signal.Notify(sigc, notifySignals...)
	go dispatch(sigc)
}

func dispatch(sigc chan os.Signal) {
	for sig := range sigc {
		switch sig {
		case unix.SIGALRM:
			handleAlarm()
		case unix.SIGINT, unix.SIGTERM:
			reportAndDie(ipc.StatusExit)
		default:
			reportAndDie(ipc.StatusCrash)
		}
	}
}

// handleAlarm is the timeout watchdog: it fires on every periodic SIGALRM
// but only declares a timeout once the logical budget has actually elapsed,
// which lets the interval be coarser than the configured timeout for
// sub-second budgets.
func handleAlarm() {
	mu.Lock()
	since := startTime
	budgetMS := uint64(cfg.TimeoutMS)
	mu.Unlock()

	if budgetMS == 0 {
		// A zero timeout disables the watchdog entirely; the interval timer
		// still ticks (it cannot go below 1s, see childEntersIter) but has
		// nothing to compare against.
		return
	}

	elapsed := rtlog.DurationMS(since, time.Now())
	var threshold uint64
	if budgetMS > timeoutToleranceMS {
		threshold = budgetMS - timeoutToleranceMS
	}
	if elapsed >= threshold {
		reportAndDie(ipc.StatusTimeout)
	}
}

// reportAndDie sends status once, then busy-loops sending SIGKILL to the
// calling process until the kernel ends it. It never returns, matching
// every handler in the original being terminal.
func reportAndDie(status ipc.Status) {
	mu.Lock()
	localCh := ch
	mu.Unlock()

	if localCh != nil {
		_ = localCh.SendStatus(status)
	}

	pid := unix.Getpid()
	for {
		unix.Kill(pid, unix.SIGKILL)
		time.Sleep(time.Millisecond)
	}
}
