// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package ipc

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// pipeChannel is the inherited-descriptor backend: read side fd N, write
// side fd N+1, both set up by the fuzzer before exec. Framing is raw bytes;
// the caller determines message lengths. Grounded on
// original_source/ipc/pipes.c.
type pipeChannel struct {
	r *os.File
	w *os.File
}

func openPipe(fd int) (*pipeChannel, error) {
	r := os.NewFile(uintptr(fd), fmt.Sprintf("forkserver-r-%d", fd))
	w := os.NewFile(uintptr(fd+1), fmt.Sprintf("forkserver-w-%d", fd+1))
	if r == nil || w == nil {
		return nil, fmt.Errorf("ipc: invalid forkserver fd %d", fd)
	}
	return &pipeChannel{r: r, w: w}, nil
}

func (p *pipeChannel) SendExact(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.w.Write(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("ipc: pipe write: %w", err)
		}
		if n == 0 {
			return io.ErrClosedPipe
		}
	}
	return nil
}

func (p *pipeChannel) RecvExact(buf []byte) error {
	for len(buf) > 0 {
		n, err := p.r.Read(buf)
		if n > 0 {
			buf = buf[n:]
		}
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == io.EOF {
				return io.EOF
			}
			return fmt.Errorf("ipc: pipe read: %w", err)
		}
		if n == 0 {
			return io.EOF
		}
	}
	return nil
}

func (p *pipeChannel) RecvCommand() (Command, error) {
	var buf [1]byte
	if err := p.RecvExact(buf[:]); err != nil {
		return 0, err
	}
	return Command(buf[0]), nil
}

func (p *pipeChannel) SendStatus(s Status) error {
	return p.SendExact([]byte{byte(s)})
}

// Close closes both descriptors. Called on the child path so the child does
// not hold the fuzzer's pipe open across its lifetime.
func (p *pipeChannel) Close() {
	if p.r != nil {
		p.r.Close()
		p.r = nil
	}
	if p.w != nil {
		p.w.Close()
		p.w = nil
	}
}
