// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package ipc

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestHandshakeIDRoundTrip(t *testing.T) {
	id := HandshakeID(ModeForkserver)
	buf := EncodeHandshakeID(id)
	got, mode, ok := DecodeHandshakeID(buf)
	if !ok {
		t.Fatalf("DecodeHandshakeID: not ok for id %#x", id)
	}
	if got != id {
		t.Fatalf("got id %#x, want %#x", got, id)
	}
	if mode != ModeForkserver {
		t.Fatalf("got mode %v, want %v", mode, ModeForkserver)
	}
	if got&0xFFFF0000 != Magic {
		t.Fatalf("magic mismatch: %#x", got)
	}
	if (got>>8)&0xFF != uint32(Version) {
		t.Fatalf("version mismatch: %#x", got)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := ForkserverConfig{TimeoutMS: 1500, Signal: 15}
	cfg.ExitCodes[23/8] |= 1 << uint(23%8)

	buf := EncodeConfig(cfg)
	if len(buf) != ConfigWireSize {
		t.Fatalf("wire size = %d, want %d", len(buf), ConfigWireSize)
	}
	got := DecodeConfig(buf)
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("config round trip mismatch (-want +got):\n%s", diff)
	}
	if !got.CrashExitCode(23) {
		t.Fatalf("CrashExitCode(23) = false, want true")
	}
	if got.CrashExitCode(22) {
		t.Fatalf("CrashExitCode(22) = true, want false")
	}
}
