// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpcbc holds code to drive a RedPitaya board running the
// control-based continuation (CBC) FPGA firmware.
//
// The board is configured by pushing a fixed-layout register image over TCP
// and is read out by streaming raw sample records into a shared-memory
// segment handed over to the consuming process.
package rpcbc // import "github.com/go-lpc/rpcbc"

import (
	"runtime/debug"
	"strings"
)

// Version returns the version of rpcbc and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

const modpath = "github.com/go-lpc/rpcbc"

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}
	if b.Main.Path == modpath {
		return b.Main.Version, b.Main.Sum
	}
	for _, m := range b.Deps {
		if m.Path != modpath {
			continue
		}
		if r := m.Replace; r != nil {
			v := strings.TrimSpace(r.Path + " " + r.Version)
			if v == "" {
				v = m.Version + " (replaced)"
			}
			return v, r.Sum
		}
		return m.Version, m.Sum
	}
	return "", ""
}
