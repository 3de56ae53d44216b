// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import (
	"math"

	"github.com/go-daq/tdaq/log"
)

const (
	minDuration = 1e-3 // seconds
	maxDuration = 60   // seconds

	// SampleSize is the size in bytes of one sample record (two channels).
	SampleSize = 4
)

// System holds the board-wide parameters.
type System struct {
	continuous bool
	ip         string
	rate       SamplingRate
	duration   float64

	msg log.MsgStream
}

var systemSchema = newSchema[System](
	"system",
	[]field[System]{
		{
			name: "continuous_output", kind: kindBool,
			get: func(p *System) any { return p.continuous },
			set: func(p *System, v any) { p.continuous = v.(bool) },
		},
		{
			name: "ip_address", kind: kindIPv4,
			get: func(p *System) any { return p.ip },
			set: func(p *System, v any) { p.ip = v.(string) },
		},
		{
			name: "sampling_rate", kind: kindEnum, enum: rateNames[:],
			get: func(p *System) any { return p.rate.String() },
			set: func(p *System, v any) { p.rate = SamplingRate(parseEnum(rateNames[:], v.(string))) },
		},
		{
			name: "recording_duration", kind: kindFloat, lo: minDuration, hi: maxDuration,
			get: func(p *System) any { return p.duration },
			set: func(p *System, v any) { p.duration = v.(float64) },
		},
	},
	nil,
)

// NewSystem returns the default system parameters.
func NewSystem(opts ...Option) *System {
	cfg := newConfig("params", opts)
	return &System{
		ip:       "192.168.1.100",
		rate:     Fast,
		duration: 1,
		msg:      cfg.msg,
	}
}

func (p *System) ContinuousOutput() bool     { return p.continuous }
func (p *System) IPAddress() string          { return p.ip }
func (p *System) SamplingRate() SamplingRate { return p.rate }
func (p *System) RecordingDuration() float64 { return p.duration }

// Samples returns the number of sample records of one recording.
func (p *System) Samples() int {
	return int(math.Floor(p.duration * p.rate.Hz()))
}

// BytesToReceive returns the size in bytes of one recording.
func (p *System) BytesToReceive() uint32 {
	return uint32(p.Samples() * SampleSize)
}

// Set validates and sets the value of key.
func (p *System) Set(key string, v any) error {
	return systemSchema.set(p, key, v, p.msg)
}

// Get returns the value of key.
func (p *System) Get(key string) (any, error) {
	return systemSchema.get(p, key)
}

// Keys returns the sorted list of keys of the system parameters.
func (*System) Keys() []string { return systemSchema.keys() }

// Clone returns a copy of the parameter set.
func (p *System) Clone() *System {
	o := *p
	return &o
}
