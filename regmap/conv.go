// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regmap

import (
	"math"

	"github.com/go-lpc/rpcbc/params"
)

const (
	// PhaseWidth is the width in bits of the signed DDS phase increment.
	PhaseWidth = 30

	MaxPhase = 1<<(PhaseWidth-1) - 1
	MinPhase = -1 << (PhaseWidth - 1)

	clockHz = params.ClockHz
)

// FreqToPhase converts a frequency in Hz into a DDS phase increment,
// clamped to the PhaseWidth-bit signed range.
func FreqToPhase(f float64) int32 {
	v := math.Round(f / clockHz * (1 << PhaseWidth))
	switch {
	case math.IsNaN(v):
		return 0
	case v > MaxPhase:
		return MaxPhase
	case v < MinPhase:
		return MinPhase
	}
	return int32(v)
}

// RangeToInterval returns the number of clock ticks between two steps of a
// ramp going from start to stop in duration seconds.
// A zero span yields 0.
func RangeToInterval(start, stop, duration float64) int32 {
	span := stop - start
	if span == 0 {
		return 0
	}
	return saturate(math.Floor(duration * clockHz / span))
}

// IntervalIfSweep returns the ramp interval of sw over duration, or 0 when
// sw does not sweep. conv, when non-nil, is applied to both ends of the
// range first.
func IntervalIfSweep(sw params.Sweep, duration float64, conv func(float64) int32) int32 {
	if !sw.Sweep {
		return 0
	}
	start, stop := sw.Start, sw.Stop
	if conv != nil {
		start = float64(conv(start))
		stop = float64(conv(stop))
	}
	return RangeToInterval(start, stop, duration)
}

// Q16 converts x into a signed Q16.16 fixed-point value.
// Out-of-range values saturate.
func Q16(x float64) int32 {
	if math.IsNaN(x) {
		return 0
	}
	return saturate(math.Trunc(x * (1 << 16)))
}

func saturate(v float64) int32 {
	switch {
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

// ChannelSettingsByte packs a channel mode and its input selector.
func ChannelSettingsByte(mode params.Mode, input int) uint8 {
	return uint8(mode&0x7)<<1 | uint8((input-1)&0x1)
}

// Bits of the CBC settings register.
const (
	CBCInputOrder2    uint8 = 1 << 0
	CBCVelocityExt    uint8 = 1 << 1
	CBCDisplExt       uint8 = 1 << 2
	CBCTargetVelocity uint8 = 1 << 3
)

// CBCSettingsByte packs the flags of a CBC parameter set.
func CBCSettingsByte(p *params.CBC) uint8 {
	var v uint8
	if p.InputOrder() == 2 {
		v |= CBCInputOrder2
	}
	if p.VelocityExternal() {
		v |= CBCVelocityExt
	}
	if p.DisplacementExternal() {
		v |= CBCDisplExt
	}
	if p.PolynomialTarget() == params.Velocity {
		v |= CBCTargetVelocity
	}
	return v
}

// SystemByte packs the system parameters. The trigger bit is left cleared.
func SystemByte(p *params.System) uint8 {
	var v uint8
	if p.ContinuousOutput() {
		v |= SysContinuous
	}
	if p.SamplingRate() == params.Slow {
		v |= SysSlowRate
	}
	return v
}
