// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import "fmt"

// Mode is the operating mode of an output channel.
// Its value is the 3-bit code understood by the FPGA.
type Mode uint8

const (
	FixedFrequency Mode = iota
	FrequencySweep
	ArtificialNonlinearity
	ArtificialNonlinearityParametric
	Cubic
	LinearFeedback
	WhiteNoise
	Off
)

var modeNames = [...]string{
	FixedFrequency:                   "fixed_frequency",
	FrequencySweep:                   "frequency_sweep",
	ArtificialNonlinearity:           "artificial_nonlinearity",
	ArtificialNonlinearityParametric: "artificial_nonlinearity_parametric",
	Cubic:                            "cubic",
	LinearFeedback:                   "linear_feedback",
	WhiteNoise:                       "white_noise",
	Off:                              "off",
}

// Modes returns the names of all channel modes, in code order.
func Modes() []string {
	return append([]string(nil), modeNames[:]...)
}

func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrOutOfRange, s)
}

// SamplingRate selects the CIC decimation of the acquisition.
type SamplingRate uint8

const (
	Fast SamplingRate = iota
	Slow
)

var rateNames = [...]string{Fast: "fast", Slow: "slow"}

func (r SamplingRate) String() string {
	if int(r) < len(rateNames) {
		return rateNames[r]
	}
	return fmt.Sprintf("SamplingRate(%d)", uint8(r))
}

// CIC returns the CIC divider of the sampling rate.
func (r SamplingRate) CIC() int {
	switch r {
	case Slow:
		return 12500
	default:
		return 1250
	}
}

// Hz returns the effective sampling frequency.
func (r SamplingRate) Hz() float64 {
	return ClockHz / float64(r.CIC())
}

// Target is the state variable the CBC polynomial is applied to.
type Target uint8

const (
	Displacement Target = iota
	Velocity
)

var targetNames = [...]string{Displacement: "displacement", Velocity: "velocity"}

func (t Target) String() string {
	if int(t) < len(targetNames) {
		return targetNames[t]
	}
	return fmt.Sprintf("Target(%d)", uint8(t))
}

func parseEnum(names []string, s string) int {
	for i, name := range names {
		if name == s {
			return i
		}
	}
	// values reaching here were validated against names.
	panic(fmt.Errorf("params: invalid enum value %q", s))
}
