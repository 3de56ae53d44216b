// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import "github.com/go-daq/tdaq/log"

const (
	maxFreq  = ClockHz / 2
	maxCoeff = 1 << 15
)

// Channel is the parameter set of one physical output channel.
type Channel struct {
	mode  Mode
	input int

	freq   Sweep
	linAmp Sweep
	quaAmp Sweep
	cubAmp Sweep
	offset Sweep
	refAmp Sweep

	msg log.MsgStream
}

var channelSchema = newSchema[Channel](
	"channel",
	[]field[Channel]{
		{
			name: "mode", kind: kindEnum, enum: modeNames[:],
			get: func(p *Channel) any { return p.mode.String() },
			set: func(p *Channel, v any) { p.mode = Mode(parseEnum(modeNames[:], v.(string))) },
		},
		{
			name: "input_channel", kind: kindInt, lo: 1, hi: 2,
			get: func(p *Channel) any { return p.input },
			set: func(p *Channel, v any) { p.input = int(v.(int64)) },
		},
	},
	[]sweepField[Channel]{
		{name: "frequency", lo: 0, hi: maxFreq, ptr: func(p *Channel) *Sweep { return &p.freq }},
		{name: "linear_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *Channel) *Sweep { return &p.linAmp }},
		{name: "quadratic_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *Channel) *Sweep { return &p.quaAmp }},
		{name: "cubic_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *Channel) *Sweep { return &p.cubAmp }},
		{name: "offset", lo: -1, hi: 1, ptr: func(p *Channel) *Sweep { return &p.offset }},
		{name: "reference_amplitude", lo: 0, hi: 1, ptr: func(p *Channel) *Sweep { return &p.refAmp }},
	},
)

// NewChannel returns a channel parameter set, switched off and reading
// from input channel 1.
func NewChannel(opts ...Option) *Channel {
	cfg := newConfig("params", opts)
	return &Channel{
		mode:  Off,
		input: 1,
		msg:   cfg.msg,
	}
}

// Mode returns the operating mode of the channel.
func (ch *Channel) Mode() Mode { return ch.mode }

// InputChannel returns the ADC input (1 or 2) the channel reads from.
func (ch *Channel) InputChannel() int { return ch.input }

// Sweep returns the sweep triple of the named sweepable field.
func (ch *Channel) Sweep(name string) (Sweep, bool) {
	if !channelSchema.sweepable(name) {
		return Sweep{}, false
	}
	v, _ := channelSchema.get(ch, name)
	return v.(Sweep), true
}

// Set validates and sets the value of key.
func (ch *Channel) Set(key string, v any) error {
	return channelSchema.set(ch, key, v, ch.msg)
}

// SetSweepable sets a sweepable field from a scalar or a 2-element range.
func (ch *Channel) SetSweepable(name string, input any) error {
	return channelSchema.setSweepable(ch, name, input, ch.msg)
}

// Get returns the value of key.
func (ch *Channel) Get(key string) (any, error) {
	return channelSchema.get(ch, key)
}

// Keys returns the sorted list of keys of a channel parameter set.
func (*Channel) Keys() []string { return channelSchema.keys() }

// Sweepable returns whether name is a sweepable field.
func (*Channel) Sweepable(name string) bool { return channelSchema.sweepable(name) }

// Clone returns a copy of the parameter set.
func (ch *Channel) Clone() *Channel {
	o := *ch
	return &o
}
