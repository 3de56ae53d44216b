// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import "github.com/go-daq/tdaq/log"

// CBC is the parameter set of the combined-feedback controller.
type CBC struct {
	refAmp Sweep
	freq   Sweep
	cubAmp Sweep
	quaAmp Sweep
	linAmp Sweep
	offset Sweep

	velExt  bool
	dispExt bool
	target  Target
	order   int

	msg log.MsgStream
}

var cbcSchema = func() *schema[CBC] {
	s := newSchema[CBC](
		"cbc",
		[]field[CBC]{
			{
				name: "velocity_external", kind: kindBool,
				get: func(p *CBC) any { return p.velExt },
				set: func(p *CBC, v any) { p.velExt = v.(bool) },
			},
			{
				name: "displacement_external", kind: kindBool,
				get: func(p *CBC) any { return p.dispExt },
				set: func(p *CBC, v any) { p.dispExt = v.(bool) },
			},
			{
				name: "polynomial_target", kind: kindEnum, enum: targetNames[:],
				get: func(p *CBC) any { return p.target.String() },
				set: func(p *CBC, v any) { p.target = Target(parseEnum(targetNames[:], v.(string))) },
			},
			{
				name: "input_order", kind: kindInt, lo: 1, hi: 2,
				get: func(p *CBC) any { return p.order },
				set: func(p *CBC, v any) { p.order = int(v.(int64)) },
			},
		},
		[]sweepField[CBC]{
			{name: "reference_amplitude", lo: 0, hi: 1, ptr: func(p *CBC) *Sweep { return &p.refAmp }},
			{name: "frequency", lo: 0, hi: maxFreq, ptr: func(p *CBC) *Sweep { return &p.freq }},
			{name: "cubic_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *CBC) *Sweep { return &p.cubAmp }},
			{name: "quadratic_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *CBC) *Sweep { return &p.quaAmp }},
			{name: "linear_amplitude", lo: -maxCoeff, hi: maxCoeff, ptr: func(p *CBC) *Sweep { return &p.linAmp }},
			{name: "offset", lo: -1, hi: 1, ptr: func(p *CBC) *Sweep { return &p.offset }},
		},
	)

	// velocity and displacement cannot both be taken from an external input.
	s.pre["velocity_external"] = func(p *CBC, v any) {
		if b, ok := v.(bool); ok && b {
			p.dispExt = false
		}
	}
	s.pre["displacement_external"] = func(p *CBC, v any) {
		if b, ok := v.(bool); ok && b {
			p.velExt = false
		}
	}
	return s
}()

// NewCBC returns a CBC parameter set targeting the displacement, with
// first-order input.
func NewCBC(opts ...Option) *CBC {
	cfg := newConfig("params", opts)
	return &CBC{
		target: Displacement,
		order:  1,
		msg:    cfg.msg,
	}
}

func (p *CBC) VelocityExternal() bool     { return p.velExt }
func (p *CBC) DisplacementExternal() bool { return p.dispExt }
func (p *CBC) PolynomialTarget() Target   { return p.target }
func (p *CBC) InputOrder() int            { return p.order }

// Sweep returns the sweep triple of the named sweepable field.
func (p *CBC) Sweep(name string) (Sweep, bool) {
	if !cbcSchema.sweepable(name) {
		return Sweep{}, false
	}
	v, _ := cbcSchema.get(p, name)
	return v.(Sweep), true
}

// Set validates and sets the value of key.
func (p *CBC) Set(key string, v any) error {
	return cbcSchema.set(p, key, v, p.msg)
}

// SetSweepable sets a sweepable field from a scalar or a 2-element range.
func (p *CBC) SetSweepable(name string, input any) error {
	return cbcSchema.setSweepable(p, name, input, p.msg)
}

// Get returns the value of key.
func (p *CBC) Get(key string) (any, error) {
	return cbcSchema.get(p, key)
}

// Keys returns the sorted list of keys of a CBC parameter set.
func (*CBC) Keys() []string { return cbcSchema.keys() }

// Sweepable returns whether name is a sweepable field.
func (*CBC) Sweepable(name string) bool { return cbcSchema.sweepable(name) }

// Clone returns a copy of the parameter set.
func (p *CBC) Clone() *CBC {
	o := *p
	return &o
}
