// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package params holds the schema-constrained parameter sets used to
// configure a RedPitaya CBC board: one set per output channel, one set for
// the combined-feedback (CBC) controller and one set of system parameters.
//
// The key set of every parameter set is fixed. Values are validated against
// their declared type and bound (or enumeration) when they are written.
package params // import "github.com/go-lpc/rpcbc/params"

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
	"sort"

	"github.com/go-daq/tdaq/log"
)

// ClockHz is the FPGA master clock frequency.
const ClockHz = 125_000_000

var (
	ErrUnknownKey = errors.New("params: unknown key")
	ErrType       = errors.New("params: invalid value type")
	ErrOutOfRange = errors.New("params: value out of range")
)

// Sweep is a sweep triple.
// When Sweep is false, only Start is meaningful.
type Sweep struct {
	Start float64
	Stop  float64
	Sweep bool
}

func (sw Sweep) String() string {
	if !sw.Sweep {
		return fmt.Sprintf("%g", sw.Start)
	}
	return fmt.Sprintf("[%g, %g]", sw.Start, sw.Stop)
}

// Option configures a parameter set.
type Option func(*config)

type config struct {
	msg log.MsgStream
}

func newConfig(name string, opts []Option) config {
	cfg := config{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.NewMsgStream(name, log.LvlInfo, os.Stderr)
	}
	return cfg
}

// WithMsgStream sets the stream where warning events are reported.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

type kind uint8

const (
	kindFloat kind = iota
	kindInt
	kindBool
	kindEnum
	kindIPv4
)

func (k kind) String() string {
	switch k {
	case kindFloat:
		return "float"
	case kindInt:
		return "int"
	case kindBool:
		return "bool"
	case kindEnum:
		return "enum"
	case kindIPv4:
		return "ipv4"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type field[T any] struct {
	name string
	kind kind
	lo   float64
	hi   float64
	enum []string

	get func(p *T) any
	set func(p *T, v any)
}

type sweepField[T any] struct {
	name string
	lo   float64
	hi   float64
	ptr  func(p *T) *Sweep
}

// schema describes the closed key set of a parameter set of type T.
type schema[T any] struct {
	name   string
	fields []field[T]
	sweeps []sweepField[T]
	index  map[string]int
	swidx  map[string]int

	// pre holds hooks run before the type and bound checks of a key.
	pre map[string]func(p *T, v any)
}

func newSchema[T any](name string, fields []field[T], sweeps []sweepField[T]) *schema[T] {
	s := &schema[T]{
		name:   name,
		sweeps: sweeps,
		index:  make(map[string]int),
		swidx:  make(map[string]int),
		pre:    make(map[string]func(p *T, v any)),
	}
	s.fields = append(s.fields, fields...)
	for i := range sweeps {
		sw := sweeps[i]
		s.swidx[sw.name] = i
		s.fields = append(s.fields,
			field[T]{
				name: sw.name + "_start", kind: kindFloat, lo: sw.lo, hi: sw.hi,
				get: func(p *T) any { return sw.ptr(p).Start },
				set: func(p *T, v any) { sw.ptr(p).Start = v.(float64) },
			},
			field[T]{
				name: sw.name + "_stop", kind: kindFloat, lo: sw.lo, hi: sw.hi,
				get: func(p *T) any { return sw.ptr(p).Stop },
				set: func(p *T, v any) { sw.ptr(p).Stop = v.(float64) },
			},
			field[T]{
				name: sw.name + "_sweep", kind: kindBool,
				get: func(p *T) any { return sw.ptr(p).Sweep },
				set: func(p *T, v any) { sw.ptr(p).Sweep = v.(bool) },
			},
		)
	}
	for i, f := range s.fields {
		if _, dup := s.index[f.name]; dup {
			panic(fmt.Errorf("params: duplicate key %q in %s schema", f.name, name))
		}
		s.index[f.name] = i
	}
	return s
}

func (s *schema[T]) keys() []string {
	keys := make([]string, 0, len(s.fields)+len(s.sweeps))
	for _, f := range s.fields {
		keys = append(keys, f.name)
	}
	for _, sw := range s.sweeps {
		keys = append(keys, sw.name)
	}
	sort.Strings(keys)
	return keys
}

func (s *schema[T]) sweepable(name string) bool {
	_, ok := s.swidx[name]
	return ok
}

func (s *schema[T]) get(p *T, key string) (any, error) {
	if i, ok := s.swidx[key]; ok {
		return *s.sweeps[i].ptr(p), nil
	}
	i, ok := s.index[key]
	if !ok {
		return nil, fmt.Errorf("%w %q in %s set", ErrUnknownKey, key, s.name)
	}
	return s.fields[i].get(p), nil
}

func (s *schema[T]) set(p *T, key string, v any, msg log.MsgStream) error {
	if s.sweepable(key) {
		return s.setSweepable(p, key, v, msg)
	}
	i, ok := s.index[key]
	if !ok {
		return fmt.Errorf("%w %q in %s set", ErrUnknownKey, key, s.name)
	}
	if hook, ok := s.pre[key]; ok {
		hook(p, v)
	}
	f := &s.fields[i]
	nv, err := f.check(v)
	if err != nil {
		return fmt.Errorf("params: could not set %s.%s: %w", s.name, key, err)
	}
	f.set(p, nv)
	return nil
}

func (s *schema[T]) setSweepable(p *T, name string, input any, msg log.MsgStream) error {
	i, ok := s.swidx[name]
	if !ok {
		return fmt.Errorf("%w %q in %s set (not sweepable)", ErrUnknownKey, name, s.name)
	}
	sw := &s.sweeps[i]

	vs, err := sweepInput(input)
	if err != nil {
		return fmt.Errorf("params: could not set %s.%s: %w", s.name, name, err)
	}
	if len(vs) > 2 {
		msg.Warnf("%s.%s: sweep input has %d elements, keeping the first two", s.name, name, len(vs))
		vs = vs[:2]
	}
	for _, x := range vs {
		if math.IsNaN(x) || x < sw.lo || x > sw.hi {
			return fmt.Errorf(
				"params: could not set %s.%s: %w: %v not in [%v, %v]",
				s.name, name, ErrOutOfRange, x, sw.lo, sw.hi,
			)
		}
	}

	var val Sweep
	switch {
	case len(vs) == 1:
		val = Sweep{Start: vs[0]}
	case vs[0] == vs[1]:
		msg.Warnf("%s.%s: degenerate range [%v, %v], sweep disabled", s.name, name, vs[0], vs[1])
		val = Sweep{Start: vs[0]}
	default:
		val = Sweep{Start: vs[0], Stop: vs[1], Sweep: true}
	}
	*sw.ptr(p) = val
	return nil
}

func (f *field[T]) check(v any) (any, error) {
	switch f.kind {
	case kindFloat:
		x, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %v", ErrType, v, f.kind)
		}
		if math.IsNaN(x) || x < f.lo || x > f.hi {
			return nil, fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfRange, x, f.lo, f.hi)
		}
		return x, nil

	case kindInt:
		x, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %v", ErrType, v, f.kind)
		}
		if float64(x) < f.lo || float64(x) > f.hi {
			return nil, fmt.Errorf("%w: %d not in [%v, %v]", ErrOutOfRange, x, f.lo, f.hi)
		}
		return x, nil

	case kindBool:
		x, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %v", ErrType, v, f.kind)
		}
		return x, nil

	case kindEnum:
		x, ok := toString(v)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %v", ErrType, v, f.kind)
		}
		for _, e := range f.enum {
			if e == x {
				return x, nil
			}
		}
		return nil, fmt.Errorf("%w: %q not in %q", ErrOutOfRange, x, f.enum)

	case kindIPv4:
		x, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: got %T, want %v", ErrType, v, f.kind)
		}
		addr, err := netip.ParseAddr(x)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrOutOfRange, x)
		}
		return addr.String(), nil
	}
	panic(fmt.Errorf("params: invalid field kind %v", f.kind))
}

func toFloat(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	}
	return 0, false
}

func toString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	}
	return "", false
}

// sweepInput normalizes a sweep input (a scalar or a sequence of numbers)
// into a slice of floats.
func sweepInput(input any) ([]float64, error) {
	if x, ok := toFloat(input); ok {
		return []float64{x}, nil
	}

	var vs []float64
	switch input := input.(type) {
	case []float64:
		vs = append(vs, input...)
	case [2]float64:
		vs = append(vs, input[:]...)
	case []float32:
		for _, x := range input {
			vs = append(vs, float64(x))
		}
	case []int:
		for _, x := range input {
			vs = append(vs, float64(x))
		}
	case [2]int:
		vs = append(vs, float64(input[0]), float64(input[1]))
	case []any:
		for _, x := range input {
			v, ok := toFloat(x)
			if !ok {
				return nil, fmt.Errorf("%w: sweep element %T is not a number", ErrType, x)
			}
			vs = append(vs, v)
		}
	default:
		return nil, fmt.Errorf("%w: got %T, want scalar or range", ErrType, input)
	}
	if len(vs) == 0 {
		return nil, fmt.Errorf("%w: empty sweep input", ErrType)
	}
	return vs, nil
}
