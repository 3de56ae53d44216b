// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regmap

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-lpc/rpcbc/params"
)

var (
	ErrUnsupportedMode = errors.New("regmap: unsupported mode")
	ErrMissingField    = errors.New("regmap: missing field")
)

type op uint8

const (
	opLiteral  op = iota // literal value
	opCopy               // field copy
	opConv               // conversion of one field
	opInterval           // ramp interval of a sweep triple
)

type conv uint8

const (
	convNone conv = iota
	convPhase
	convQ16
)

func (c conv) fn() func(float64) int32 {
	switch c {
	case convPhase:
		return FreqToPhase
	case convQ16:
		return Q16
	}
	return nil
}

// entry is one register assignment of a mapping table.
// args name fields of the parameter set, or of the system set when
// prefixed with "system.".
type entry struct {
	op   op
	val  int32
	conv conv
	args []string
}

func literal(v int32) entry         { return entry{op: opLiteral, val: v} }
func copyOf(key string) entry       { return entry{op: opCopy, args: []string{key}} }
func phase(key string) entry        { return entry{op: opConv, conv: convPhase, args: []string{key}} }
func q16(key string) entry          { return entry{op: opConv, conv: convQ16, args: []string{key}} }
func phaseInterval(sw string) entry { return interval(convPhase, sw) }
func q16Interval(sw string) entry   { return interval(convQ16, sw) }

func interval(c conv, sw string) entry {
	return entry{
		op:   opInterval,
		conv: c,
		args: []string{sw + "_start", sw + "_stop", sw + "_sweep", "system.recording_duration"},
	}
}

// table is the mapping table of one mode. Missing trailing entries are zero.
type table []entry

var channelTables = [...]table{
	params.FixedFrequency: {
		phase("frequency_start"),
		q16("reference_amplitude_start"),
		q16("offset_start"),
	},
	params.FrequencySweep: {
		phase("frequency_start"),
		phase("frequency_stop"),
		phaseInterval("frequency"),
		q16("reference_amplitude_start"),
		q16("offset_start"),
	},
	params.ArtificialNonlinearity: {
		q16("linear_amplitude_start"),
		q16("quadratic_amplitude_start"),
		q16("cubic_amplitude_start"),
		q16("offset_start"),
	},
	params.ArtificialNonlinearityParametric: {
		q16("linear_amplitude_start"),
		q16("quadratic_amplitude_start"),
		q16("cubic_amplitude_start"),
		phase("frequency_start"),
		q16("reference_amplitude_start"),
		q16("offset_start"),
	},
	params.Cubic: {
		q16("cubic_amplitude_start"),
		q16("cubic_amplitude_stop"),
		q16Interval("cubic_amplitude"),
		q16("offset_start"),
	},
	params.LinearFeedback: {
		q16("linear_amplitude_start"),
		q16("linear_amplitude_stop"),
		q16Interval("linear_amplitude"),
		q16("offset_start"),
	},
	params.WhiteNoise: {
		q16("reference_amplitude_start"),
		q16("offset_start"),
	},
	params.Off: {
		literal(0),
	},
}

var cbcTable = table{
	phase("frequency_start"),
	phase("frequency_stop"),
	phaseInterval("frequency"),
	q16("reference_amplitude_start"),
	q16("reference_amplitude_stop"),
	q16Interval("reference_amplitude"),
	q16("cubic_amplitude_start"),
	q16("cubic_amplitude_stop"),
	q16("quadratic_amplitude_start"),
	q16("quadratic_amplitude_stop"),
	q16("linear_amplitude_start"),
	q16("linear_amplitude_stop"),
	q16("offset_start"),
	q16("offset_stop"),
}

// getter is a parameter set whose fields are addressable by name.
type getter interface {
	Get(key string) (any, error)
}

// env resolves the named arguments of a mapping table.
type env struct {
	set getter
	sys *params.System
}

func (e env) get(key string) (any, error) {
	var (
		src  = e.set
		name = key
	)
	if k, ok := strings.CutPrefix(key, "system."); ok {
		src, name = e.sys, k
	}
	v, err := src.Get(name)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrMissingField, key, err)
	}
	return v, nil
}

func (e env) float(key string) (float64, error) {
	v, err := e.get(key)
	if err != nil {
		return 0, err
	}
	switch v := v.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("regmap: field %q is not numeric (%T)", key, v)
}

func (e env) flag(key string) (bool, error) {
	v, err := e.get(key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("regmap: field %q is not a flag (%T)", key, v)
	}
	return b, nil
}

func (ent entry) eval(e env) (int32, error) {
	switch ent.op {
	case opLiteral:
		return ent.val, nil

	case opCopy:
		v, err := e.float(ent.args[0])
		if err != nil {
			return 0, err
		}
		return saturate(math.Trunc(v)), nil

	case opConv:
		v, err := e.float(ent.args[0])
		if err != nil {
			return 0, err
		}
		return ent.conv.fn()(v), nil

	case opInterval:
		var (
			sw  params.Sweep
			dur float64
			err error
		)
		if sw.Start, err = e.float(ent.args[0]); err != nil {
			return 0, err
		}
		if sw.Stop, err = e.float(ent.args[1]); err != nil {
			return 0, err
		}
		if sw.Sweep, err = e.flag(ent.args[2]); err != nil {
			return 0, err
		}
		if dur, err = e.float(ent.args[3]); err != nil {
			return 0, err
		}
		return IntervalIfSweep(sw, dur, ent.conv.fn()), nil
	}
	panic(fmt.Errorf("regmap: invalid table op %d", ent.op))
}

// fill evaluates the table into dst, the registers starting at Parameter_<base>.
func (tbl table) fill(dst []int32, base int, e env) error {
	if len(tbl) > len(dst) {
		return fmt.Errorf("regmap: table too large (%d > %d registers)", len(tbl), len(dst))
	}
	for i, ent := range tbl {
		v, err := ent.eval(e)
		if err != nil {
			return fmt.Errorf("regmap: could not evaluate %s: %w", names[4+base+i], err)
		}
		dst[i] = v
	}
	for i := len(tbl); i < len(dst); i++ {
		dst[i] = 0
	}
	return nil
}
