// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regmap

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/go-lpc/rpcbc/params"
)

func TestFreqToPhase(t *testing.T) {
	for _, tc := range []struct {
		f    float64
		want int32
	}{
		{0, 0},
		{1e6, 8589935},
		{2e6, 17179869},
		{params.ClockHz / 4, 1 << 28},
		{params.ClockHz / 2, MaxPhase},
		{params.ClockHz, MaxPhase},
		{-params.ClockHz, MinPhase},
		{math.NaN(), 0},
	} {
		got := FreqToPhase(tc.f)
		if got != tc.want {
			t.Fatalf("freq-to-phase(%v): got=%d, want=%d", tc.f, got, tc.want)
		}
	}

	prev := FreqToPhase(0)
	for f := 0.0; f <= params.ClockHz/2; f += 12345.6 {
		cur := FreqToPhase(f)
		if cur < prev {
			t.Fatalf("freq-to-phase not monotonic at f=%v: %d < %d", f, cur, prev)
		}
		prev = cur
	}
}

func TestRangeToInterval(t *testing.T) {
	for _, tc := range []struct {
		start, stop, dur float64
		want             int32
	}{
		{0, 0, 1, 0},
		{42, 42, 10, 0},
		{0, params.ClockHz, 1, 1},
		{0, 1, 1, params.ClockHz},
		{1, 0, 1, -params.ClockHz},
		{0, 3, 1, 41666666},
		{0, 1e-9, 60, math.MaxInt32},
		{1e-9, 0, 60, math.MinInt32},
	} {
		got := RangeToInterval(tc.start, tc.stop, tc.dur)
		if got != tc.want {
			t.Fatalf("range-to-interval(%v, %v, %v): got=%d, want=%d",
				tc.start, tc.stop, tc.dur, got, tc.want,
			)
		}
	}
}

func TestIntervalIfSweep(t *testing.T) {
	for _, tc := range []struct {
		name string
		sw   params.Sweep
		dur  float64
		conv func(float64) int32
		want int32
	}{
		{name: "no-sweep", sw: params.Sweep{Start: 1, Stop: 2}, dur: 1, want: 0},
		{name: "degenerate", sw: params.Sweep{Start: 1, Stop: 1, Sweep: true}, dur: 1, want: 0},
		{name: "degenerate-conv", sw: params.Sweep{Start: 1e6, Stop: 1e6, Sweep: true}, dur: 1, conv: FreqToPhase, want: 0},
		{name: "raw", sw: params.Sweep{Start: 0, Stop: 1, Sweep: true}, dur: 2, want: 2 * params.ClockHz},
		{name: "q16", sw: params.Sweep{Start: 0, Stop: 1, Sweep: true}, dur: 1, conv: Q16, want: 1907},
		{name: "phase", sw: params.Sweep{Start: 1e6, Stop: 2e6, Sweep: true}, dur: 1, conv: FreqToPhase, want: 14},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := IntervalIfSweep(tc.sw, tc.dur, tc.conv)
			if got != tc.want {
				t.Fatalf("invalid interval: got=%d, want=%d", got, tc.want)
			}
		})
	}
}

func TestQ16(t *testing.T) {
	for _, tc := range []struct {
		x    float64
		want int32
	}{
		{0, 0},
		{1, 1 << 16},
		{-1, -1 << 16},
		{0.5, 1 << 15},
		{-0.25, -1 << 14},
		{1.5e-5, 0},
		{-1.5e-5, 0},
		{32767, 32767 << 16},
		{32768, math.MaxInt32},
		{-32768, math.MinInt32},
		{1e12, math.MaxInt32},
		{-1e12, math.MinInt32},
		{math.Inf(+1), math.MaxInt32},
		{math.NaN(), 0},
	} {
		got := Q16(tc.x)
		if got != tc.want {
			t.Fatalf("q16(%v): got=%d, want=%d", tc.x, got, tc.want)
		}
	}
}

func TestSettingsBytes(t *testing.T) {
	for _, tc := range []struct {
		mode  params.Mode
		input int
		want  uint8
	}{
		{params.FixedFrequency, 1, 0x00},
		{params.FixedFrequency, 2, 0x01},
		{params.Cubic, 2, 0x09},
		{params.WhiteNoise, 1, 0x0c},
		{params.Off, 1, 0x0e},
		{params.Off, 2, 0x0f},
	} {
		got := ChannelSettingsByte(tc.mode, tc.input)
		if got != tc.want {
			t.Fatalf("settings(%v, %d): got=0x%02x, want=0x%02x", tc.mode, tc.input, got, tc.want)
		}
	}

	cbc := params.NewCBC()
	if got, want := CBCSettingsByte(cbc), uint8(0); got != want {
		t.Fatalf("invalid default CBC byte: got=0x%02x, want=0x%02x", got, want)
	}
	for _, kv := range []struct {
		k string
		v any
	}{
		{"input_order", 2},
		{"velocity_external", true},
		{"polynomial_target", "velocity"},
	} {
		if err := cbc.Set(kv.k, kv.v); err != nil {
			t.Fatalf("could not set %s: %+v", kv.k, err)
		}
	}
	if got, want := CBCSettingsByte(cbc), uint8(0x0b); got != want {
		t.Fatalf("invalid CBC byte: got=0x%02x, want=0x%02x", got, want)
	}
	if err := cbc.Set("displacement_external", true); err != nil {
		t.Fatalf("could not set displacement_external: %+v", err)
	}
	if got, want := CBCSettingsByte(cbc), uint8(0x0d); got != want {
		t.Fatalf("invalid CBC byte: got=0x%02x, want=0x%02x", got, want)
	}

	sys := params.NewSystem()
	if got, want := SystemByte(sys), uint8(0); got != want {
		t.Fatalf("invalid system byte: got=0x%02x, want=0x%02x", got, want)
	}
	_ = sys.Set("continuous_output", true)
	_ = sys.Set("sampling_rate", "slow")
	if got, want := SystemByte(sys), uint8(0x06); got != want {
		t.Fatalf("invalid system byte: got=0x%02x, want=0x%02x", got, want)
	}
}

func TestImageWire(t *testing.T) {
	img := Image{System: 0x03, CH1: 0x0e, CH2: 0x0f, CBC: 0x0b}
	img.Params[0] = -1
	img.Params[13] = 0x01020304

	raw, err := img.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal image: %+v", err)
	}
	if got, want := len(raw), ImageSize; got != want {
		t.Fatalf("invalid image size: got=%d, want=%d", got, want)
	}
	if got, want := ImageSize, 60; got != want {
		t.Fatalf("invalid image size constant: got=%d, want=%d", got, want)
	}
	for _, tc := range []struct {
		off  int
		want []byte
	}{
		{0, []byte{0x03, 0x0e, 0x0f, 0x0b}},
		{4, []byte{0xff, 0xff, 0xff, 0xff}},
		{8, []byte{0, 0, 0, 0}},
		{56, []byte{0x04, 0x03, 0x02, 0x01}},
	} {
		got := raw[tc.off : tc.off+len(tc.want)]
		if !bytes.Equal(got, tc.want) {
			t.Fatalf("invalid bytes at %d: got=% x, want=% x", tc.off, got, tc.want)
		}
	}

	var back Image
	err = back.UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("could not unmarshal image: %+v", err)
	}
	if back != img {
		t.Fatalf("round-trip failed:\ngot= %v\nwant=%v", back, img)
	}

	err = back.UnmarshalBinary(raw[:59])
	if err == nil {
		t.Fatalf("expected an error on short image")
	}
}

func TestImageRegisters(t *testing.T) {
	names := Names()
	if got, want := len(names), 4+NumParams; got != want {
		t.Fatalf("invalid number of registers: got=%d, want=%d", got, want)
	}
	if got, want := names[len(names)-1], "Parameter_N"; got != want {
		t.Fatalf("invalid last register: got=%q, want=%q", got, want)
	}

	var img Image
	img.CBC = 7
	for i := range img.Params {
		img.Params[i] = int32(100 + i)
	}

	for _, tc := range []struct {
		name string
		want int32
		err  bool
	}{
		{name: "CBC_settings", want: 7},
		{name: "Parameter_A", want: 100},
		{name: "Parameter_H", want: 107},
		{name: "Parameter_N", want: 113},
		{name: "Parameter_O", err: true},
		{name: "Parameter_", err: true},
		{name: "trigger", err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := img.Register(tc.name)
			switch {
			case tc.err:
				if err == nil {
					t.Fatalf("expected an error")
				}
				return
			case err != nil:
				t.Fatalf("could not read register: %+v", err)
			}
			if got != tc.want {
				t.Fatalf("invalid value: got=%d, want=%d", got, tc.want)
			}
		})
	}

	trig := img.WithTrigger(true)
	if !trig.Trigger() || img.Trigger() {
		t.Fatalf("with-trigger must return a modified copy")
	}
	if trig.WithTrigger(false) != img {
		t.Fatalf("trigger bit not cleared")
	}
}

func newConfig(t *testing.T, kvs ...any) params.Config {
	t.Helper()
	cfg := params.NewConfig()
	for i := 0; i < len(kvs); i += 2 {
		key := kvs[i].(string)
		err := cfg.Set(key, kvs[i+1])
		if err != nil {
			t.Fatalf("could not set %s: %+v", key, err)
		}
	}
	return cfg
}

func TestMap(t *testing.T) {
	for _, tc := range []struct {
		name string
		kvs  []any
		want [ChannelParams]int32
		set  uint8
	}{
		{
			name: "off",
			want: [ChannelParams]int32{},
			set:  0x0e,
		},
		{
			name: "fixed-frequency",
			kvs: []any{
				"ch1.mode", "fixed_frequency",
				"ch1.frequency", 1e6,
				"ch1.reference_amplitude", 0.5,
				"ch1.offset", -0.25,
			},
			want: [ChannelParams]int32{8589935, 1 << 15, -1 << 14},
			set:  0x00,
		},
		{
			name: "frequency-sweep",
			kvs: []any{
				"ch1.mode", "frequency_sweep",
				"ch1.frequency", []float64{1e6, 2e6},
				"ch1.reference_amplitude", 1,
				"ch1.input_channel", 2,
			},
			want: [ChannelParams]int32{8589935, 17179869, 14, 1 << 16, 0},
			set:  0x03,
		},
		{
			name: "frequency-sweep-disabled",
			kvs: []any{
				"ch1.mode", "frequency_sweep",
				"ch1.frequency", []float64{1e6, 1e6},
			},
			want: [ChannelParams]int32{8589935, 0, 0, 0, 0},
			set:  0x02,
		},
		{
			name: "artificial-nonlinearity",
			kvs: []any{
				"ch1.mode", "artificial_nonlinearity",
				"ch1.linear_amplitude", 1,
				"ch1.quadratic_amplitude", -2,
				"ch1.cubic_amplitude", 0.5,
				"ch1.offset", 0.5,
			},
			want: [ChannelParams]int32{1 << 16, -2 << 16, 1 << 15, 1 << 15},
			set:  0x04,
		},
		{
			name: "artificial-nonlinearity-parametric",
			kvs: []any{
				"ch1.mode", "artificial_nonlinearity_parametric",
				"ch1.linear_amplitude", 1,
				"ch1.frequency", 1e6,
				"ch1.reference_amplitude", 0.25,
			},
			want: [ChannelParams]int32{1 << 16, 0, 0, 8589935, 1 << 14, 0},
			set:  0x06,
		},
		{
			name: "cubic",
			kvs: []any{
				"ch1.mode", "cubic",
				"ch1.cubic_amplitude", []float64{0, 1},
			},
			want: [ChannelParams]int32{0, 1 << 16, 1907, 0},
			set:  0x08,
		},
		{
			name: "linear-feedback",
			kvs: []any{
				"ch1.mode", "linear_feedback",
				"ch1.linear_amplitude", []float64{0, 1},
				"system.recording_duration", 2,
			},
			want: [ChannelParams]int32{0, 1 << 16, 3814, 0},
			set:  0x0a,
		},
		{
			name: "white-noise",
			kvs: []any{
				"ch1.mode", "white_noise",
				"ch1.reference_amplitude", 1,
				"ch1.offset", -1,
			},
			want: [ChannelParams]int32{1 << 16, -1 << 16},
			set:  0x0c,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newConfig(t, tc.kvs...)

			img, err := Map(1, cfg.CH1, cfg.System)
			if err != nil {
				t.Fatalf("could not map channel: %+v", err)
			}
			if got, want := img.CH1, tc.set; got != want {
				t.Fatalf("invalid CH1 settings: got=0x%02x, want=0x%02x", got, want)
			}
			if got := [ChannelParams]int32(img.Params[:ChannelParams]); got != tc.want {
				t.Fatalf("invalid CH1 registers:\ngot= %v\nwant=%v", got, tc.want)
			}
			if got := [ChannelParams]int32(img.Params[ChannelParams:]); got != [ChannelParams]int32{} {
				t.Fatalf("CH1 mapping leaked into CH2 registers: %v", got)
			}

			img, err = Map(2, cfg.CH1, cfg.System)
			if err != nil {
				t.Fatalf("could not map channel: %+v", err)
			}
			if got, want := img.CH2, tc.set; got != want {
				t.Fatalf("invalid CH2 settings: got=0x%02x, want=0x%02x", got, want)
			}
			if got := [ChannelParams]int32(img.Params[ChannelParams:]); got != tc.want {
				t.Fatalf("invalid CH2 registers:\ngot= %v\nwant=%v", got, tc.want)
			}
		})
	}
}

func TestMapErrors(t *testing.T) {
	cfg := params.NewConfig()

	_, err := Map(3, cfg.CH1, cfg.System)
	if err == nil {
		t.Fatalf("expected an error for channel 3")
	}

	t.Run("unsupported-mode", func(t *testing.T) {
		if err := cfg.Set("ch1.mode", "white_noise"); err != nil {
			t.Fatalf("could not set mode: %+v", err)
		}
		saved := channelTables[params.WhiteNoise]
		defer func() { channelTables[params.WhiteNoise] = saved }()
		channelTables[params.WhiteNoise] = nil

		_, err := Map(1, cfg.CH1, cfg.System)
		if !errors.Is(err, ErrUnsupportedMode) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnsupportedMode)
		}
		_, err = Project(cfg)
		if !errors.Is(err, ErrUnsupportedMode) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrUnsupportedMode)
		}
	})

	t.Run("missing-field", func(t *testing.T) {
		var (
			dst = make([]int32, 3)
			tbl = table{literal(1), q16("bogus_start"), literal(3)}
		)
		err := tbl.fill(dst, 0, env{set: cfg.CH1, sys: cfg.System})
		if !errors.Is(err, ErrMissingField) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrMissingField)
		}
		if !errors.Is(err, params.ErrUnknownKey) {
			t.Fatalf("missing cause: %+v", err)
		}

		tbl = table{q16Interval("mode")}
		err = tbl.fill(dst, 0, env{set: cfg.CH1, sys: cfg.System})
		if !errors.Is(err, ErrMissingField) {
			t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrMissingField)
		}
	})

	t.Run("copy", func(t *testing.T) {
		dst := []int32{-1, -1, -1, -1}
		tbl := table{copyOf("input_channel"), copyOf("offset_start"), copyOf("frequency_sweep")}
		if err := cfg.Set("ch2.offset_start", -0.75); err != nil {
			t.Fatalf("could not set offset: %+v", err)
		}
		err := tbl.fill(dst, 0, env{set: cfg.CH2, sys: cfg.System})
		if err != nil {
			t.Fatalf("could not fill table: %+v", err)
		}
		if got, want := dst, []int32{2, 0, 0, 0}; !equal(got, want) {
			t.Fatalf("invalid registers: got=%v, want=%v", got, want)
		}

		err = table{copyOf("mode")}.fill(dst, 0, env{set: cfg.CH2, sys: cfg.System})
		if err == nil {
			t.Fatalf("expected an error copying an enumeration")
		}
	})
}

func equal(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestMapCBC(t *testing.T) {
	cfg := newConfig(t,
		"cbc.enabled", true,
		"cbc.frequency", []float64{1e6, 2e6},
		"cbc.reference_amplitude", 0.5,
		"cbc.cubic_amplitude", []float64{-1, 1},
		"cbc.offset", []float64{0, 0.5},
		"cbc.input_order", 2,
		"ch1.mode", "cubic",
	)

	img, err := Project(cfg)
	if err != nil {
		t.Fatalf("could not project configuration: %+v", err)
	}

	// the channel input selectors do not leak into the CBC encoding.
	if err := cfg.Set("ch2.input_channel", 2); err != nil {
		t.Fatalf("could not set CH2 input: %+v", err)
	}
	direct, err := MapCBC(cfg.CBC, cfg.System)
	if err != nil {
		t.Fatalf("could not map CBC: %+v", err)
	}
	if direct != img {
		t.Fatalf("CBC images differ:\nproject=%v\nmap-cbc=%v", img, direct)
	}

	if got, want := img.CH1, uint8(0x0e); got != want {
		t.Fatalf("invalid CH1 settings: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.CH2, uint8(0x0e); got != want {
		t.Fatalf("invalid CH2 settings: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.CBC, CBCInputOrder2; got != want {
		t.Fatalf("invalid CBC settings: got=0x%02x, want=0x%02x", got, want)
	}

	want := [NumParams]int32{
		8589935, 17179869, 14,
		1 << 15, 0, 0,
		-1 << 16, 1 << 16,
		0, 0,
		0, 0,
		0, 1 << 15,
	}
	if img.Params != want {
		t.Fatalf("invalid CBC registers:\ngot= %v\nwant=%v", img.Params, want)
	}
}

func TestProject(t *testing.T) {
	cfg := newConfig(t,
		"system.continuous_output", true,
		"ch1.mode", "fixed_frequency",
		"ch1.frequency", 1e6,
		"ch2.mode", "linear_feedback",
		"ch2.linear_amplitude", []float64{0, 1},
		"cbc.velocity_external", true,
	)

	img, err := Project(cfg)
	if err != nil {
		t.Fatalf("could not project configuration: %+v", err)
	}
	if got, want := img.System, SysContinuous; got != want {
		t.Fatalf("invalid system: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.CH1, uint8(0x00); got != want {
		t.Fatalf("invalid CH1 settings: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.CH2, uint8(0x0b); got != want {
		t.Fatalf("invalid CH2 settings: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.CBC, CBCVelocityExt; got != want {
		t.Fatalf("CBC settings must always be written: got=0x%02x, want=0x%02x", got, want)
	}
	if got, want := img.Params[0], int32(8589935); got != want {
		t.Fatalf("invalid Parameter_A: got=%d, want=%d", got, want)
	}
	if got, want := img.Params[ChannelParams+1], int32(1<<16); got != want {
		t.Fatalf("invalid Parameter_I: got=%d, want=%d", got, want)
	}

	// re-deriving from an unchanged configuration yields the same bytes.
	raw1, _ := img.MarshalBinary()
	for i := 0; i < 3; i++ {
		again, err := Project(cfg.Clone())
		if err != nil {
			t.Fatalf("could not re-project configuration: %+v", err)
		}
		raw2, _ := again.MarshalBinary()
		if !bytes.Equal(raw1, raw2) {
			t.Fatalf("projection is not idempotent:\ngot= % x\nwant=% x", raw2, raw1)
		}
	}
}
