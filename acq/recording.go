// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package acq

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/rpcbc/params"
	"gonum.org/v1/gonum/stat"
)

// Format is the layout of a sample record.
type Format uint8

const (
	Signed   Format = iota // 2x int16, two-channel ADC
	Unsigned               // 2x uint16
)

func (f Format) String() string {
	switch f {
	case Signed:
		return "i16"
	case Unsigned:
		return "u16"
	default:
		return fmt.Sprintf("Format(%d)", uint8(f))
	}
}

// ParseFormat parses a sample format name ("i16" or "u16").
func ParseFormat(s string) (Format, error) {
	switch s {
	case "i16", "signed":
		return Signed, nil
	case "u16", "unsigned":
		return Unsigned, nil
	}
	return 0, fmt.Errorf("acq: invalid sample format %q", s)
}

// Sample is one sample record.
type Sample struct {
	CH1 int32
	CH2 int32
}

// Recording is a decoded acquisition.
type Recording struct {
	Format  Format
	Rate    float64 // sampling frequency in Hz
	Samples []Sample
}

// Decode decodes a little-endian sample stream.
func Decode(raw []byte, f Format) ([]Sample, error) {
	if len(raw)%params.SampleSize != 0 {
		return nil, fmt.Errorf("acq: invalid payload size %d (not a multiple of %d)", len(raw), params.SampleSize)
	}

	samples := make([]Sample, len(raw)/params.SampleSize)
	for i := range samples {
		var (
			v1 = binary.LittleEndian.Uint16(raw[4*i:])
			v2 = binary.LittleEndian.Uint16(raw[4*i+2:])
		)
		switch f {
		case Signed:
			samples[i] = Sample{CH1: int32(int16(v1)), CH2: int32(int16(v2))}
		case Unsigned:
			samples[i] = Sample{CH1: int32(v1), CH2: int32(v2)}
		default:
			return nil, fmt.Errorf("acq: invalid sample format %v", f)
		}
	}
	return samples, nil
}

// Duration returns the duration of the recording in seconds.
func (rec *Recording) Duration() float64 {
	if rec.Rate <= 0 {
		return 0
	}
	return float64(len(rec.Samples)) / rec.Rate
}

// Channel returns the samples of input channel i (1 or 2).
func (rec *Recording) Channel(i int) []float64 {
	vs := make([]float64, len(rec.Samples))
	for j, s := range rec.Samples {
		switch i {
		case 1:
			vs[j] = float64(s.CH1)
		case 2:
			vs[j] = float64(s.CH2)
		default:
			panic(fmt.Errorf("acq: invalid channel %d", i))
		}
	}
	return vs
}

// Stat holds summary statistics of one channel.
type Stat struct {
	Mean   float64
	StdDev float64
}

// Stats returns the summary statistics of both channels.
func (rec *Recording) Stats() [2]Stat {
	var o [2]Stat
	for i := range o {
		mean, std := stat.MeanStdDev(rec.Channel(i+1), nil)
		o[i] = Stat{Mean: mean, StdDev: std}
	}
	return o
}
