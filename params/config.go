// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package params

import (
	"fmt"
	"strings"
)

// Config is the complete configuration surface of a board:
// system parameters, both output channels and the CBC controller.
type Config struct {
	System *System
	CH1    *Channel
	CH2    *Channel
	CBC    *CBC

	// CBCEnabled switches both output channels off and hands the outputs
	// over to the CBC controller.
	CBCEnabled bool
}

// NewConfig returns the default configuration.
// The second channel reads from input channel 2.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		System: NewSystem(opts...),
		CH1:    NewChannel(opts...),
		CH2:    NewChannel(opts...),
		CBC:    NewCBC(opts...),
	}
	cfg.CH2.input = 2
	return cfg
}

// Channel returns the parameter set of output channel i (1 or 2).
func (cfg Config) Channel(i int) (*Channel, error) {
	switch i {
	case 1:
		return cfg.CH1, nil
	case 2:
		return cfg.CH2, nil
	default:
		return nil, fmt.Errorf("%w: invalid channel %d", ErrOutOfRange, i)
	}
}

// Clone returns a deep copy of the configuration.
func (cfg Config) Clone() Config {
	return Config{
		System:     cfg.System.Clone(),
		CH1:        cfg.CH1.Clone(),
		CH2:        cfg.CH2.Clone(),
		CBC:        cfg.CBC.Clone(),
		CBCEnabled: cfg.CBCEnabled,
	}
}

type setter interface {
	Set(key string, v any) error
	Get(key string) (any, error)
}

func (cfg *Config) lookup(key string) (setter, string, error) {
	sec, name, ok := strings.Cut(key, ".")
	if !ok {
		return nil, "", fmt.Errorf("%w %q (want section.key)", ErrUnknownKey, key)
	}
	switch sec {
	case "system":
		return cfg.System, name, nil
	case "ch1":
		return cfg.CH1, name, nil
	case "ch2":
		return cfg.CH2, name, nil
	case "cbc":
		return cfg.CBC, name, nil
	default:
		return nil, "", fmt.Errorf("%w %q (unknown section %q)", ErrUnknownKey, key, sec)
	}
}

// Set validates and sets a dotted key, e.g. "ch1.frequency" or
// "system.ip_address". "cbc.enabled" toggles CBCEnabled.
func (cfg *Config) Set(key string, v any) error {
	if key == "cbc.enabled" {
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("params: could not set %s: %w: got %T, want bool", key, ErrType, v)
		}
		cfg.CBCEnabled = b
		return nil
	}
	p, name, err := cfg.lookup(key)
	if err != nil {
		return err
	}
	return p.Set(name, v)
}

// SetSweepable sets a dotted sweepable key from a scalar or a range.
func (cfg *Config) SetSweepable(key string, input any) error {
	sec, name, _ := strings.Cut(key, ".")
	switch sec {
	case "ch1":
		return cfg.CH1.SetSweepable(name, input)
	case "ch2":
		return cfg.CH2.SetSweepable(name, input)
	case "cbc":
		return cfg.CBC.SetSweepable(name, input)
	default:
		return fmt.Errorf("%w %q (not sweepable)", ErrUnknownKey, key)
	}
}

// Get returns the value of a dotted key.
func (cfg *Config) Get(key string) (any, error) {
	if key == "cbc.enabled" {
		return cfg.CBCEnabled, nil
	}
	p, name, err := cfg.lookup(key)
	if err != nil {
		return nil, err
	}
	return p.Get(name)
}

// Sweepable returns whether the dotted key names a sweepable field.
func (cfg *Config) Sweepable(key string) bool {
	sec, name, _ := strings.Cut(key, ".")
	switch sec {
	case "ch1", "ch2":
		return channelSchema.sweepable(name)
	case "cbc":
		return cbcSchema.sweepable(name)
	}
	return false
}

// Keys returns all dotted keys of the configuration.
func (cfg *Config) Keys() []string {
	var keys []string
	add := func(sec string, names []string) {
		for _, name := range names {
			keys = append(keys, sec+"."+name)
		}
	}
	add("system", systemSchema.keys())
	add("ch1", channelSchema.keys())
	add("ch2", channelSchema.keys())
	add("cbc", append([]string{"enabled"}, cbcSchema.keys()...))
	return keys
}
