// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conf loads the configuration of a board and of its worker from
// an HCL file and from RPCBC_ environment variables.
//
// A configuration file looks like:
//
//	system {
//	  ip_address         = "192.168.1.100"
//	  sampling_rate      = "fast"
//	  recording_duration = 0.5
//	}
//	ch1 {
//	  mode      = "frequency_sweep"
//	  frequency = [1000, 2000]
//	}
//	cbc {
//	  enabled = false
//	}
//	worker {
//	  port = 5000
//	  tick = "100ms"
//	}
//
// Environment variables override the file: RPCBC_CH1_MODE=cubic sets
// ch1.mode.
package conf // import "github.com/go-lpc/rpcbc/internal/conf"

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-lpc/rpcbc/acq"
	"github.com/go-lpc/rpcbc/params"
	"github.com/knadh/koanf/parsers/hcl"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of the configuration environment variables.
const EnvPrefix = "RPCBC_"

// Worker holds the tunables of the acquisition worker.
type Worker struct {
	Port        int
	Tick        time.Duration
	Purge       time.Duration
	AckTimeout  time.Duration
	DialTimeout time.Duration
	ShmDir      string
	Format      acq.Format
}

// Options returns the controller options of the worker tunables.
func (w Worker) Options() []acq.Option {
	return []acq.Option{
		acq.WithPort(w.Port),
		acq.WithTick(w.Tick),
		acq.WithPurge(w.Purge),
		acq.WithAckTimeout(w.AckTimeout),
		acq.WithDialTimeout(w.DialTimeout),
		acq.WithShmDir(w.ShmDir),
		acq.WithFormat(w.Format),
	}
}

// Settings is a loaded configuration.
type Settings struct {
	Params params.Config
	Worker Worker
}

var workerKeys = map[string]bool{
	"worker.port":         true,
	"worker.tick":         true,
	"worker.purge":        true,
	"worker.ack_timeout":  true,
	"worker.dial_timeout": true,
	"worker.shm_dir":      true,
	"worker.format":       true,
}

// Load loads the configuration file at path, if any, then the environment.
func Load(path string, opts ...params.Option) (Settings, error) {
	k := koanf.New(".")
	if path != "" {
		err := k.Load(file.Provider(path), hcl.Parser(true))
		if err != nil {
			return Settings{}, fmt.Errorf("conf: could not load %q: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil)
	if err != nil {
		return Settings{}, fmt.Errorf("conf: could not load environment: %w", err)
	}

	return From(k, opts...)
}

// From builds the settings held by k. Every parameter goes through the
// validators of the parameter store.
func From(k *koanf.Koanf, opts ...params.Option) (Settings, error) {
	set := Settings{
		Params: params.NewConfig(opts...),
		Worker: Worker{
			Port:        acq.DefaultPort,
			Tick:        100 * time.Millisecond,
			Purge:       50 * time.Millisecond,
			DialTimeout: 5 * time.Second,
			ShmDir:      "/dev/shm",
			Format:      acq.Signed,
		},
	}

	for _, key := range k.Keys() {
		if strings.HasPrefix(key, "worker.") {
			if !workerKeys[key] {
				return set, fmt.Errorf("conf: unknown worker key %q", key)
			}
			continue
		}
		err := set.Params.Set(key, k.Get(key))
		if err != nil {
			return set, fmt.Errorf("conf: invalid %q: %w", key, err)
		}
	}

	w := &set.Worker
	if k.Exists("worker.port") {
		w.Port = k.Int("worker.port")
		if w.Port <= 0 || w.Port > 65535 {
			return set, fmt.Errorf("conf: invalid worker port %d", w.Port)
		}
	}
	for _, d := range []struct {
		key string
		ptr *time.Duration
	}{
		{"worker.tick", &w.Tick},
		{"worker.purge", &w.Purge},
		{"worker.ack_timeout", &w.AckTimeout},
		{"worker.dial_timeout", &w.DialTimeout},
	} {
		if !k.Exists(d.key) {
			continue
		}
		*d.ptr = k.Duration(d.key)
		if *d.ptr < 0 {
			return set, fmt.Errorf("conf: invalid %q duration %v", d.key, *d.ptr)
		}
	}
	if w.Tick <= 0 {
		return set, fmt.Errorf("conf: invalid worker tick %v", w.Tick)
	}
	if k.Exists("worker.shm_dir") {
		w.ShmDir = k.String("worker.shm_dir")
	}
	if k.Exists("worker.format") {
		f, err := acq.ParseFormat(k.String("worker.format"))
		if err != nil {
			return set, fmt.Errorf("conf: %w", err)
		}
		w.Format = f
	}

	return set, nil
}

// transformEnv maps RPCBC_SECTION_KEY=value to section.key and types the
// value: booleans, integers, floats and comma-separated ranges.
func transformEnv(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	return key, ParseValue(v)
}

// ParseValue types a textual value: booleans, integers, floats and
// comma-separated ranges. Anything else is returned as is.
func ParseValue(v string) any {
	v = strings.TrimSpace(v)
	if b, err := strconv.ParseBool(v); err == nil && !isNumber(v) {
		return b
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if r := strings.Trim(v, "[]"); strings.Contains(r, ",") {
		var vs []float64
		for _, s := range strings.Split(r, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return v
			}
			vs = append(vs, f)
		}
		return vs
	}
	return v
}

func isNumber(v string) bool {
	_, err := strconv.ParseFloat(v, 64)
	return err == nil
}
