// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ctl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/bulk"
	"github.com/go-lpc/rpcbc/regmap"
)

// ErrRecord flags the faults of a recording sequence.
var ErrRecord = errors.New("ctl: recording failed")

// State is the state of a Worker within an acquisition cycle.
type State int32

const (
	Idle State = iota
	ConfigPush
	RecordRequested
	MemoryAllocated
	Triggered
	Receiving
	Done
)

var stateNames = [...]string{
	Idle:            "idle",
	ConfigPush:      "config-push",
	RecordRequested: "record-requested",
	MemoryAllocated: "memory-allocated",
	Triggered:       "triggered",
	Receiving:       "receiving",
	Done:            "done",
}

func (s State) String() string {
	if 0 <= s && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Instruction is a consumer to worker command.
// When several kinds of work are requested at once, the config change is
// serviced first, then the record request, then the trigger; one kind per
// poll.
type Instruction struct {
	Trigger       bool
	Image         regmap.Image // new register image, when ConfigChanged
	ConfigChanged bool
	Record        RecordRequest
}

// RecordRequest requests an n-byte recording.
type RecordRequest struct {
	Requested bool
	Bytes     uint32
}

func (ins Instruction) empty() bool {
	return !ins.Trigger && !ins.ConfigChanged && !ins.Record.Requested
}

// Worker services the instructions of a consumer.
type Worker struct {
	cli    *Client
	path   *bulk.Path
	instrs <-chan Instruction
	tick   time.Duration
	msg    log.MsgStream

	state   atomic.Int32
	pending Instruction
	last    regmap.Image // last pushed image
}

// NewWorker returns a worker reading instructions from instrs, performing
// transfers with cli and receiving recordings through path.
func NewWorker(cli *Client, path *bulk.Path, instrs <-chan Instruction, opts ...Option) *Worker {
	cfg := cli.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		cli:    cli,
		path:   path,
		instrs: instrs,
		tick:   cfg.tick,
		msg:    cfg.msg,
	}
}

// State returns the current state of the worker.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.msg.Debugf("state: %v", s)
}

// Run polls and services instructions until ctx is done.
// An open transfer session is aborted on exit.
func (w *Worker) Run(ctx context.Context) error {
	defer w.path.Abort()
	defer w.setState(Idle)

	tick := time.NewTicker(w.tick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		err := w.poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.msg.Errorf("%+v", err)
			w.setState(Idle)
			if err := w.path.Fault(ctx, err); err != nil {
				return err
			}
		}
	}
}

// poll receives an instruction, unless one is still pending, and services
// its highest priority work.
func (w *Worker) poll(ctx context.Context) error {
	if w.pending.empty() {
		select {
		case ins := <-w.instrs:
			w.pending = ins
		default:
			return nil
		}
	}

	switch {
	case w.pending.ConfigChanged:
		w.pending.ConfigChanged = false
		return w.pushConfig(ctx, w.pending.Image)

	case w.pending.Record.Requested:
		n := w.pending.Record.Bytes
		w.pending.Record = RecordRequest{}
		err := w.record(ctx, n)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrRecord, err)
		}
		return nil

	case w.pending.Trigger:
		w.pending.Trigger = false
		return w.trigger(ctx)
	}
	return nil
}

func (w *Worker) pushConfig(ctx context.Context, img regmap.Image) error {
	w.setState(ConfigPush)
	img = img.WithTrigger(false)
	err := w.cli.PushConfig(ctx, img)
	if err != nil {
		return fmt.Errorf("ctl: could not push configuration: %w", err)
	}
	w.last = img
	w.setState(Idle)
	return nil
}

func (w *Worker) trigger(ctx context.Context) error {
	err := w.cli.PushConfig(ctx, w.last.WithTrigger(true))
	if err != nil {
		return fmt.Errorf("ctl: could not set trigger: %w", err)
	}
	err = w.cli.PushConfig(ctx, w.last.WithTrigger(false))
	if err != nil {
		return fmt.Errorf("ctl: could not release trigger: %w", err)
	}
	return nil
}

func (w *Worker) record(ctx context.Context, n uint32) (err error) {
	w.setState(RecordRequested)
	_, err = w.path.BeginTransfer(ctx, n)
	if err != nil {
		return fmt.Errorf("ctl: could not begin transfer: %w", err)
	}
	defer func() {
		if err != nil {
			w.path.Abort()
		}
	}()
	w.setState(MemoryAllocated)

	err = w.cli.record(ctx, w.last, n, w.path, w.setState)
	if err != nil {
		return err
	}

	err = w.path.Finish(ctx)
	if err != nil {
		return fmt.Errorf("ctl: could not complete transfer: %w", err)
	}
	w.setState(Idle)
	return nil
}
