// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package acq is the consumer side of a RedPitaya CBC board: it owns the
// configuration, submits instructions to a background worker and turns the
// worker events into decoded recordings.
package acq // import "github.com/go-lpc/rpcbc/acq"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/bulk"
	"github.com/go-lpc/rpcbc/ctl"
	"github.com/go-lpc/rpcbc/internal/shm"
	"github.com/go-lpc/rpcbc/params"
	"github.com/go-lpc/rpcbc/regmap"
)

var (
	ErrBusy      = errors.New("acq: recording in progress")
	ErrQueueFull = errors.New("acq: instruction queue full")
	ErrClosed    = errors.New("acq: controller closed")
)

const queueSize = 64

// Option configures a Controller.
type Option func(*config)

type config struct {
	port   int
	tick   time.Duration
	purge  time.Duration
	ackT   time.Duration
	dialT  time.Duration
	dir    string
	format Format
	msg    log.MsgStream
}

func newConfig(opts []Option) config {
	cfg := config{
		port:   DefaultPort,
		tick:   100 * time.Millisecond,
		purge:  50 * time.Millisecond,
		dialT:  5 * time.Second,
		dir:    shm.DefaultDir,
		format: Signed,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.NewMsgStream("rp-acq", log.LvlInfo, os.Stderr)
	}
	return cfg
}

// DefaultPort is the TCP port of the board control server.
const DefaultPort = 5000

// WithPort sets the TCP port of the board.
func WithPort(port int) Option {
	return func(cfg *config) { cfg.port = port }
}

// WithTick sets the polling period of the worker and of Wait.
func WithTick(d time.Duration) Option {
	return func(cfg *config) { cfg.tick = d }
}

// WithPurge sets the purge window of every transfer.
func WithPurge(d time.Duration) Option {
	return func(cfg *config) { cfg.purge = d }
}

// WithAckTimeout bounds the wait for device acknowledgments.
func WithAckTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.ackT = d }
}

// WithDialTimeout sets the connection timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *config) { cfg.dialT = d }
}

// WithShmDir sets the directory of the shared memory segments.
func WithShmDir(dir string) Option {
	return func(cfg *config) { cfg.dir = dir }
}

// WithFormat sets the sample format of recordings.
func WithFormat(f Format) Option {
	return func(cfg *config) { cfg.format = f }
}

// WithMsgStream sets the logger.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// Controller drives a board through a background worker.
type Controller struct {
	cfg config
	msg log.MsgStream

	mu     sync.Mutex
	params params.Config
	instrs chan ctl.Instruction
	events chan bulk.Event
	ready  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	sess *session
}

// session is the consumer view of the open transfer session.
type session struct {
	start time.Time
	size  uint32
	rate  float64
	seg   *shm.Segment
}

// New creates a controller for the board described by cfg and starts its
// worker.
func New(cfg params.Config, opts ...Option) *Controller {
	c := &Controller{
		cfg:    newConfig(opts),
		params: cfg.Clone(),
		instrs: make(chan ctl.Instruction, queueSize),
		events: make(chan bulk.Event, queueSize),
		ready:  make(chan struct{}, 1),
	}
	c.msg = c.cfg.msg
	c.start()
	return c
}

// Addr returns the address of the board.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr()
}

func (c *Controller) addr() string {
	return net.JoinHostPort(c.params.System.IPAddress(), strconv.Itoa(c.cfg.port))
}

func (c *Controller) start() {
	var (
		cli = ctl.NewClient(c.addr(),
			ctl.WithDialTimeout(c.cfg.dialT),
			ctl.WithAckTimeout(c.cfg.ackT),
			ctl.WithPurge(c.cfg.purge),
			ctl.WithMsgStream(c.msg),
		)
		path = bulk.New(c.events, c.ready,
			bulk.WithDir(c.cfg.dir),
			bulk.WithMsgStream(c.msg),
		)
		w = ctl.NewWorker(cli, path, c.instrs, ctl.WithTick(c.cfg.tick))
	)

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		err := w.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.msg.Errorf("worker failed: %+v", err)
		}
	}(c.done)
}

// stop stops the worker and waits for it to exit.
func (c *Controller) stop() {
	c.cancel()
	<-c.done
}

// Config returns a copy of the current configuration.
func (c *Controller) Config() params.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.Clone()
}

// Set validates and sets a dotted configuration key.
// Changing the board address restarts the worker.
func (c *Controller) Set(key string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.addr()
	err := c.params.Set(key, v)
	if err != nil {
		return err
	}
	if c.addr() != old && !c.closed {
		c.kick()
	}
	return nil
}

// SetSweepable sets a dotted sweepable key from a scalar or a range.
func (c *Controller) SetSweepable(key string, input any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params.SetSweepable(key, input)
}

func (c *Controller) send(ins ctl.Instruction) error {
	if c.closed {
		return ErrClosed
	}
	select {
	case c.instrs <- ins:
		return nil
	default:
		return ErrQueueFull
	}
}

// Push projects the configuration onto a register image and queues it for
// the board.
func (c *Controller) Push() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	img, err := regmap.Project(c.params)
	if err != nil {
		return fmt.Errorf("acq: could not project configuration: %w", err)
	}
	return c.send(ctl.Instruction{ConfigChanged: true, Image: img})
}

// Trigger queues a trigger pulse.
func (c *Controller) Trigger() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctl.Instruction{Trigger: true})
}

// Record queues a recording of the configured duration.
// Only one recording may be in progress at a time.
func (c *Controller) Record() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return fmt.Errorf("%w: %w", ErrBusy, bulk.ErrSessionOpen)
	}
	n := c.params.System.BytesToReceive()
	if n == 0 {
		return bulk.ErrZeroLength
	}
	err := c.send(ctl.Instruction{Record: ctl.RecordRequest{Requested: true, Bytes: n}})
	if err != nil {
		return err
	}
	c.sess = &session{
		start: time.Now(),
		size:  n,
		rate:  c.params.System.SamplingRate().Hz(),
	}
	c.msg.Debugf("recording %d bytes", n)
	return nil
}

// Busy returns how long the current recording has been in progress.
func (c *Controller) Busy() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return 0, false
	}
	return time.Since(c.sess.start), true
}

// Poll handles at most one worker event without blocking.
// It returns a recording once its data is ready.
func (c *Controller) Poll() (*Recording, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case ev := <-c.events:
		return c.handle(ev)
	default:
		return nil, nil
	}
}

func (c *Controller) handle(ev bulk.Event) (*Recording, error) {
	switch ev.Kind {
	case bulk.EventMemAllocated:
		if c.sess == nil {
			// unblock the worker; its data-ready event will be rejected.
			c.msg.Warnf("unexpected segment %q", ev.Segment)
			_ = shm.Unlink(c.cfg.dir, ev.Segment)
			c.goAhead()
			return nil, nil
		}
		seg, err := shm.Open(c.cfg.dir, ev.Segment)
		if err != nil {
			c.release()
			_ = shm.Unlink(c.cfg.dir, ev.Segment)
			c.goAhead()
			return nil, fmt.Errorf("acq: could not map segment %q: %w", ev.Segment, err)
		}
		c.sess.seg = seg
		c.goAhead()
		return nil, nil

	case bulk.EventDataReady:
		if c.sess == nil || c.sess.seg == nil {
			return nil, fmt.Errorf("acq: data ready without an open session")
		}
		defer c.release()

		if got, want := c.sess.seg.Len(), int(c.sess.size); got != want {
			return nil, fmt.Errorf("acq: invalid segment size (got=%d, want=%d)", got, want)
		}
		// copy out of the segment before it is released.
		raw := make([]byte, c.sess.size)
		_, err := io.ReadFull(io.NewSectionReader(c.sess.seg, 0, int64(len(raw))), raw)
		if err != nil {
			return nil, fmt.Errorf("acq: could not read segment %q: %w", c.sess.seg.Name(), err)
		}
		samples, err := Decode(raw, c.cfg.format)
		if err != nil {
			return nil, err
		}
		return &Recording{
			Format:  c.cfg.format,
			Rate:    c.sess.rate,
			Samples: samples,
		}, nil

	case bulk.EventFault:
		if errors.Is(ev.Err, ctl.ErrRecord) {
			c.release()
		}
		return nil, fmt.Errorf("acq: worker fault: %w", ev.Err)
	}
	return nil, fmt.Errorf("acq: invalid event %v", ev)
}

func (c *Controller) goAhead() {
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// release closes and removes the segment of the open session.
func (c *Controller) release() {
	if c.sess == nil {
		return
	}
	if seg := c.sess.seg; seg != nil {
		_ = seg.Close()
		err := seg.Unlink()
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			c.msg.Warnf("could not remove segment: %+v", err)
		}
	}
	c.sess = nil
}

// Wait polls worker events every tick until a recording is ready, an error
// occurs or ctx is done.
func (c *Controller) Wait(ctx context.Context) (*Recording, error) {
	tick := time.NewTicker(c.cfg.tick)
	defer tick.Stop()

	for {
		rec, err := c.Poll()
		if rec != nil || err != nil {
			return rec, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tick.C:
		}
	}
}

// Kick restarts the worker. Any in-flight transfer is abandoned, and
// queued instructions and events are dropped.
func (c *Controller) Kick() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.kick()
	return nil
}

func (c *Controller) kick() {
	c.msg.Warnf("restarting worker")
	c.stop()
	c.release()
	c.drain()
	c.start()
}

func (c *Controller) drain() {
	for {
		select {
		case <-c.instrs:
		case ev := <-c.events:
			if ev.Kind == bulk.EventMemAllocated {
				_ = shm.Unlink(c.cfg.dir, ev.Segment)
			}
		case <-c.ready:
		default:
			return
		}
	}
}

// Close stops the worker and releases the open session.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.stop()
	c.release()
	c.drain()
	return nil
}
