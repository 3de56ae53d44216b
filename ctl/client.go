// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ctl implements the control-plane protocol of a RedPitaya CBC
// board: register-image pushes, triggers and recording transfers, and the
// worker servicing the instructions of a consumer.
//
// Every transfer runs over a fresh TCP connection:
//
//	client -> device: u32 request (0: config slot, n: n-byte recording)
//	device -> client: u32 ack     (2 for a config request, n otherwise)
//	client -> device: register image   (config)
//	device -> client: n payload bytes  (recording)
//
// All integers are little-endian.
package ctl // import "github.com/go-lpc/rpcbc/ctl"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/regmap"
)

const (
	// ConfigRequest is the request value of a config-slot transfer.
	ConfigRequest = 0
	// ConfigAck is the device acknowledgment of a config-slot transfer.
	ConfigAck = 2
)

// ProtocolError describes a failed request/acknowledge exchange.
type ProtocolError struct {
	Op   string // "config" or "record"
	Got  uint32
	Want uint32
	Err  error // read failure, if the ack never arrived
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ctl: %s transfer: could not read ack: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ctl: %s transfer: invalid ack (got=%d, want=%d)", e.Op, e.Got, e.Want)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Dialer opens connections to the device.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// Sink receives the payload of a recording transfer.
type Sink interface {
	StreamInto(r io.Reader, n uint32) error
}

// Option configures a Client or a Worker.
type Option func(*config)

type config struct {
	dial  Dialer
	dialT time.Duration
	ackT  time.Duration
	purge time.Duration
	tick  time.Duration
	msg   log.MsgStream
}

func newConfig(opts []Option) config {
	cfg := config{
		dialT: 5 * time.Second,
		purge: 50 * time.Millisecond,
		tick:  100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dial == nil {
		cfg.dial = &net.Dialer{Timeout: cfg.dialT}
	}
	if cfg.msg == nil {
		cfg.msg = log.NewMsgStream("rp-ctl", log.LvlInfo, os.Stderr)
	}
	return cfg
}

// WithDialer sets the dialer used to reach the device.
func WithDialer(d Dialer) Option {
	return func(cfg *config) {
		cfg.dial = d
	}
}

// WithDialTimeout sets the connection timeout of the default dialer.
func WithDialTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.dialT = d
	}
}

// WithAckTimeout bounds the wait for a device acknowledgment.
// A zero duration waits forever.
func WithAckTimeout(d time.Duration) Option {
	return func(cfg *config) {
		cfg.ackT = d
	}
}

// WithPurge sets the window during which late bytes are drained and
// discarded before a connection is closed.
func WithPurge(d time.Duration) Option {
	return func(cfg *config) {
		cfg.purge = d
	}
}

// WithTick sets the instruction polling period of a Worker.
func WithTick(d time.Duration) Option {
	return func(cfg *config) {
		cfg.tick = d
	}
}

// WithMsgStream sets the logger.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// Client performs transfers with a device.
type Client struct {
	addr string
	cfg  config
}

// NewClient returns a client for the device listening on addr.
func NewClient(addr string, opts ...Option) *Client {
	return &Client{
		addr: addr,
		cfg:  newConfig(opts),
	}
}

// Addr returns the address of the device.
func (c *Client) Addr() string { return c.addr }

// PushConfig writes a register image into the config slot of the device.
func (c *Client) PushConfig(ctx context.Context, img regmap.Image) error {
	raw, err := img.MarshalBinary()
	if err != nil {
		return fmt.Errorf("ctl: could not encode register image: %w", err)
	}
	return c.transfer(ctx, "config", ConfigRequest, ConfigAck, func(conn net.Conn) error {
		_, err := conn.Write(raw)
		if err != nil {
			return fmt.Errorf("ctl: could not send register image: %w", err)
		}
		c.cfg.msg.Debugf("pushed %v", img)
		return nil
	})
}

// Receive requests an n-byte recording and streams it into sink.
func (c *Client) Receive(ctx context.Context, n uint32, sink Sink) error {
	if n == 0 {
		return fmt.Errorf("ctl: invalid zero-length recording")
	}
	return c.transfer(ctx, "record", n, n, func(conn net.Conn) error {
		err := sink.StreamInto(conn, n)
		if err != nil {
			return fmt.Errorf("ctl: could not receive recording: %w", err)
		}
		c.cfg.msg.Debugf("received %d bytes", n)
		return nil
	})
}

// Record runs a complete recording sequence: the image is pushed with its
// trigger bit set, n bytes are received into sink and the image is pushed
// again with its trigger bit cleared.
func (c *Client) Record(ctx context.Context, img regmap.Image, n uint32, sink Sink) error {
	return c.record(ctx, img, n, sink, func(State) {})
}

// record runs the recording sequence, reporting each step to step.
func (c *Client) record(ctx context.Context, img regmap.Image, n uint32, sink Sink, step func(State)) error {
	err := c.PushConfig(ctx, img.WithTrigger(true))
	if err != nil {
		return fmt.Errorf("ctl: could not trigger recording: %w", err)
	}
	step(Triggered)

	step(Receiving)
	err = c.Receive(ctx, n, sink)
	if err != nil {
		return err
	}

	err = c.PushConfig(ctx, img.WithTrigger(false))
	if err != nil {
		return fmt.Errorf("ctl: could not release trigger: %w", err)
	}
	step(Done)
	return nil
}

func (c *Client) transfer(ctx context.Context, op string, req, ack uint32, body func(conn net.Conn) error) error {
	conn, err := c.cfg.dial.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("ctl: could not dial %s: %w", c.addr, err)
	}
	defer conn.Close()

	// a cancelled context tears the connection down, unblocking any read.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = c.exchange(conn, op, req, ack, body)
	if ctx.Err() != nil {
		return fmt.Errorf("ctl: %s transfer aborted: %w", op, ctx.Err())
	}
	c.purge(conn)
	return err
}

func (c *Client) exchange(conn net.Conn, op string, req, ack uint32, body func(conn net.Conn) error) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], req)
	_, err := conn.Write(buf[:])
	if err != nil {
		return fmt.Errorf("ctl: could not send %s request: %w", op, err)
	}

	if c.cfg.ackT > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.ackT))
	}
	_, err = io.ReadFull(conn, buf[:])
	if err != nil {
		return &ProtocolError{Op: op, Want: ack, Err: err}
	}
	if got := binary.LittleEndian.Uint32(buf[:]); got != ack {
		return &ProtocolError{Op: op, Got: got, Want: ack}
	}
	if c.cfg.ackT > 0 {
		_ = conn.SetReadDeadline(time.Time{})
	}

	return body(conn)
}

// purge drains and discards whatever the device keeps sending, for at most
// the purge window.
func (c *Client) purge(conn net.Conn) {
	if c.cfg.purge <= 0 {
		return
	}
	err := conn.SetReadDeadline(time.Now().Add(c.cfg.purge))
	if err != nil {
		return
	}
	n, err := io.Copy(io.Discard, conn)
	if n > 0 {
		c.cfg.msg.Warnf("purged %d unexpected bytes from %s", n, c.addr)
	}
	var nerr net.Error
	if err != nil && !(errors.As(err, &nerr) && nerr.Timeout()) {
		c.cfg.msg.Debugf("purge: %+v", err)
	}
}
