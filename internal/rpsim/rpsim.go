// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package rpsim simulates the device side of the RedPitaya CBC control
// protocol.
package rpsim // import "github.com/go-lpc/rpcbc/internal/rpsim"

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/regmap"
	"golang.org/x/sync/errgroup"
)

// Device is a simulated board.
type Device struct {
	l   net.Listener
	msg log.MsgStream

	badAck  *uint32
	silent  bool
	overrun int
	gen     func(i int) (ch1, ch2 int16)

	mu       sync.Mutex
	images   []regmap.Image
	triggers int
	records  []uint32
	requests []uint32
}

// Option configures a Device.
type Option func(*Device)

// WithBadAck makes the device acknowledge every request with v.
func WithBadAck(v uint32) Option {
	return func(dev *Device) {
		dev.badAck = &v
	}
}

// WithSilent makes the device never acknowledge requests.
func WithSilent() Option {
	return func(dev *Device) {
		dev.silent = true
	}
}

// WithOverrun makes the device send n bytes past every recording.
func WithOverrun(n int) Option {
	return func(dev *Device) {
		dev.overrun = n
	}
}

// WithGenerator sets the sample generator of recordings.
func WithGenerator(gen func(i int) (ch1, ch2 int16)) Option {
	return func(dev *Device) {
		dev.gen = gen
	}
}

// WithMsgStream sets the logger of the device.
func WithMsgStream(msg log.MsgStream) Option {
	return func(dev *Device) {
		dev.msg = msg
	}
}

// Ramp is the default sample generator: channel 1 counts up, channel 2
// counts down.
func Ramp(i int) (ch1, ch2 int16) {
	return int16(i), int16(-i)
}

// New creates a device listening on addr.
func New(addr string, opts ...Option) (*Device, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpsim: could not listen on %q: %w", addr, err)
	}
	dev := &Device{
		l:   l,
		gen: Ramp,
	}
	for _, opt := range opts {
		opt(dev)
	}
	if dev.msg == nil {
		dev.msg = log.NewMsgStream("rp-sim", log.LvlInfo, os.Stderr)
	}
	return dev, nil
}

// Addr returns the listening address of the device.
func (dev *Device) Addr() string { return dev.l.Addr().String() }

// Serve handles connections until ctx is done.
func (dev *Device) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		<-ctx.Done()
		_ = dev.l.Close()
		return nil
	})
	grp.Go(func() error {
		defer cancel()
		err := dev.serve(ctx)
		if errors.Is(err, net.ErrClosed) {
			return nil
		}
		return err
	})
	return grp.Wait()
}

func (dev *Device) serve(ctx context.Context) error {
	for {
		conn, err := dev.l.Accept()
		if err != nil {
			return fmt.Errorf("rpsim: could not accept connection: %w", err)
		}

		go func() {
			stop := context.AfterFunc(ctx, func() { conn.Close() })
			defer stop()

			err := dev.handle(conn)
			if err != nil {
				dev.msg.Warnf("could not handle %v: %+v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (dev *Device) handle(conn net.Conn) error {
	defer conn.Close()

	var buf [4]byte
	_, err := io.ReadFull(conn, buf[:])
	if err != nil {
		return fmt.Errorf("rpsim: could not read request: %w", err)
	}
	req := binary.LittleEndian.Uint32(buf[:])
	dev.msg.Debugf("request %d from %v", req, conn.RemoteAddr())

	dev.mu.Lock()
	dev.requests = append(dev.requests, req)
	dev.mu.Unlock()

	if dev.silent {
		_, _ = io.Copy(io.Discard, conn)
		return nil
	}

	ack := req
	if req == 0 {
		ack = 2
	}
	if dev.badAck != nil {
		ack = *dev.badAck
	}
	binary.LittleEndian.PutUint32(buf[:], ack)
	_, err = conn.Write(buf[:])
	if err != nil {
		return fmt.Errorf("rpsim: could not send ack: %w", err)
	}
	if ack != req && !(req == 0 && ack == 2) {
		_, _ = io.Copy(io.Discard, conn)
		return nil
	}

	switch req {
	case 0:
		err = dev.recvImage(conn)
	default:
		err = dev.sendRecording(conn, int(req))
	}
	if err != nil {
		return err
	}

	// wait for the client to hang up.
	_, _ = io.Copy(io.Discard, conn)
	return nil
}

func (dev *Device) recvImage(conn net.Conn) error {
	raw := make([]byte, regmap.ImageSize)
	_, err := io.ReadFull(conn, raw)
	if err != nil {
		return fmt.Errorf("rpsim: could not read register image: %w", err)
	}

	var img regmap.Image
	err = img.UnmarshalBinary(raw)
	if err != nil {
		return fmt.Errorf("rpsim: could not decode register image: %w", err)
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if n := len(dev.images); img.Trigger() && (n == 0 || !dev.images[n-1].Trigger()) {
		dev.triggers++
	}
	dev.images = append(dev.images, img)
	dev.msg.Debugf("image: %v", img)
	return nil
}

func (dev *Device) sendRecording(conn net.Conn, n int) error {
	buf := make([]byte, n+dev.overrun)
	for i := 0; i+4 <= len(buf); i += 4 {
		ch1, ch2 := dev.gen(i / 4)
		binary.LittleEndian.PutUint16(buf[i:], uint16(ch1))
		binary.LittleEndian.PutUint16(buf[i+2:], uint16(ch2))
	}
	dev.mu.Lock()
	dev.records = append(dev.records, uint32(n))
	dev.mu.Unlock()

	_, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("rpsim: could not send recording: %w", err)
	}
	return nil
}

// Images returns the register images received so far.
func (dev *Device) Images() []regmap.Image {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]regmap.Image(nil), dev.images...)
}

// Triggers returns the number of rising edges of the trigger bit seen.
func (dev *Device) Triggers() int {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.triggers
}

// Records returns the sizes of the recordings sent so far.
func (dev *Device) Records() []uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]uint32(nil), dev.records...)
}

// Requests returns the transfer requests received so far, acknowledged
// or not.
func (dev *Device) Requests() []uint32 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return append([]uint32(nil), dev.requests...)
}

// Close stops listening.
func (dev *Device) Close() error {
	return dev.l.Close()
}
