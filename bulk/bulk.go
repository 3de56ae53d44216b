// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bulk implements the bulk-transfer path of a recording: a shared
// memory segment is allocated for the payload, its name is handed over to
// the consumer and the payload is streamed from the device socket straight
// into the segment.
package bulk // import "github.com/go-lpc/rpcbc/bulk"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/internal/shm"
)

var (
	ErrZeroLength  = errors.New("bulk: zero-length transfer")
	ErrSessionOpen = errors.New("bulk: transfer session already open")
	ErrNoSession   = errors.New("bulk: no open transfer session")
	ErrShortStream = errors.New("bulk: short stream")
)

// EventKind is the kind of an event sent by the worker to the consumer.
type EventKind uint8

const (
	EventMemAllocated EventKind = iota // segment allocated, waiting for go-ahead
	EventDataReady                     // payload complete
	EventFault                         // transfer or protocol fault
)

func (k EventKind) String() string {
	switch k {
	case EventMemAllocated:
		return "mem-allocated"
	case EventDataReady:
		return "data-ready"
	case EventFault:
		return "fault"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a worker to consumer notification.
type Event struct {
	Kind    EventKind
	Segment string // name of the segment, for EventMemAllocated
	Err     error  // cause, for EventFault
}

func (ev Event) String() string {
	switch ev.Kind {
	case EventMemAllocated:
		return fmt.Sprintf("{%d, %s}", ev.Kind, ev.Segment)
	case EventFault:
		return fmt.Sprintf("{%d, %v}", ev.Kind, ev.Err)
	default:
		return fmt.Sprintf("{%d, 0}", ev.Kind)
	}
}

// Option configures a Path.
type Option func(*config)

type config struct {
	dir    string
	prefix string
	msg    log.MsgStream
}

func newConfig(opts []Option) config {
	cfg := config{
		dir:    shm.DefaultDir,
		prefix: "rpcbc",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.msg == nil {
		cfg.msg = log.NewMsgStream("rp-bulk", log.LvlInfo, os.Stderr)
	}
	return cfg
}

// WithDir sets the directory holding the shared memory segments.
func WithDir(dir string) Option {
	return func(cfg *config) {
		cfg.dir = dir
	}
}

// WithPrefix sets the prefix of the segment names.
func WithPrefix(prefix string) Option {
	return func(cfg *config) {
		cfg.prefix = prefix
	}
}

// WithMsgStream sets the logger of the path.
func WithMsgStream(msg log.MsgStream) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// Path is the producer side of the bulk-transfer path.
// At most one transfer session is open at a time.
type Path struct {
	cfg    config
	events chan<- Event
	ready  <-chan struct{}

	mu   sync.Mutex
	sess *session
}

type session struct {
	seg  *shm.Segment
	size uint32
	left uint32
}

// New returns a bulk path publishing its events on events and
// receiving the consumer go-ahead signals on ready.
func New(events chan<- Event, ready <-chan struct{}, opts ...Option) *Path {
	return &Path{
		cfg:    newConfig(opts),
		events: events,
		ready:  ready,
	}
}

// Dir returns the directory of the shared memory segments.
func (p *Path) Dir() string { return p.cfg.dir }

// Open returns the name and size of the open session, if any.
func (p *Path) Open() (string, uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sess == nil {
		return "", 0, false
	}
	return p.sess.seg.Name(), p.sess.size, true
}

// BeginTransfer allocates a segment of exactly n bytes, publishes its name
// and waits for the consumer go-ahead.
func (p *Path) BeginTransfer(ctx context.Context, n uint32) (string, error) {
	if n == 0 {
		return "", ErrZeroLength
	}

	p.mu.Lock()
	if p.sess != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("%w (segment %q)", ErrSessionOpen, p.sess.seg.Name())
	}
	seg, err := shm.Create(p.cfg.dir, shm.NewName(p.cfg.prefix), int(n))
	if err != nil {
		p.mu.Unlock()
		return "", fmt.Errorf("bulk: could not allocate segment: %w", err)
	}
	p.sess = &session{seg: seg, size: n, left: n}
	p.mu.Unlock()

	name := seg.Name()
	p.cfg.msg.Debugf("allocated segment %q (%d bytes)", name, n)

	err = p.publish(ctx, Event{Kind: EventMemAllocated, Segment: name})
	if err != nil {
		p.Abort()
		return "", err
	}

	select {
	case <-ctx.Done():
		p.Abort()
		return "", fmt.Errorf("bulk: no go-ahead for segment %q: %w", name, ctx.Err())
	case <-p.ready:
	}
	return name, nil
}

// StreamInto reads n bytes from r into the unwritten tail of the session
// segment.
func (p *Path) StreamInto(r io.Reader, n uint32) error {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if n != sess.size {
		return fmt.Errorf("bulk: stream size mismatch (got=%d, want=%d)", n, sess.size)
	}

	var (
		buf   = sess.seg.Bytes()
		zeros = 0
	)
	for sess.left > 0 {
		off := sess.size - sess.left
		nn, err := r.Read(buf[off:])
		if nn > 0 {
			sess.left -= uint32(nn)
			zeros = 0
		}
		if err != nil {
			if sess.left == 0 {
				break
			}
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return fmt.Errorf("%w (%d/%d bytes): %w", ErrShortStream, sess.size-sess.left, sess.size, err)
		}
		if nn == 0 {
			zeros++
			if zeros > maxEmptyReads {
				return fmt.Errorf("%w (%d/%d bytes): %w", ErrShortStream, sess.size-sess.left, sess.size, io.ErrNoProgress)
			}
		}
	}
	return nil
}

const maxEmptyReads = 100

// Finish closes the producer mapping and publishes the data-ready event.
// The segment is left in place for the consumer, which owns its removal.
func (p *Path) Finish(ctx context.Context) error {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()

	if sess == nil {
		return ErrNoSession
	}
	if sess.left != 0 {
		_ = sess.seg.Close()
		_ = sess.seg.Unlink()
		return fmt.Errorf("%w (%d/%d bytes)", ErrShortStream, sess.size-sess.left, sess.size)
	}

	err := sess.seg.Close()
	if err != nil {
		_ = sess.seg.Unlink()
		return fmt.Errorf("bulk: could not close segment %q: %w", sess.seg.Name(), err)
	}
	p.cfg.msg.Debugf("segment %q complete", sess.seg.Name())

	return p.publish(ctx, Event{Kind: EventDataReady})
}

// Abort closes and removes the segment of the open session, if any.
func (p *Path) Abort() {
	p.mu.Lock()
	sess := p.sess
	p.sess = nil
	p.mu.Unlock()

	if sess == nil {
		return
	}
	name := sess.seg.Name()
	_ = sess.seg.Close()
	err := sess.seg.Unlink()
	if err != nil {
		p.cfg.msg.Warnf("could not remove segment %q: %+v", name, err)
		return
	}
	p.cfg.msg.Debugf("aborted segment %q", name)
}

// Fault publishes a fault event.
func (p *Path) Fault(ctx context.Context, err error) error {
	return p.publish(ctx, Event{Kind: EventFault, Err: err})
}

func (p *Path) publish(ctx context.Context, ev Event) error {
	select {
	case p.events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("bulk: could not publish event %v: %w", ev, ctx.Err())
	}
}
