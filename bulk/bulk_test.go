// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bulk

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"testing/iotest"
	"time"

	"github.com/go-daq/tdaq/log"
)

func newTestPath(t *testing.T) (*Path, chan Event, chan struct{}, string) {
	t.Helper()
	var (
		dir    = t.TempDir()
		events = make(chan Event, 4)
		ready  = make(chan struct{}, 1)
	)
	p := New(events, ready,
		WithDir(dir),
		WithPrefix("test"),
		WithMsgStream(log.NewMsgStream("rp-bulk", log.LvlError, io.Discard)),
	)
	return p, events, ready, dir
}

func segments(t *testing.T, dir string) []string {
	t.Helper()
	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("could not read segment dir: %+v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name())
	}
	return names
}

func TestTransfer(t *testing.T) {
	for _, tc := range []struct {
		name string
		r    func(p []byte) io.Reader
	}{
		{
			name: "full",
			r:    func(p []byte) io.Reader { return bytes.NewReader(p) },
		},
		{
			name: "one-byte",
			r:    func(p []byte) io.Reader { return iotest.OneByteReader(bytes.NewReader(p)) },
		},
		{
			name: "half",
			r:    func(p []byte) io.Reader { return iotest.HalfReader(bytes.NewReader(p)) },
		},
		{
			name: "data-err",
			r:    func(p []byte) io.Reader { return iotest.DataErrReader(bytes.NewReader(p)) },
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, events, ready, dir := newTestPath(t)

			const n = 4000
			payload := make([]byte, n)
			for i := range payload {
				payload[i] = byte(i)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			done := make(chan []byte)
			go func() {
				defer close(done)
				ev := <-events
				if ev.Kind != EventMemAllocated {
					t.Errorf("invalid first event: %v", ev)
					return
				}
				f, err := os.Open(filepath.Join(dir, ev.Segment))
				if err != nil {
					t.Errorf("could not open segment: %+v", err)
					return
				}
				defer f.Close()
				ready <- struct{}{}

				ev = <-events
				if ev.Kind != EventDataReady || ev.Segment != "" {
					t.Errorf("invalid second event: %v", ev)
					return
				}
				raw, err := io.ReadAll(f)
				if err != nil {
					t.Errorf("could not read segment: %+v", err)
					return
				}
				done <- raw
			}()

			name, err := p.BeginTransfer(ctx, n)
			if err != nil {
				t.Fatalf("could not begin transfer: %+v", err)
			}
			if got, sz, ok := p.Open(); !ok || got != name || sz != n {
				t.Fatalf("invalid session: name=%q, size=%d, open=%v", got, sz, ok)
			}

			err = p.StreamInto(tc.r(payload), n)
			if err != nil {
				t.Fatalf("could not stream payload: %+v", err)
			}

			err = p.Finish(ctx)
			if err != nil {
				t.Fatalf("could not finish transfer: %+v", err)
			}
			if _, _, ok := p.Open(); ok {
				t.Fatalf("session still open after finish")
			}

			got := <-done
			if !bytes.Equal(got, payload) {
				t.Fatalf("invalid segment content")
			}

			if got, want := segments(t, dir), []string{name}; len(got) != 1 || got[0] != want[0] {
				t.Fatalf("producer must not unlink the segment: got=%v, want=%v", got, want)
			}
		})
	}
}

func TestBeginTransferRejects(t *testing.T) {
	p, events, ready, dir := newTestPath(t)
	ctx := context.Background()

	_, err := p.BeginTransfer(ctx, 0)
	if !errors.Is(err, ErrZeroLength) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrZeroLength)
	}
	if got := segments(t, dir); len(got) != 0 {
		t.Fatalf("zero-length request allocated segments: %v", got)
	}

	ready <- struct{}{}
	_, err = p.BeginTransfer(ctx, 8)
	if err != nil {
		t.Fatalf("could not begin transfer: %+v", err)
	}
	<-events

	_, err = p.BeginTransfer(ctx, 8)
	if !errors.Is(err, ErrSessionOpen) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrSessionOpen)
	}
	if got := segments(t, dir); len(got) != 1 {
		t.Fatalf("second request allocated a segment: %v", got)
	}

	p.Abort()
	if got := segments(t, dir); len(got) != 0 {
		t.Fatalf("abort left segments behind: %v", got)
	}
	if err := p.Finish(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoSession)
	}
	if err := p.StreamInto(bytes.NewReader(nil), 8); !errors.Is(err, ErrNoSession) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, ErrNoSession)
	}
}

func TestBeginTransferCancel(t *testing.T) {
	p, events, _, dir := newTestPath(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-events
		cancel()
	}()

	_, err := p.BeginTransfer(ctx, 16)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, context.Canceled)
	}
	if _, _, ok := p.Open(); ok {
		t.Fatalf("session still open after cancel")
	}
	if got := segments(t, dir); len(got) != 0 {
		t.Fatalf("cancel left segments behind: %v", got)
	}
}

func TestShortStream(t *testing.T) {
	p, events, ready, dir := newTestPath(t)
	ctx := context.Background()

	ready <- struct{}{}
	_, err := p.BeginTransfer(ctx, 16)
	if err != nil {
		t.Fatalf("could not begin transfer: %+v", err)
	}
	<-events

	err = p.StreamInto(bytes.NewReader(make([]byte, 8)), 32)
	if err == nil {
		t.Fatalf("expected a size mismatch error")
	}

	err = p.StreamInto(bytes.NewReader(make([]byte, 8)), 16)
	if !errors.Is(err, ErrShortStream) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = p.Finish(ctx)
	if !errors.Is(err, ErrShortStream) {
		t.Fatalf("invalid error: %+v", err)
	}
	if got := segments(t, dir); len(got) != 0 {
		t.Fatalf("incomplete transfer left segments behind: %v", got)
	}
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %v", ev)
	default:
	}
}

type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, nil }

func TestNoProgress(t *testing.T) {
	p, events, ready, _ := newTestPath(t)
	ctx := context.Background()

	ready <- struct{}{}
	_, err := p.BeginTransfer(ctx, 16)
	if err != nil {
		t.Fatalf("could not begin transfer: %+v", err)
	}
	<-events
	defer p.Abort()

	err = p.StreamInto(emptyReader{}, 16)
	if !errors.Is(err, io.ErrNoProgress) {
		t.Fatalf("invalid error: %+v", err)
	}
}

func TestFault(t *testing.T) {
	p, events, _, _ := newTestPath(t)

	cause := errors.New("boom")
	err := p.Fault(context.Background(), cause)
	if err != nil {
		t.Fatalf("could not publish fault: %+v", err)
	}
	ev := <-events
	if ev.Kind != EventFault || !errors.Is(ev.Err, cause) {
		t.Fatalf("invalid fault event: %v", ev)
	}

	for _, tc := range []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventMemAllocated, Segment: "seg"}, "{0, seg}"},
		{Event{Kind: EventDataReady}, "{1, 0}"},
		{Event{Kind: EventFault, Err: cause}, "{2, boom}"},
	} {
		if got := tc.ev.String(); got != tc.want {
			t.Fatalf("invalid event string: got=%q, want=%q", got, tc.want)
		}
	}
}
