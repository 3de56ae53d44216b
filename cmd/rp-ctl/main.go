// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-ctl drives a RedPitaya CBC board.
//
// Usage:
//
//	$> rp-ctl -c board.hcl push
//	$> rp-ctl -c board.hcl record -n 3 --retries=2
//	$> rp-ctl -c board.hcl --stall=30s shell
package main // import "github.com/go-lpc/rpcbc/cmd/rp-ctl"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff"
	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc"
	"github.com/go-lpc/rpcbc/acq"
	"github.com/go-lpc/rpcbc/ctl"
	"github.com/go-lpc/rpcbc/internal/conf"
	"github.com/go-lpc/rpcbc/params"
	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var cli struct {
	Config  string        `short:"c" type:"path" help:"configuration file (HCL)"`
	Verbose bool          `short:"v" help:"enable debug output"`
	Pmon    bool          `help:"enable pmon monitoring"`
	Freq    time.Duration `default:"1s" help:"pmon frequency"`
	Retries uint64        `default:"0" help:"number of retries of a failed recording"`
	Stall   time.Duration `default:"0s" help:"alert and restart the worker when a recording stalls longer than this (0 to disable)"`

	Push   struct{} `cmd:"" help:"push the configuration to the board"`
	Record struct {
		N       int           `short:"n" default:"1" help:"number of recordings"`
		Timeout time.Duration `default:"1m" help:"timeout of a single recording"`
	} `cmd:"" help:"record samples and print their statistics"`
	Shell   struct{} `cmd:"" help:"start an interactive console"`
	Version struct{} `cmd:"" help:"print the version of rp-ctl"`
}

func main() {
	flags := kong.Parse(&cli,
		kong.Name("rp-ctl"),
		kong.Description("rp-ctl drives a RedPitaya CBC board."),
	)

	log.SetPrefix("rp-ctl: ")
	log.SetFlags(0)

	if flags.Command() == "version" {
		vers, sum := rpcbc.Version()
		fmt.Printf("rp-ctl %s %s\n", vers, sum)
		return
	}

	lvl := tlog.LvlInfo
	if cli.Verbose {
		lvl = tlog.LvlDebug
	}

	set, err := conf.Load(cli.Config, params.WithMsgStream(
		tlog.NewMsgStream("params", lvl, os.Stderr),
	))
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	opts := append(set.Worker.Options(), acq.WithMsgStream(
		tlog.NewMsgStream("rp-acq", lvl, os.Stderr),
	))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if cli.Pmon {
		stop, err := monitor(cli.Freq)
		if err != nil {
			log.Fatalf("could not start pmon: %+v", err)
		}
		defer stop()
	}

	c := acq.New(set.Params, opts...)
	defer c.Close()

	err = run(ctx, c, flags.Command(), os.Stdout)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(ctx context.Context, c *acq.Controller, cmd string, w io.Writer) error {
	grp, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cli.Stall > 0 {
		grp.Go(func() error {
			watchdog(ctx, c, cli.Stall)
			return nil
		})
	}

	grp.Go(func() error {
		defer cancel()
		switch cmd {
		case "push":
			return push(ctx, c)
		case "record":
			for i := 0; i < cli.Record.N; i++ {
				rec, err := record(ctx, c, cli.Retries, cli.Record.Timeout)
				if err != nil {
					return fmt.Errorf("could not run recording #%d: %w", i, err)
				}
				summary(w, i, rec)
			}
			return nil
		case "shell":
			return shell(ctx, c)
		}
		return fmt.Errorf("unknown command %q", cmd)
	})

	return grp.Wait()
}

// push sends the configuration and waits for the worker to report a
// failure, if any.
func push(ctx context.Context, c *acq.Controller) error {
	err := c.Push()
	if err != nil {
		return fmt.Errorf("could not push configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err = c.Wait(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return nil
	case err != nil:
		return fmt.Errorf("could not push configuration: %w", err)
	}
	return nil
}

// record runs one recording, retrying up to retries times on failure.
// With zero retries, a failed recording is reported as is.
func record(ctx context.Context, c *acq.Controller, retries uint64, timeout time.Duration) (*acq.Recording, error) {
	var rec *acq.Recording
	op := func() error {
		err := c.Record()
		switch {
		case errors.Is(err, acq.ErrBusy):
			// a previous attempt is still in flight: keep polling it.
		case err != nil:
			return backoff.Permanent(err)
		}

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		for {
			rec, err = c.Wait(ctx)
			switch {
			case err == nil:
				return nil
			case errors.Is(err, context.DeadlineExceeded):
				log.Printf("recording stalled: %+v", err)
				// abandon the stalled transfer before trying again.
				_ = c.Kick()
				return err
			case ctx.Err() != nil:
				return backoff.Permanent(err)
			}

			if _, busy := c.Busy(); busy && !errors.Is(err, ctl.ErrRecord) {
				// a fault of an earlier instruction: the recording goes on.
				log.Printf("worker fault: %+v", err)
				continue
			}
			log.Printf("recording failed: %+v", err)
			return err
		}
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if retries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), retries)
	}
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func summary(w io.Writer, i int, rec *acq.Recording) {
	stats := rec.Stats()
	fmt.Fprintf(w, "recording #%d: samples=%d duration=%v format=%v\n",
		i, len(rec.Samples), time.Duration(rec.Duration()*float64(time.Second)), rec.Format,
	)
	for j, st := range stats {
		fmt.Fprintf(w, "  ch%d: mean=%g std-dev=%g\n", j+1, st.Mean, st.StdDev)
	}
}

func monitor(freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not monitor pid=%d: %w", os.Getpid(), err)
	}
	f, err := os.Create("rp-ctl-pmon.log")
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop pmon: %+v", err)
		}
		_ = f.Close()
	}, nil
}
