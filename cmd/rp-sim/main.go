// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rp-sim serves a simulated RedPitaya CBC board.
//
// Usage:
//
//	$> rp-sim -addr=:5000 -gen=sine
package main // import "github.com/go-lpc/rpcbc/cmd/rp-sim"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"

	tlog "github.com/go-daq/tdaq/log"
	"github.com/go-lpc/rpcbc/internal/rpsim"
)

func main() {
	log.SetPrefix("rp-sim: ")
	log.SetFlags(0)

	var (
		addr    = flag.String("addr", ":5000", "[ip]:[port] to listen on")
		gen     = flag.String("gen", "ramp", "sample generator (ramp, sine)")
		verbose = flag.Bool("v", false, "enable debug output")
	)

	flag.Parse()

	err := run(*addr, *gen, *verbose)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(addr, gen string, verbose bool) error {
	fct, err := generator(gen)
	if err != nil {
		return err
	}

	lvl := tlog.LvlInfo
	if verbose {
		lvl = tlog.LvlDebug
	}

	dev, err := rpsim.New(addr,
		rpsim.WithGenerator(fct),
		rpsim.WithMsgStream(tlog.NewMsgStream("rp-sim", lvl, os.Stderr)),
	)
	if err != nil {
		return fmt.Errorf("could not create simulator: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	log.Printf("listening on %q...", dev.Addr())
	err = dev.Serve(ctx)
	if err != nil {
		return fmt.Errorf("could not serve: %w", err)
	}
	return nil
}

func generator(name string) (func(i int) (ch1, ch2 int16), error) {
	switch name {
	case "ramp":
		return rpsim.Ramp, nil
	case "sine":
		return sine, nil
	}
	return nil, fmt.Errorf("unknown generator %q", name)
}

// sine generates two quadrature sines with a period of 1000 samples.
func sine(i int) (ch1, ch2 int16) {
	const amp = math.MaxInt16 / 2
	phi := 2 * math.Pi * float64(i%1000) / 1000
	return int16(amp * math.Sin(phi)), int16(amp * math.Cos(phi))
}
