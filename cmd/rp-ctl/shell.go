// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-lpc/rpcbc/acq"
	"github.com/go-lpc/rpcbc/internal/conf"
	"github.com/peterh/liner"
)

var errQuit = errors.New("rp-ctl: quit")

func shell(ctx context.Context, ctl *acq.Controller) error {
	term := liner.NewLiner()
	defer term.Close()

	term.SetCtrlCAborts(true)

	sh := newInterp(ctl, os.Stdout)
	term.SetCompleter(sh.complete)

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := term.Prompt("rp> ")
		switch {
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return fmt.Errorf("could not read command: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		term.AppendHistory(line)

		err = sh.exec(ctx, line)
		switch {
		case errors.Is(err, errQuit):
			return nil
		case err != nil:
			fmt.Fprintf(sh.w, "error: %+v\n", err)
		}
	}
}

type interp struct {
	ctl  *acq.Controller
	w    io.Writer
	cmds map[string]func(ctx context.Context, args []string) error

	timeout time.Duration
}

func newInterp(ctl *acq.Controller, w io.Writer) *interp {
	sh := &interp{ctl: ctl, w: w, timeout: time.Minute}
	sh.cmds = map[string]func(ctx context.Context, args []string) error{
		"help":    sh.help,
		"keys":    sh.keys,
		"get":     sh.get,
		"set":     sh.set,
		"push":    sh.push,
		"trigger": sh.trigger,
		"record":  sh.record,
		"status":  sh.status,
		"kick":    sh.kick,
		"quit":    func(context.Context, []string) error { return errQuit },
	}
	return sh
}

func (sh *interp) exec(ctx context.Context, line string) error {
	toks := strings.Fields(line)
	if len(toks) == 0 {
		return nil
	}
	cmd, ok := sh.cmds[toks[0]]
	if !ok {
		return fmt.Errorf("unknown command %q", toks[0])
	}
	return cmd(ctx, toks[1:])
}

func (sh *interp) complete(line string) []string {
	var o []string
	toks := strings.Fields(line)
	switch {
	case len(toks) == 2 && (toks[0] == "get" || toks[0] == "set") && !strings.HasSuffix(line, " "):
		cfg := sh.ctl.Config()
		for _, k := range cfg.Keys() {
			if strings.HasPrefix(k, toks[1]) {
				o = append(o, toks[0]+" "+k)
			}
		}
	case len(toks) <= 1:
		for k := range sh.cmds {
			if strings.HasPrefix(k, line) {
				o = append(o, k)
			}
		}
	}
	sort.Strings(o)
	return o
}

func (sh *interp) help(context.Context, []string) error {
	fmt.Fprint(sh.w, `commands:
  keys               list the parameter keys
  get <key>          print a parameter
  set <key> <value>  set a parameter (ranges as "a,b")
  push               push the configuration to the board
  trigger            trigger the board
  record             record samples and print their statistics
  status             print the recording status
  kick               restart the worker
  quit               leave the console
`)
	return nil
}

func (sh *interp) keys(context.Context, []string) error {
	cfg := sh.ctl.Config()
	for _, k := range cfg.Keys() {
		fmt.Fprintln(sh.w, k)
	}
	return nil
}

func (sh *interp) get(_ context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: get <key>")
	}
	cfg := sh.ctl.Config()
	v, err := cfg.Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.w, "%s = %v\n", args[0], v)
	return nil
}

func (sh *interp) set(_ context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: set <key> <value>")
	}
	v := conf.ParseValue(strings.Join(args[1:], " "))
	return sh.ctl.Set(args[0], v)
}

func (sh *interp) push(context.Context, []string) error {
	return sh.ctl.Push()
}

func (sh *interp) trigger(context.Context, []string) error {
	return sh.ctl.Trigger()
}

func (sh *interp) record(ctx context.Context, _ []string) error {
	rec, err := record(ctx, sh.ctl, 0, sh.timeout)
	if err != nil {
		return err
	}
	summary(sh.w, 0, rec)
	return nil
}

func (sh *interp) status(context.Context, []string) error {
	age, busy := sh.ctl.Busy()
	if !busy {
		fmt.Fprintf(sh.w, "board %s: idle\n", sh.ctl.Addr())
		return nil
	}
	fmt.Fprintf(sh.w, "board %s: recording for %v\n", sh.ctl.Addr(), age)
	return nil
}

func (sh *interp) kick(context.Context, []string) error {
	return sh.ctl.Kick()
}
