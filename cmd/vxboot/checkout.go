// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"

	"vxrun/internal/externals"
)

func cmdCheckout() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "checkout -externals FILE [-root DIR] [-j N]",
		ShortDesc: "Check out the workspace externals at their pinned refs",
		LongDesc: text.Doc(`
			Check out the workspace externals at their pinned refs.

			Reads the externals description file, clones any repository that
			is absent, fetches the rest, and checks each out at its pinned
			tag, branch or hash. Nested descriptions are processed after
			their parent. The workspace is locked while it is modified.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &checkoutRun{}
			r.addSharedFlags()
			r.Flags.StringVar(&r.externals, "externals", "",
				"Path to the externals description file. Required.")
			r.Flags.IntVar(&r.jobs, "j", 4,
				"How many externals to process in parallel.")
			return r
		},
	}
}

type checkoutRun struct {
	baseRun
	externals string
	jobs      int
}

func (r *checkoutRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx))
}

func (r *checkoutRun) run(ctx context.Context) error {
	if r.externals == "" {
		return errors.Reason("-externals is required").Err()
	}
	if err := r.validateRoot(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, signals.Interrupts()...)
	defer signal.Stop(sigC)
	go func() {
		if sig, ok := <-sigC; ok {
			logging.Warningf(ctx, "Caught %s, canceling the checkout", sig)
			cancel()
		}
	}()

	desc, err := externals.Parse(r.externals)
	if err != nil {
		return err
	}
	if err := externals.Checkout(ctx, desc, externals.Options{Root: r.root, Jobs: r.jobs}); err != nil {
		return err
	}
	logging.Infof(ctx, "Checked out %d externals under %s", len(desc.Externals), r.root)
	return nil
}
