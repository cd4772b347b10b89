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
	"vxrun/internal/install"
)

func cmdBootstrap() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "bootstrap -externals FILE -manifest FILE [-root DIR] [-j N]",
		ShortDesc: "Set up a complete workspace: install, checkout, install",
		LongDesc: text.Doc(`
			Set up a complete workspace.

			Runs the manifest's pre-checkout components, checks out the
			externals, then runs the post-checkout components. Each phase
			must succeed before the next starts.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &bootstrapRun{}
			r.addSharedFlags()
			r.Flags.StringVar(&r.externals, "externals", "",
				"Path to the externals description file. Required.")
			r.Flags.StringVar(&r.manifest, "manifest", "",
				"Path to the components.yaml manifest. Required.")
			r.Flags.IntVar(&r.jobs, "j", 4,
				"How many externals to process in parallel.")
			return r
		},
	}
}

type bootstrapRun struct {
	baseRun
	externals string
	manifest  string
	jobs      int
}

func (r *bootstrapRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx))
}

func (r *bootstrapRun) run(ctx context.Context) error {
	if r.externals == "" {
		return errors.Reason("-externals is required").Err()
	}
	if r.manifest == "" {
		return errors.Reason("-manifest is required").Err()
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
			logging.Warningf(ctx, "Caught %s, canceling the bootstrap", sig)
			cancel()
		}
	}()

	desc, err := externals.Parse(r.externals)
	if err != nil {
		return err
	}
	m, err := install.ParseManifest(r.manifest)
	if err != nil {
		return err
	}

	logging.Infof(ctx, "Bootstrap: pre-checkout installs")
	if err := install.Install(ctx, m, install.Options{Root: r.root, Phase: install.PhasePre}); err != nil {
		return errors.Annotate(err, "pre-checkout installs").Err()
	}
	logging.Infof(ctx, "Bootstrap: checking out %d externals", len(desc.Externals))
	if err := externals.Checkout(ctx, desc, externals.Options{Root: r.root, Jobs: r.jobs}); err != nil {
		return errors.Annotate(err, "externals checkout").Err()
	}
	logging.Infof(ctx, "Bootstrap: post-checkout installs")
	if err := install.Install(ctx, m, install.Options{Root: r.root, Phase: install.PhasePost}); err != nil {
		return errors.Annotate(err, "post-checkout installs").Err()
	}
	logging.Infof(ctx, "Bootstrap finished")
	return nil
}
