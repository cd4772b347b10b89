// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/install"
)

func cmdInstall() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "install -manifest FILE [-root DIR] [-phase pre|post|all]",
		ShortDesc: "Run the component install steps of a manifest",
		LongDesc: text.Doc(`
			Run the component install steps of a manifest.

			Components run in manifest order. -phase selects the components
			that run before the externals checkout (pre), after it (post) or
			all of them; a failing step stops its component and a failing
			required component stops the run.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &installRun{}
			r.addSharedFlags()
			r.Flags.StringVar(&r.manifest, "manifest", "",
				"Path to the components.yaml manifest. Required.")
			r.Flags.StringVar(&r.phase, "phase", "all",
				"Which components to run: pre, post or all.")
			return r
		},
	}
}

type installRun struct {
	baseRun
	manifest string
	phase    string
}

func (r *installRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx))
}

func (r *installRun) run(ctx context.Context) error {
	if r.manifest == "" {
		return errors.Reason("-manifest is required").Err()
	}
	if err := r.validateRoot(); err != nil {
		return err
	}
	phase, err := install.ParsePhase(r.phase)
	if err != nil {
		return err
	}
	m, err := install.ParseManifest(r.manifest)
	if err != nil {
		return err
	}
	if err := install.Install(ctx, m, install.Options{Root: r.root, Phase: phase}); err != nil {
		return err
	}
	logging.Infof(ctx, "Install phase %q finished", phase)
	return nil
}
