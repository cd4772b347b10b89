// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"path/filepath"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"
	luciflag "go.chromium.org/luci/common/flag"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/engine"
)

func cmdValidate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "validate -c FILE [-c FILE...]",
		ShortDesc: "Load and resolve configuration without running anything",
		LongDesc: text.Doc(`
			Load and resolve configuration without running anything.

			Merges the -c files, resolves every reference, checks the
			PROCESS_LIST and run time settings, and writes the final config
			dump under OUTPUT_BASE so the effective settings can be reviewed.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &validateRun{}
			r.addSharedFlags()
			r.Flags.Var(luciflag.StringSlice(&r.configs), "c", text.Doc(`
				Config file to load. May be repeated; later files override
				earlier ones.
			`))
			return r
		},
	}
}

type validateRun struct {
	baseRun
}

func (r *validateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx))
}

func (r *validateRun) run(ctx context.Context) error {
	if len(r.configs) == 0 {
		return errors.Reason("at least one -c config file is required").Err()
	}
	cfg, err := config.Load(ctx, r.configs...)
	if err != nil {
		return err
	}

	var merr errors.MultiError
	procs, err := engine.ParseProcessList(cfg.List(config.SecConfig, "PROCESS_LIST"))
	if err != nil {
		merr = append(merr, err)
	} else if len(procs) == 0 {
		merr = append(merr, errors.Reason("PROCESS_LIST must name at least one wrapper").Err())
	}
	if _, times, err := engine.Sequence(cfg); err != nil {
		merr = append(merr, err)
	} else {
		logging.Infof(ctx, "Config generates %d run times", len(times))
	}
	if err := cfg.Errors(); err != nil {
		merr = append(merr, err)
	}

	finalPath := filepath.Join(cfg.Dir("OUTPUT_BASE", ""), engine.FinalConfigName)
	if err := cfg.WriteFinal(finalPath); err != nil {
		merr = append(merr, err)
	} else {
		logging.Infof(ctx, "Wrote final config to %s", finalPath)
	}
	if len(merr) == 0 {
		logging.Infof(ctx, "Configuration is valid")
		return nil
	}
	return merr.AsError()
}
