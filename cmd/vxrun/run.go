// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"
	luciflag "go.chromium.org/luci/common/flag"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
	"go.chromium.org/luci/common/system/signals"

	"vxrun/internal/config"
	"vxrun/internal/engine"
)

func cmdRun() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "run -c FILE [-c FILE...] [-dry-run]",
		ShortDesc: "Run the configured verification pipeline",
		LongDesc: text.Doc(`
			Run the configured verification pipeline.

			Loads the -c config files in order (later files override earlier
			keys), generates the run time sequence and runs every wrapper in
			PROCESS_LIST over it. With -dry-run every tool command is built
			and logged but nothing executes.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &runRun{}
			r.addSharedFlags()
			r.Flags.Var(luciflag.StringSlice(&r.configs), "c", text.Doc(`
				Config file to load. May be repeated; later files override
				earlier ones.
			`))
			r.Flags.BoolVar(&r.dryRun, "dry-run", false,
				"Build and log tool commands without executing them.")
			return r
		},
	}
}

type runRun struct {
	baseRun
	dryRun bool
}

func (r *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx))
}

func (r *runRun) run(ctx context.Context) error {
	if len(r.configs) == 0 {
		return errors.Reason("at least one -c config file is required").Err()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, signals.Interrupts()...)
	defer signal.Stop(sigC)
	go func() {
		if sig, ok := <-sigC; ok {
			logging.Warningf(ctx, "Caught %s, canceling the run", sig)
			cancel()
		}
	}()

	cfg, err := config.Load(ctx, r.configs...)
	if err != nil {
		return err
	}

	// From here on the log stream also goes to a per-run file under LOG_DIR.
	logDir := cfg.Dir("LOG_DIR", "")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return errors.Annotate(err, "creating log dir").Err()
	}
	logPath := filepath.Join(logDir, "vxrun."+clock.Now(ctx).Format("20060102150405")+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return errors.Annotate(err, "creating log file").Err()
	}
	defer logFile.Close()
	teeCfg := gologger.LoggerConfig{Out: io.MultiWriter(os.Stderr, logFile)}
	ctx = logging.SetLevel(teeCfg.Use(ctx), r.logLevel)
	logging.Infof(ctx, "Logging to %s", logPath)

	return engine.Run(ctx, cfg, engine.Options{DryRun: r.dryRun})
}
