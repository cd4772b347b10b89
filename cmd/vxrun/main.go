// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command vxrun drives external verification tools over a configured run
// time sequence. It loads layered INI configuration, generates run times,
// and runs each wrapper named in PROCESS_LIST against them.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/logging/gologger"
)

var logCfg = gologger.LoggerConfig{
	Out: os.Stderr,
}

func errToCode(a subcommands.Application, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", a.GetName(), err)
		return 1
	}
	return 0
}

// baseRun implements the flags every vxrun command shares. It implements
// cli.ContextModificator to apply the log level flag.
type baseRun struct {
	subcommands.CommandRunBase
	configs  []string
	logLevel logging.Level
}

func (r *baseRun) addSharedFlags() {
	r.logLevel = logging.Info
	r.Flags.Var(&r.logLevel, "loglevel",
		`Log level, valid options are "debug", "info", "warning", "error". Default is "info".`)
}

// ModifyContext returns a new Context with the log level set in the flags.
func (r *baseRun) ModifyContext(ctx context.Context) context.Context {
	return logging.SetLevel(ctx, r.logLevel)
}

func application() *cli.Application {
	return &cli.Application{
		Name:    "vxrun",
		Title:   "Verification pipeline runner",
		Context: logCfg.Use,
		Commands: []*subcommands.Command{
			cmdRun(),
			cmdValidate(),
			cmdVersion(),

			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(application(), nil))
}
