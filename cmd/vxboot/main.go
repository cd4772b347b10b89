// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Command vxboot bootstraps a verification workspace: it checks out the
// external repositories named by an externals description file and runs the
// component install steps of a components.yaml manifest, with real error
// propagation in place of the shell script it replaces.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
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

// baseRun implements the flags every vxboot command shares. It implements
// cli.ContextModificator to apply the log level flag.
type baseRun struct {
	subcommands.CommandRunBase
	root     string
	logLevel logging.Level
}

func (r *baseRun) addSharedFlags() {
	r.Flags.StringVar(&r.root, "root", ".",
		"Workspace root directory the externals and components live under.")
	r.logLevel = logging.Info
	r.Flags.Var(&r.logLevel, "loglevel",
		`Log level, valid options are "debug", "info", "warning", "error". Default is "info".`)
}

// ModifyContext returns a new Context with the log level set in the flags.
func (r *baseRun) ModifyContext(ctx context.Context) context.Context {
	return logging.SetLevel(ctx, r.logLevel)
}

func (r *baseRun) validateRoot() error {
	if r.root == "" {
		return errors.Reason("-root must not be empty").Err()
	}
	return nil
}

func application() *cli.Application {
	return &cli.Application{
		Name:    "vxboot",
		Title:   "Verification workspace bootstrapper",
		Context: logCfg.Use,
		Commands: []*subcommands.Command{
			cmdCheckout(),
			cmdStatus(),
			cmdInstall(),
			cmdBootstrap(),
			cmdVersion(),

			subcommands.CmdHelp,
		},
	}
}

func main() {
	os.Exit(subcommands.Run(application(), nil))
}
