// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/maruel/subcommands"
)

// VersionNumber is the released version of the vxrun tools.
const VersionNumber = "1.0.0"

func cmdVersion() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "version",
		ShortDesc: "Print the tool version",
		CommandRun: func() subcommands.CommandRun {
			return &versionRun{}
		},
	}
}

type versionRun struct {
	subcommands.CommandRunBase
}

func (r *versionRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	fmt.Printf("vxrun version: %s\n", VersionNumber)
	return 0
}
