// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/maruel/subcommands"
	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/data/text"
	"go.chromium.org/luci/common/errors"

	"vxrun/internal/externals"
)

func cmdStatus() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "status -externals FILE [-root DIR]",
		ShortDesc: "Report the state of every workspace external",
		LongDesc: text.Doc(`
			Report the state of every workspace external.

			For each external in the description file prints one line:
			missing (not checked out), ok (at its pinned ref), dirty (local
			modifications) or mismatch (checked out at something else),
			together with its descriptor and last commit age. Nothing is
			modified.
		`),
		CommandRun: func() subcommands.CommandRun {
			r := &statusRun{}
			r.addSharedFlags()
			r.Flags.StringVar(&r.externals, "externals", "",
				"Path to the externals description file. Required.")
			return r
		},
	}
}

type statusRun struct {
	baseRun
	externals string
}

func (r *statusRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, r, env)
	return errToCode(a, r.run(ctx, os.Stdout))
}

func (r *statusRun) run(ctx context.Context, w io.Writer) error {
	if r.externals == "" {
		return errors.Reason("-externals is required").Err()
	}
	if err := r.validateRoot(); err != nil {
		return err
	}
	desc, err := externals.Parse(r.externals)
	if err != nil {
		return err
	}
	statuses, err := externals.CheckStatus(ctx, desc, externals.Options{Root: r.root})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	for _, st := range statuses {
		age := "-"
		if !st.LastCommit.IsZero() {
			age = humanize.Time(st.LastCommit)
		}
		descriptor := st.Descriptor
		if descriptor == "" {
			descriptor = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\tlast commit %s\n",
			st.State, st.Name, st.LocalPath, descriptor, age)
	}
	return tw.Flush()
}
