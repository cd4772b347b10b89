// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package engine runs the configured wrapper list over the run time
// sequence: it parses PROCESS_LIST, prepares the per-run staging directory
// and commands log, builds each wrapper and drives it at its runtime
// frequency. Wrapper failures are collected rather than fatal so one bad
// runtime does not stop the verification of the others.
package engine

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/timeutil"
	"vxrun/internal/wrapper"
)

// FinalConfigName is the resolved-config dump written under OUTPUT_BASE.
const FinalConfigName = "vxrun_final.conf"

// CommandsLogName is the replayable command log written under LOG_DIR.
const CommandsLogName = "vxrun_commands.log"

// Process is one PROCESS_LIST entry: a wrapper name plus an optional
// instance whose [section] keys overlay [config] for this run.
type Process struct {
	Name     string
	Instance string
}

func (p Process) String() string {
	if p.Instance == "" {
		return p.Name
	}
	return p.Name + "(" + p.Instance + ")"
}

var processRe = regexp.MustCompile(`^([A-Za-z0-9_]+)(?:\(([^()]+)\))?$`)

// ParseProcessList parses the items of PROCESS_LIST. Unknown wrapper names
// are rejected here so a typo fails the run before anything executes.
func ParseProcessList(items []string) ([]Process, error) {
	var procs []Process
	for _, item := range items {
		m := processRe.FindStringSubmatch(strings.TrimSpace(item))
		if m == nil {
			return nil, errors.Reason("bad PROCESS_LIST entry %q (want Name or Name(instance))", item).Err()
		}
		procs = append(procs, Process{Name: m[1], Instance: strings.TrimSpace(m[2])})
	}
	return procs, nil
}

// Sequence builds the run time sequence from the loop settings.
func Sequence(cfg *config.Config) (timeutil.LoopBy, []timeutil.TimeInfo, error) {
	loopBy, err := timeutil.ParseLoopBy(cfg.Str(config.SecConfig, "LOOP_BY", ""))
	if err != nil {
		return "", nil, err
	}
	prefix := string(loopBy)
	leads, err := timeutil.ParseLeadSeq(cfg.Str(config.SecConfig, "LEAD_SEQ", ""))
	if err != nil {
		return "", nil, errors.Annotate(err, "LEAD_SEQ").Err()
	}
	skip, err := timeutil.ParseSkipTimes(cfg.Str(config.SecConfig, "SKIP_TIMES", ""))
	if err != nil {
		return "", nil, err
	}
	incr, err := timeutil.ParseIncrement(cfg.Str(config.SecConfig, prefix+"_INCREMENT", ""))
	if err != nil {
		return "", nil, errors.Annotate(err, "%s_INCREMENT", prefix).Err()
	}
	beg := cfg.Str(config.SecConfig, prefix+"_BEG", "")
	times, err := timeutil.Sequence(timeutil.SequenceOptions{
		LoopBy:    loopBy,
		TimeFmt:   cfg.Str(config.SecConfig, prefix+"_TIME_FMT", ""),
		Beg:       beg,
		End:       cfg.Str(config.SecConfig, prefix+"_END", beg),
		Increment: incr,
		Leads:     leads,
		Skip:      skip,
	})
	if err != nil {
		return "", nil, err
	}
	return loopBy, times, nil
}

// Options adjust a run.
type Options struct {
	// DryRun forces DO_NOT_RUN_EXE: commands are assembled and logged but
	// nothing executes.
	DryRun bool
}

// Run executes the whole configured run. The returned error is a MultiError
// carrying every wrapper failure; processes after a failed one still run.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	start := clock.Now(ctx)
	if opts.DryRun {
		cfg.Set(config.SecConfig, "DO_NOT_RUN_EXE", "True")
	}

	procs, err := ParseProcessList(cfg.List(config.SecConfig, "PROCESS_LIST"))
	if err != nil {
		return err
	}
	if len(procs) == 0 {
		return errors.Reason("PROCESS_LIST must name at least one wrapper").Err()
	}
	loopBy, times, err := Sequence(cfg)
	if err != nil {
		return err
	}
	logging.Infof(ctx, "Generated %d run times, looping by %s", len(times), loopBy)

	finalPath := filepath.Join(cfg.Dir("OUTPUT_BASE", ""), FinalConfigName)
	if err := cfg.WriteFinal(finalPath); err != nil {
		return err
	}
	logging.Debugf(ctx, "Wrote final config to %s", finalPath)

	staging := filepath.Join(cfg.Dir("STAGING_DIR", ""), uuid.New().String())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return errors.Annotate(err, "creating staging dir").Err()
	}
	if cfg.Bool(config.SecConfig, "SCRUB_STAGING_DIR", true) {
		defer func() {
			if err := os.RemoveAll(staging); err != nil {
				logging.Warningf(ctx, "Cannot scrub staging dir %s: %v", staging, err)
			}
		}()
	} else {
		defer logging.Infof(ctx, "Keeping staging dir %s", staging)
	}

	commands := wrapper.NewCommandLog(filepath.Join(cfg.Dir("LOG_DIR", ""), CommandsLogName))

	var merr errors.MultiError
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			merr = append(merr, errors.Annotate(err, "run interrupted before %s", p).Err())
			break
		}
		logging.Infof(ctx, "Running process %s", p)
		if err := runProcess(ctx, cfg, p, loopBy, times, staging, commands); err != nil {
			logging.Errorf(ctx, "Process %s failed: %v", p, err)
			if m, ok := err.(errors.MultiError); ok {
				merr = append(merr, m...)
			} else {
				merr = append(merr, err)
			}
		}
	}

	took := strings.TrimSpace(humanize.RelTime(start, clock.Now(ctx), "", ""))
	if len(merr) == 0 {
		logging.Infof(ctx, "vxrun has successfully finished running.")
		logging.Infof(ctx, "Took %s to run.", took)
		return nil
	}
	logging.Errorf(ctx, "vxrun has finished running but had %d errors.", len(merr))
	logging.Infof(ctx, "Took %s to run.", took)
	return merr.AsError()
}

func runProcess(ctx context.Context, cfg *config.Config, p Process, loopBy timeutil.LoopBy, times []timeutil.TimeInfo, staging string, commands *wrapper.CommandLog) error {
	runCfg := cfg
	if p.Instance != "" {
		var err error
		runCfg, err = cfg.ApplyInstance(p.Instance)
		if err != nil {
			return err
		}
	}
	runCfg.ResetErrors()

	w, err := wrapper.New(p.Name, runCfg, staging, commands)
	if err != nil {
		var merr errors.MultiError
		merr = append(merr, errors.Annotate(err, "building %s", p).Err())
		if cerr := runCfg.Errors(); cerr != nil {
			merr = append(merr, cerr)
		}
		return merr.AsError()
	}
	if cerr := runCfg.Errors(); cerr != nil {
		return errors.Annotate(cerr, "configuring %s", p).Err()
	}

	tool := strings.ToUpper(w.Name())
	freq, err := wrapper.Freq(runCfg, tool, w.DefaultRuntimeFreq())
	if err != nil {
		return err
	}
	logging.Debugf(ctx, "%s runs %s", p, freq)
	custom := wrapper.CustomLoopList(runCfg, tool)
	if err := wrapper.RunPerFreq(ctx, w, freq, loopBy, times, custom); err != nil {
		return err
	}
	// Getter errors recorded while running count as failures too.
	return runCfg.Errors()
}
