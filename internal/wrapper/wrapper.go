// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package wrapper contains the tool wrappers: one per verification tool,
// each turning configuration plus a run time into tool invocations. The
// shared pieces are the command Builder, input file finding and the runtime
// frequency dispatch that decides how often a wrapper runs across the run
// time sequence.
package wrapper

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/timeutil"
)

// RuntimeFreq says how often a wrapper runs over the run time sequence.
type RuntimeFreq string

const (
	RunOnce               RuntimeFreq = "RUN_ONCE"
	RunOncePerInitOrValid RuntimeFreq = "RUN_ONCE_PER_INIT_OR_VALID"
	RunOncePerLead        RuntimeFreq = "RUN_ONCE_PER_LEAD"
	RunOnceForEach        RuntimeFreq = "RUN_ONCE_FOR_EACH"
)

// ParseRuntimeFreq normalizes a <TOOL>_RUNTIME_FREQ setting.
func ParseRuntimeFreq(s string) (RuntimeFreq, error) {
	switch RuntimeFreq(strings.ToUpper(strings.TrimSpace(s))) {
	case RunOnce:
		return RunOnce, nil
	case RunOncePerInitOrValid:
		return RunOncePerInitOrValid, nil
	case RunOncePerLead:
		return RunOncePerLead, nil
	case RunOnceForEach:
		return RunOnceForEach, nil
	}
	return "", errors.Reason("bad runtime frequency %q (want RUN_ONCE, RUN_ONCE_PER_INIT_OR_VALID, RUN_ONCE_PER_LEAD or RUN_ONCE_FOR_EACH)", s).Err()
}

// Wrapper is one tool wrapper.
type Wrapper interface {
	// Name is the tool binary name, e.g. grid_stat.
	Name() string
	// DefaultRuntimeFreq is used unless <TOOL>_RUNTIME_FREQ overrides it.
	DefaultRuntimeFreq() RuntimeFreq
	// Run processes one runtime. Fields of ti that the frequency leaves
	// open are zero (times) or wild (lead).
	Run(ctx context.Context, ti timeutil.TimeInfo) error
}

// Gatherer is implemented by wrappers that consume files from every runtime
// and subset them per run (the "all files" tools).
type Gatherer interface {
	Gather(ctx context.Context, times []timeutil.TimeInfo) error
}

// Finisher is implemented by wrappers with work that needs every run's
// output, such as computing plot ranges across all leads.
type Finisher interface {
	Finish(ctx context.Context) error
}

// Common carries what every wrapper needs: the resolved config, the tool's
// config key prefix, the per-run staging directory for generated list files
// and the per-run commands log.
type Common struct {
	Cfg      *config.Config
	Tool     string // config key prefix, e.g. GRID_STAT
	AppName  string // binary name, e.g. grid_stat
	Staging  string
	Commands *CommandLog
}

// Factory builds a wrapper from its Common block.
type Factory func(c *Common) (Wrapper, error)

type registration struct {
	appName string
	factory Factory
}

// Registered wrappers, keyed by canonical name (lowercase, underscores
// stripped) so both GridStat and grid_stat resolve.
var registry = map[string]registration{}

func register(appName string, f Factory) {
	registry[canonicalName(appName)] = registration{appName: appName, factory: f}
}

func canonicalName(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// Names returns the registered tool names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for _, reg := range registry {
		names = append(names, reg.appName)
	}
	sort.Strings(names)
	return names
}

// New builds the named wrapper. The name is matched ignoring case and
// underscores.
func New(name string, cfg *config.Config, staging string, commands *CommandLog) (Wrapper, error) {
	reg, ok := registry[canonicalName(name)]
	if !ok {
		return nil, errors.Reason("unknown wrapper %q (have %s)",
			name, strings.Join(Names(), ", ")).Err()
	}
	c := &Common{
		Cfg:      cfg,
		Tool:     strings.ToUpper(reg.appName),
		AppName:  reg.appName,
		Staging:  staging,
		Commands: commands,
	}
	return reg.factory(c)
}

// Freq resolves the runtime frequency for a wrapper, honoring the
// <TOOL>_RUNTIME_FREQ override.
func Freq(cfg *config.Config, tool string, def RuntimeFreq) (RuntimeFreq, error) {
	v := cfg.Str(config.SecConfig, tool+"_RUNTIME_FREQ", "")
	if v == "" {
		return def, nil
	}
	freq, err := ParseRuntimeFreq(v)
	if err != nil {
		return "", errors.Annotate(err, "%s_RUNTIME_FREQ", tool).Err()
	}
	return freq, nil
}

// CustomLoopList returns the custom loop strings for a tool; a single empty
// string when none are configured, so run loops always have one pass.
func CustomLoopList(cfg *config.Config, tool string) []string {
	list := cfg.List(config.SecConfig, tool+"_CUSTOM_LOOP_LIST")
	if len(list) == 0 {
		list = cfg.List(config.SecConfig, "CUSTOM_LOOP_LIST")
	}
	if len(list) == 0 {
		return []string{""}
	}
	return list
}

// groupTimes reduces the full runtime sequence to the runs a frequency
// makes: open fields stay zero (times) or wild (lead) and render as ALL.
func groupTimes(freq RuntimeFreq, loopBy timeutil.LoopBy, times []timeutil.TimeInfo) []timeutil.TimeInfo {
	switch freq {
	case RunOnce:
		return []timeutil.TimeInfo{{Lead: timeutil.LeadWild}}
	case RunOncePerInitOrValid:
		seen := map[time.Time]bool{}
		var out []timeutil.TimeInfo
		for _, ti := range times {
			key := ti.Init
			if loopBy == timeutil.LoopByValid {
				key = ti.Valid
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			g := timeutil.TimeInfo{Lead: timeutil.LeadWild}
			if loopBy == timeutil.LoopByValid {
				g.Valid = key
			} else {
				g.Init = key
			}
			out = append(out, g)
		}
		return out
	case RunOncePerLead:
		seen := map[time.Duration]bool{}
		var out []timeutil.TimeInfo
		for _, ti := range times {
			if seen[ti.Lead] {
				continue
			}
			seen[ti.Lead] = true
			out = append(out, timeutil.TimeInfo{Lead: ti.Lead})
		}
		return out
	default:
		return times
	}
}

// RunPerFreq drives one wrapper across the runtime sequence at the given
// frequency. Run errors are collected so later runtimes still execute; the
// combined error comes back at the end.
func RunPerFreq(ctx context.Context, w Wrapper, freq RuntimeFreq, loopBy timeutil.LoopBy, times []timeutil.TimeInfo, custom []string) error {
	var merr errors.MultiError
	if g, ok := w.(Gatherer); ok {
		if err := g.Gather(ctx, times); err != nil {
			return errors.Annotate(err, "%s: gathering input files", w.Name()).Err()
		}
	}
	if len(custom) == 0 {
		custom = []string{""}
	}
	for _, ti := range groupTimes(freq, loopBy, times) {
		for _, cu := range custom {
			if err := ctx.Err(); err != nil {
				merr = append(merr, errors.Annotate(err, "%s interrupted", w.Name()).Err())
				return merr.AsError()
			}
			run := ti
			run.Custom = cu
			if cu != "" {
				logging.Infof(ctx, "Processing custom string: %s", cu)
			}
			logging.Infof(ctx, "Running %s for %s", w.Name(), run)
			if err := w.Run(ctx, run); err != nil {
				merr = append(merr, errors.Annotate(err, "%s at %s", w.Name(), run).Err())
			}
		}
	}
	if f, ok := w.(Finisher); ok {
		if err := f.Finish(ctx); err != nil {
			merr = append(merr, errors.Annotate(err, "%s: finishing", w.Name()).Err())
		}
	}
	if len(merr) == 0 {
		return nil
	}
	return merr.AsError()
}
