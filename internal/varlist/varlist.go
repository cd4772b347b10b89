// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package varlist parses the FCST_VAR<n>_* / OBS_VAR<n>_* / BOTH_VAR<n>_*
// settings that describe which fields a tool verifies, and renders them in
// the field dictionary format the tools read from their environment.
package varlist

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.chromium.org/luci/common/errors"

	"vxrun/internal/config"
)

// Entry is one field to process: a forecast name/level and its observation
// counterpart. Lists with several levels expand to one Entry per level.
type Entry struct {
	Index       int
	FcstName    string
	FcstLevel   string
	FcstOptions string
	ObsName     string
	ObsLevel    string
	ObsOptions  string
}

var varKeyRe = regexp.MustCompile(`^(FCST|OBS|BOTH)_(?:([A-Z0-9_]+)_)?VAR(\d+)_(NAME|LEVELS|OPTIONS)$`)

type side struct {
	name    string
	levels  []string
	options string
	set     bool
}

// Parse reads the var list for a tool. Tool-scoped keys
// (FCST_<TOOL>_VAR<n>_NAME) take precedence over the generic ones
// (FCST_VAR<n>_NAME). BOTH_ populates forecast and observation alike and
// must not be mixed with FCST_/OBS_ for the same index. When only one side
// is configured the other side mirrors it.
func Parse(cfg *config.Config, tool string) ([]Entry, error) {
	type pair struct {
		fcst, obs side
		both      bool
		sided     bool
	}
	indexes := map[int]*pair{}

	read := func(kind string, index int) side {
		var s side
		prefix := func(p string) string {
			return fmt.Sprintf("%s_VAR%d_", p, index)
		}
		// Tool-scoped keys win over generic ones.
		for _, p := range []string{kind + "_" + tool, kind} {
			nameKey := prefix(p) + "NAME"
			if !cfg.Has(config.SecConfig, nameKey) {
				continue
			}
			s.name = cfg.Str(config.SecConfig, nameKey, "")
			s.levels = cfg.List(config.SecConfig, prefix(p)+"LEVELS")
			s.options = strings.TrimSpace(cfg.Str(config.SecConfig, prefix(p)+"OPTIONS", ""))
			s.set = true
			return s
		}
		return s
	}

	for _, key := range cfg.Keys(config.SecConfig) {
		m := varKeyRe.FindStringSubmatch(key)
		if m == nil {
			continue
		}
		if m[2] != "" && m[2] != tool {
			continue
		}
		index, err := strconv.Atoi(m[3])
		if err != nil || index < 1 {
			return nil, errors.Reason("bad var index in %s", key).Err()
		}
		p := indexes[index]
		if p == nil {
			p = &pair{}
			indexes[index] = p
		}
		switch m[1] {
		case "BOTH":
			p.both = true
		default:
			p.sided = true
		}
	}

	var order []int
	for index := range indexes {
		order = append(order, index)
	}
	sort.Ints(order)

	var entries []Entry
	for _, index := range order {
		p := indexes[index]
		if p.both && p.sided {
			return nil, errors.Reason("VAR%d: BOTH_ cannot be mixed with FCST_/OBS_", index).Err()
		}
		var fcst, obs side
		if p.both {
			fcst = read("BOTH", index)
			obs = fcst
		} else {
			fcst = read("FCST", index)
			obs = read("OBS", index)
			if !fcst.set && !obs.set {
				// Keys exist only under another tool's scope.
				continue
			}
			if !fcst.set {
				fcst = obs
			}
			if !obs.set {
				obs = fcst
			}
		}
		if fcst.name == "" {
			return nil, errors.Reason("VAR%d: NAME must not be empty", index).Err()
		}
		if len(fcst.levels) != len(obs.levels) {
			return nil, errors.Reason("VAR%d: FCST and OBS must list the same number of levels (%d vs %d)",
				index, len(fcst.levels), len(obs.levels)).Err()
		}
		if len(fcst.levels) == 0 {
			fcst.levels = []string{""}
			obs.levels = []string{""}
		}
		for i := range fcst.levels {
			entries = append(entries, Entry{
				Index:       index,
				FcstName:    fcst.name,
				FcstLevel:   fcst.levels[i],
				FcstOptions: fcst.options,
				ObsName:     obs.name,
				ObsLevel:    obs.levels[i],
				ObsOptions:  obs.options,
			})
		}
	}
	return entries, nil
}

// FormatField renders one field dictionary, e.g.
// { name="TMP"; level="P500"; cnt_thresh=[ >15 ]; }.
func FormatField(name, level, options string) string {
	var b strings.Builder
	b.WriteString(`{ name="`)
	b.WriteString(name)
	b.WriteString(`";`)
	if level != "" {
		fmt.Fprintf(&b, ` level="%s";`, level)
	}
	if options != "" {
		options = strings.TrimRight(strings.TrimSpace(options), ";")
		b.WriteString(" ")
		b.WriteString(options)
		b.WriteString(";")
	}
	b.WriteString(" }")
	return b.String()
}

// LevelName strips the level type prefix for use in output file names, so
// P500 stays P500 but "(0,*,*)" becomes a name-safe 0_all_all.
func LevelName(level string) string {
	if level == "" {
		return ""
	}
	s := strings.Trim(level, "()")
	s = strings.ReplaceAll(s, "*", "all")
	s = strings.ReplaceAll(s, ",", "_")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
