// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/timeutil"
	"vxrun/internal/varlist"
)

func init() {
	register("series_analysis", newSeriesAnalysis)
}

// PlotRange is the value range of one statistic across all leads, handed to
// the plotting step so every lead's plot shares a scale.
type PlotRange struct {
	Min float64
	Max float64
}

// SeriesAnalysis runs the series statistics per lead over pre-extracted
// storm tile files: for each lead it pairs the forecast tiles with their
// analysis counterparts, writes the list files and runs the tool per
// configured field. Afterwards it sweeps the outputs to compute the plot
// range of each statistic.
type SeriesAnalysis struct {
	c          *Common
	tileDir    string
	outDir     string
	configFile string
	stats      []string
	entries    []varlist.Entry
	ncap2      string
	ncdump     string
	ranges     map[string]PlotRange
}

var tileRe = regexp.MustCompile(`(FCST|ANLY)_TILE_F([0-9]{3})`)

func newSeriesAnalysis(c *Common) (Wrapper, error) {
	cfg := c.Cfg
	w := &SeriesAnalysis{
		c:          c,
		tileDir:    cfg.Dir("SERIES_ANALYSIS_TILE_DIR", ""),
		outDir:     cfg.Dir("SERIES_ANALYSIS_OUTPUT_DIR", filepath.Join(cfg.Dir("OUTPUT_BASE", ""), "series_analysis_lead")),
		configFile: cfg.Str(config.SecConfig, "SERIES_ANALYSIS_CONFIG_FILE", ""),
		stats:      cfg.List(config.SecConfig, "SERIES_ANALYSIS_STAT_LIST"),
		ncap2:      cfg.Str(config.SecConfig, "NCAP2_EXE", "ncap2"),
		ncdump:     cfg.Str(config.SecConfig, "NCDUMP_EXE", "ncdump"),
		ranges:     map[string]PlotRange{},
	}
	var merr errors.MultiError
	if w.configFile == "" {
		merr = append(merr, errors.Reason("SERIES_ANALYSIS_CONFIG_FILE must be set").Err())
	}
	if w.tileDir == "" {
		merr = append(merr, errors.Reason("SERIES_ANALYSIS_TILE_DIR must be set").Err())
	}
	entries, err := varlist.Parse(cfg, "SERIES_ANALYSIS")
	if err != nil {
		merr = append(merr, err)
	} else if len(entries) == 0 {
		merr = append(merr, errors.Reason("no field information found (set FCST_VAR1_NAME or BOTH_VAR1_NAME)").Err())
	}
	w.entries = entries
	if len(merr) > 0 {
		return nil, merr.AsError()
	}
	return w, nil
}

func (w *SeriesAnalysis) Name() string { return w.c.AppName }

func (w *SeriesAnalysis) DefaultRuntimeFreq() RuntimeFreq { return RunOncePerLead }

// Ranges returns the plot ranges computed by Finish, keyed <name>_<stat>.
func (w *SeriesAnalysis) Ranges() map[string]PlotRange { return w.ranges }

func (w *SeriesAnalysis) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	fhr := fmt.Sprintf("%03d", int(ti.Lead/time.Hour))
	logging.Infof(ctx, "Evaluating forecast hour %s", fhr)

	fcstTiles, err := w.findTiles("FCST", fhr)
	if err != nil {
		return err
	}
	if len(fcstTiles) == 0 {
		return errors.Reason("no FCST tile files for F%s under %s (tile extraction not run?)", fhr, w.tileDir).Err()
	}
	anlyTiles, err := w.findTiles("ANLY", fhr)
	if err != nil {
		return err
	}
	anlySet := stringset.NewFromSlice(anlyTiles...)
	for _, fcst := range fcstTiles {
		if !anlySet.Has(strings.ReplaceAll(fcst, "FCST", "ANLY")) {
			return errors.Reason("no ANLY tile pairing %s", fcst).Err()
		}
	}

	outDir := filepath.Join(w.outDir, "series_F"+fhr)
	fcstList := filepath.Join(outDir, "FCST_FILES_F"+fhr)
	anlyList := filepath.Join(outDir, "ANLY_FILES_F"+fhr)
	if err := WriteListFile(fcstList, fcstTiles); err != nil {
		return err
	}
	if err := WriteListFile(anlyList, anlyTiles); err != nil {
		return err
	}

	var merr errors.MultiError
	for _, e := range w.entries {
		out := filepath.Join(outDir,
			fmt.Sprintf("series_F%s_%s_%s.nc", fhr, e.FcstName, varlist.LevelName(e.FcstLevel)))
		b := w.c.NewBuilder()
		b.Env["NAME"] = e.FcstName
		b.Env["LEVEL"] = e.FcstLevel
		b.Args = []string{"-fcst", fcstList, "-obs", anlyList, "-config", w.configFile, "-out", out}
		b.Output = out
		if err := b.Build(ctx); err != nil {
			merr = append(merr, errors.Annotate(err, "field %s %s", e.FcstName, e.FcstLevel).Err())
		}
	}
	if len(merr) == 0 {
		return nil
	}
	return merr.AsError()
}

// findTiles walks the tile dir for <side>_TILE_F<fhr> files.
func (w *SeriesAnalysis) findTiles(side, fhr string) ([]string, error) {
	var tiles []string
	err := filepath.WalkDir(w.tileDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		m := tileRe.FindStringSubmatch(filepath.Base(path))
		if m != nil && m[1] == side && m[2] == fhr {
			tiles = append(tiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "scanning %s for %s tiles", w.tileDir, side).Err()
	}
	return tiles, nil
}

// Finish computes the plot range of each statistic over every lead's
// output so the plots for all leads share a scale.
func (w *SeriesAnalysis) Finish(ctx context.Context) error {
	if len(w.stats) == 0 {
		return nil
	}
	if w.c.Cfg.Bool(config.SecConfig, "DO_NOT_RUN_EXE", false) {
		logging.Infof(ctx, "DO_NOT_RUN_EXE is set, skipping plot range computation")
		return nil
	}
	ncFiles, err := w.outputNCFiles()
	if err != nil {
		return err
	}
	if len(ncFiles) == 0 {
		return errors.Reason("no series output files under %s to compute plot ranges from", w.outDir).Err()
	}
	for _, e := range w.entries {
		varFiles := filterVarNCFiles(ncFiles, e.FcstName)
		if len(varFiles) == 0 {
			return errors.Reason("no series output files for %s", e.FcstName).Err()
		}
		for _, stat := range w.stats {
			r, err := w.statRange(ctx, varFiles, stat)
			if err != nil {
				return errors.Annotate(err, "computing range of %s for %s", stat, e.FcstName).Err()
			}
			w.ranges[e.FcstName+"_"+stat] = r
			logging.Infof(ctx, "Plotting range for %s %s: %g to %g", e.FcstName, stat, r.Min, r.Max)
		}
	}
	return nil
}

var seriesNCRe = regexp.MustCompile(`^series_F[0-9]{3}.*\.nc$`)

func (w *SeriesAnalysis) outputNCFiles() ([]string, error) {
	var ncFiles []string
	err := filepath.WalkDir(w.outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if seriesNCRe.MatchString(filepath.Base(path)) {
			ncFiles = append(ncFiles, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "scanning %s for series output", w.outDir).Err()
	}
	return ncFiles, nil
}

func filterVarNCFiles(ncFiles []string, name string) []string {
	re := regexp.MustCompile(`^series_F[0-9]{3}_` + regexp.QuoteMeta(name) + `_[0-9a-zA-Z]+.*\.nc$`)
	var out []string
	for _, f := range ncFiles {
		if re.MatchString(filepath.Base(f)) {
			out = append(out, f)
		}
	}
	return out
}

var (
	ncMinRe = regexp.MustCompile(`(?m)^\s*min\s*=\s*([-+]?[0-9]*\.?[0-9]+)`)
	ncMaxRe = regexp.MustCompile(`(?m)^\s*max\s*=\s*([-+]?[0-9]*\.?[0-9]+)`)
)

// statRange drives ncap2 and ncdump over each file to find the overall min
// and max of one series statistic.
func (w *SeriesAnalysis) statRange(ctx context.Context, ncFiles []string, stat string) (PlotRange, error) {
	r := PlotRange{Min: 999999, Max: -999999}
	for _, nc := range ncFiles {
		dir := filepath.Dir(nc)
		minNC := filepath.Join(dir, "min.nc")
		maxNC := filepath.Join(dir, "max.nc")
		os.Remove(minNC)
		os.Remove(maxNC)
		if _, err := runHelper(ctx, w.ncap2, "-v", "-s",
			fmt.Sprintf("min=min(series_cnt_%s)", stat), nc, minNC); err != nil {
			return r, err
		}
		if _, err := runHelper(ctx, w.ncap2, "-v", "-s",
			fmt.Sprintf("max=max(series_cnt_%s)", stat), nc, maxNC); err != nil {
			return r, err
		}
		minOut, err := runHelper(ctx, w.ncdump, minNC)
		if err != nil {
			return r, err
		}
		maxOut, err := runHelper(ctx, w.ncdump, maxNC)
		if err != nil {
			return r, err
		}
		if m := ncMinRe.FindStringSubmatch(minOut); m != nil {
			var v float64
			if _, err := fmt.Sscanf(m[1], "%g", &v); err == nil && v < r.Min {
				r.Min = v
			}
		}
		if m := ncMaxRe.FindStringSubmatch(maxOut); m != nil {
			var v float64
			if _, err := fmt.Sscanf(m[1], "%g", &v); err == nil && v > r.Max {
				r.Max = v
			}
		}
		os.Remove(minNC)
		os.Remove(maxNC)
	}
	return r, nil
}
