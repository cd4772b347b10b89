// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/template"
	"vxrun/internal/timeutil"
	"vxrun/internal/varlist"
)

func init() {
	register("grid_stat", newGridStat)
}

// GridStat verifies a gridded forecast against a gridded analysis, one run
// per runtime.
type GridStat struct {
	c          *Common
	fcst       FindSpec
	obs        FindSpec
	configFile string
	outDir     string
	entries    []varlist.Entry
}

func newGridStat(c *Common) (Wrapper, error) {
	cfg := c.Cfg
	w := &GridStat{
		c:          c,
		fcst:       Spec(cfg, "FCST_GRID_STAT"),
		obs:        Spec(cfg, "OBS_GRID_STAT"),
		configFile: cfg.Str(config.SecConfig, "GRID_STAT_CONFIG_FILE", ""),
		outDir:     cfg.Dir("GRID_STAT_OUTPUT_DIR", filepath.Join(cfg.Dir("OUTPUT_BASE", ""), "grid_stat")),
	}
	var merr errors.MultiError
	if w.configFile == "" {
		merr = append(merr, errors.Reason("GRID_STAT_CONFIG_FILE must be set").Err())
	}
	if w.fcst.Template == "" {
		merr = append(merr, errors.Reason("FCST_GRID_STAT_INPUT_TEMPLATE must be set").Err())
	}
	if w.obs.Template == "" {
		merr = append(merr, errors.Reason("OBS_GRID_STAT_INPUT_TEMPLATE must be set").Err())
	}
	entries, err := varlist.Parse(cfg, "GRID_STAT")
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

func (w *GridStat) Name() string { return w.c.AppName }

func (w *GridStat) DefaultRuntimeFreq() RuntimeFreq { return RunOnceForEach }

func (w *GridStat) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	fcstFile, err := w.findOne(ctx, w.fcst, "FCST", ti)
	if err != nil {
		return err
	}
	obsFile, err := w.findOne(ctx, w.obs, "OBS", ti)
	if err != nil {
		return err
	}
	configFile, err := template.Substitute(w.configFile, ti)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.outDir, 0o755); err != nil {
		return errors.Annotate(err, "creating output dir").Err()
	}

	cfg := w.c.Cfg
	b := w.c.NewBuilder()
	b.Env["MODEL"] = cfg.Str(config.SecConfig, "MODEL", "FCST")
	b.Env["OBTYPE"] = cfg.Str(config.SecConfig, "OBTYPE", "ANALYS")
	b.Env["DESC"] = cfg.Str(config.SecConfig, "GRID_STAT_DESC", cfg.Str(config.SecConfig, "DESC", "NA"))
	b.Env["REGRID_DICT"] = regridDict(cfg, w.c.Tool)
	var fcstFields, obsFields []string
	for _, e := range w.entries {
		fcstFields = append(fcstFields, varlist.FormatField(e.FcstName, e.FcstLevel, e.FcstOptions))
		obsFields = append(obsFields, varlist.FormatField(e.ObsName, e.ObsLevel, e.ObsOptions))
	}
	b.Env["FCST_FIELD"] = strings.Join(fcstFields, ",")
	b.Env["OBS_FIELD"] = strings.Join(obsFields, ",")

	b.Args = []string{fcstFile, obsFile, configFile, "-outdir", w.outDir}
	return b.Build(ctx)
}

func (w *GridStat) findOne(ctx context.Context, spec FindSpec, side string, ti timeutil.TimeInfo) (string, error) {
	files, err := spec.FindFiles(ctx, ti)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", errors.Reason("no %s file matching %s under %s", side, spec.Template, spec.Dir).Err()
	}
	if len(files) > 1 {
		logging.Debugf(ctx, "%d %s files matched, using %s", len(files), side, files[0])
	}
	return files[0], nil
}
