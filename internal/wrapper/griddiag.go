// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"fmt"
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
	register("grid_diag", newGridDiag)
}

// GridDiag computes histograms over many input files at once. Inputs are
// gathered across the whole runtime sequence and subset per run, so a run
// for one init time sees the files of all its leads.
type GridDiag struct {
	c          *Common
	specs      []FindSpec
	configFile string
	outDir     string
	outTmpl    string
	maskTmpl   string
	dataField  string
	sets       []FileSet
}

func newGridDiag(c *Common) (Wrapper, error) {
	cfg := c.Cfg
	w := &GridDiag{
		c:          c,
		configFile: cfg.Str(config.SecConfig, "GRID_DIAG_CONFIG_FILE", ""),
		outDir:     cfg.Dir("GRID_DIAG_OUTPUT_DIR", ""),
		outTmpl:    cfg.Str(config.SecTemplates, "GRID_DIAG_OUTPUT_TEMPLATE", ""),
		maskTmpl:   cfg.Str(config.SecTemplates, "GRID_DIAG_VERIFICATION_MASK_TEMPLATE", ""),
	}
	var merr errors.MultiError
	if w.configFile == "" {
		merr = append(merr, errors.Reason("GRID_DIAG_CONFIG_FILE must be set").Err())
	}
	inputDir := cfg.Dir("GRID_DIAG_INPUT_DIR", "")
	templates := cfg.List(config.SecTemplates, "GRID_DIAG_INPUT_TEMPLATE")
	if len(templates) == 0 {
		merr = append(merr, errors.Reason("GRID_DIAG_INPUT_TEMPLATE must be set").Err())
	}
	for _, tmpl := range templates {
		w.specs = append(w.specs, FindSpec{Dir: inputDir, Template: tmpl})
	}
	if w.outTmpl == "" {
		merr = append(merr, errors.Reason("GRID_DIAG_OUTPUT_TEMPLATE must be set").Err())
	}
	entries, err := varlist.Parse(cfg, "GRID_DIAG")
	if err != nil {
		merr = append(merr, err)
	} else if len(entries) == 0 {
		merr = append(merr, errors.Reason("no field information found (set BOTH_VAR1_NAME)").Err())
	}
	var fields []string
	for _, e := range entries {
		fields = append(fields, varlist.FormatField(e.FcstName, e.FcstLevel, e.FcstOptions))
	}
	w.dataField = strings.Join(fields, ",")
	if len(merr) > 0 {
		return nil, merr.AsError()
	}
	return w, nil
}

func (w *GridDiag) Name() string { return w.c.AppName }

func (w *GridDiag) DefaultRuntimeFreq() RuntimeFreq { return RunOncePerInitOrValid }

func (w *GridDiag) Gather(ctx context.Context, times []timeutil.TimeInfo) error {
	sets, err := GatherAll(ctx, w.specs, times)
	if err != nil {
		return err
	}
	w.sets = sets
	return nil
}

func (w *GridDiag) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	files := SubsetFiles(w.sets, ti)
	if len(files) == 0 {
		logging.Debugf(ctx, "No input files for %s", ti)
		return nil
	}
	listPath := filepath.Join(w.c.Staging, ListFileName(w.c.AppName, ti))
	if err := WriteListFile(listPath, files); err != nil {
		return err
	}
	rendered, err := template.Substitute(w.outTmpl, ti)
	if err != nil {
		return err
	}
	out := filepath.Join(w.outDir, rendered)
	configFile, err := template.Substitute(w.configFile, ti)
	if err != nil {
		return err
	}

	cfg := w.c.Cfg
	b := w.c.NewBuilder()
	if v := cfg.Str(config.SecConfig, "GRID_DIAG_INPUT_DATATYPE", ""); v != "" {
		b.Env["DATA_FILE_TYPE"] = fmt.Sprintf("file_type = %s;", v)
	} else {
		b.Env["DATA_FILE_TYPE"] = ""
	}
	b.Env["DATA_FIELD"] = w.dataField
	b.Env["REGRID_DICT"] = regridDict(cfg, w.c.Tool)
	if v := cfg.Str(config.SecConfig, "GRID_DIAG_DESCRIPTION", ""); v != "" {
		b.Env["DESC"] = fmt.Sprintf("desc = %q;", strings.Trim(v, `"`))
	} else {
		b.Env["DESC"] = ""
	}
	mask, err := w.verificationMask(ti)
	if err != nil {
		return err
	}
	b.Env["VERIF_MASK"] = mask

	b.Args = []string{"-data", listPath, "-config", configFile, "-out", out}
	b.Output = out
	return b.Build(ctx)
}

func (w *GridDiag) verificationMask(ti timeutil.TimeInfo) (string, error) {
	if w.maskTmpl == "" {
		return "", nil
	}
	mask, err := template.Substitute(w.maskTmpl, ti)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("poly = %s;", mask), nil
}
