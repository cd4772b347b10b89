// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"path/filepath"

	"go.chromium.org/luci/common/errors"

	"vxrun/internal/config"
	"vxrun/internal/template"
	"vxrun/internal/timeutil"
)

func init() {
	register("ascii2nc", newAscii2Nc)
}

// Ascii2Nc converts ascii point observations to the netCDF the statistics
// tools read.
type Ascii2Nc struct {
	c          *Common
	input      FindSpec
	outDir     string
	outTmpl    string
	configFile string
	format     string
}

func newAscii2Nc(c *Common) (Wrapper, error) {
	cfg := c.Cfg
	w := &Ascii2Nc{
		c:          c,
		input:      Spec(cfg, "ASCII2NC"),
		outDir:     cfg.Dir("ASCII2NC_OUTPUT_DIR", ""),
		outTmpl:    cfg.Str(config.SecTemplates, "ASCII2NC_OUTPUT_TEMPLATE", ""),
		configFile: cfg.Str(config.SecConfig, "ASCII2NC_CONFIG_FILE", ""),
		format:     cfg.Str(config.SecConfig, "ASCII2NC_INPUT_FORMAT", ""),
	}
	var merr errors.MultiError
	if w.input.Template == "" {
		merr = append(merr, errors.Reason("ASCII2NC_INPUT_TEMPLATE must be set").Err())
	}
	if w.outTmpl == "" {
		merr = append(merr, errors.Reason("ASCII2NC_OUTPUT_TEMPLATE must be set").Err())
	}
	if len(merr) > 0 {
		return nil, merr.AsError()
	}
	return w, nil
}

func (w *Ascii2Nc) Name() string { return w.c.AppName }

func (w *Ascii2Nc) DefaultRuntimeFreq() RuntimeFreq { return RunOnceForEach }

func (w *Ascii2Nc) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	files, err := w.input.FindFiles(ctx, ti)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Reason("no input files matching %s", w.input.Template).Err()
	}
	rendered, err := template.Substitute(w.outTmpl, ti)
	if err != nil {
		return err
	}
	out := filepath.Join(w.outDir, rendered)

	b := w.c.NewBuilder()
	b.Args = append(b.Args, files...)
	b.Args = append(b.Args, out)
	if w.format != "" {
		b.Args = append(b.Args, "-format", w.format)
	}
	if w.configFile != "" {
		cfgFile, err := template.Substitute(w.configFile, ti)
		if err != nil {
			return err
		}
		b.Args = append(b.Args, "-config", cfgFile)
	}
	b.Output = out
	return b.Build(ctx)
}
