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
)

func init() {
	register("plot_data_plane", newPlotDataPlane)
}

// PlotDataPlane renders one field of a gridded file to a postscript plot,
// optionally converting it to png afterwards.
type PlotDataPlane struct {
	c          *Common
	input      FindSpec
	outDir     string
	outTmpl    string
	fieldName  string
	fieldLevel string
	fieldExtra string
	title      string
	colorTable string
	rangeMin   string
	rangeMax   string
	toPNG      bool
	convert    string
}

func newPlotDataPlane(c *Common) (Wrapper, error) {
	cfg := c.Cfg
	w := &PlotDataPlane{
		c:          c,
		input:      Spec(cfg, "PLOT_DATA_PLANE"),
		outDir:     cfg.Dir("PLOT_DATA_PLANE_OUTPUT_DIR", ""),
		outTmpl:    cfg.Str(config.SecTemplates, "PLOT_DATA_PLANE_OUTPUT_TEMPLATE", ""),
		fieldName:  cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_FIELD_NAME", ""),
		fieldLevel: cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_FIELD_LEVEL", ""),
		fieldExtra: cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_FIELD_EXTRA", ""),
		title:      cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_TITLE", ""),
		colorTable: cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_COLOR_TABLE", ""),
		rangeMin:   cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_RANGE_MIN", ""),
		rangeMax:   cfg.Str(config.SecConfig, "PLOT_DATA_PLANE_RANGE_MAX", ""),
		toPNG:      cfg.Bool(config.SecConfig, "PLOT_DATA_PLANE_CONVERT_TO_PNG", false),
		convert:    cfg.Str(config.SecConfig, "CONVERT_EXE", "convert"),
	}
	var merr errors.MultiError
	if w.input.Template == "" {
		merr = append(merr, errors.Reason("PLOT_DATA_PLANE_INPUT_TEMPLATE must be set").Err())
	}
	if w.outTmpl == "" {
		merr = append(merr, errors.Reason("PLOT_DATA_PLANE_OUTPUT_TEMPLATE must be set").Err())
	}
	if w.fieldName == "" {
		merr = append(merr, errors.Reason("PLOT_DATA_PLANE_FIELD_NAME must be set").Err())
	}
	if (w.rangeMin == "") != (w.rangeMax == "") {
		merr = append(merr, errors.Reason("PLOT_DATA_PLANE_RANGE_MIN and RANGE_MAX must be set together").Err())
	}
	if len(merr) > 0 {
		return nil, merr.AsError()
	}
	return w, nil
}

func (w *PlotDataPlane) Name() string { return w.c.AppName }

func (w *PlotDataPlane) DefaultRuntimeFreq() RuntimeFreq { return RunOnceForEach }

// fieldString renders the field request the way the tool parses it on the
// command line, without the outer dictionary braces.
func (w *PlotDataPlane) fieldString(ti timeutil.TimeInfo) (string, error) {
	name, err := template.Substitute(w.fieldName, ti)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "name=%q;", name)
	if w.fieldLevel != "" {
		level, err := template.Substitute(w.fieldLevel, ti)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " level=%q;", level)
	}
	if w.fieldExtra != "" {
		extra := strings.TrimRight(strings.TrimSpace(w.fieldExtra), ";")
		b.WriteString(" ")
		b.WriteString(extra)
		b.WriteString(";")
	}
	return b.String(), nil
}

func (w *PlotDataPlane) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	inFiles, err := w.input.FindFiles(ctx, ti)
	if err != nil {
		return err
	}
	if len(inFiles) == 0 {
		return errors.Reason("no input file matching %s under %s", w.input.Template, w.input.Dir).Err()
	}
	in := inFiles[0]

	outName, err := template.Substitute(w.outTmpl, ti)
	if err != nil {
		return err
	}
	out := filepath.Join(w.outDir, outName)

	field, err := w.fieldString(ti)
	if err != nil {
		return err
	}

	b := w.c.NewBuilder()
	b.Args = []string{in, out, field}
	if w.colorTable != "" {
		b.Args = append(b.Args, "-color_table", w.colorTable)
	}
	if w.rangeMin != "" {
		b.Args = append(b.Args, "-plot_range", w.rangeMin, w.rangeMax)
	}
	if w.title != "" {
		title, err := template.Substitute(w.title, ti)
		if err != nil {
			return err
		}
		b.Args = append(b.Args, "-title", title)
	}
	b.Output = out
	if err := b.Build(ctx); err != nil {
		return err
	}
	if !w.toPNG {
		return nil
	}
	if b.dryRun {
		logging.Infof(ctx, "DO_NOT_RUN_EXE is set, not converting %s", out)
		return nil
	}
	png := strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
	logging.Infof(ctx, "Converting %s to %s", out, png)
	if _, err := runHelper(ctx, w.convert, "-rotate", "90", "-background", "white", out, png); err != nil {
		return errors.Annotate(err, "converting %s to png", out).Err()
	}
	return nil
}
