// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"path/filepath"

	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/template"
	"vxrun/internal/timeutil"
)

func init() {
	register("example", newExample)
}

// Example runs no tool. It walks the runtime sequence and logs which input
// file each runtime would use, which makes it the place to check a template
// before wiring it into a real wrapper.
type Example struct {
	c        *Common
	inputDir string
	tmpl     string
}

func newExample(c *Common) (Wrapper, error) {
	return &Example{
		c:        c,
		inputDir: c.Cfg.Dir("EXAMPLE_INPUT_DIR", ""),
		tmpl:     c.Cfg.Str(config.SecTemplates, "EXAMPLE_INPUT_TEMPLATE", ""),
	}, nil
}

func (w *Example) Name() string { return w.c.AppName }

func (w *Example) DefaultRuntimeFreq() RuntimeFreq { return RunOnceForEach }

func (w *Example) Run(ctx context.Context, ti timeutil.TimeInfo) error {
	if w.tmpl == "" {
		logging.Infof(ctx, "No EXAMPLE_INPUT_TEMPLATE configured, nothing to look for")
		return nil
	}
	rendered, err := template.Substitute(w.tmpl, ti)
	if err != nil {
		return err
	}
	if w.inputDir != "" {
		logging.Infof(ctx, "Input directory is %s", w.inputDir)
	}
	logging.Infof(ctx, "Looking for file: %s", filepath.Join(w.inputDir, rendered))
	return nil
}
