// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"fmt"
	"strings"

	"vxrun/internal/config"
)

// regridDict assembles the regrid block the tool's config file reads from
// the <TOOL>_REGRID_* settings. Empty when no regrid setting is present.
// Items keep the fixed to_grid, method, width, vld_thresh, shape order.
func regridDict(cfg *config.Config, tool string) string {
	var b strings.Builder
	if v := cfg.Str(config.SecConfig, tool+"_REGRID_TO_GRID", ""); v != "" {
		fmt.Fprintf(&b, "to_grid = %s;", formatRegridToGrid(v))
	}
	if v := cfg.Str(config.SecConfig, tool+"_REGRID_METHOD", ""); v != "" {
		fmt.Fprintf(&b, "method = %s;", v)
	}
	if cfg.Has(config.SecConfig, tool+"_REGRID_WIDTH") {
		if n := cfg.Int(config.SecConfig, tool+"_REGRID_WIDTH", config.MissingDataValue); n != config.MissingDataValue {
			fmt.Fprintf(&b, "width = %d;", n)
		}
	}
	if cfg.Has(config.SecConfig, tool+"_REGRID_VLD_THRESH") {
		if f := cfg.Float(config.SecConfig, tool+"_REGRID_VLD_THRESH", config.MissingDataValue); f != config.MissingDataValue {
			fmt.Fprintf(&b, "vld_thresh = %g;", f)
		}
	}
	if v := cfg.Str(config.SecConfig, tool+"_REGRID_SHAPE", ""); v != "" {
		fmt.Fprintf(&b, "shape = %s;", v)
	}
	if b.Len() == 0 {
		return ""
	}
	return "regrid = {" + b.String() + "}"
}

// formatRegridToGrid quotes a to_grid value unless it is one of the NONE,
// FCST and OBS keywords, which are forced uppercase instead.
func formatRegridToGrid(toGrid string) string {
	toGrid = strings.Trim(toGrid, `"`)
	if toGrid == "" {
		return "NONE"
	}
	switch strings.ToUpper(toGrid) {
	case "NONE", "FCST", "OBS":
		return strings.ToUpper(toGrid)
	}
	return `"` + toGrid + `"`
}
