// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"testing"

	"vxrun/internal/assert"
)

func TestRegridDict(t *testing.T) {
	for _, tc := range []struct {
		name  string
		lines string
		want  string
	}{
		{
			name:  "empty",
			lines: "",
			want:  "",
		},
		{
			name:  "grid name is quoted",
			lines: "GRID_STAT_REGRID_TO_GRID = G212",
			want:  `regrid = {to_grid = "G212";}`,
		},
		{
			name:  "keyword stays bare",
			lines: "GRID_STAT_REGRID_TO_GRID = fcst",
			want:  "regrid = {to_grid = FCST;}",
		},
		{
			name: "all items in order",
			lines: `GRID_STAT_REGRID_TO_GRID = OBS
GRID_STAT_REGRID_METHOD = BUDGET
GRID_STAT_REGRID_WIDTH = 2
GRID_STAT_REGRID_VLD_THRESH = 0.5
GRID_STAT_REGRID_SHAPE = SQUARE`,
			want: "regrid = {to_grid = OBS;method = BUDGET;width = 2;vld_thresh = 0.5;shape = SQUARE;}",
		},
		{
			name:  "method alone",
			lines: "GRID_STAT_REGRID_METHOD = NEAREST",
			want:  "regrid = {method = NEAREST;}",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := loadConfig(t, "[config]\n"+tc.lines+"\n[dir]\nOUTPUT_BASE = /out\n")
			assert.StringsEqual(t, regridDict(cfg, "GRID_STAT"), tc.want)
		})
	}
}

func TestFormatRegridToGrid(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		in, want string
	}{
		{"", "NONE"},
		{"none", "NONE"},
		{"FCST", "FCST"},
		{"obs", "OBS"},
		{"G212", `"G212"`},
		{`"G212"`, `"G212"`},
		{"/path/to/grid.nc", `"/path/to/grid.nc"`},
	} {
		assert.StringsEqual(t, formatRegridToGrid(tc.in), tc.want)
	}
}
