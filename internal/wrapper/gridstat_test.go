// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.chromium.org/luci/common/errors"

	"vxrun/internal/assert"
	"vxrun/internal/cmd"
	"vxrun/internal/timeutil"
)

func gridStatConfig(t *testing.T, fcstDir, obsDir, outDir string) string {
	t.Helper()
	return fmt.Sprintf(`
[config]
MODEL = GFS
OBTYPE = GDAS
GRID_STAT_CONFIG_FILE = /parm/GridStatConfig_wrapped
GRID_STAT_REGRID_TO_GRID = FCST
BOTH_VAR1_NAME = TMP
BOTH_VAR1_LEVELS = P500
[dir]
OUTPUT_BASE = /out
MET_BIN_DIR = /met/bin
FCST_GRID_STAT_INPUT_DIR = %s
OBS_GRID_STAT_INPUT_DIR = %s
GRID_STAT_OUTPUT_DIR = %s
[filename_templates]
FCST_GRID_STAT_INPUT_TEMPLATE = fcst.{init?fmt=%%Y%%m%%d%%H}.f{lead?fmt=%%3H}.grb
OBS_GRID_STAT_INPUT_TEMPLATE = obs.{valid?fmt=%%Y%%m%%d%%H}.grb
`, fcstDir, obsDir, outDir)
}

func TestGridStatCommand(t *testing.T) {
	fcstDir := t.TempDir()
	obsDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "grid_stat")
	fcst := filepath.Join(fcstDir, "fcst.2020031512.f006.grb")
	obs := filepath.Join(obsDir, "obs.2020031518.grb")
	touch(t, fcst)
	touch(t, obs)

	cfg := loadConfig(t, gridStatConfig(t, fcstDir, obsDir, outDir))
	setRunner(t, cmd.FakeCommandRunner{
		ExpectedCmd: []string{
			"/met/bin/grid_stat", fcst, obs,
			"/parm/GridStatConfig_wrapped",
			"-outdir", outDir,
			"-v", "2",
		},
	})

	logPath := filepath.Join(t.TempDir(), "commands.log")
	w, err := New("grid_stat", cfg, t.TempDir(), NewCommandLog(logPath))
	assert.NilError(t, err)

	init := time.Date(2020, 3, 15, 12, 0, 0, 0, time.UTC)
	ti := timeutil.TimeInfo{Init: init, Valid: init.Add(6 * time.Hour), Lead: 6 * time.Hour}
	assert.NilError(t, w.Run(context.Background(), ti))

	// The tool's wrapped config file reads its settings from the
	// environment; the commands log captures what was exported.
	data, err := os.ReadFile(logPath)
	assert.NilError(t, err)
	line := string(data)
	for _, want := range []string{
		"MODEL=GFS",
		"OBTYPE=GDAS",
		"DESC=NA",
		"REGRID_DICT='regrid = {to_grid = FCST;}'",
		`FCST_FIELD='{ name="TMP"; level="P500"; }'`,
		`OBS_FIELD='{ name="TMP"; level="P500"; }'`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("commands log is missing %q:\n%s", want, line)
		}
	}
}

func TestGridStatMissingObs(t *testing.T) {
	fcstDir := t.TempDir()
	obsDir := t.TempDir()
	touch(t, filepath.Join(fcstDir, "fcst.2020031512.f006.grb"))

	cfg := loadConfig(t, gridStatConfig(t, fcstDir, obsDir, t.TempDir()))
	setRunner(t, cmd.FakeCommandRunner{FailCommand: true})

	w, err := New("grid_stat", cfg, t.TempDir(), nil)
	assert.NilError(t, err)

	init := time.Date(2020, 3, 15, 12, 0, 0, 0, time.UTC)
	ti := timeutil.TimeInfo{Init: init, Valid: init.Add(6 * time.Hour), Lead: 6 * time.Hour}
	err = w.Run(context.Background(), ti)
	assert.ErrorContains(t, err, "no OBS file matching")
}

func TestGridStatFactoryErrors(t *testing.T) {
	cfg := loadConfig(t, "[dir]\nOUTPUT_BASE = /out\n")
	_, err := New("grid_stat", cfg, t.TempDir(), nil)
	assert.NonNilError(t, err)

	// All the missing settings are reported at once.
	merr, ok := err.(errors.MultiError)
	assert.Assert(t, ok)
	assert.IntsEqual(t, len(merr), 4)
	assert.ErrorContains(t, merr[0], "GRID_STAT_CONFIG_FILE must be set")
	assert.ErrorContains(t, merr[1], "FCST_GRID_STAT_INPUT_TEMPLATE must be set")
	assert.ErrorContains(t, merr[2], "OBS_GRID_STAT_INPUT_TEMPLATE must be set")
	assert.ErrorContains(t, merr[3], "no field information found")
}
