// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vxrun/internal/assert"
	"vxrun/internal/cmd"
	"vxrun/internal/timeutil"
)

func seriesConfig(t *testing.T, tileDir, outDir, stats string) string {
	t.Helper()
	return fmt.Sprintf(`
[config]
SERIES_ANALYSIS_CONFIG_FILE = /parm/SeriesAnalysisConfig
SERIES_ANALYSIS_STAT_LIST = %s
BOTH_VAR1_NAME = TMP
BOTH_VAR1_LEVELS = P500
[dir]
OUTPUT_BASE = /out
MET_BIN_DIR = /met/bin
SERIES_ANALYSIS_TILE_DIR = %s
SERIES_ANALYSIS_OUTPUT_DIR = %s
`, stats, tileDir, outDir)
}

func TestSeriesAnalysisRun(t *testing.T) {
	tileDir := t.TempDir()
	outDir := t.TempDir()
	fcstTile := filepath.Join(tileDir, "FCST_TILE_F006_gfs_ml001.nc")
	anlyTile := filepath.Join(tileDir, "ANLY_TILE_F006_gfs_ml001.nc")
	touch(t, fcstTile)
	touch(t, anlyTile)
	// Tiles of other leads are left alone.
	touch(t, filepath.Join(tileDir, "FCST_TILE_F012_gfs_ml001.nc"))

	cfg := loadConfig(t, seriesConfig(t, tileDir, outDir, "TOTAL, RMSE"))
	seriesDir := filepath.Join(outDir, "series_F006")
	setRunner(t, cmd.FakeCommandRunner{
		ExpectedCmd: []string{
			"/met/bin/series_analysis",
			"-fcst", filepath.Join(seriesDir, "FCST_FILES_F006"),
			"-obs", filepath.Join(seriesDir, "ANLY_FILES_F006"),
			"-config", "/parm/SeriesAnalysisConfig",
			"-out", filepath.Join(seriesDir, "series_F006_TMP_P500.nc"),
			"-v", "2",
		},
	})

	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	assert.Assert(t, w.DefaultRuntimeFreq() == RunOncePerLead)
	assert.NilError(t, w.Run(context.Background(), timeutil.TimeInfo{Lead: 6 * time.Hour}))

	data, err := os.ReadFile(filepath.Join(seriesDir, "FCST_FILES_F006"))
	assert.NilError(t, err)
	assert.StringsEqual(t, string(data), "file_list\n"+fcstTile+"\n")

	data, err = os.ReadFile(filepath.Join(seriesDir, "ANLY_FILES_F006"))
	assert.NilError(t, err)
	assert.StringsEqual(t, string(data), "file_list\n"+anlyTile+"\n")
}

func TestSeriesAnalysisUnpairedTile(t *testing.T) {
	tileDir := t.TempDir()
	touch(t, filepath.Join(tileDir, "FCST_TILE_F006_gfs_ml001.nc"))

	cfg := loadConfig(t, seriesConfig(t, tileDir, t.TempDir(), "TOTAL"))
	setRunner(t, cmd.FakeCommandRunner{FailCommand: true})

	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	err = w.Run(context.Background(), timeutil.TimeInfo{Lead: 6 * time.Hour})
	assert.ErrorContains(t, err, "no ANLY tile pairing")
}

func TestSeriesAnalysisNoTiles(t *testing.T) {
	cfg := loadConfig(t, seriesConfig(t, t.TempDir(), t.TempDir(), "TOTAL"))
	setRunner(t, cmd.FakeCommandRunner{FailCommand: true})

	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	err = w.Run(context.Background(), timeutil.TimeInfo{Lead: 6 * time.Hour})
	assert.ErrorContains(t, err, "no FCST tile files for F006")
}

func TestSeriesAnalysisPlotRanges(t *testing.T) {
	outDir := t.TempDir()
	seriesDir := filepath.Join(outDir, "series_F006")
	nc := filepath.Join(seriesDir, "series_F006_TMP_P500.nc")
	touch(t, nc)

	cfg := loadConfig(t, seriesConfig(t, t.TempDir(), outDir, "RMSE"))
	minNC := filepath.Join(seriesDir, "min.nc")
	maxNC := filepath.Join(seriesDir, "max.nc")
	setRunner(t, &cmd.FakeCommandRunnerMulti{
		CommandRunners: []cmd.FakeCommandRunner{
			{ExpectedCmd: []string{"ncap2", "-v", "-s", "min=min(series_cnt_RMSE)", nc, minNC}},
			{ExpectedCmd: []string{"ncap2", "-v", "-s", "max=max(series_cnt_RMSE)", nc, maxNC}},
			{ExpectedCmd: []string{"ncdump", minNC}, Stdout: "data:\n min = 0.5 ;\n"},
			{ExpectedCmd: []string{"ncdump", maxNC}, Stdout: "data:\n max = 42.25 ;\n"},
		},
	})

	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	sa := w.(*SeriesAnalysis)
	assert.NilError(t, sa.Finish(context.Background()))

	r, ok := sa.Ranges()["TMP_RMSE"]
	assert.Assert(t, ok)
	assert.Assert(t, r.Min == 0.5)
	assert.Assert(t, r.Max == 42.25)
}

func TestSeriesAnalysisPlotRangesNoOutput(t *testing.T) {
	cfg := loadConfig(t, seriesConfig(t, t.TempDir(), t.TempDir(), "RMSE"))
	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	sa := w.(*SeriesAnalysis)
	err = sa.Finish(context.Background())
	assert.ErrorContains(t, err, "no series output files")
}

func TestSeriesAnalysisFinishWithoutStats(t *testing.T) {
	cfg := loadConfig(t, seriesConfig(t, t.TempDir(), t.TempDir(), ""))
	setRunner(t, cmd.FakeCommandRunner{FailCommand: true})

	w, err := New("series_analysis", cfg, t.TempDir(), nil)
	assert.NilError(t, err)
	sa := w.(*SeriesAnalysis)
	// Without SERIES_ANALYSIS_STAT_LIST there is nothing to compute.
	assert.NilError(t, sa.Finish(context.Background()))
}
