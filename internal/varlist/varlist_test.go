// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package varlist

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vxrun/internal/assert"
	"vxrun/internal/config"

	"github.com/google/go-cmp/cmp"
)

func loadConfig(t *testing.T, lines ...string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.conf")
	content := strings.Join(append([]string{"[config]"}, lines...), "\n") +
		"\n[dir]\nOUTPUT_BASE = /out\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(context.Background(), path)
	assert.NilError(t, err)
	return cfg
}

func TestParseBoth(t *testing.T) {
	cfg := loadConfig(t,
		"BOTH_VAR1_NAME = TMP",
		"BOTH_VAR1_LEVELS = P500, P850",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)

	expected := []Entry{
		{Index: 1, FcstName: "TMP", FcstLevel: "P500", ObsName: "TMP", ObsLevel: "P500"},
		{Index: 1, FcstName: "TMP", FcstLevel: "P850", ObsName: "TMP", ObsLevel: "P850"},
	}
	if diff := cmp.Diff(expected, entries); diff != "" {
		t.Errorf("Parse diff (-want +got):\n%s", diff)
	}
}

func TestParseFcstObsPairs(t *testing.T) {
	cfg := loadConfig(t,
		"FCST_VAR1_NAME = TMP",
		"FCST_VAR1_LEVELS = P500",
		"OBS_VAR1_NAME = TMPANL",
		"OBS_VAR1_LEVELS = P500",
		"FCST_VAR2_NAME = UGRD",
		"FCST_VAR2_LEVELS = Z10",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 2)

	assert.StringsEqual(t, entries[0].FcstName, "TMP")
	assert.StringsEqual(t, entries[0].ObsName, "TMPANL")
	// A missing OBS side mirrors the FCST side.
	assert.StringsEqual(t, entries[1].ObsName, "UGRD")
	assert.StringsEqual(t, entries[1].ObsLevel, "Z10")
}

func TestParseToolScopedOverride(t *testing.T) {
	cfg := loadConfig(t,
		"FCST_VAR1_NAME = TMP",
		"FCST_GRID_STAT_VAR1_NAME = TMP_GS",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 1)
	assert.StringsEqual(t, entries[0].FcstName, "TMP_GS")

	// Another tool sees only the generic key.
	entries, err = Parse(cfg, "GRID_DIAG")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 1)
	assert.StringsEqual(t, entries[0].FcstName, "TMP")
}

func TestParseOtherToolScopeIgnored(t *testing.T) {
	cfg := loadConfig(t,
		"FCST_SERIES_ANALYSIS_VAR1_NAME = APCP",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 0)
}

func TestParseOptions(t *testing.T) {
	cfg := loadConfig(t,
		"BOTH_VAR1_NAME = APCP",
		"BOTH_VAR1_LEVELS = A06",
		"BOTH_VAR1_OPTIONS = cnt_thresh = [ >15 ]; cnt_logic = UNION;",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 1)
	assert.StringsEqual(t, entries[0].FcstOptions, "cnt_thresh = [ >15 ]; cnt_logic = UNION;")
}

func TestParseErrors(t *testing.T) {
	cfg := loadConfig(t,
		"BOTH_VAR1_NAME = TMP",
		"FCST_VAR1_NAME = TMP",
	)
	_, err := Parse(cfg, "GRID_STAT")
	assert.ErrorContains(t, err, "BOTH_ cannot be mixed")

	cfg = loadConfig(t,
		"FCST_VAR1_NAME = TMP",
		"FCST_VAR1_LEVELS = P500, P850",
		"OBS_VAR1_NAME = TMPANL",
		"OBS_VAR1_LEVELS = P500",
	)
	_, err = Parse(cfg, "GRID_STAT")
	assert.ErrorContains(t, err, "same number of levels")
}

func TestParseIndexOrder(t *testing.T) {
	cfg := loadConfig(t,
		"BOTH_VAR5_NAME = HGT",
		"BOTH_VAR2_NAME = TMP",
		"BOTH_VAR10_NAME = UGRD",
	)
	entries, err := Parse(cfg, "GRID_STAT")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(entries), 3)
	assert.IntsEqual(t, entries[0].Index, 2)
	assert.IntsEqual(t, entries[1].Index, 5)
	assert.IntsEqual(t, entries[2].Index, 10)
}

func TestFormatField(t *testing.T) {
	t.Parallel()
	assert.StringsEqual(t,
		FormatField("TMP", "P500", ""),
		`{ name="TMP"; level="P500"; }`)
	assert.StringsEqual(t,
		FormatField("PYTHON_NUMPY", "", ""),
		`{ name="PYTHON_NUMPY"; }`)
	assert.StringsEqual(t,
		FormatField("APCP", "A06", "cnt_thresh = [ >15 ];"),
		`{ name="APCP"; level="A06"; cnt_thresh = [ >15 ]; }`)
}

func TestLevelName(t *testing.T) {
	t.Parallel()
	assert.StringsEqual(t, LevelName("P500"), "P500")
	assert.StringsEqual(t, LevelName("(0,*,*)"), "0_all_all")
	assert.StringsEqual(t, LevelName(""), "")
}
