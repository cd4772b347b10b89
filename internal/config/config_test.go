// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vxrun/internal/assert"

	"github.com/google/go-cmp/cmp"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/clock/testclock"
)

func testContext() context.Context {
	ctx := context.Background()
	return clock.Set(ctx, testclock.New(time.Date(2020, 3, 15, 12, 30, 0, 0, time.UTC)))
}

func TestLoadLayering(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	// Later files win.
	assert.StringsEqual(t, cfg.Str(SecConfig, "MODEL", ""), "NAM")
	// Keys only in the base file survive.
	assert.StringsEqual(t, cfg.Str(SecConfig, "OBTYPE", ""), "ANALYS")
	// Keys only in the override file are present.
	assert.StringsEqual(t, cfg.Str(SecConfig, "GRID_STAT_OUTPUT_FLAG_CTC", ""), "STAT")
}

func TestLoadResolvesReferences(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	// {MODEL} resolves against the merged config, so the override wins.
	assert.StringsEqual(t, cfg.Str(SecConfig, "DESC", ""), "NAM_test")
	// Cross-section references resolve ([dir] PARM_BASE).
	assert.StringsEqual(t, cfg.Str(SecConfig, "GRID_STAT_CONFIG_FILE", ""),
		"/data/parm/met_config/GridStatConfig_wrapped")
	assert.StringsEqual(t, cfg.Dir("GRID_STAT_OUTPUT_DIR", ""), "/data/output/grid_stat")
}

func TestLoadLeavesRuntimeTags(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf")
	assert.NilError(t, err)

	assert.StringsEqual(t, cfg.Str(SecTemplates, "FCST_GRID_STAT_INPUT_TEMPLATE", ""),
		"gfs.t{init?fmt=%H}z.pgrb2.f{lead?fmt=%3H}")
}

func TestLoadValueWithSemicolon(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	// Inline comment handling must not eat tool options.
	assert.StringsEqual(t, cfg.Str(SecConfig, "FCST_VAR1_OPTIONS", ""),
		"cnt_thresh = [ >15 ]; cnt_logic = UNION;")
}

func TestLoadEnvAndNow(t *testing.T) {
	if err := os.Setenv("VXRUN_TEST_INPUT", "/env/input"); err != nil {
		t.Fatal(err)
	}
	defer os.Unsetenv("VXRUN_TEST_INPUT")

	dir := t.TempDir()
	path := filepath.Join(dir, "run.conf")
	content := strings.Join([]string{
		"[config]",
		"STAMP = {now?fmt=%Y%m%d%H}",
		"DAY = {today}",
		"[dir]",
		"OUTPUT_BASE = /data/out",
		"INPUT_BASE = {ENV[VXRUN_TEST_INPUT]}",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(testContext(), path)
	assert.NilError(t, err)
	assert.StringsEqual(t, cfg.Str(SecConfig, "STAMP", ""), "2020031512")
	assert.StringsEqual(t, cfg.Str(SecConfig, "DAY", ""), "20200315")
	assert.StringsEqual(t, cfg.Dir("INPUT_BASE", ""), "/env/input")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	_, err := Load(testContext())
	assert.ErrorContains(t, err, "no config files")

	_, err = Load(testContext(), filepath.Join(dir, "missing.conf"))
	assert.NonNilError(t, err)

	_, err = Load(testContext(), write("noout.conf", "[config]\nA = 1\n"))
	assert.ErrorContains(t, err, "OUTPUT_BASE")

	_, err = Load(testContext(), write("badref.conf",
		"[config]\nA = {NOPE}\n[dir]\nOUTPUT_BASE = /o\n"))
	assert.ErrorContains(t, err, "could not resolve {NOPE}")

	_, err = Load(testContext(), write("cycle.conf",
		"[config]\nA = {B}\nB = {A}\n[dir]\nOUTPUT_BASE = /o\n"))
	assert.ErrorContains(t, err, "circular reference")

	_, err = Load(testContext(), write("badenv.conf",
		"[config]\nA = {ENV[VXRUN_DEFINITELY_NOT_SET]}\n[dir]\nOUTPUT_BASE = /o\n"))
	assert.ErrorContains(t, err, "VXRUN_DEFINITELY_NOT_SET")
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf")
	assert.NilError(t, err)

	assert.StringsEqual(t, cfg.Dir("MET_BIN_DIR", ""), "/usr/local/met/bin")
	assert.StringsEqual(t, cfg.Dir("LOG_DIR", ""), "/data/output/logs")
	assert.StringsEqual(t, cfg.Dir("STAGING_DIR", ""), "/data/output/stage")
}

func TestTypedGetters(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "typed.conf")
	content := strings.Join([]string{
		"[config]",
		"COUNT = 42",
		"RATIO = 0.5",
		"FLAG = True",
		"OFF = no",
		"BAD_INT = fish",
		"[dir]",
		"OUTPUT_BASE = /o",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(testContext(), path)
	assert.NilError(t, err)

	assert.IntsEqual(t, cfg.Int(SecConfig, "COUNT", 0), 42)
	assert.IntsEqual(t, cfg.Int(SecConfig, "ABSENT", 7), 7)
	assert.Assert(t, cfg.Float(SecConfig, "RATIO", 0) == 0.5)
	assert.BoolsEqual(t, cfg.Bool(SecConfig, "FLAG", false), true)
	assert.BoolsEqual(t, cfg.Bool(SecConfig, "OFF", true), false)
	assert.NilError(t, cfg.Errors())

	assert.IntsEqual(t, cfg.Int(SecConfig, "BAD_INT", 0), MissingDataValue)
	assert.ErrorContains(t, cfg.Errors(), "not an integer")
	cfg.ResetErrors()
	assert.NilError(t, cfg.Errors())
}

func TestList(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	got := cfg.List(SecConfig, "FCST_VAR1_LEVELS")
	if diff := cmp.Diff([]string{"P500", "P850"}, got); diff != "" {
		t.Errorf("List diff (-want +got):\n%s", diff)
	}
	assert.Assert(t, cfg.List(SecConfig, "ABSENT") == nil)
}

func TestSplitList(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    string
		expected []string
	}{
		{"a, b, c", []string{"a", "b", "c"}},
		{"(0,*,*), (1,*,*)", []string{"(0,*,*)", "(1,*,*)"}},
		{`"%m:3,4", "%H:0"`, []string{"%m:3,4", "%H:0"}},
		{"GridStat(mem1), GridDiag", []string{"GridStat(mem1)", "GridDiag"}},
		{"", nil},
	} {
		got := SplitList(tc.input)
		if diff := cmp.Diff(tc.expected, got); diff != "" {
			t.Errorf("SplitList(%q) diff (-want +got):\n%s", tc.input, diff)
		}
	}
}

func TestApplyInstance(t *testing.T) {
	t.Parallel()
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	inst, err := cfg.ApplyInstance("mem1")
	assert.NilError(t, err)
	assert.StringsEqual(t, inst.Str(SecConfig, "MODEL", ""), "GFS_MEM1")
	// The original is untouched.
	assert.StringsEqual(t, cfg.Str(SecConfig, "MODEL", ""), "NAM")

	_, err = cfg.ApplyInstance("nope")
	assert.ErrorContains(t, err, "no [nope] section")
}

func TestWriteFinal(t *testing.T) {
	cfg, err := Load(testContext(), "testdata/base.conf", "testdata/override.conf")
	assert.NilError(t, err)

	path := filepath.Join(t.TempDir(), "conf", "vxrun_final.conf")
	assert.NilError(t, cfg.WriteFinal(path))

	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	text := string(data)
	assert.Assert(t, strings.HasPrefix(text, "[config]\n"))
	assert.Assert(t, strings.Contains(text, "MODEL = NAM\n"))
	assert.Assert(t, strings.Contains(text, "[mem1]\n"))

	// The dump reloads cleanly.
	_, err = Load(testContext(), path)
	assert.NilError(t, err)
}
