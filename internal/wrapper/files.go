// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"vxrun/internal/config"
	"vxrun/internal/template"
	"vxrun/internal/timeutil"
)

// FindSpec describes where one kind of input file lives: a base directory,
// a filename template under it and an optional valid time window for
// matching observations that are not exactly on the hour.
type FindSpec struct {
	Dir       string
	Template  string
	WindowBeg time.Duration
	WindowEnd time.Duration
}

// Spec reads the find spec for a config key prefix such as GRID_DIAG or
// FCST_GRID_STAT: <prefix>_INPUT_DIR, <prefix>_INPUT_TEMPLATE and the file
// window (tool-scoped keys win over the global FILE_WINDOW_*).
func Spec(cfg *config.Config, prefix string) FindSpec {
	return FindSpec{
		Dir:       cfg.Dir(prefix+"_INPUT_DIR", ""),
		Template:  cfg.Str(config.SecTemplates, prefix+"_INPUT_TEMPLATE", ""),
		WindowBeg: window(cfg, prefix, "BEGIN"),
		WindowEnd: window(cfg, prefix, "END"),
	}
}

func window(cfg *config.Config, prefix, which string) time.Duration {
	for _, key := range []string{prefix + "_FILE_WINDOW_" + which, "FILE_WINDOW_" + which} {
		if cfg.Has(config.SecConfig, key) {
			return time.Duration(cfg.Int(config.SecConfig, key, 0)) * time.Second
		}
	}
	return 0
}

// FindFiles locates the input files for one runtime. Templates rendered
// with open time fields glob; a fully rendered name must exist on disk or,
// when a file window is set, the closest candidate within the window is
// picked. An empty result is not an error; callers decide whether a runtime
// without inputs is fatal.
func (s FindSpec) FindFiles(ctx context.Context, ti timeutil.TimeInfo) ([]string, error) {
	if s.Template == "" {
		return nil, errors.Reason("no input template configured").Err()
	}
	tmpl, err := template.Parse(s.Template)
	if err != nil {
		return nil, err
	}
	rendered, err := tmpl.Substitute(ti)
	if err != nil {
		return nil, err
	}
	full := filepath.Join(s.Dir, rendered)
	if strings.ContainsAny(rendered, "*?") {
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, errors.Annotate(err, "globbing %s", full).Err()
		}
		return matches, nil
	}
	if _, err := os.Stat(full); err == nil {
		return []string{full}, nil
	}
	if s.WindowBeg == 0 && s.WindowEnd == 0 {
		logging.Debugf(ctx, "No file %s and no file window set", full)
		return nil, nil
	}
	return s.findInWindow(ctx, tmpl, ti)
}

// findInWindow scans the input dir for names matching the template whose
// valid time falls inside [valid+beg, valid+end], returning the closest.
func (s FindSpec) findInWindow(ctx context.Context, tmpl *template.Template, ti timeutil.TimeInfo) ([]string, error) {
	if ti.Valid.IsZero() {
		return nil, nil
	}
	var best string
	var bestDiff time.Duration
	err := filepath.WalkDir(s.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.Dir, path)
		if err != nil {
			return err
		}
		info, ok, err := tmpl.Extract(rel)
		if err != nil || !ok {
			return nil
		}
		diff := info.Valid.Sub(ti.Valid)
		if diff < s.WindowBeg || diff > s.WindowEnd {
			return nil
		}
		abs := diff
		if abs < 0 {
			abs = -abs
		}
		if best == "" || abs < bestDiff || (abs == bestDiff && path < best) {
			best = path
			bestDiff = abs
		}
		return nil
	})
	if err != nil {
		return nil, errors.Annotate(err, "scanning %s for files in window", s.Dir).Err()
	}
	if best == "" {
		return nil, nil
	}
	logging.Debugf(ctx, "Found %s within the file window (off by %s)", best, bestDiff)
	return []string{best}, nil
}

// FileSet is the files one runtime contributed during gathering.
type FileSet struct {
	Time  timeutil.TimeInfo
	Files []string
}

// GatherAll collects candidate input files for every runtime across all
// specs, remembering which runtime each file belongs to for later
// subsetting. Runtimes without files are kept out of the result.
func GatherAll(ctx context.Context, specs []FindSpec, times []timeutil.TimeInfo) ([]FileSet, error) {
	var sets []FileSet
	for _, ti := range times {
		var files []string
		for _, spec := range specs {
			found, err := spec.FindFiles(ctx, ti)
			if err != nil {
				return nil, err
			}
			files = append(files, found...)
		}
		if len(files) == 0 {
			continue
		}
		sets = append(sets, FileSet{Time: ti, Files: files})
	}
	logging.Debugf(ctx, "Gathered files for %d of %d runtimes", len(sets), len(times))
	return sets, nil
}

// SubsetFiles returns the gathered files whose runtime the run accepts;
// open fields of the run match anything.
func SubsetFiles(sets []FileSet, run timeutil.TimeInfo) []string {
	var files []string
	for _, set := range sets {
		if run.Matches(set.Time) {
			files = append(files, set.Files...)
		}
	}
	return files
}

// ListFileName names the ascii file listing a run's inputs; open time
// fields render as ALL.
func ListFileName(tool string, ti timeutil.TimeInfo) string {
	return tool + "_files_init_" + ti.InitStamp() +
		"_valid_" + ti.ValidStamp() + "_lead_" + ti.LeadStamp() + ".txt"
}

// WriteListFile writes an input list file. The first line is the file_list
// marker the tools use to tell list files from data files.
func WriteListFile(path string, files []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Annotate(err, "creating list file dir").Err()
	}
	var b strings.Builder
	b.WriteString("file_list\n")
	for _, f := range files {
		b.WriteString(f)
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Annotate(err, "writing list file").Err()
	}
	return nil
}
