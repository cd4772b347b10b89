// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package install runs the per-component installation steps of a workspace.
// A components.yaml manifest lists each component with its shell steps and an
// optional version check; components run in manifest order, split into a
// phase before and a phase after the externals checkout.
package install

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/shlex"
	"github.com/hashicorp/go-version"
	cp "github.com/otiai10/copy"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"gopkg.in/yaml.v2"

	"vxrun/internal/cmd"
)

// CommandRunnerImpl is swapped out in tests.
var CommandRunnerImpl cmd.CommandRunner = cmd.RealCommandRunner{}

// Phase selects which components Install runs relative to the externals
// checkout.
type Phase string

const (
	PhaseAll  Phase = "all"
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// ParsePhase parses a -phase flag value.
func ParsePhase(s string) (Phase, error) {
	switch Phase(strings.ToLower(s)) {
	case PhaseAll:
		return PhaseAll, nil
	case PhasePre:
		return PhasePre, nil
	case PhasePost:
		return PhasePost, nil
	}
	return "", errors.Reason("bad phase %q (want pre, post or all)", s).Err()
}

// CopyStep copies a file tree.
type CopyStep struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// Step is either a shell command or a tree copy.
type Step struct {
	Run  string    `yaml:"run"`
	Copy *CopyStep `yaml:"copy"`
}

// Component is one installable unit of the manifest.
type Component struct {
	Name string `yaml:"name"`
	// Path is the directory the steps run in, relative to the workspace
	// root. Empty means the root itself.
	Path string `yaml:"path"`
	// AfterCheckout components wait for the externals checkout; the rest
	// run before it.
	AfterCheckout bool   `yaml:"after_checkout"`
	MinVersion    string `yaml:"min_version"`
	VersionCmd    string `yaml:"version_cmd"`
	Optional      bool   `yaml:"optional"`
	Steps         []Step `yaml:"steps"`
}

// Manifest is a parsed components.yaml.
type Manifest struct {
	Components []Component `yaml:"components"`
	Path       string      `yaml:"-"`
}

// ParseManifest reads and validates a components.yaml file.
func ParseManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "loading manifest %s", path).Err()
	}
	m := &Manifest{Path: path}
	if err := yaml.UnmarshalStrict(b, m); err != nil {
		return nil, errors.Annotate(err, "parsing manifest %s", path).Err()
	}
	if len(m.Components) == 0 {
		return nil, errors.Reason("%s: no components defined", path).Err()
	}
	names := stringset.New(len(m.Components))
	for _, c := range m.Components {
		if c.Name == "" {
			return nil, errors.Reason("%s: component without a name", path).Err()
		}
		if !names.Add(c.Name) {
			return nil, errors.Reason("%s: duplicate component %q", path, c.Name).Err()
		}
		if c.Path != "" {
			if filepath.IsAbs(c.Path) {
				return nil, errors.Reason("%s: component %q path must be relative to the workspace root, got %q",
					path, c.Name, c.Path).Err()
			}
			clean := filepath.Clean(c.Path)
			if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
				return nil, errors.Reason("%s: component %q path %q escapes the workspace root",
					path, c.Name, c.Path).Err()
			}
		}
		if len(c.Steps) == 0 {
			return nil, errors.Reason("%s: component %q has no steps", path, c.Name).Err()
		}
		for i, s := range c.Steps {
			switch {
			case s.Run != "" && s.Copy != nil:
				return nil, errors.Reason("%s: component %q step %d sets both run and copy",
					path, c.Name, i+1).Err()
			case s.Run == "" && s.Copy == nil:
				return nil, errors.Reason("%s: component %q step %d sets neither run nor copy",
					path, c.Name, i+1).Err()
			case s.Copy != nil && (s.Copy.Src == "" || s.Copy.Dst == ""):
				return nil, errors.Reason("%s: component %q step %d copy needs both src and dst",
					path, c.Name, i+1).Err()
			}
		}
		if c.MinVersion != "" {
			if c.VersionCmd == "" {
				return nil, errors.Reason("%s: component %q sets min_version without version_cmd",
					path, c.Name).Err()
			}
			if _, err := version.NewConstraint(">= " + c.MinVersion); err != nil {
				return nil, errors.Annotate(err, "%s: component %q bad min_version %q",
					path, c.Name, c.MinVersion).Err()
			}
		}
	}
	return m, nil
}

// Options configure Install.
type Options struct {
	Root  string
	Phase Phase
}

func (o Options) wants(c Component) bool {
	switch o.Phase {
	case PhasePre:
		return !c.AfterCheckout
	case PhasePost:
		return c.AfterCheckout
	default:
		return true
	}
}

// Install runs the manifest's components for the selected phase, in manifest
// order. A failing step stops its component; a failing required component
// stops the run. Optional components only log their failure.
func Install(ctx context.Context, m *Manifest, opts Options) error {
	for _, c := range m.Components {
		if !opts.wants(c) {
			continue
		}
		if err := installComponent(ctx, c, opts.Root); err != nil {
			if c.Optional {
				logging.Warningf(ctx, "Optional component %q failed: %v", c.Name, err)
				continue
			}
			return errors.Annotate(err, "component %q", c.Name).Err()
		}
	}
	return nil
}

func installComponent(ctx context.Context, c Component, root string) error {
	dir := filepath.Join(root, c.Path)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return errors.Reason("component directory %s is not there (checkout not done?)", dir).Err()
	}
	for i, s := range c.Steps {
		var err error
		if s.Run != "" {
			err = runStep(ctx, c.Name, s.Run, dir, root)
		} else {
			err = copyStep(ctx, c.Name, *s.Copy, dir, root)
		}
		if err != nil {
			return errors.Annotate(err, "step %d", i+1).Err()
		}
	}
	return checkVersion(ctx, c, dir)
}

func runStep(ctx context.Context, name, command, dir, root string) error {
	args, err := shlex.Split(expandRoot(command, root))
	if err != nil {
		return errors.Annotate(err, "parsing %q", command).Err()
	}
	if len(args) == 0 {
		return errors.Reason("empty run step").Err()
	}
	logging.Infof(ctx, "Component %q: running %s", name, strings.Join(args, " "))
	var stdoutBuf, stderrBuf bytes.Buffer
	if err := CommandRunnerImpl.RunCommand(ctx, &stdoutBuf, &stderrBuf, dir, args[0], args[1:]...); err != nil {
		return errors.Annotate(err, "running %q: %s", command,
			strings.TrimSpace(stderrBuf.String())).Err()
	}
	if out := strings.TrimSpace(stdoutBuf.String()); out != "" {
		logging.Debugf(ctx, "Component %q: %s", name, out)
	}
	return nil
}

func copyStep(ctx context.Context, name string, s CopyStep, dir, root string) error {
	src := resolveStepPath(s.Src, dir, root)
	dst := resolveStepPath(s.Dst, dir, root)
	logging.Infof(ctx, "Component %q: copying %s to %s", name, src, dst)
	if err := cp.Copy(src, dst); err != nil {
		return errors.Annotate(err, "copying %s to %s", src, dst).Err()
	}
	return nil
}

func expandRoot(s, root string) string {
	return strings.ReplaceAll(s, "{ROOT}", root)
}

func resolveStepPath(p, dir, root string) string {
	p = expandRoot(p, root)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(dir, p)
}

var versionRe = regexp.MustCompile(`\d+\.\d+(\.\d+)?`)

// checkVersion runs the component's version_cmd and compares the first
// version number in its output against min_version.
func checkVersion(ctx context.Context, c Component, dir string) error {
	if c.VersionCmd == "" {
		return nil
	}
	args, err := shlex.Split(c.VersionCmd)
	if err != nil {
		return errors.Annotate(err, "parsing version_cmd %q", c.VersionCmd).Err()
	}
	if len(args) == 0 {
		return errors.Reason("empty version_cmd").Err()
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	if err := CommandRunnerImpl.RunCommand(ctx, &stdoutBuf, &stderrBuf, dir, args[0], args[1:]...); err != nil {
		return errors.Annotate(err, "running version_cmd %q: %s", c.VersionCmd,
			strings.TrimSpace(stderrBuf.String())).Err()
	}
	raw := versionRe.FindString(stdoutBuf.String() + stderrBuf.String())
	if raw == "" {
		return errors.Reason("no version number in version_cmd output %q",
			strings.TrimSpace(stdoutBuf.String())).Err()
	}
	v, err := version.NewVersion(raw)
	if err != nil {
		return errors.Annotate(err, "parsing version %q", raw).Err()
	}
	if c.MinVersion == "" {
		logging.Infof(ctx, "Component %q: version %s", c.Name, v)
		return nil
	}
	constraint, err := version.NewConstraint(">= " + c.MinVersion)
	if err != nil {
		return errors.Annotate(err, "bad min_version %q", c.MinVersion).Err()
	}
	if !constraint.Check(v) {
		return errors.Reason("version %s does not satisfy minimum %s", v, c.MinVersion).Err()
	}
	logging.Infof(ctx, "Component %q: version %s satisfies minimum %s", c.Name, v, c.MinVersion)
	return nil
}
