// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package externals manages the external repositories a workspace is built
// from. A description file lists each external with the git ref to pin; the
// package checks them out, reports their status and follows nested
// descriptions inside checked out externals.
package externals

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-version"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"gopkg.in/ini.v1"
)

// The metadata section of a description file. All other sections name
// externals.
const metaSection = "externals_description"

// Descriptions written against a later major schema are rejected.
var schemaConstraint = mustConstraint(">= 1.0, < 2.0")

func mustConstraint(s string) version.Constraints {
	c, err := version.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

// External is one pinned repository of the workspace.
type External struct {
	Name      string
	LocalPath string
	Protocol  string
	RepoURL   string
	Tag       string
	Branch    string
	Hash      string
	Required  bool
	// Externals names a nested description file inside the checked out
	// repo, processed after this external is in place.
	Externals string
}

// Ref returns the pinned ref and whether it is a branch (branches track
// their remote; tags and hashes check out detached).
func (e *External) Ref() (ref string, isBranch bool) {
	switch {
	case e.Tag != "":
		return e.Tag, false
	case e.Hash != "":
		return e.Hash, false
	default:
		return e.Branch, true
	}
}

// Description is a parsed externals description file.
type Description struct {
	SchemaVersion *version.Version
	Externals     []External
	Path          string
}

var sectionHeaderRe = regexp.MustCompile(`(?m)^\s*\[([^]\n]+)\]`)

// duplicateSection returns the first section name that appears more than
// once in the raw file. ini.v1 merges repeated sections silently, so the
// check has to happen on the raw text.
func duplicateSection(raw []byte) string {
	seen := stringset.New(0)
	for _, m := range sectionHeaderRe.FindAllSubmatch(raw, -1) {
		if name := strings.TrimSpace(string(m[1])); !seen.Add(name) {
			return name
		}
	}
	return ""
}

// Parse reads and validates a description file. Externals keep file order.
func Parse(path string) (*Description, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "loading externals description %s", path).Err()
	}
	if dup := duplicateSection(raw); dup != "" {
		return nil, errors.Reason("%s: duplicate section [%s]", path, dup).Err()
	}
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, raw)
	if err != nil {
		return nil, errors.Annotate(err, "loading externals description %s", path).Err()
	}
	d := &Description{Path: path}
	seenPaths := stringset.New(0)
	for _, sec := range f.Sections() {
		name := sec.Name()
		switch name {
		case ini.DefaultSection:
			if len(sec.Keys()) > 0 {
				return nil, errors.Reason("%s: keys outside of a section", path).Err()
			}
			continue
		case metaSection:
			raw := sec.Key("schema_version").String()
			if raw == "" {
				return nil, errors.Reason("%s: [%s] must set schema_version", path, metaSection).Err()
			}
			v, err := version.NewVersion(raw)
			if err != nil {
				return nil, errors.Annotate(err, "%s: bad schema_version %q", path, raw).Err()
			}
			if !schemaConstraint.Check(v) {
				return nil, errors.Reason("%s: schema_version %s is not supported (want %s)",
					path, v, schemaConstraint).Err()
			}
			d.SchemaVersion = v
			continue
		}
		ext, err := parseExternal(sec, path)
		if err != nil {
			return nil, err
		}
		if !seenPaths.Add(ext.LocalPath) {
			return nil, errors.Reason("%s: [%s] duplicates local_path %q", path, name, ext.LocalPath).Err()
		}
		d.Externals = append(d.Externals, ext)
	}
	if d.SchemaVersion == nil {
		return nil, errors.Reason("%s: missing [%s] section", path, metaSection).Err()
	}
	if len(d.Externals) == 0 {
		return nil, errors.Reason("%s: no externals defined", path).Err()
	}
	return d, nil
}

func parseExternal(sec *ini.Section, path string) (External, error) {
	name := sec.Name()
	get := func(key string) string {
		return strings.TrimSpace(sec.Key(key).String())
	}
	ext := External{
		Name:      name,
		LocalPath: get("local_path"),
		Protocol:  get("protocol"),
		RepoURL:   get("repo_url"),
		Tag:       get("tag"),
		Branch:    get("branch"),
		Hash:      get("hash"),
		Required:  true,
		Externals: get("externals"),
	}
	if req := get("required"); req != "" {
		switch strings.ToLower(req) {
		case "true", "yes", "1":
			ext.Required = true
		case "false", "no", "0":
			ext.Required = false
		default:
			return ext, errors.Reason("%s: [%s] required must be a boolean, got %q", path, name, req).Err()
		}
	}
	if ext.LocalPath == "" {
		return ext, errors.Reason("%s: [%s] must set local_path", path, name).Err()
	}
	if filepath.IsAbs(ext.LocalPath) {
		return ext, errors.Reason("%s: [%s] local_path must be relative to the workspace root, got %q",
			path, name, ext.LocalPath).Err()
	}
	clean := filepath.Clean(ext.LocalPath)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == "." {
		return ext, errors.Reason("%s: [%s] local_path %q escapes the workspace root",
			path, name, ext.LocalPath).Err()
	}
	ext.LocalPath = clean
	if ext.Protocol != "git" {
		return ext, errors.Reason("%s: [%s] unsupported protocol %q (only git)", path, name, ext.Protocol).Err()
	}
	if ext.RepoURL == "" {
		return ext, errors.Reason("%s: [%s] must set repo_url", path, name).Err()
	}
	refs := 0
	for _, r := range []string{ext.Tag, ext.Branch, ext.Hash} {
		if r != "" {
			refs++
		}
	}
	if refs != 1 {
		return ext, errors.Reason("%s: [%s] must set exactly one of tag, branch or hash", path, name).Err()
	}
	if ext.Externals != "" {
		clean := filepath.Clean(ext.Externals)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return ext, errors.Reason("%s: [%s] externals %q escapes the checkout", path, name, ext.Externals).Err()
		}
		ext.Externals = clean
	}
	return ext, nil
}
