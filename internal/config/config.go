// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package config implements the layered run configuration. Configuration is
// INI with [config], [dir] and [filename_templates] sections; any other
// section holds per-instance overrides that a process list entry can select.
// Several files can be loaded in order, later files overriding earlier keys.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"gopkg.in/ini.v1"

	"vxrun/internal/timeutil"
)

// MissingDataValue is returned by numeric getters when a key is unset and
// no usable default was given. The verification tools use the same sentinel
// for missing data.
const MissingDataValue = -9999

// The sections with fixed meaning. Everything else is instance overrides.
const (
	SecConfig    = "config"
	SecDir       = "dir"
	SecTemplates = "filename_templates"
)

// Config holds the merged, resolved configuration. Getter parse failures
// are recorded rather than returned so that callers can gather a whole
// block of settings and check once; see Errors.
type Config struct {
	sections map[string]map[string]string
	errs     errors.MultiError
}

// Load reads and merges the given files in order and resolves references.
// {KEY} references another key ([config], then [dir], then
// [filename_templates]); {ENV[NAME]} reads the environment; {today} and
// {now?fmt=...} format the load time. Run time tags such as
// {valid?fmt=%H} are left for later substitution.
func Load(ctx context.Context, paths ...string) (*Config, error) {
	if len(paths) == 0 {
		return nil, errors.Reason("no config files given (use -c)").Err()
	}
	c := &Config{sections: map[string]map[string]string{}}
	for _, path := range paths {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := c.resolve(ctx); err != nil {
		return nil, err
	}
	if err := c.applyDefaults(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	// Values routinely contain ';' (tool config options), so inline
	// comments must stay disabled.
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, path)
	if err != nil {
		return errors.Annotate(err, "loading config %s", path).Err()
	}
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection {
			if len(sec.Keys()) > 0 {
				return errors.Reason("config %s: keys outside of a section", path).Err()
			}
			continue
		}
		dst := c.sections[name]
		if dst == nil {
			dst = map[string]string{}
			c.sections[name] = dst
		}
		for _, key := range sec.Keys() {
			dst[key.Name()] = key.Value()
		}
	}
	return nil
}

// Tags with runtime meaning that resolution must leave alone.
var runtimeTags = map[string]bool{
	"init": true, "valid": true, "lead": true, "custom": true,
}

var (
	envRe = regexp.MustCompile(`\{ENV\[([A-Za-z0-9_]+)\]\}`)
	nowRe = regexp.MustCompile(`\{now\?fmt=([^{}]*)\}`)
	refRe = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)
)

func (c *Config) resolve(ctx context.Context) error {
	now := clock.Now(ctx)
	for name, sec := range c.sections {
		for key := range sec {
			resolved, err := c.resolveValue(sec[key], now, map[string]bool{key: true})
			if err != nil {
				return errors.Annotate(err, "resolving [%s] %s", name, key).Err()
			}
			sec[key] = resolved
		}
	}
	return nil
}

func (c *Config) resolveValue(value string, now time.Time, active map[string]bool) (string, error) {
	var firstErr error
	out := envRe.ReplaceAllStringFunc(value, func(tok string) string {
		name := envRe.FindStringSubmatch(tok)[1]
		v, ok := os.LookupEnv(name)
		if !ok && firstErr == nil {
			firstErr = errors.Reason("environment variable %s is not set", name).Err()
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	out = nowRe.ReplaceAllStringFunc(out, func(tok string) string {
		format := nowRe.FindStringSubmatch(tok)[1]
		s, err := timeutil.FormatStrftime(now, format)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return s
	})
	if firstErr != nil {
		return "", firstErr
	}
	out = strings.ReplaceAll(out, "{today}", now.Format("20060102"))
	var resolveErr error
	out = refRe.ReplaceAllStringFunc(out, func(tok string) string {
		name := refRe.FindStringSubmatch(tok)[1]
		if runtimeTags[name] {
			return tok
		}
		if active[name] {
			resolveErr = errors.Reason("circular reference through {%s}", name).Err()
			return tok
		}
		ref, ok := c.lookup(name)
		if !ok {
			resolveErr = errors.Reason("could not resolve {%s}", name).Err()
			return tok
		}
		active[name] = true
		resolved, err := c.resolveValue(ref, now, active)
		delete(active, name)
		if err != nil {
			resolveErr = err
			return tok
		}
		return resolved
	})
	if resolveErr != nil {
		return "", resolveErr
	}
	return out, nil
}

// lookup finds a key by name across the fixed sections, [config] first.
func (c *Config) lookup(key string) (string, bool) {
	for _, sec := range []string{SecConfig, SecDir, SecTemplates} {
		if v, ok := c.sections[sec][key]; ok {
			return v, true
		}
	}
	return "", false
}

func (c *Config) applyDefaults() error {
	out := c.Str(SecDir, "OUTPUT_BASE", "")
	if out == "" || out == "/path/to" {
		return errors.Reason("OUTPUT_BASE must be set to a valid directory").Err()
	}
	if c.Str(SecDir, "MET_BIN_DIR", "") == "" {
		if install := c.Str(SecDir, "MET_INSTALL_DIR", ""); install != "" {
			c.Set(SecDir, "MET_BIN_DIR", filepath.Join(install, "bin"))
		}
	}
	if c.Str(SecDir, "LOG_DIR", "") == "" {
		c.Set(SecDir, "LOG_DIR", filepath.Join(out, "logs"))
	}
	if c.Str(SecDir, "STAGING_DIR", "") == "" {
		c.Set(SecDir, "STAGING_DIR", filepath.Join(out, "stage"))
	}
	return nil
}

// Set stores a value, overriding any loaded one.
func (c *Config) Set(section, key, value string) {
	sec := c.sections[section]
	if sec == nil {
		sec = map[string]string{}
		c.sections[section] = sec
	}
	sec[key] = value
}

// Has reports whether the key is present.
func (c *Config) Has(section, key string) bool {
	_, ok := c.sections[section][key]
	return ok
}

// Str returns the value of a key, or def when unset.
func (c *Config) Str(section, key, def string) string {
	v, ok := c.sections[section][key]
	if !ok {
		return def
	}
	return v
}

// Int returns the integer value of a key. Unset keys yield def; malformed
// values record an error and yield MissingDataValue.
func (c *Config) Int(section, key string, def int) int {
	v, ok := c.sections[section][key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		c.errs = append(c.errs, errors.Reason("[%s] %s: %q is not an integer", section, key, v).Err())
		return MissingDataValue
	}
	return n
}

// Float returns the float value of a key. Unset keys yield def; malformed
// values record an error and yield MissingDataValue.
func (c *Config) Float(section, key string, def float64) float64 {
	v, ok := c.sections[section][key]
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		c.errs = append(c.errs, errors.Reason("[%s] %s: %q is not a number", section, key, v).Err())
		return MissingDataValue
	}
	return f
}

// Bool returns the boolean value of a key. Unset keys yield def; malformed
// values record an error and yield def.
func (c *Config) Bool(section, key string, def bool) bool {
	v, ok := c.sections[section][key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "1":
		return true
	case "false", "no", "0":
		return false
	}
	c.errs = append(c.errs, errors.Reason("[%s] %s: %q is not a boolean", section, key, v).Err())
	return def
}

// List returns the comma separated items of a key. Commas inside
// parentheses or double quotes do not split; surrounding quotes are
// stripped from each item. Unset or empty keys yield nil.
func (c *Config) List(section, key string) []string {
	v, ok := c.sections[section][key]
	if !ok {
		return nil
	}
	return SplitList(v)
}

// SplitList splits a comma separated config value, honoring parentheses
// and double quotes.
func SplitList(v string) []string {
	var items []string
	depth := 0
	inQuote := false
	cur := strings.Builder{}
	flush := func() {
		item := strings.TrimSpace(cur.String())
		item = strings.Trim(item, `"`)
		if item != "" {
			items = append(items, item)
		}
		cur.Reset()
	}
	for _, r := range v {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == '(' && !inQuote:
			depth++
			cur.WriteRune(r)
		case r == ')' && !inQuote:
			depth--
			cur.WriteRune(r)
		case r == ',' && depth == 0 && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return items
}

// Dir returns a [dir] value with ~ expanded. Run time template tags are
// not allowed in directories; their presence records an error.
func (c *Config) Dir(key, def string) string {
	v, ok := c.sections[SecDir][key]
	if !ok {
		return def
	}
	if strings.Contains(v, "?fmt=") {
		c.errs = append(c.errs, errors.Reason("[dir] %s: template tags are not allowed in directories (found in %q)", key, v).Err())
		return def
	}
	expanded, err := homedir.Expand(v)
	if err != nil {
		c.errs = append(c.errs, errors.Annotate(err, "[dir] %s", key).Err())
		return v
	}
	return expanded
}

// Keys returns the sorted key names of a section.
func (c *Config) Keys(section string) []string {
	sec := c.sections[section]
	keys := make([]string, 0, len(sec))
	for k := range sec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ApplyInstance returns a copy of the config with the named instance
// section's keys overlaid onto [config].
func (c *Config) ApplyInstance(name string) (*Config, error) {
	over, ok := c.sections[name]
	if !ok {
		return nil, errors.Reason("no [%s] section for instance %q", name, name).Err()
	}
	clone := c.clone()
	for k, v := range over {
		clone.Set(SecConfig, k, v)
	}
	return clone, nil
}

func (c *Config) clone() *Config {
	clone := &Config{sections: map[string]map[string]string{}}
	for name, sec := range c.sections {
		dst := map[string]string{}
		for k, v := range sec {
			dst[k] = v
		}
		clone.sections[name] = dst
	}
	return clone
}

// Errors returns the getter errors recorded so far, or nil.
func (c *Config) Errors() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs.AsError()
}

// ResetErrors clears recorded getter errors. The engine calls this between
// wrapper builds so failures are attributed to the right process.
func (c *Config) ResetErrors() {
	c.errs = nil
}

// WriteFinal dumps the fully resolved configuration, for reproducing a run.
func (c *Config) WriteFinal(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Annotate(err, "creating dir for final config").Err()
	}
	var b strings.Builder
	names := make([]string, 0, len(c.sections))
	for name := range c.sections {
		names = append(names, name)
	}
	// Fixed sections first, instance sections after.
	sort.Slice(names, func(i, j int) bool {
		return sectionRank(names[i]) < sectionRank(names[j]) ||
			(sectionRank(names[i]) == sectionRank(names[j]) && names[i] < names[j])
	})
	for _, name := range names {
		if len(c.sections[name]) == 0 {
			continue
		}
		fmt.Fprintf(&b, "[%s]\n", name)
		for _, key := range c.Keys(name) {
			fmt.Fprintf(&b, "%s = %s\n", key, c.sections[name][key])
		}
		b.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return errors.Annotate(err, "writing final config").Err()
	}
	return nil
}

func sectionRank(name string) int {
	switch name {
	case SecConfig:
		return 0
	case SecDir:
		return 1
	case SecTemplates:
		return 2
	}
	return 3
}
