// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package wrapper

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/environ"

	"vxrun/internal/cmd"
	"vxrun/internal/config"
)

// CommandRunnerImpl is swapped out in tests.
var CommandRunnerImpl cmd.CommandRunner = cmd.RealCommandRunner{}

// CommandLog appends every built command to a file, so a run can be
// replayed by hand. A nil CommandLog records nothing.
type CommandLog struct {
	mu   sync.Mutex
	path string
}

// NewCommandLog records commands into the file at path.
func NewCommandLog(path string) *CommandLog {
	return &CommandLog{path: path}
}

// Record appends one command and the environment it ran with.
func (l *CommandLog) Record(env map[string]string, cmdline string) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return errors.Annotate(err, "creating commands log dir").Err()
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Annotate(err, "opening commands log").Err()
	}
	defer f.Close()
	var b strings.Builder
	for _, k := range sortedKeys(env) {
		fmt.Fprintf(&b, "%s=%s ", k, quoteArg(env[k]))
	}
	b.WriteString(cmdline)
	b.WriteString("\n")
	if _, err := f.WriteString(b.String()); err != nil {
		return errors.Annotate(err, "writing commands log").Err()
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quoteArg wraps an argument in single quotes when it would not survive a
// shell round trip as-is. Only used for logging; execution passes argument
// vectors directly.
func quoteArg(s string) string {
	if s == "" {
		return "''"
	}
	if strings.ContainsAny(s, " \t;\"(){}*?$") {
		return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
	}
	return s
}

// Builder accumulates one tool invocation: the executable, its arguments
// and the environment the tool's config file reads.
type Builder struct {
	Tool      string // config key prefix
	AppName   string
	Path      string // resolved executable
	Args      []string
	Output    string
	Env       map[string]string
	Verbosity int

	skipIfExists bool
	dryRun       bool
	commands     *CommandLog
}

// NewBuilder prepares a Builder for the wrapper's tool: the executable from
// <TOOL>_EXE or MET_BIN_DIR, the verbosity from LOG_<TOOL>_VERBOSITY (then
// LOG_MET_VERBOSITY, then 2) and the skip/dry-run switches.
func (c *Common) NewBuilder() *Builder {
	cfg := c.Cfg
	path := cfg.Str(config.SecConfig, c.Tool+"_EXE", "")
	if path == "" {
		if bin := cfg.Dir("MET_BIN_DIR", ""); bin != "" {
			path = filepath.Join(bin, c.AppName)
		}
	}
	return &Builder{
		Tool:      c.Tool,
		AppName:   c.AppName,
		Path:      path,
		Env:       map[string]string{},
		Verbosity: cfg.Int(config.SecConfig, "LOG_"+c.Tool+"_VERBOSITY",
			cfg.Int(config.SecConfig, "LOG_MET_VERBOSITY", 2)),
		skipIfExists: cfg.Bool(config.SecConfig, c.Tool+"_SKIP_IF_OUTPUT_EXISTS", false),
		dryRun:       cfg.Bool(config.SecConfig, "DO_NOT_RUN_EXE", false),
		commands:     c.Commands,
	}
}

// CommandLine renders the full invocation for logging and the commands log.
func (b *Builder) CommandLine() string {
	parts := []string{b.Path}
	for _, a := range b.appArgs() {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func (b *Builder) appArgs() []string {
	return append(append([]string{}, b.Args...), "-v", strconv.Itoa(b.Verbosity))
}

// Build logs, records and executes the accumulated command. With
// DO_NOT_RUN_EXE set the command is logged but not executed; with
// <TOOL>_SKIP_IF_OUTPUT_EXISTS set an existing output short-circuits the
// run entirely.
func (b *Builder) Build(ctx context.Context) error {
	if b.Path == "" {
		return errors.Reason("MET_BIN_DIR or %s_EXE must be set to run %s", b.Tool, b.AppName).Err()
	}
	if b.Output != "" {
		if b.skipIfExists {
			if _, err := os.Stat(b.Output); err == nil {
				logging.Infof(ctx, "Skip writing output %s: it already exists. Remove the file or unset %s_SKIP_IF_OUTPUT_EXISTS to process.",
					b.Output, b.Tool)
				return nil
			}
		}
		if err := os.MkdirAll(filepath.Dir(b.Output), 0o755); err != nil {
			return errors.Annotate(err, "creating output dir for %s", b.Output).Err()
		}
	}
	cmdline := b.CommandLine()
	if len(b.Env) > 0 {
		logging.Debugf(ctx, "Environment for next command:")
		for _, k := range sortedKeys(b.Env) {
			logging.Debugf(ctx, "export %s=%s", k, quoteArg(b.Env[k]))
		}
	}
	logging.Infof(ctx, "Running: %s", cmdline)
	if err := b.commands.Record(b.Env, cmdline); err != nil {
		logging.Warningf(ctx, "Cannot record command: %v", err)
	}
	if b.dryRun {
		logging.Infof(ctx, "DO_NOT_RUN_EXE is set, not running command")
		return nil
	}
	env := environ.FromCtx(ctx).Clone()
	for k, v := range b.Env {
		env.Set(k, v)
	}
	ctx = env.SetInCtx(ctx)
	var stdoutBuf, stderrBuf bytes.Buffer
	if err := CommandRunnerImpl.RunCommand(ctx, &stdoutBuf, &stderrBuf, "", b.Path, b.appArgs()...); err != nil {
		return errors.Annotate(err, "running %s: %s", b.AppName,
			strings.TrimSpace(stderrBuf.String())).Err()
	}
	if out := strings.TrimSpace(stdoutBuf.String()); out != "" {
		logging.Debugf(ctx, "%s output:\n%s", b.AppName, out)
	}
	return nil
}

// runHelper executes a non-MET helper such as ncap2 or convert, returning
// its stdout. Helpers take no -v flag and run regardless of DO_NOT_RUN_EXE
// guards, so wrappers must gate dry runs themselves.
func runHelper(ctx context.Context, name string, args ...string) (string, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	if err := CommandRunnerImpl.RunCommand(ctx, &stdoutBuf, &stderrBuf, "", name, args...); err != nil {
		return "", errors.Annotate(err, "running %s: %s", name,
			strings.TrimSpace(stderrBuf.String())).Err()
	}
	return stdoutBuf.String(), nil
}
