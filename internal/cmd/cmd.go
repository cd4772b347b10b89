// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cmd contains the CommandRunner interface for executing external
// programs, and fakes for use in tests.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"reflect"
	"strings"

	"go.chromium.org/luci/common/system/environ"
)

// CommandRunner runs an external command.
type CommandRunner interface {
	RunCommand(ctx context.Context, stdoutBuf, stderrBuf io.Writer, dir, name string, args ...string) error
}

// RealCommandRunner runs commands with exec. The subprocess environment is
// taken from the environ embedded in ctx, so callers can inject variables
// with environ.SetInCtx.
type RealCommandRunner struct{}

func (c RealCommandRunner) RunCommand(ctx context.Context, stdoutBuf, stderrBuf io.Writer, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdoutBuf
	cmd.Stderr = stderrBuf
	cmd.Dir = dir
	cmd.Env = environ.FromCtx(ctx).Sorted()
	return cmd.Run()
}

// FakeCommandRunner does not actually run commands. It verifies the command
// against ExpectedCmd/ExpectedDir (when set) and plays back scripted output.
type FakeCommandRunner struct {
	Stdout      string
	Stderr      string
	ExpectedCmd []string
	ExpectedDir string
	FailCommand bool
	FailError   error
}

func (c FakeCommandRunner) RunCommand(ctx context.Context, stdoutBuf, stderrBuf io.Writer, dir, name string, args ...string) error {
	if stdoutBuf != nil {
		if _, err := stdoutBuf.Write([]byte(c.Stdout)); err != nil {
			return err
		}
	}
	if stderrBuf != nil {
		if _, err := stderrBuf.Write([]byte(c.Stderr)); err != nil {
			return err
		}
	}
	gotCmd := append([]string{name}, args...)
	if len(c.ExpectedCmd) > 0 {
		if !reflect.DeepEqual(gotCmd, c.ExpectedCmd) {
			return fmt.Errorf("wrong cmd; expected %q got %q",
				strings.Join(c.ExpectedCmd, " "), strings.Join(gotCmd, " "))
		}
	}
	if c.ExpectedDir != "" && dir != c.ExpectedDir {
		return fmt.Errorf("wrong cmd dir; expected %q got %q", c.ExpectedDir, dir)
	}
	if c.FailCommand {
		if c.FailError != nil {
			return c.FailError
		}
		return fmt.Errorf("command failed")
	}
	return nil
}

// FakeCommandRunnerMulti runs a sequence of FakeCommandRunners, one per call.
type FakeCommandRunnerMulti struct {
	run            int
	CommandRunners []FakeCommandRunner
}

func (c *FakeCommandRunnerMulti) RunCommand(ctx context.Context, stdoutBuf, stderrBuf io.Writer, dir, name string, args ...string) error {
	if c.run >= len(c.CommandRunners) {
		return fmt.Errorf("unexpected command %q (ran out of command runners)",
			strings.Join(append([]string{name}, args...), " "))
	}
	err := c.CommandRunners[c.run].RunCommand(ctx, stdoutBuf, stderrBuf, dir, name, args...)
	c.run++
	return err
}
