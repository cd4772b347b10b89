// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package git provides a thin wrapper around the system git binary.
package git

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"

	"vxrun/internal/cmd"
	"vxrun/internal/retry"
)

// CommandRunnerImpl is the CommandRunner used to run git. Tests swap in a
// fake.
var CommandRunnerImpl cmd.CommandRunner = cmd.RealCommandRunner{}

// FetchRetryOpts governs retries of network operations (clone, fetch).
var FetchRetryOpts = retry.Options{BaseDelay: 5 * time.Second, BackoffBase: 2.0, Retries: 2}

// CommandOutput holds the output of a git command.
type CommandOutput struct {
	Stdout string
	Stderr string
}

// RunGit runs git with the given args in the given repo dir.
func RunGit(ctx context.Context, gitRepo string, args []string) (CommandOutput, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	err := CommandRunnerImpl.RunCommand(ctx, &stdoutBuf, &stderrBuf, gitRepo, "git", args...)
	out := CommandOutput{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
	if err != nil {
		return out, errors.Annotate(err, "running `git %s`: %s",
			strings.Join(args, " "), strings.TrimSpace(out.Stderr)).Err()
	}
	return out, nil
}

// IsRepo reports whether dir looks like the top of a git working tree.
func IsRepo(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// Clone clones repoURL into dir, retrying transient failures.
func Clone(ctx context.Context, repoURL, dir string) error {
	return retry.Do(ctx, FetchRetryOpts, func() error {
		_, err := RunGit(ctx, "", []string{"clone", repoURL, dir})
		return err
	})
}

// Fetch updates refs and tags from origin, retrying transient failures.
func Fetch(ctx context.Context, gitRepo string) error {
	return retry.Do(ctx, FetchRetryOpts, func() error {
		_, err := RunGit(ctx, gitRepo, []string{"fetch", "--tags", "origin"})
		return err
	})
}

// Checkout checks out a ref (tag, hash or any committish), detaching HEAD.
func Checkout(ctx context.Context, gitRepo, ref string) error {
	_, err := RunGit(ctx, gitRepo, []string{"checkout", "--quiet", ref})
	return err
}

// CheckoutBranch checks out a local branch tracking origin/branch, resetting
// it to the remote tip.
func CheckoutBranch(ctx context.Context, gitRepo, branch string) error {
	_, err := RunGit(ctx, gitRepo, []string{"checkout", "--quiet", "-B", branch, "origin/" + branch})
	return err
}

// RevParseHEAD returns the hash of HEAD.
func RevParseHEAD(ctx context.Context, gitRepo string) (string, error) {
	out, err := RunGit(ctx, gitRepo, []string{"rev-parse", "HEAD"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

// ResolveRef returns the commit hash a ref points at.
func ResolveRef(ctx context.Context, gitRepo, ref string) (string, error) {
	out, err := RunGit(ctx, gitRepo, []string{"rev-parse", "--verify", ref + "^{commit}"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

// IsDirty reports whether the working tree has local modifications.
func IsDirty(ctx context.Context, gitRepo string) (bool, error) {
	out, err := RunGit(ctx, gitRepo, []string{"status", "--porcelain"})
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out.Stdout) != "", nil
}

// RemoteURL returns the fetch URL of the repo's remote.
func RemoteURL(ctx context.Context, gitRepo string) (string, error) {
	out, err := RunGit(ctx, gitRepo, []string{"ls-remote", "--get-url"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}

// LastCommitTime returns the committer time of HEAD.
func LastCommitTime(ctx context.Context, gitRepo string) (time.Time, error) {
	out, err := RunGit(ctx, gitRepo, []string{"log", "-1", "--format=%ct"})
	if err != nil {
		return time.Time{}, err
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(out.Stdout), 10, 64)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "parsing commit time %q", out.Stdout).Err()
	}
	return time.Unix(sec, 0).UTC(), nil
}

// Describe returns a human readable descriptor of HEAD, preferring tags.
func Describe(ctx context.Context, gitRepo string) (string, error) {
	out, err := RunGit(ctx, gitRepo, []string{"describe", "--tags", "--always"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Stdout), nil
}
