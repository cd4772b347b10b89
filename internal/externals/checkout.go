// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package externals

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"golang.org/x/sync/errgroup"

	"vxrun/internal/git"
)

// LockFileName is the workspace lock taken for mutating operations.
const LockFileName = ".vxboot.lock"

// Descriptions nested deeper than this indicate a cycle.
const maxNestingDepth = 5

// Options configure Checkout and CheckStatus.
type Options struct {
	// Root is the workspace root all local_paths are relative to.
	Root string
	// Jobs bounds how many externals are processed in parallel (minimum 1).
	Jobs int
}

// Checkout brings every external to its pinned ref: cloning when absent,
// fetching and checking out otherwise. Externals are processed in parallel;
// those with nested descriptions recurse once their parent is in place.
// Failures of required externals aggregate into the returned error, while
// optional ones only log. The workspace is locked for the duration.
func Checkout(ctx context.Context, d *Description, opts Options) error {
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return errors.Annotate(err, "creating workspace root").Err()
	}
	fileLock := flock.New(filepath.Join(opts.Root, LockFileName))
	if err := fileLock.Lock(); err != nil {
		return errors.Annotate(err, "locking workspace %s", opts.Root).Err()
	}
	defer fileLock.Unlock()
	return checkoutLevel(ctx, d, opts, 0)
}

func checkoutLevel(ctx context.Context, d *Description, opts Options, depth int) error {
	if depth >= maxNestingDepth {
		return errors.Reason("externals nested deeper than %d levels (cycle in %s?)", maxNestingDepth, d.Path).Err()
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	var mu sync.Mutex
	var merr errors.MultiError
	ok := make([]bool, len(d.Externals))

	g := new(errgroup.Group)
	g.SetLimit(jobs)
	for i := range d.Externals {
		i, ext := i, d.Externals[i]
		g.Go(func() error {
			err := checkoutOne(ctx, ext, opts.Root)
			if err == nil {
				ok[i] = true
				return nil
			}
			if ext.Required {
				mu.Lock()
				merr = append(merr, errors.Annotate(err, "external [%s]", ext.Name).Err())
				mu.Unlock()
			} else {
				logging.Warningf(ctx, "Optional external [%s] failed: %v", ext.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	// Nested descriptions only exist once their parent is checked out.
	for i, ext := range d.Externals {
		if ext.Externals == "" || !ok[i] {
			continue
		}
		nestedPath := filepath.Join(opts.Root, ext.LocalPath, ext.Externals)
		nested, err := Parse(nestedPath)
		if err != nil {
			merr = append(merr, errors.Annotate(err, "nested externals of [%s]", ext.Name).Err())
			continue
		}
		if err := checkoutLevel(ctx, nested, opts, depth+1); err != nil {
			merr = append(merr, errors.Annotate(err, "nested externals of [%s]", ext.Name).Err())
		}
	}
	if len(merr) == 0 {
		return nil
	}
	return merr.AsError()
}

func checkoutOne(ctx context.Context, ext External, root string) error {
	dir := filepath.Join(root, ext.LocalPath)
	ref, isBranch := ext.Ref()
	if !git.IsRepo(dir) {
		logging.Infof(ctx, "External [%s]: cloning %s", ext.Name, ext.RepoURL)
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return errors.Annotate(err, "creating parent of %s", dir).Err()
		}
		if err := git.Clone(ctx, ext.RepoURL, dir); err != nil {
			return err
		}
	} else {
		remote, err := git.RemoteURL(ctx, dir)
		if err != nil {
			return err
		}
		if remote != ext.RepoURL {
			return errors.Reason("%s is checked out from %q, description wants %q", dir, remote, ext.RepoURL).Err()
		}
		dirty, err := git.IsDirty(ctx, dir)
		if err != nil {
			return err
		}
		if dirty {
			return errors.Reason("%s has local modifications; commit or discard them first", dir).Err()
		}
		logging.Infof(ctx, "External [%s]: fetching", ext.Name)
		if err := git.Fetch(ctx, dir); err != nil {
			return err
		}
	}
	logging.Infof(ctx, "External [%s]: checking out %s", ext.Name, ref)
	if isBranch {
		return git.CheckoutBranch(ctx, dir, ref)
	}
	return git.Checkout(ctx, dir, ref)
}

// State summarizes one external's working tree.
type State string

const (
	StateMissing  State = "missing"
	StateOK       State = "ok"
	StateDirty    State = "dirty"
	StateMismatch State = "mismatch"
)

// Status describes one external at status time.
type Status struct {
	Name       string
	LocalPath  string
	State      State
	Descriptor string
	LastCommit time.Time
}

// CheckStatus inspects every external (including nested descriptions that
// are present) without changing anything.
func CheckStatus(ctx context.Context, d *Description, opts Options) ([]Status, error) {
	return statusLevel(ctx, d, opts, 0)
}

func statusLevel(ctx context.Context, d *Description, opts Options, depth int) ([]Status, error) {
	if depth >= maxNestingDepth {
		return nil, errors.Reason("externals nested deeper than %d levels (cycle in %s?)", maxNestingDepth, d.Path).Err()
	}
	var out []Status
	for _, ext := range d.Externals {
		st, err := statusOne(ctx, ext, opts.Root)
		if err != nil {
			return nil, errors.Annotate(err, "external [%s]", ext.Name).Err()
		}
		out = append(out, st)

		if ext.Externals == "" || st.State == StateMissing {
			continue
		}
		nestedPath := filepath.Join(opts.Root, ext.LocalPath, ext.Externals)
		if _, err := os.Stat(nestedPath); err != nil {
			continue
		}
		nested, err := Parse(nestedPath)
		if err != nil {
			return nil, errors.Annotate(err, "nested externals of [%s]", ext.Name).Err()
		}
		nestedOut, err := statusLevel(ctx, nested, opts, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, nestedOut...)
	}
	return out, nil
}

func statusOne(ctx context.Context, ext External, root string) (Status, error) {
	st := Status{Name: ext.Name, LocalPath: ext.LocalPath}
	dir := filepath.Join(root, ext.LocalPath)
	if !git.IsRepo(dir) {
		st.State = StateMissing
		return st, nil
	}
	dirty, err := git.IsDirty(ctx, dir)
	if err != nil {
		return st, err
	}
	head, err := git.RevParseHEAD(ctx, dir)
	if err != nil {
		return st, err
	}
	ref, isBranch := ext.Ref()
	if isBranch {
		ref = "origin/" + ref
	}
	want, err := git.ResolveRef(ctx, dir, ref)
	if err != nil {
		// The pin may not be fetchable yet; treat as mismatch rather
		// than failing the whole status.
		logging.Debugf(ctx, "External [%s]: cannot resolve %s: %v", ext.Name, ref, err)
		want = ""
	}
	switch {
	case dirty:
		st.State = StateDirty
	case head != want:
		st.State = StateMismatch
	default:
		st.State = StateOK
	}
	if st.Descriptor, err = git.Describe(ctx, dir); err != nil {
		st.Descriptor = head
	}
	if st.LastCommit, err = git.LastCommitTime(ctx, dir); err != nil {
		st.LastCommit = time.Time{}
	}
	return st, nil
}
