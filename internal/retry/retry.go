// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// Options wraps retry options.
type Options struct {
	BaseDelay   time.Duration // backoff base delay
	BackoffBase float64       // base for exponential backoff
	Retries     int           // allowed number of retries
}

var (
	// DefaultOpts suits transient network failures (~5 minutes).
	DefaultOpts = Options{BaseDelay: 10 * time.Second, BackoffBase: 2.0, Retries: 5}
	// ShortOpts is for operations that need rapid results.
	ShortOpts = Options{BaseDelay: 500 * time.Millisecond, BackoffBase: 1.0, Retries: 1}
	// NoRetryOpts is for unretriable requests or testing.
	NoRetryOpts = Options{BaseDelay: 0, BackoffBase: 1.0, Retries: 0}
)

// Do executes f, retrying on error with a backoff delay until the retry
// budget is spent or ctx is done. Retries == 0 runs f exactly once;
// Retries < 0 retries without limit.
func Do(ctx context.Context, opts Options, f func() error) error {
	var err error
	for i := 0; opts.Retries < 0 || i <= opts.Retries; i++ {
		if i > 0 {
			d := time.Duration(float64(opts.BaseDelay) * math.Pow(opts.BackoffBase, float64(i-1)))
			logging.Infof(ctx, "Sleeping for %s before trying again", d)
			if tr := clock.Sleep(ctx, d); tr.Incomplete() {
				return tr.Err
			}
		}
		if err = f(); err == nil {
			return nil
		}
		logging.Warningf(ctx, "attempt %d failed: %v", i, err)
	}
	return errors.Annotate(err, "failed after %d retries", opts.Retries).Err()
}
