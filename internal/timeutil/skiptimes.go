// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timeutil

import (
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
)

// SkipTimes filters run times out of a sequence. Each entry pairs a strftime
// format with the formatted values to skip, e.g. "%m:3,4,5" skips March
// through May and "%Y%m%d:20200229" skips a single day.
type SkipTimes []skipEntry

type skipEntry struct {
	format string
	values []string
}

// ParseSkipTimes parses a SKIP_TIMES value: comma separated, optionally
// quoted "fmt:values" entries where values is a comma list that may use
// begin_end_incr.
func ParseSkipTimes(s string) (SkipTimes, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var skip SkipTimes
	for _, raw := range splitQuoted(s) {
		entry := strings.Trim(strings.TrimSpace(raw), `"`)
		if entry == "" {
			continue
		}
		format, valuePart, found := strings.Cut(entry, ":")
		if !found {
			return nil, errors.Reason("SKIP_TIMES entry %q must be of the form fmt:values", entry).Err()
		}
		var values []string
		for _, item := range splitListItems(valuePart) {
			expanded, ok, err := expandBeginEndIncr(item)
			if err != nil {
				return nil, errors.Annotate(err, "SKIP_TIMES entry %q", entry).Err()
			}
			if !ok {
				expanded = []string{item}
			}
			values = append(values, expanded...)
		}
		if len(values) == 0 {
			return nil, errors.Reason("SKIP_TIMES entry %q lists no values", entry).Err()
		}
		// Catch bad formats at parse time rather than on first use.
		if _, err := FormatStrftime(time.Unix(0, 0).UTC(), format); err != nil {
			return nil, errors.Annotate(err, "SKIP_TIMES entry %q", entry).Err()
		}
		skip = append(skip, skipEntry{format: format, values: values})
	}
	return skip, nil
}

// splitQuoted splits a comma separated list, keeping quoted sections intact.
func splitQuoted(s string) []string {
	var parts []string
	inQuote := false
	cur := strings.Builder{}
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// ShouldSkip reports whether t matches any skip entry. A listed value
// matches either exactly or after zero padding to the formatted width.
func (s SkipTimes) ShouldSkip(t time.Time) bool {
	if len(s) == 0 || t.IsZero() {
		return false
	}
	for _, entry := range s {
		formatted, err := FormatStrftime(t, entry.format)
		if err != nil {
			continue
		}
		for _, v := range entry.values {
			if v == formatted {
				return true
			}
			if len(v) < len(formatted) && strings.Repeat("0", len(formatted)-len(v))+v == formatted {
				return true
			}
		}
	}
	return false
}
