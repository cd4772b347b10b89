// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package timeutil implements lead-time parsing, strftime-style formatting
// and the generation of run time sequences from loop settings.
package timeutil

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
)

// LeadWild marks a lead that matches any value when gathering files.
const LeadWild = time.Duration(math.MinInt64)

// LoopBy selects which time axis drives the run time sequence.
type LoopBy string

const (
	LoopByInit  LoopBy = "INIT"
	LoopByValid LoopBy = "VALID"
)

// ParseLoopBy normalizes a LOOP_BY setting. RETRO is accepted as an alias
// for VALID and REALTIME for INIT.
func ParseLoopBy(s string) (LoopBy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "INIT", "REALTIME":
		return LoopByInit, nil
	case "VALID", "RETRO":
		return LoopByValid, nil
	}
	return "", errors.Reason("LOOP_BY must be INIT or VALID, got %q", s).Err()
}

// TimeInfo describes a single run time. A zero Init or Valid matches any
// value, as does a Lead of LeadWild.
type TimeInfo struct {
	Init   time.Time
	Valid  time.Time
	Lead   time.Duration
	Custom string
}

const stampFmt = "%Y%m%d%H%M%S"

// InitStamp renders the init time for use in generated file names.
func (ti TimeInfo) InitStamp() string {
	if ti.Init.IsZero() {
		return "ALL"
	}
	s, _ := FormatStrftime(ti.Init, stampFmt)
	return s
}

// ValidStamp renders the valid time for use in generated file names.
func (ti TimeInfo) ValidStamp() string {
	if ti.Valid.IsZero() {
		return "ALL"
	}
	s, _ := FormatStrftime(ti.Valid, stampFmt)
	return s
}

// LeadStamp renders the lead as whole seconds for use in generated file names.
func (ti TimeInfo) LeadStamp() string {
	if ti.Lead == LeadWild {
		return "ALL"
	}
	return strconv.Itoa(int(ti.Lead / time.Second))
}

func (ti TimeInfo) String() string {
	return fmt.Sprintf("init %s valid %s lead %s", ti.InitStamp(), ti.ValidStamp(), ti.LeadStamp())
}

// Matches reports whether ti accepts other, treating zero/wild fields of ti
// as matching anything.
func (ti TimeInfo) Matches(other TimeInfo) bool {
	if !ti.Init.IsZero() && !ti.Init.Equal(other.Init) {
		return false
	}
	if !ti.Valid.IsZero() && !ti.Valid.Equal(other.Valid) {
		return false
	}
	if ti.Lead != LeadWild && ti.Lead != other.Lead {
		return false
	}
	return true
}

var leadRe = regexp.MustCompile(`^([+-]?)(\d+)([dHMS]?)$`)

// ParseLead parses a single lead string. A bare number is hours; the suffixes
// d, H, M and S select days, hours, minutes and seconds.
func ParseLead(s string) (time.Duration, error) {
	m := leadRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, errors.Reason("invalid lead %q (expected e.g. 12, 3H, 30M, 3600S, 1d)", s).Err()
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, errors.Annotate(err, "invalid lead %q", s).Err()
	}
	var d time.Duration
	switch m[3] {
	case "", "H":
		d = time.Duration(n) * time.Hour
	case "d":
		d = time.Duration(n) * 24 * time.Hour
	case "M":
		d = time.Duration(n) * time.Minute
	case "S":
		d = time.Duration(n) * time.Second
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// ParseIncrement parses an INIT/VALID_INCREMENT value. Unlike leads, a bare
// number is seconds; the d/H/M/S suffixes work as in ParseLead. Empty means
// unset (the sequence default applies).
func ParseIncrement(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return ParseLead(trimmed)
}

var beginEndIncrRe = regexp.MustCompile(`^begin_end_incr\(\s*(-?\d+)\s*,\s*(-?\d+)\s*,\s*(-?\d+)\s*\)$`)

// expandBeginEndIncr expands a begin_end_incr(b,e,i) item into its integer
// members as strings. Returns ok=false when the item is not of that form.
func expandBeginEndIncr(item string) ([]string, bool, error) {
	m := beginEndIncrRe.FindStringSubmatch(strings.TrimSpace(item))
	if m == nil {
		if strings.HasPrefix(strings.TrimSpace(item), "begin_end_incr") {
			return nil, false, errors.Reason("malformed begin_end_incr item %q", item).Err()
		}
		return nil, false, nil
	}
	begin, _ := strconv.Atoi(m[1])
	end, _ := strconv.Atoi(m[2])
	incr, _ := strconv.Atoi(m[3])
	if incr == 0 {
		return nil, false, errors.Reason("begin_end_incr increment must be non-zero in %q", item).Err()
	}
	if (incr > 0 && end < begin) || (incr < 0 && end > begin) {
		return nil, false, errors.Reason("begin_end_incr range is empty in %q", item).Err()
	}
	var out []string
	if incr > 0 {
		for v := begin; v <= end; v += incr {
			out = append(out, strconv.Itoa(v))
		}
	} else {
		for v := begin; v >= end; v += incr {
			out = append(out, strconv.Itoa(v))
		}
	}
	return out, true, nil
}

// splitListItems splits a comma separated config value, keeping
// begin_end_incr(...) items intact.
func splitListItems(s string) []string {
	var items []string
	depth := 0
	cur := strings.Builder{}
	for _, r := range s {
		switch {
		case r == '(':
			depth++
			cur.WriteRune(r)
		case r == ')':
			depth--
			cur.WriteRune(r)
		case r == ',' && depth == 0:
			items = append(items, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if item := strings.TrimSpace(cur.String()); item != "" {
		items = append(items, item)
	}
	return items
}

// ParseLeadSeq parses a LEAD_SEQ style value: a comma separated list of lead
// strings, where any item may be a begin_end_incr(b,e,i) expansion in hours.
// An empty value yields a single zero lead.
func ParseLeadSeq(s string) ([]time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []time.Duration{0}, nil
	}
	var leads []time.Duration
	for _, item := range splitListItems(s) {
		expanded, ok, err := expandBeginEndIncr(item)
		if err != nil {
			return nil, err
		}
		if !ok {
			expanded = []string{item}
		}
		for _, e := range expanded {
			d, err := ParseLead(e)
			if err != nil {
				return nil, err
			}
			leads = append(leads, d)
		}
	}
	return leads, nil
}

// SequenceOptions describe a run time sequence.
type SequenceOptions struct {
	LoopBy    LoopBy
	TimeFmt   string // strftime format of Beg and End
	Beg, End  string
	Increment time.Duration
	Leads     []time.Duration
	Skip      SkipTimes
}

// Sequence generates the run times for opts: for each base time from Beg to
// End inclusive, stepping by Increment, one TimeInfo per lead. The derived
// axis is computed from the looped one (valid = init + lead or init =
// valid - lead). Times whose valid time matches Skip are dropped.
func Sequence(opts SequenceOptions) ([]TimeInfo, error) {
	if opts.TimeFmt == "" {
		return nil, errors.Reason("%s_TIME_FMT must be set", opts.LoopBy).Err()
	}
	beg, err := ParseStrftime(opts.Beg, opts.TimeFmt)
	if err != nil {
		return nil, errors.Annotate(err, "parsing %s_BEG", opts.LoopBy).Err()
	}
	end, err := ParseStrftime(opts.End, opts.TimeFmt)
	if err != nil {
		return nil, errors.Annotate(err, "parsing %s_END", opts.LoopBy).Err()
	}
	if end.Before(beg) {
		return nil, errors.Reason("%s_END (%s) must not be before %s_BEG (%s)",
			opts.LoopBy, opts.End, opts.LoopBy, opts.Beg).Err()
	}
	incr := opts.Increment
	if incr == 0 {
		incr = 24 * time.Hour
	}
	if incr < time.Minute {
		return nil, errors.Reason("%s_INCREMENT must be at least 60 seconds, got %s", opts.LoopBy, incr).Err()
	}
	leads := opts.Leads
	if len(leads) == 0 {
		leads = []time.Duration{0}
	}
	var seq []TimeInfo
	for base := beg; !base.After(end); base = base.Add(incr) {
		for _, lead := range leads {
			var ti TimeInfo
			switch opts.LoopBy {
			case LoopByValid:
				ti = TimeInfo{Valid: base, Init: base.Add(-lead), Lead: lead}
			default:
				ti = TimeInfo{Init: base, Valid: base.Add(lead), Lead: lead}
			}
			if opts.Skip.ShouldSkip(ti.Valid) {
				continue
			}
			seq = append(seq, ti)
		}
	}
	return seq, nil
}
