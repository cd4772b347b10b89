// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package template implements filename templates of the form
// path/{init?fmt=%Y%m%d%H}/f{lead?fmt=%3H}.nc. Tags reference the fields of
// a run time (init, valid, lead, custom); an optional shift modifier moves
// the referenced time before formatting. Templates substitute forwards and
// extract backwards, so file names can be mapped back to run times.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"

	"vxrun/internal/timeutil"
)

type segKind int

const (
	segLiteral segKind = iota
	segInit
	segValid
	segLead
	segCustom
)

type segment struct {
	kind    segKind
	literal string
	format  string
	shift   time.Duration
}

// Template is a parsed filename template.
type Template struct {
	raw  string
	segs []segment
	re   *regexp.Regexp
}

// Parse parses a filename template.
func Parse(tmpl string) (*Template, error) {
	t := &Template{raw: tmpl}
	rest := tmpl
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.segs = append(t.segs, segment{kind: segLiteral, literal: rest})
			break
		}
		if open > 0 {
			t.segs = append(t.segs, segment{kind: segLiteral, literal: rest[:open]})
		}
		closeIdx := strings.IndexByte(rest[open:], '}')
		if closeIdx < 0 {
			return nil, errors.Reason("unclosed { in template %q", tmpl).Err()
		}
		tag := rest[open+1 : open+closeIdx]
		seg, err := parseTag(tag, tmpl)
		if err != nil {
			return nil, err
		}
		t.segs = append(t.segs, seg)
		rest = rest[open+closeIdx+1:]
	}
	return t, nil
}

func parseTag(tag, tmpl string) (segment, error) {
	parts := strings.Split(tag, "?")
	var seg segment
	switch parts[0] {
	case "init":
		seg.kind = segInit
	case "valid":
		seg.kind = segValid
	case "lead":
		seg.kind = segLead
	case "custom":
		seg.kind = segCustom
	default:
		return seg, errors.Reason("unknown tag {%s} in template %q", parts[0], tmpl).Err()
	}
	for _, p := range parts[1:] {
		key, value, found := strings.Cut(p, "=")
		if !found {
			return seg, errors.Reason("malformed modifier %q in template %q", p, tmpl).Err()
		}
		switch key {
		case "fmt":
			seg.format = value
		case "shift":
			d, err := parseShift(value)
			if err != nil {
				return seg, errors.Annotate(err, "template %q", tmpl).Err()
			}
			seg.shift = d
		default:
			return seg, errors.Reason("unknown modifier %q in template %q", key, tmpl).Err()
		}
	}
	if seg.kind != segCustom && seg.format == "" {
		return seg, errors.Reason("tag {%s} needs a fmt modifier in template %q", parts[0], tmpl).Err()
	}
	if seg.kind == segCustom && seg.format != "" {
		return seg, errors.Reason("tag {custom} takes no fmt modifier in template %q", tmpl).Err()
	}
	return seg, nil
}

// parseShift parses a shift modifier. A bare number is seconds; the d, H, M
// and S suffixes work as in lead strings.
func parseShift(s string) (time.Duration, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed != "" && !strings.ContainsAny(trimmed, "dHMS") {
		sec := trimmed
		neg := false
		if sec[0] == '+' || sec[0] == '-' {
			neg = sec[0] == '-'
			sec = sec[1:]
		}
		for _, r := range sec {
			if r < '0' || r > '9' {
				return 0, errors.Reason("invalid shift %q", s).Err()
			}
		}
		d, err := time.ParseDuration(sec + "s")
		if err != nil {
			return 0, errors.Reason("invalid shift %q", s).Err()
		}
		if neg {
			d = -d
		}
		return d, nil
	}
	return timeutil.ParseLead(trimmed)
}

// HasCustom reports whether the template references {custom}.
func (t *Template) HasCustom() bool {
	for _, seg := range t.segs {
		if seg.kind == segCustom {
			return true
		}
	}
	return false
}

// Substitute renders the template for a run time. Time tags whose field is
// unset (zero init/valid, wild lead) render as * so the result can be used
// as a glob when gathering files across all run times.
func (t *Template) Substitute(ti timeutil.TimeInfo) (string, error) {
	var b strings.Builder
	for _, seg := range t.segs {
		switch seg.kind {
		case segLiteral:
			b.WriteString(seg.literal)
		case segInit, segValid:
			base := ti.Init
			if seg.kind == segValid {
				base = ti.Valid
			}
			if base.IsZero() {
				b.WriteString("*")
				continue
			}
			s, err := timeutil.FormatStrftime(base.Add(seg.shift), seg.format)
			if err != nil {
				return "", errors.Annotate(err, "template %q", t.raw).Err()
			}
			b.WriteString(s)
		case segLead:
			if ti.Lead == timeutil.LeadWild {
				b.WriteString("*")
				continue
			}
			s, err := timeutil.FormatLead(ti.Lead+seg.shift, seg.format)
			if err != nil {
				return "", errors.Annotate(err, "template %q", t.raw).Err()
			}
			b.WriteString(s)
		case segCustom:
			b.WriteString(ti.Custom)
		}
	}
	return b.String(), nil
}

func (t *Template) regexp() (*regexp.Regexp, error) {
	if t.re != nil {
		return t.re, nil
	}
	var b strings.Builder
	b.WriteString("^")
	for i, seg := range t.segs {
		prefix := fmt.Sprintf("s%d_", i)
		switch seg.kind {
		case segLiteral:
			b.WriteString(regexp.QuoteMeta(seg.literal))
		case segInit, segValid:
			pat, err := timeutil.StrftimeToRegexp(seg.format, prefix)
			if err != nil {
				return nil, errors.Annotate(err, "template %q", t.raw).Err()
			}
			b.WriteString(pat)
		case segLead:
			pat, err := timeutil.LeadToRegexp(seg.format, prefix)
			if err != nil {
				return nil, errors.Annotate(err, "template %q", t.raw).Err()
			}
			b.WriteString(pat)
		case segCustom:
			fmt.Fprintf(&b, "(?P<%scustom>.*?)", prefix)
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Annotate(err, "template %q", t.raw).Err()
	}
	t.re = re
	return re, nil
}

// timeAccum merges strftime fields for one tag kind across every segment
// that references it, so templates may split a time over several tags
// (e.g. a date directory and an hour in the file name).
type timeAccum struct {
	fields   map[byte]string
	shift    time.Duration
	haveSeen bool
}

func (a *timeAccum) add(seg segment, prefix string, names, values []string) error {
	if a.haveSeen && seg.shift != a.shift {
		return errors.Reason("conflicting shift modifiers").Err()
	}
	a.shift = seg.shift
	a.haveSeen = true
	if a.fields == nil {
		a.fields = map[byte]string{}
	}
	for i, n := range names {
		if n == "" || !strings.HasPrefix(n, prefix) || len(n) <= len(prefix) {
			continue
		}
		c := n[len(prefix)]
		if prev, ok := a.fields[c]; ok && prev != values[i] {
			return errors.Reason("conflicting values %q and %q for %%%c", prev, values[i], c).Err()
		}
		a.fields[c] = values[i]
	}
	return nil
}

func (a *timeAccum) time() (time.Time, error) {
	t, err := timeutil.TimeFromFields(a.fields)
	if err != nil {
		return time.Time{}, err
	}
	return t.Add(-a.shift), nil
}

// Extract recovers run time fields from a concrete file name. The second
// return value reports whether the name matched the template at all.
// Unreferenced fields come back unset (zero times, wild lead). When only
// one time axis appears in the template but a lead is present, the other
// axis is derived.
func (t *Template) Extract(name string) (timeutil.TimeInfo, bool, error) {
	re, err := t.regexp()
	if err != nil {
		return timeutil.TimeInfo{}, false, err
	}
	m := re.FindStringSubmatch(name)
	if m == nil {
		return timeutil.TimeInfo{}, false, nil
	}
	names := re.SubexpNames()
	ti := timeutil.TimeInfo{Lead: timeutil.LeadWild}
	var initAcc, validAcc timeAccum
	haveLead := false
	for i, seg := range t.segs {
		prefix := fmt.Sprintf("s%d_", i)
		switch seg.kind {
		case segInit:
			if err := initAcc.add(seg, prefix, names, m); err != nil {
				return timeutil.TimeInfo{}, false, errors.Annotate(err, "init time in file %q", name).Err()
			}
		case segValid:
			if err := validAcc.add(seg, prefix, names, m); err != nil {
				return timeutil.TimeInfo{}, false, errors.Annotate(err, "valid time in file %q", name).Err()
			}
		case segLead:
			lead, err := timeutil.LeadFromMatch(prefix, names, m)
			if err != nil {
				return timeutil.TimeInfo{}, false, errors.Annotate(err, "file %q", name).Err()
			}
			lead -= seg.shift
			if haveLead && lead != ti.Lead {
				return timeutil.TimeInfo{}, false, errors.Reason("conflicting leads in file %q", name).Err()
			}
			ti.Lead = lead
			haveLead = true
		case segCustom:
			for j, n := range names {
				if n == prefix+"custom" {
					ti.Custom = m[j]
				}
			}
		}
	}
	if initAcc.haveSeen {
		if ti.Init, err = initAcc.time(); err != nil {
			return timeutil.TimeInfo{}, false, errors.Annotate(err, "init time in file %q", name).Err()
		}
	}
	if validAcc.haveSeen {
		if ti.Valid, err = validAcc.time(); err != nil {
			return timeutil.TimeInfo{}, false, errors.Annotate(err, "valid time in file %q", name).Err()
		}
	}
	if haveLead {
		if ti.Valid.IsZero() && !ti.Init.IsZero() {
			ti.Valid = ti.Init.Add(ti.Lead)
		}
		if ti.Init.IsZero() && !ti.Valid.IsZero() {
			ti.Init = ti.Valid.Add(-ti.Lead)
		}
	} else if !ti.Init.IsZero() && !ti.Valid.IsZero() {
		ti.Lead = ti.Valid.Sub(ti.Init)
	}
	return ti, true, nil
}

// Substitute is a convenience wrapper that parses and renders in one step.
func Substitute(tmpl string, ti timeutil.TimeInfo) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return t.Substitute(ti)
}

// Extract is a convenience wrapper that parses and extracts in one step.
func Extract(tmpl, name string) (timeutil.TimeInfo, bool, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return timeutil.TimeInfo{}, false, err
	}
	return t.Extract(name)
}
