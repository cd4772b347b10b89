// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timeutil

import (
	"testing"
	"time"

	"vxrun/internal/assert"

	"github.com/google/go-cmp/cmp"
)

func TestParseLead(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    string
		expected time.Duration
	}{
		{"0", 0},
		{"12", 12 * time.Hour},
		{"3H", 3 * time.Hour},
		{"30M", 30 * time.Minute},
		{"3600S", time.Hour},
		{"1d", 24 * time.Hour},
		{"-6H", -6 * time.Hour},
		{"+2d", 48 * time.Hour},
		{" 18 ", 18 * time.Hour},
	} {
		got, err := ParseLead(tc.input)
		assert.NilError(t, err)
		if got != tc.expected {
			t.Errorf("ParseLead(%q) = %s; want %s", tc.input, got, tc.expected)
		}
	}

	for _, input := range []string{"", "abc", "12X", "1.5H", "H", "--3H"} {
		_, err := ParseLead(input)
		assert.NonNilError(t, err)
	}
}

func TestParseIncrement(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		input    string
		expected time.Duration
	}{
		{"", 0},
		{"21600", 6 * time.Hour},
		{"60", time.Minute},
		{"12H", 12 * time.Hour},
		{"1d", 24 * time.Hour},
	} {
		got, err := ParseIncrement(tc.input)
		assert.NilError(t, err)
		if got != tc.expected {
			t.Errorf("ParseIncrement(%q) = %s; want %s", tc.input, got, tc.expected)
		}
	}

	_, err := ParseIncrement("soon")
	assert.NonNilError(t, err)
}

func TestParseLeadSeq(t *testing.T) {
	t.Parallel()
	got, err := ParseLeadSeq("0, 6, 12H, 90M")
	assert.NilError(t, err)
	expected := []time.Duration{0, 6 * time.Hour, 12 * time.Hour, 90 * time.Minute}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("ParseLeadSeq diff (-want +got):\n%s", diff)
	}
}

func TestParseLeadSeqBeginEndIncr(t *testing.T) {
	t.Parallel()
	got, err := ParseLeadSeq("begin_end_incr(0,12,3)")
	assert.NilError(t, err)
	expected := []time.Duration{0, 3 * time.Hour, 6 * time.Hour, 9 * time.Hour, 12 * time.Hour}
	if diff := cmp.Diff(expected, got); diff != "" {
		t.Errorf("ParseLeadSeq diff (-want +got):\n%s", diff)
	}

	got, err = ParseLeadSeq("begin_end_incr(0,6,3), 24")
	assert.NilError(t, err)
	assert.IntsEqual(t, len(got), 4)

	_, err = ParseLeadSeq("begin_end_incr(0,12)")
	assert.NonNilError(t, err)
	_, err = ParseLeadSeq("begin_end_incr(0,12,0)")
	assert.NonNilError(t, err)
	_, err = ParseLeadSeq("begin_end_incr(12,0,3)")
	assert.ErrorContains(t, err, "empty")
}

func TestParseLeadSeqEmpty(t *testing.T) {
	t.Parallel()
	got, err := ParseLeadSeq("")
	assert.NilError(t, err)
	if diff := cmp.Diff([]time.Duration{0}, got); diff != "" {
		t.Errorf("ParseLeadSeq diff (-want +got):\n%s", diff)
	}
}

func TestFormatStrftime(t *testing.T) {
	t.Parallel()
	ts := time.Date(2020, 2, 29, 6, 5, 4, 0, time.UTC)
	for _, tc := range []struct {
		format   string
		expected string
	}{
		{"%Y%m%d", "20200229"},
		{"%Y-%m-%d_%H:%M:%S", "2020-02-29_06:05:04"},
		{"%y%j", "20060"},
		{"%b %d", "Feb 29"},
		{"init_%Y%m%d%H", "init_2020022906"},
		{"100%%", "100%"},
	} {
		got, err := FormatStrftime(ts, tc.format)
		assert.NilError(t, err)
		assert.StringsEqual(t, got, tc.expected)
	}

	_, err := FormatStrftime(ts, "%Q")
	assert.ErrorContains(t, err, "unsupported time format directive")
	_, err = FormatStrftime(ts, "bad%")
	assert.NonNilError(t, err)
}

func TestParseStrftime(t *testing.T) {
	t.Parallel()
	got, err := ParseStrftime("2020022906", "%Y%m%d%H")
	assert.NilError(t, err)
	assert.Assert(t, got.Equal(time.Date(2020, 2, 29, 6, 0, 0, 0, time.UTC)))

	// Day of year.
	got, err = ParseStrftime("2020060", "%Y%j")
	assert.NilError(t, err)
	assert.Assert(t, got.Equal(time.Date(2020, 2, 29, 0, 0, 0, 0, time.UTC)))

	// Two digit year pivot.
	got, err = ParseStrftime("690101", "%y%m%d")
	assert.NilError(t, err)
	assert.IntsEqual(t, got.Year(), 1969)
	got, err = ParseStrftime("680101", "%y%m%d")
	assert.NilError(t, err)
	assert.IntsEqual(t, got.Year(), 2068)

	// Month name.
	got, err = ParseStrftime("Feb 2020", "%b %Y")
	assert.NilError(t, err)
	assert.IntsEqual(t, int(got.Month()), 2)

	_, err = ParseStrftime("2020", "%Y%m%d")
	assert.ErrorContains(t, err, "does not match")
	_, err = ParseStrftime("20200229extra", "%Y%m%d")
	assert.NonNilError(t, err)
}

func TestParseStrftimeRepeatedDirective(t *testing.T) {
	t.Parallel()
	got, err := ParseStrftime("2020-2020", "%Y-%Y")
	assert.NilError(t, err)
	assert.IntsEqual(t, got.Year(), 2020)

	_, err = ParseStrftime("2020-2021", "%Y-%Y")
	assert.ErrorContains(t, err, "conflicting values")
}

func TestFormatLead(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		lead     time.Duration
		format   string
		expected string
	}{
		{6 * time.Hour, "%H", "06"},
		{102 * time.Hour, "%H", "102"},
		{6 * time.Hour, "%3H", "006"},
		{90 * time.Minute, "%M", "90"},
		{time.Hour, "%S", "3600"},
		{18*time.Hour + 30*time.Minute, "%H%M", "1830"},
		{26 * time.Hour, "%d%H", "0102"},
		{-6 * time.Hour, "%2H", "-06"},
		{0, "%H", "00"},
		{LeadWild, "%H", "ALL"},
	} {
		got, err := FormatLead(tc.lead, tc.format)
		assert.NilError(t, err)
		assert.StringsEqual(t, got, tc.expected)
	}

	_, err := FormatLead(time.Hour, "%q")
	assert.NonNilError(t, err)
}

func TestSequenceByInit(t *testing.T) {
	t.Parallel()
	seq, err := Sequence(SequenceOptions{
		LoopBy:    LoopByInit,
		TimeFmt:   "%Y%m%d%H",
		Beg:       "2020020100",
		End:       "2020020200",
		Increment: 12 * time.Hour,
		Leads:     []time.Duration{0, 6 * time.Hour},
	})
	assert.NilError(t, err)
	assert.IntsEqual(t, len(seq), 6)
	first := seq[0]
	assert.Assert(t, first.Init.Equal(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)))
	assert.Assert(t, first.Valid.Equal(first.Init))
	second := seq[1]
	assert.Assert(t, second.Valid.Equal(time.Date(2020, 2, 1, 6, 0, 0, 0, time.UTC)))
	last := seq[len(seq)-1]
	assert.Assert(t, last.Init.Equal(time.Date(2020, 2, 2, 0, 0, 0, 0, time.UTC)))
}

func TestSequenceByValid(t *testing.T) {
	t.Parallel()
	seq, err := Sequence(SequenceOptions{
		LoopBy:  LoopByValid,
		TimeFmt: "%Y%m%d%H",
		Beg:     "2020020112",
		End:     "2020020112",
		Leads:   []time.Duration{6 * time.Hour},
	})
	assert.NilError(t, err)
	assert.IntsEqual(t, len(seq), 1)
	assert.Assert(t, seq[0].Valid.Equal(time.Date(2020, 2, 1, 12, 0, 0, 0, time.UTC)))
	assert.Assert(t, seq[0].Init.Equal(time.Date(2020, 2, 1, 6, 0, 0, 0, time.UTC)))
}

func TestSequenceErrors(t *testing.T) {
	t.Parallel()
	_, err := Sequence(SequenceOptions{LoopBy: LoopByInit, Beg: "2020", End: "2020"})
	assert.ErrorContains(t, err, "INIT_TIME_FMT")

	_, err = Sequence(SequenceOptions{
		LoopBy: LoopByInit, TimeFmt: "%Y%m%d", Beg: "20200202", End: "20200201",
	})
	assert.ErrorContains(t, err, "must not be before")

	_, err = Sequence(SequenceOptions{
		LoopBy: LoopByInit, TimeFmt: "%Y%m%d", Beg: "20200201", End: "20200202",
		Increment: 30 * time.Second,
	})
	assert.ErrorContains(t, err, "at least 60 seconds")
}

func TestSequenceSkipTimes(t *testing.T) {
	t.Parallel()
	skip, err := ParseSkipTimes(`"%d:02"`)
	assert.NilError(t, err)
	seq, err := Sequence(SequenceOptions{
		LoopBy:  LoopByInit,
		TimeFmt: "%Y%m%d",
		Beg:     "20200201",
		End:     "20200203",
		Skip:    skip,
	})
	assert.NilError(t, err)
	assert.IntsEqual(t, len(seq), 2)
	for _, ti := range seq {
		assert.Assert(t, ti.Valid.Day() != 2)
	}
}

func TestParseSkipTimes(t *testing.T) {
	t.Parallel()
	skip, err := ParseSkipTimes(`"%m:3,4,5", "%H:begin_end_incr(0,12,6)"`)
	assert.NilError(t, err)
	assert.IntsEqual(t, len(skip), 2)

	// Unpadded values match their padded rendering.
	assert.Assert(t, skip.ShouldSkip(time.Date(2020, 3, 15, 18, 0, 0, 0, time.UTC)))
	assert.Assert(t, skip.ShouldSkip(time.Date(2020, 7, 15, 6, 0, 0, 0, time.UTC)))
	assert.Assert(t, !skip.ShouldSkip(time.Date(2020, 7, 15, 18, 0, 0, 0, time.UTC)))

	single, err := ParseSkipTimes(`%Y%m%d:20200229`)
	assert.NilError(t, err)
	assert.Assert(t, single.ShouldSkip(time.Date(2020, 2, 29, 9, 0, 0, 0, time.UTC)))
	assert.Assert(t, !single.ShouldSkip(time.Date(2020, 3, 1, 9, 0, 0, 0, time.UTC)))

	_, err = ParseSkipTimes(`"%m"`)
	assert.ErrorContains(t, err, "fmt:values")
	_, err = ParseSkipTimes(`"%Q:1"`)
	assert.NonNilError(t, err)
}

func TestTimeInfoStamps(t *testing.T) {
	t.Parallel()
	ti := TimeInfo{
		Init:  time.Date(2020, 2, 1, 6, 0, 0, 0, time.UTC),
		Valid: time.Date(2020, 2, 1, 12, 0, 0, 0, time.UTC),
		Lead:  6 * time.Hour,
	}
	assert.StringsEqual(t, ti.InitStamp(), "20200201060000")
	assert.StringsEqual(t, ti.ValidStamp(), "20200201120000")
	assert.StringsEqual(t, ti.LeadStamp(), "21600")

	wild := TimeInfo{Lead: LeadWild}
	assert.StringsEqual(t, wild.InitStamp(), "ALL")
	assert.StringsEqual(t, wild.ValidStamp(), "ALL")
	assert.StringsEqual(t, wild.LeadStamp(), "ALL")
}

func TestTimeInfoMatches(t *testing.T) {
	t.Parallel()
	concrete := TimeInfo{
		Init:  time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC),
		Valid: time.Date(2020, 2, 1, 6, 0, 0, 0, time.UTC),
		Lead:  6 * time.Hour,
	}
	anyTime := TimeInfo{Lead: LeadWild}
	assert.Assert(t, anyTime.Matches(concrete))

	sameInit := TimeInfo{Init: concrete.Init, Lead: LeadWild}
	assert.Assert(t, sameInit.Matches(concrete))

	otherInit := TimeInfo{Init: concrete.Init.Add(time.Hour), Lead: LeadWild}
	assert.Assert(t, !otherInit.Matches(concrete))

	otherLead := TimeInfo{Lead: 12 * time.Hour}
	assert.Assert(t, !otherLead.Matches(concrete))
}

func TestParseLoopBy(t *testing.T) {
	t.Parallel()
	for input, expected := range map[string]LoopBy{
		"INIT": LoopByInit, "init": LoopByInit, "REALTIME": LoopByInit,
		"VALID": LoopByValid, "RETRO": LoopByValid,
	} {
		got, err := ParseLoopBy(input)
		assert.NilError(t, err)
		assert.StringsEqual(t, string(got), string(expected))
	}
	_, err := ParseLoopBy("TIMES")
	assert.ErrorContains(t, err, "LOOP_BY")
}
