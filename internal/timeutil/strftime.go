// Copyright 2024 The vxrun Authors
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package timeutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.chromium.org/luci/common/errors"
)

// The supported strftime directives, with the regexp used when parsing.
var strftimePatterns = map[byte]string{
	'Y': `\d{4}`,
	'y': `\d{2}`,
	'm': `\d{2}`,
	'd': `\d{2}`,
	'j': `\d{3}`,
	'H': `\d{2}`,
	'M': `\d{2}`,
	'S': `\d{2}`,
	'b': `[A-Za-z]{3}`,
	'a': `[A-Za-z]{3}`,
}

// FormatStrftime renders t using a strftime format string. Only the
// directives %Y %y %m %d %j %H %M %S %b %a and %% are supported.
func FormatStrftime(t time.Time, format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		i++
		if i >= len(format) {
			return "", errors.Reason("trailing %% in time format %q", format).Err()
		}
		switch format[i] {
		case 'Y':
			fmt.Fprintf(&b, "%04d", t.Year())
		case 'y':
			fmt.Fprintf(&b, "%02d", t.Year()%100)
		case 'm':
			fmt.Fprintf(&b, "%02d", int(t.Month()))
		case 'd':
			fmt.Fprintf(&b, "%02d", t.Day())
		case 'j':
			fmt.Fprintf(&b, "%03d", t.YearDay())
		case 'H':
			fmt.Fprintf(&b, "%02d", t.Hour())
		case 'M':
			fmt.Fprintf(&b, "%02d", t.Minute())
		case 'S':
			fmt.Fprintf(&b, "%02d", t.Second())
		case 'b':
			b.WriteString(t.Month().String()[:3])
		case 'a':
			b.WriteString(t.Weekday().String()[:3])
		case '%':
			b.WriteByte('%')
		default:
			return "", errors.Reason("unsupported time format directive %%%c in %q", format[i], format).Err()
		}
	}
	return b.String(), nil
}

// StrftimeToRegexp converts a strftime format into a regexp with one named
// capture group per directive, for extracting times back out of file names.
// Group names are prefix + directive + ordinal, so several formats can share
// one compiled regexp under distinct prefixes.
func StrftimeToRegexp(format, prefix string) (string, error) {
	var b strings.Builder
	seen := map[byte]int{}
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteString(regexp.QuoteMeta(string(format[i])))
			continue
		}
		i++
		if i >= len(format) {
			return "", errors.Reason("trailing %% in time format %q", format).Err()
		}
		c := format[i]
		if c == '%' {
			b.WriteString("%")
			continue
		}
		pat, ok := strftimePatterns[c]
		if !ok {
			return "", errors.Reason("unsupported time format directive %%%c in %q", c, format).Err()
		}
		seen[c]++
		name := fmt.Sprintf("%s%c%d", prefix, c, seen[c])
		fmt.Fprintf(&b, "(?P<%s>%s)", name, pat)
	}
	return b.String(), nil
}

var monthAbbrev = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseStrftime parses value according to a strftime format string. The
// format must consume the whole value. Fields that are absent default to
// the zero instant's (year 1, January 1, midnight); a two digit %y maps
// 69-99 to 19xx and 00-68 to 20xx.
func ParseStrftime(value, format string) (time.Time, error) {
	pattern, err := StrftimeToRegexp(format, "")
	if err != nil {
		return time.Time{}, err
	}
	re, err := regexp.Compile("^" + pattern + "$")
	if err != nil {
		return time.Time{}, errors.Annotate(err, "compiling time format %q", format).Err()
	}
	m := re.FindStringSubmatch(value)
	if m == nil {
		return time.Time{}, errors.Reason("time %q does not match format %q", value, format).Err()
	}
	t, err := TimeFromMatch("", re.SubexpNames(), m)
	if err != nil {
		return time.Time{}, errors.Annotate(err, "parsing time %q", value).Err()
	}
	return t, nil
}

// TimeFromMatch assembles a time from regexp captures produced by a
// StrftimeToRegexp pattern with the given prefix. Repeated directives must
// agree on their value.
func TimeFromMatch(prefix string, names, values []string) (time.Time, error) {
	fields := map[byte]string{}
	for i, name := range names {
		if name == "" || !strings.HasPrefix(name, prefix) || len(name) <= len(prefix) {
			continue
		}
		c := name[len(prefix)]
		if prev, ok := fields[c]; ok && prev != values[i] {
			return time.Time{}, errors.Reason("conflicting values %q and %q for %%%c", prev, values[i], c).Err()
		}
		fields[c] = values[i]
	}
	return TimeFromFields(fields)
}

// TimeFromFields assembles a time from strftime directive values, keyed by
// directive character. Absent fields default to year 1, January 1, midnight.
func TimeFromFields(fields map[byte]string) (time.Time, error) {
	num := func(c byte, def int) int {
		s, ok := fields[c]
		if !ok {
			return def
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	year := num('Y', 1)
	if s, ok := fields['y']; ok {
		yy, _ := strconv.Atoi(s)
		if yy >= 69 {
			year = 1900 + yy
		} else {
			year = 2000 + yy
		}
	}
	month := num('m', 1)
	if s, ok := fields['b']; ok {
		mon, ok := monthAbbrev[strings.ToLower(s)]
		if !ok {
			return time.Time{}, errors.Reason("unknown month abbreviation %q", s).Err()
		}
		month = int(mon)
	}
	day := num('d', 1)
	t := time.Date(year, time.Month(month), day, num('H', 0), num('M', 0), num('S', 0), 0, time.UTC)
	if s, ok := fields['j']; ok {
		yday, _ := strconv.Atoi(s)
		t = time.Date(year, time.January, 1, num('H', 0), num('M', 0), num('S', 0), 0, time.UTC).
			AddDate(0, 0, yday-1)
	}
	return t, nil
}

var leadFmtRe = regexp.MustCompile(`%(\d*)([HMSd])`)

// FormatLead renders a lead duration using %H, %M, %S and %d directives.
// The first directive receives the total of its unit; later, smaller
// directives receive the remainder. An explicit width (%3H) overrides the
// default zero padding of two digits.
func FormatLead(lead time.Duration, format string) (string, error) {
	if lead == LeadWild {
		return "ALL", nil
	}
	neg := lead < 0
	rem := lead
	if neg {
		rem = -rem
	}
	out := leadFmtRe.ReplaceAllStringFunc(format, func(tok string) string {
		m := leadFmtRe.FindStringSubmatch(tok)
		width := 2
		if m[1] != "" {
			width, _ = strconv.Atoi(m[1])
		}
		var unit time.Duration
		switch m[2] {
		case "d":
			unit = 24 * time.Hour
		case "H":
			unit = time.Hour
		case "M":
			unit = time.Minute
		case "S":
			unit = time.Second
		}
		n := int(rem / unit)
		rem -= time.Duration(n) * unit
		return fmt.Sprintf("%0*d", width, n)
	})
	if strings.Contains(out, "%") {
		return "", errors.Reason("unsupported lead format %q", format).Err()
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

// LeadToRegexp converts a lead format into a regexp with named capture
// groups, mirroring FormatLead. Group names carry the given prefix.
func LeadToRegexp(format, prefix string) (string, error) {
	idx := 0
	out := leadFmtRe.ReplaceAllStringFunc(format, func(tok string) string {
		m := leadFmtRe.FindStringSubmatch(tok)
		width := 2
		if m[1] != "" {
			width, _ = strconv.Atoi(m[1])
		}
		idx++
		return fmt.Sprintf(`(?P<%s%s%d>\d{%d,})`, prefix, m[2], idx, width)
	})
	if strings.Contains(out, "%") {
		return "", errors.Reason("unsupported lead format %q", format).Err()
	}
	return out, nil
}

// LeadFromMatch reconstructs a lead from regexp captures produced by a
// LeadToRegexp pattern with the given prefix. Units mirror FormatLead: the
// first directive is a total, later ones remainders, so the values sum.
func LeadFromMatch(prefix string, names, values []string) (time.Duration, error) {
	var lead time.Duration
	for i, name := range names {
		if name == "" || !strings.HasPrefix(name, prefix) || len(name) <= len(prefix) {
			continue
		}
		n, err := strconv.Atoi(values[i])
		if err != nil {
			return 0, errors.Annotate(err, "parsing lead field %q", values[i]).Err()
		}
		switch name[len(prefix)] {
		case 'd':
			lead += time.Duration(n) * 24 * time.Hour
		case 'H':
			lead += time.Duration(n) * time.Hour
		case 'M':
			lead += time.Duration(n) * time.Minute
		case 'S':
			lead += time.Duration(n) * time.Second
		}
	}
	return lead, nil
}
