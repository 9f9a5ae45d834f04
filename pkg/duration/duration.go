// Package duration parses and formats durations with day and week units,
// as used by retention flags such as "--older-than 30d".
//
// Parse accepts everything time.ParseDuration does plus:
//   - d, day, days: 24 hours
//   - w, week, weeks: 7 days
//
// Units may be separated from their numbers by spaces ("2 weeks 3d").
package duration

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

var longUnits = map[string]time.Duration{
	"d": Day, "day": Day, "days": Day,
	"w": Week, "week": Week, "weeks": Week,
}

// Parse parses a human-readable duration string.
func Parse(s string) (time.Duration, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	neg := false
	if rest, ok := strings.CutPrefix(in, "-"); ok {
		neg = true
		in = strings.TrimSpace(rest)
	}

	var total time.Duration
	var std strings.Builder
	for in != "" {
		num, unit, rest, err := nextComponent(in)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		in = rest

		if mult, ok := longUnits[strings.ToLower(unit)]; ok {
			n, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("duration %q: %w", s, err)
			}
			total += time.Duration(n * float64(mult))
			continue
		}
		std.WriteString(num)
		std.WriteString(unit)
	}

	if std.Len() > 0 {
		d, err := time.ParseDuration(std.String())
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
		total += d
	}

	if neg {
		total = -total
	}
	return total, nil
}

// nextComponent splits the leading "<number><unit>" off s.
func nextComponent(s string) (num, unit, rest string, err error) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	if i == 0 {
		return "", "", "", fmt.Errorf("expected number at %q", s)
	}
	num = s[:i]

	s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	j := 0
	for j < len(s) && !(s[j] == '.' || (s[j] >= '0' && s[j] <= '9') || s[j] == ' ') {
		j++
	}
	if j == 0 {
		return "", "", "", fmt.Errorf("missing unit after %s", num)
	}
	return num, s[:j], s[j:], nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders d using weeks, days and the standard units, omitting zero
// components: 36h becomes "1d12h", 90s becomes "1m30s".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	var b strings.Builder
	if d < 0 {
		b.WriteByte('-')
		d = -d
	}

	if d < time.Second {
		b.WriteString(d.String())
		return b.String()
	}

	for _, u := range []struct {
		size time.Duration
		name string
	}{
		{Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"},
	} {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	if d > 0 {
		b.WriteString(strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
		b.WriteByte('s')
	}
	return b.String()
}
