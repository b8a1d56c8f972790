// Package logline turns one raw application log line into a UTC timestamp,
// an uppercase level and an ordered field sequence. Parsing never fails: a
// line with no recognizable timestamp is stamped "now" in the configured
// default zone, and a line with no level token defaults to INFO.
package logline

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultZone is assumed for timestamps that carry no zone of their own.
const DefaultZone = "Europe/Amsterdam"

// Levels is the fixed vocabulary of recognized log-level tokens.
var Levels = []string{
	"TRACE", "DEBUG", "VERBOSE", "INFO", "NOTICE", "WARNING", "WARN",
	"ERROR", "FATAL", "CRITICAL", "ALERT", "EMERGENCY",
}

var (
	levelRe    = regexp.MustCompile(`(?i)\[?\s*\b(TRACE|DEBUG|VERBOSE|INFO|NOTICE|WARNING|WARN|ERROR|FATAL|CRITICAL|ALERT|EMERGENCY)\b\s*\]?`)
	residueRe  = regexp.MustCompile(`^\[\s*[,.]?\d*\]`)
	fieldSplit = regexp.MustCompile(`\s{2,}`)
)

// Normalizer extracts (timestamp, level, fields) from raw lines.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

// New returns a Normalizer assuming loc for zone-less timestamps.
// A nil loc falls back to DefaultZone, and to UTC if that zone is unknown.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		var err error
		loc, err = time.LoadLocation(DefaultZone)
		if err != nil {
			loc = time.UTC
		}
	}
	return &Normalizer{loc: loc, now: time.Now}
}

// Parse extracts the timestamp, level and fields of one raw line.
// The returned timestamp is in UTC; level is uppercase; fields is the
// remainder split on runs of two or more spaces.
func (n *Normalizer) Parse(line string) (time.Time, string, []string) {
	ts, remainder := n.extractTimestamp(line)
	level, remainder := extractLevel(remainder)
	remainder = strings.TrimSpace(residueRe.ReplaceAllString(strings.TrimSpace(remainder), ""))

	var fields []string
	if fieldSplit.MatchString(remainder) {
		fields = fieldSplit.Split(remainder, -1)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
	} else {
		fields = []string{remainder}
	}
	return ts.UTC(), level, fields
}

// pattern is one timestamp shape. Patterns are scanned in priority order and
// the first whose regexp matches the line wins, whether or not a later
// pattern would match a longer span.
type pattern struct {
	re    *regexp.Regexp
	build func(n *Normalizer, m []string) (time.Time, bool)
}

var patterns = []pattern{
	// [YYYY-MM-DD HH:MM:SS] and [YYYY-MM-DD HH:MM:SS,mmm]
	{
		re: regexp.MustCompile(`\[(\d{4})-(\d{2})-(\d{2}) (\d{2}):(\d{2}):(\d{2})(?:[.,](\d{1,6}))?\]`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			return n.makeTime(m[1], m[2], m[3], m[4], m[5], m[6], m[7], "")
		},
	},
	// ISO-8601, with or without 'T', optional fraction, optional Z/offset
	{
		re: regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})[T ](\d{2}):(\d{2}):(\d{2})(?:[.,](\d{1,6}))?(Z|[+-]\d{2}:?\d{2})?`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			return n.makeTime(m[1], m[2], m[3], m[4], m[5], m[6], m[7], m[8])
		},
	},
	// Apache combined log: [DD/Mon/YYYY:HH:MM:SS +ZZZZ], fraction optional
	{
		re: regexp.MustCompile(`\[(\d{2})/(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)/(\d{4}):(\d{2}):(\d{2}):(\d{2})(?:[.,](\d{1,6}))? ?([+-]\d{4})?\]`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			return n.makeTime(m[3], monthNum(m[2]), m[1], m[4], m[5], m[6], m[7], m[8])
		},
	},
	// syslog: Mon  2 15:04:05 (year assumed current)
	{
		re: regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\s+(\d{1,2}) (\d{2}):(\d{2}):(\d{2})\b`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			year := strconv.Itoa(n.now().Year())
			return n.makeTime(year, monthNum(m[1]), m[2], m[3], m[4], m[5], "", "")
		},
	},
	// DD-MM-YYYY HH:MM:SS
	{
		re: regexp.MustCompile(`\b(\d{2})-(\d{2})-(\d{4}) (\d{2}):(\d{2}):(\d{2})(?:[.,](\d{1,6}))?\b`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			return n.makeTime(m[3], m[2], m[1], m[4], m[5], m[6], m[7], "")
		},
	},
	// bare HH:MM:SS.mmm (date assumed today)
	{
		re: regexp.MustCompile(`\b(\d{2}):(\d{2}):(\d{2})[.,](\d{1,6})\b`),
		build: func(n *Normalizer, m []string) (time.Time, bool) {
			today := n.now().In(n.loc)
			return n.makeTime(strconv.Itoa(today.Year()), strconv.Itoa(int(today.Month())), strconv.Itoa(today.Day()), m[1], m[2], m[3], m[4], "")
		},
	},
}

// extractTimestamp resolves the first matching pattern and removes the
// matched span from the line. With no match it falls back to now in the
// default zone and leaves the line intact.
func (n *Normalizer) extractTimestamp(line string) (time.Time, string) {
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		ts, ok := p.build(n, m)
		if !ok {
			continue
		}
		return ts, strings.TrimSpace(strings.Replace(line, m[0], "", 1))
	}
	return n.now().In(n.loc), line
}

func extractLevel(line string) (string, string) {
	loc := levelRe.FindStringSubmatchIndex(line)
	if loc == nil {
		return "INFO", strings.TrimSpace(line)
	}
	level := strings.ToUpper(line[loc[2]:loc[3]])
	cleaned := line[:loc[0]] + line[loc[1]:]
	return level, strings.TrimSpace(cleaned)
}

// makeTime assembles an absolute instant from string date parts. frac is the
// fractional-second digits (comma already normalized away by the regexp
// capture), offset is "Z", "+HHMM" or "+HH:MM", or empty for the default zone.
func (n *Normalizer) makeTime(year, month, day, hour, minute, second, frac, offset string) (time.Time, bool) {
	y, ok1 := atoiOK(year)
	mo, ok2 := atoiOK(month)
	d, ok3 := atoiOK(day)
	h, ok4 := atoiOK(hour)
	mi, ok5 := atoiOK(minute)
	s, ok6 := atoiOK(second)
	if !(ok1 && ok2 && ok3 && ok4 && ok5 && ok6) {
		return time.Time{}, false
	}
	ns := 0
	if frac != "" {
		for len(frac) < 9 {
			frac += "0"
		}
		frac = frac[:9]
		ns, _ = strconv.Atoi(frac)
	}
	loc := n.loc
	if offset != "" {
		if offset == "Z" {
			loc = time.UTC
		} else if l, ok := offsetZone(offset); ok {
			loc = l
		}
	}
	return time.Date(y, time.Month(mo), d, h, mi, s, ns, loc), true
}

func offsetZone(offset string) (*time.Location, bool) {
	sign := 1
	switch offset[0] {
	case '-':
		sign = -1
	case '+':
	default:
		return nil, false
	}
	digits := strings.ReplaceAll(offset[1:], ":", "")
	if len(digits) != 4 {
		return nil, false
	}
	hh, ok1 := atoiOK(digits[:2])
	mm, ok2 := atoiOK(digits[2:])
	if !ok1 || !ok2 {
		return nil, false
	}
	return time.FixedZone(offset, sign*(hh*3600+mm*60)), true
}

func monthNum(name string) string {
	months := map[string]string{
		"Jan": "1", "Feb": "2", "Mar": "3", "Apr": "4", "May": "5", "Jun": "6",
		"Jul": "7", "Aug": "8", "Sep": "9", "Oct": "10", "Nov": "11", "Dec": "12",
	}
	return months[name]
}

func atoiOK(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
