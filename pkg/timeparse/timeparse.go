// Package timeparse turns the date and time phrases customers type into
// absolute timestamps. It is pure: every result depends only on the input
// text, the reference time and the location.
//
// Accepted forms include ISO 8601 (with or without offset), "2025-01-15 10:00",
// "15/01", "15/01/2025", relative days in English and Spanish (today/hoy,
// tomorrow/mañana, day after tomorrow/pasado mañana), weekday names, and
// clock times such as "10", "10:30", "10am", "3 pm", "15h" or "noon".
package timeparse

import (
	"errors"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnrecognized is returned when no date or time can be read from the text.
	ErrUnrecognized = errors.New("timeparse: unrecognized date/time")
	// ErrMissingTime is returned by Parse when the text names a day but no time.
	ErrMissingTime = errors.New("timeparse: no time of day given")
)

var zonedLayouts = []string{time.RFC3339, "2006-01-02T15:04Z07:00"}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var (
	isoDateRe  = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDayRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})(?:/(\d{2,4}))?\b`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2})(?::(\d{2}))?\s*(am|pm|h|hrs|hs)?\b`)
)

var meridiemPhrases = []struct {
	phrase string
	pm     bool
}{
	{"de la mañana", false},
	{"de la manana", false},
	{"in the morning", false},
	{"de la tarde", true},
	{"de la noche", true},
	{"in the afternoon", true},
	{"in the evening", true},
	{"tonight", true},
}

var relativeDays = []struct {
	phrase string
	offset int
}{
	{"pasado mañana", 2},
	{"pasado manana", 2},
	{"day after tomorrow", 2},
	{"mañana", 1},
	{"manana", 1},
	{"tomorrow", 1},
	{"hoy", 0},
	{"today", 0},
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "domingo": time.Sunday,
	"monday": time.Monday, "lunes": time.Monday,
	"tuesday": time.Tuesday, "martes": time.Tuesday,
	"wednesday": time.Wednesday, "miércoles": time.Wednesday, "miercoles": time.Wednesday,
	"thursday": time.Thursday, "jueves": time.Thursday,
	"friday": time.Friday, "viernes": time.Friday,
	"saturday": time.Saturday, "sábado": time.Saturday, "sabado": time.Saturday,
}

// Parse resolves text to an absolute instant in loc, relative to now.
//
// Without an explicit day the next occurrence of the clock time is used
// (today if still ahead of now, otherwise tomorrow). A bare hour from 1 to 6
// without am/pm is read as afternoon.
func Parse(text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	raw := strings.TrimSpace(text)
	if raw == "" {
		return time.Time{}, ErrUnrecognized
	}
	if t, ok := parseLayouts(raw, loc); ok {
		return t, nil
	}

	s := normalize(raw)
	pm, hasMeridiem := false, false
	for _, mp := range meridiemPhrases {
		if strings.Contains(s, mp.phrase) {
			pm, hasMeridiem = mp.pm, true
			s = strings.ReplaceAll(s, mp.phrase, " ")
			break
		}
	}

	day, s, dayFound := resolveDay(s, now.In(loc))

	if hasWord(s, "mediodía", "mediodia", "noon", "midday") {
		if !dayFound {
			day = truncateDay(now.In(loc))
		}
		return at(day, 12, 0, loc), nil
	}

	hour, minute, ok := resolveClock(s, pm, hasMeridiem)
	if !ok {
		if dayFound {
			return time.Time{}, ErrMissingTime
		}
		return time.Time{}, ErrUnrecognized
	}

	if !dayFound {
		local := now.In(loc)
		t := at(truncateDay(local), hour, minute, loc)
		if !t.After(local) {
			t = at(truncateDay(local).AddDate(0, 0, 1), hour, minute, loc)
		}
		return t, nil
	}
	return at(day, hour, minute, loc), nil
}

// ParseDate resolves text to local midnight of the named day. Empty text
// means tomorrow.
func ParseDate(text string, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	raw := strings.TrimSpace(text)
	if raw == "" {
		return truncateDay(local).AddDate(0, 0, 1), nil
	}
	if t, ok := parseLayouts(raw, loc); ok {
		return truncateDay(t), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}

	day, _, found := resolveDay(normalize(raw), local)
	if !found {
		return time.Time{}, ErrUnrecognized
	}
	return day, nil
}

func parseLayouts(raw string, loc *time.Location) (time.Time, bool) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.In(loc), true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// resolveDay finds a day reference in s and returns its local midnight along
// with s minus the matched text.
func resolveDay(s string, now time.Time) (time.Time, string, bool) {
	today := truncateDay(now)

	if m := isoDateRe.FindStringSubmatchIndex(s); m != nil {
		y, _ := strconv.Atoi(s[m[2]:m[3]])
		mo, _ := strconv.Atoi(s[m[4]:m[5]])
		d, _ := strconv.Atoi(s[m[6]:m[7]])
		if validDate(y, mo, d) {
			return time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location()), s[:m[0]] + " " + s[m[1]:], true
		}
	}

	if m := slashDayRe.FindStringSubmatchIndex(s); m != nil {
		d, _ := strconv.Atoi(s[m[2]:m[3]])
		mo, _ := strconv.Atoi(s[m[4]:m[5]])
		y := now.Year()
		explicitYear := m[6] >= 0
		if explicitYear {
			y, _ = strconv.Atoi(s[m[6]:m[7]])
			if y < 100 {
				y += 2000
			}
		}
		if validDate(y, mo, d) {
			t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
			if !explicitYear && t.Before(today) {
				t = t.AddDate(1, 0, 0)
			}
			return t, s[:m[0]] + " " + s[m[1]:], true
		}
	}

	for _, rd := range relativeDays {
		if idx := strings.Index(s, rd.phrase); idx >= 0 {
			return today.AddDate(0, 0, rd.offset), s[:idx] + " " + s[idx+len(rd.phrase):], true
		}
	}

	for _, word := range strings.Fields(s) {
		if wd, ok := weekdayNames[word]; ok {
			delta := (int(wd) - int(today.Weekday()) + 7) % 7
			if delta == 0 {
				delta = 7
			}
			return today.AddDate(0, 0, delta), strings.Replace(s, word, " ", 1), true
		}
	}

	return time.Time{}, s, false
}

func resolveClock(s string, pm, hasMeridiem bool) (hour, minute int, ok bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}

	switch m[3] {
	case "am":
		pm, hasMeridiem = false, true
	case "pm":
		pm, hasMeridiem = true, true
	case "h", "hrs", "hs":
		// 24-hour clock, taken literally.
		return hour, minute, true
	}

	switch {
	case hasMeridiem && hour > 12:
		return 0, 0, false
	case hasMeridiem && pm && hour < 12:
		hour += 12
	case hasMeridiem && !pm && hour == 12:
		hour = 0
	case !hasMeridiem && hour >= 1 && hour <= 6:
		hour += 12
	}
	return hour, minute, true
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("a.m.", "am", "p.m.", "pm", ",", " ", ".", " ").Replace(s)
	return " " + strings.Join(strings.Fields(s), " ") + " "
}

func hasWord(s string, words ...string) bool {
	for _, f := range strings.Fields(s) {
		if slices.Contains(words, f) {
			return true
		}
	}
	return false
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func at(day time.Time, hour, minute int, loc *time.Location) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, hour, minute, 0, 0, loc)
}

func validDate(y, m, d int) bool {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	return t.Day() == d
}
