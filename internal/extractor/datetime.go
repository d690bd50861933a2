package extractor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Shows without an explicit time default to 8 PM local.
const (
	defaultShowHour   = 20
	defaultShowMinute = 0
)

var monthsByName = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	// "August 30, 2025" or "Aug 30 2025"
	monthDayYearPattern = regexp.MustCompile(`(?i)\b([a-z]+)\s+(\d{1,2}),?\s+(\d{4})`)
	// "8/30/2025"
	slashDatePattern = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})`)
	// "2025-08-30"
	isoDatePattern = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})`)
	// "30 Aug 2025"
	dayMonthYearPattern = regexp.MustCompile(`(?i)\b(\d{1,2})\s+([a-z]+)\s+(\d{4})`)

	clockPattern = regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?`)

	showClockPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:show|music)\w*\s*:?\s*(?:at\s+)?(\d{1,2}):(\d{2})\s*(am|pm)?`),
		regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)?\s*(?:show|music)`),
	}

	doorsPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)doors:?\s*(\d{1,2}):(\d{2})\s*(am|pm)`),
		regexp.MustCompile(`(?i)(\d{1,2}):(\d{2})\s*(am|pm)\s*doors`),
	}
)

// dateTimeInfo is the resolved schedule for one event container.
type dateTimeInfo struct {
	StartsAtUTC  time.Time
	DoorsTimeUTC *time.Time
}

// parseDateTime resolves the first recognizable date in text to a UTC
// instant. The time of day comes from the first clock reading in the
// text, or the 8 PM default; local wall time is interpreted in tzName.
func parseDateTime(text, tzName string) (dateTimeInfo, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return dateTimeInfo{}, fmt.Errorf("loading zone %q: %w", tzName, err)
	}

	year, month, day, ok := findDate(text)
	if !ok {
		return dateTimeInfo{}, fmt.Errorf("no date found")
	}

	hour, minute := defaultShowHour, defaultShowMinute
	if h, m, found := findClock(text); found {
		hour, minute = h, m
	}

	local := time.Date(year, month, day, hour, minute, 0, 0, loc)
	info := dateTimeInfo{StartsAtUTC: local.UTC()}

	if h, m, found := findDoorsTime(text); found {
		doors := time.Date(year, month, day, h, m, 0, 0, loc).UTC()
		info.DoorsTimeUTC = &doors
	}
	return info, nil
}

func findDate(text string) (year int, month time.Month, day int, ok bool) {
	if m := monthDayYearPattern.FindStringSubmatch(text); m != nil {
		if mon, known := monthsByName[strings.ToLower(m[1])]; known {
			return atoi(m[3]), mon, atoi(m[2]), true
		}
	}
	if m := slashDatePattern.FindStringSubmatch(text); m != nil {
		mon := atoi(m[1])
		if mon >= 1 && mon <= 12 {
			return atoi(m[3]), time.Month(mon), atoi(m[2]), true
		}
	}
	if m := isoDatePattern.FindStringSubmatch(text); m != nil {
		mon := atoi(m[2])
		if mon >= 1 && mon <= 12 {
			return atoi(m[1]), time.Month(mon), atoi(m[3]), true
		}
	}
	if m := dayMonthYearPattern.FindStringSubmatch(text); m != nil {
		if mon, known := monthsByName[strings.ToLower(m[2])]; known {
			return atoi(m[3]), mon, atoi(m[1]), true
		}
	}
	return 0, 0, 0, false
}

// findClock picks the start-time clock. A clock labeled "show" or
// "music" wins over everything; otherwise the first clock not labeled
// as a doors time wins. A doors-only listing falls back to that clock.
func findClock(text string) (hour, minute int, ok bool) {
	for _, pattern := range showClockPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if h, min, valid := normalizeClock(m[1], m[2], m[3]); valid {
				return h, min, true
			}
		}
	}

	var haveFallback bool
	var fh, fm int
	for _, loc := range clockPattern.FindAllStringSubmatchIndex(text, -1) {
		h, min, valid := normalizeClock(matchGroup(text, loc, 1), matchGroup(text, loc, 2), matchGroup(text, loc, 3))
		if !valid {
			continue
		}
		if !doorsLabeled(text, loc[0], loc[1]) {
			return h, min, true
		}
		if !haveFallback {
			fh, fm, haveFallback = h, min, true
		}
	}
	if haveFallback {
		return fh, fm, true
	}
	return 0, 0, false
}

func normalizeClock(hs, ms, ampm string) (hour, minute int, ok bool) {
	hour, minute = atoi(hs), atoi(ms)
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	switch strings.ToLower(ampm) {
	case "pm":
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	return hour, minute, true
}

func matchGroup(text string, loc []int, i int) string {
	start, end := loc[2*i], loc[2*i+1]
	if start < 0 {
		return ""
	}
	return text[start:end]
}

// doorsLabeled reports whether the clock at [start,end) sits next to a
// "doors" label, as in "Doors: 7:00 PM" or "7:00 PM doors".
func doorsLabeled(text string, start, end int) bool {
	const window = 12
	before := start - window
	if before < 0 {
		before = 0
	}
	after := end + window
	if after > len(text) {
		after = len(text)
	}
	return strings.Contains(strings.ToLower(text[before:start]), "doors") ||
		strings.Contains(strings.ToLower(text[end:after]), "doors")
}

func findDoorsTime(text string) (hour, minute int, ok bool) {
	for _, pattern := range doorsPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		hour, minute = atoi(m[1]), atoi(m[2])
		if strings.EqualFold(m[3], "pm") && hour != 12 {
			hour += 12
		} else if strings.EqualFold(m[3], "am") && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}
	return 0, 0, false
}

func containsDate(text string) bool {
	if text == "" {
		return false
	}
	_, _, _, ok := findDate(text)
	if ok {
		return true
	}
	// Dates without a year still anchor a container.
	return shortMonthDayPattern.MatchString(text)
}

var shortMonthDayPattern = regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec)\s+\d{1,2}\b`)

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
