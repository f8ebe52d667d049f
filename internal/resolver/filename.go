package resolver

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type strategy struct {
	name       Strategy
	candidates func(r *Resolver, name string) []time.Time
}

// Order matters: patterns overlap, so the most specific ones run first.
var strategies = []strategy{
	{StrategyAMPM, ampmCandidates},
	{StrategyDateTime, dateTimeCandidates},
	{StrategyEpoch, epochCandidates},
	{StrategyCompact, compactCandidates},
	{StrategyLoose, looseCandidates},
	{StrategyYear, yearCandidates},
}

const sep = `[-/_.:\s]`

var (
	// 2023_02_17 下午9_30, 2023_02_17 PM9_30
	ampmRe = regexp.MustCompile(`(\d{4})_(\d{2})_(\d{2})\s+(上午|下午|(?i:am|pm))\s*(\d{1,2})_(\d{2})`)
	// 2023-01-01-12-30-45, 2023.01.01.12.30.45
	dateTimeRe = regexp.MustCompile(`(\d{4})[.-](\d{2})[.-](\d{2})[.-](\d{2})[.-](\d{2})[.-](\d{2})`)
	digitsRe   = regexp.MustCompile(`\d+`)
	// 20230101, 20230101_123045, 20230101123045, 20230615_143022123
	compactRe = regexp.MustCompile(`(?:^|\D)(\d{8})(?:[_ ]?(\d{6})\d{0,3})?(?:\D|$)`)
	// 2022-06-25_12.13.07.326, 2022/06/25 12:13, 2023 01 03
	looseRe = regexp.MustCompile(`(\d{4})` + sep + `(\d{2})` + sep + `(\d{2})(?:` + sep + `+(\d{2})` + sep + `(\d{2})(?:` + sep + `(\d{2})(?:` + sep + `(\d{1,3}))?)?)?`)
	// 2023, 2023-01, 2023.01.02
	yearRe = regexp.MustCompile(`(?:^|\D)(\d{4})(?:[-/._\s]?(\d{2}))?(?:[-/._\s]?(\d{2}))?(?:\D|$)`)
)

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

func ampmCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, m := range ampmRe.FindAllStringSubmatch(name, -1) {
		hour := atoi(m[5])
		switch marker := strings.ToLower(m[4]); {
		case (marker == "下午" || marker == "pm") && hour < 12:
			hour += 12
		case (marker == "上午" || marker == "am") && hour == 12:
			hour = 0
		}
		if t, ok := r.date(atoi(m[1]), atoi(m[2]), atoi(m[3]), hour, atoi(m[6]), 0); ok {
			out = append(out, t)
		}
	}
	return out
}

func dateTimeCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, m := range dateTimeRe.FindAllStringSubmatch(name, -1) {
		if t, ok := r.date(atoi(m[1]), atoi(m[2]), atoi(m[3]), atoi(m[4]), atoi(m[5]), atoi(m[6])); ok {
			out = append(out, t)
		}
	}
	return out
}

// epochCandidates only considers whole digit runs, so a 10 or 13 digit
// timestamp is never carved out of a longer number.
func epochCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, run := range digitsRe.FindAllString(name, -1) {
		n, err := strconv.ParseInt(run, 10, 64)
		if err != nil {
			continue
		}
		switch len(run) {
		case 10:
			out = append(out, time.UnixMilli(n*1000).In(r.loc))
		case 13:
			out = append(out, time.UnixMilli(n).In(r.loc))
		}
	}
	return out
}

func compactCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, m := range compactRe.FindAllStringSubmatch(name, -1) {
		d := m[1]
		hour, minute, second := 0, 0, 0
		if m[2] != "" {
			hour, minute, second = atoi(m[2][0:2]), atoi(m[2][2:4]), atoi(m[2][4:6])
		}
		if t, ok := r.date(atoi(d[0:4]), atoi(d[4:6]), atoi(d[6:8]), hour, minute, second); ok {
			out = append(out, t)
		}
	}
	return out
}

func looseCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, m := range looseRe.FindAllStringSubmatch(name, -1) {
		hour, minute, second := 0, 0, 0
		if m[4] != "" && m[5] != "" {
			hour, minute = atoi(m[4]), atoi(m[5])
			if m[6] != "" {
				second = atoi(m[6])
			}
		}
		t, ok := r.date(atoi(m[1]), atoi(m[2]), atoi(m[3]), hour, minute, second)
		if !ok {
			continue
		}
		if m[7] != "" {
			// "3" means 300ms, "32" means 320ms
			millis := atoi(m[7] + strings.Repeat("0", 3-len(m[7])))
			t = t.Add(time.Duration(millis) * time.Millisecond)
		}
		out = append(out, t)
	}
	return out
}

func yearCandidates(r *Resolver, name string) []time.Time {
	var out []time.Time
	for _, m := range yearRe.FindAllStringSubmatch(name, -1) {
		month, day := 1, 1
		if m[2] != "" {
			month = atoi(m[2])
		}
		if m[3] != "" {
			day = atoi(m[3])
		}
		if t, ok := r.date(atoi(m[1]), month, day, 0, 0, 0); ok {
			out = append(out, t)
		}
	}
	return out
}
