package reviews

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var monthGenitive = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

var (
	relativeAgoRe = regexp.MustCompile(`^(\d+)\s+(секунд[а-я]*|минут[а-я]*|час[а-я]*|дн[а-я]*|дене[а-я]*|дней|недел[а-я]*|месяц[а-я]*|год[а-я]*|лет)\s+назад$`)
	singularAgoRe = regexp.MustCompile(`^(секунду|минуту|час|день|неделю|месяц|год)\s+назад$`)
	dayMonthYear  = regexp.MustCompile(`^(\d{1,2})\s+([а-яё]+)(?:\s+(\d{4}))?$`)
)

// ParseRussianDate handles the relative and absolute Russian-language date
// forms the upstream embeds in review payloads and DOM fallback (spec.md
// §4.5 "Russian date parser"). now is injected for deterministic tests;
// production callers pass time.Now().
func ParseRussianDate(raw string, now time.Time) time.Time {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return now
	}

	switch s {
	case "сегодня":
		return startOfDay(now)
	case "вчера":
		return startOfDay(now.AddDate(0, 0, -1))
	case "позавчера":
		return startOfDay(now.AddDate(0, 0, -2))
	}

	if m := relativeAgoRe.FindStringSubmatch(s); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			if d, ok := agoDuration(n, m[2]); ok {
				return now.Add(-d)
			}
		}
	}
	if m := singularAgoRe.FindStringSubmatch(s); m != nil {
		if d, ok := agoDuration(1, m[1]); ok {
			return now.Add(-d)
		}
	}
	if m := dayMonthYear.FindStringSubmatch(s); m != nil {
		day, err := strconv.Atoi(m[1])
		month, known := monthGenitive[m[2]]
		if err == nil && known {
			year := now.Year()
			if m[3] != "" {
				if y, yerr := strconv.Atoi(m[3]); yerr == nil {
					year = y
				}
			}
			candidate := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
			if m[3] == "" && candidate.After(now) {
				candidate = candidate.AddDate(-1, 0, 0)
			}
			return candidate
		}
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}

	return now
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func agoDuration(n int, unit string) (time.Duration, bool) {
	day := 24 * time.Hour
	switch {
	case strings.HasPrefix(unit, "секунд"):
		return time.Duration(n) * time.Second, true
	case strings.HasPrefix(unit, "минут"):
		return time.Duration(n) * time.Minute, true
	case strings.HasPrefix(unit, "час"):
		return time.Duration(n) * time.Hour, true
	case strings.HasPrefix(unit, "дн"), strings.HasPrefix(unit, "ден"), unit == "дней":
		return time.Duration(n) * day, true
	case strings.HasPrefix(unit, "недел"):
		return time.Duration(n) * 7 * day, true
	case strings.HasPrefix(unit, "месяц"):
		return time.Duration(n) * 30 * day, true
	case strings.HasPrefix(unit, "год"), unit == "лет":
		return time.Duration(n) * 365 * day, true
	default:
		return 0, false
	}
}
