package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSpec describes a fixed-time weekly schedule. DayOfWeek uses cron
// numbering: 0 or 7 is Sunday, 1 is Monday. Supported forms: "*", "3",
// "1-5", "1,3,5", and combinations like "1-3,5".
type CronSpec struct {
	Minute    int
	Hour      int
	DayOfWeek string
}

// weekdays expands the DayOfWeek field into a weekday set.
func (c CronSpec) weekdays() (map[time.Weekday]bool, error) {
	spec := strings.TrimSpace(c.DayOfWeek)
	days := make(map[time.Weekday]bool)

	if spec == "" || spec == "*" {
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = true
		}
		return days, nil
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, ok := strings.Cut(part, "-"); ok {
			start, err := parseCronDay(lo)
			if err != nil {
				return nil, err
			}
			end, err := parseCronDay(hi)
			if err != nil {
				return nil, err
			}
			if end < start {
				return nil, fmt.Errorf("invalid day_of_week range %q", part)
			}
			for d := start; d <= end; d++ {
				days[time.Weekday(d%7)] = true
			}
			continue
		}

		day, err := parseCronDay(part)
		if err != nil {
			return nil, err
		}
		days[time.Weekday(day%7)] = true
	}

	if len(days) == 0 {
		return nil, fmt.Errorf("day_of_week %q matches no days", spec)
	}
	return days, nil
}

func parseCronDay(s string) (int, error) {
	day, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || day < 0 || day > 7 {
		return 0, fmt.Errorf("invalid day_of_week value %q", s)
	}
	return day, nil
}
