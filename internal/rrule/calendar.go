package rrule

import (
	"sort"
	"time"
)

// atTime returns day at time t (UTC), regardless of what time-of-day day
// already carries.
func atTime(day time.Time, t TimeOfDay) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour, t.Minute, t.Second, 0, time.UTC)
}

func sortedTimes(times []TimeOfDay) []TimeOfDay {
	if len(times) == 0 {
		return []TimeOfDay{{}}
	}
	out := make([]TimeOfDay, len(times))
	copy(out, times)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Hour != b.Hour {
			return a.Hour < b.Hour
		}
		if a.Minute != b.Minute {
			return a.Minute < b.Minute
		}
		return a.Second < b.Second
	})
	return out
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// weekStartUTC returns the Sunday (00:00 UTC) that begins the week containing t.
func weekStartUTC(t time.Time) time.Time {
	m := midnightUTC(t)
	return m.AddDate(0, 0, -int(m.Weekday()))
}

func monthStartUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// lastDayOfMonth returns the day-of-month count for year/month (MonthInterval
// §4.1 step 3: "onDay = 31 in a short month clamps to the last day").
func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	last := firstOfNext.AddDate(0, 0, -1)
	return last.Day()
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	if len(days) == 0 {
		return true
	}
	for _, w := range days {
		if w == d {
			return true
		}
	}
	return false
}

func containsMonth(months []time.Month, m time.Month) bool {
	if len(months) == 0 {
		return true
	}
	for _, mm := range months {
		if mm == m {
			return true
		}
	}
	return false
}

// firstWeekdayOfMonth returns the earliest date in year/month matching wd.
func firstWeekdayOfMonth(year int, month time.Month, wd time.Weekday) time.Time {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, offset)
}
