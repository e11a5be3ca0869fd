// Package rrule implements the recurring-schedule evaluator (spec §4.1): a
// pure function that, given a rule and a reference instant, returns the
// smallest valid instant strictly after the reference (or the reference
// itself when a first-run modifier such as RunNow lands on it), honoring cron,
// interval, calendar, MaxRuns and RunUntil constraints. It never touches a
// clock itself — callers always pass in "now".
package rrule

import "time"

// TimeOfDay is a wall-clock time-of-day filter, always interpreted in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
	Second int
}

// Cron is the Cron(expression) rule variant (spec §4.1, §6.3): a 5-field
// POSIX expression optionally extended with a leading seconds field.
type Cron struct {
	Expression string
}

// SecondInterval runs every N seconds, aligned to the Unix epoch.
type SecondInterval struct {
	N int
}

// MinuteInterval runs every N minutes, optionally pinned to a specific second.
type MinuteInterval struct {
	N        int
	OnSecond *int
}

// HourInterval runs every N hours, optionally pinned to a minute/second.
type HourInterval struct {
	N        int
	OnMinute *int
	OnSecond *int
}

// DayInterval runs every N days, filtered to specific times of day and/or
// specific days of the week. When both OnTimes and OnDaysOfWeek are set they
// are a conjunction: an instant must satisfy both.
type DayInterval struct {
	N            int
	OnTimes      []TimeOfDay
	OnDaysOfWeek []time.Weekday
}

// WeekInterval runs every N weeks, on specific days of the week, at specific
// times of day.
type WeekInterval struct {
	N       int
	OnDays  []time.Weekday
	OnTimes []TimeOfDay
}

// MonthInterval runs every N months, on either a fixed day-of-month (clamped
// to the last day of a short month) or the first occurrence of a weekday in
// the month, optionally restricted to specific months, at specific times of
// day. Exactly one of OnDay / OnFirstDayOfWeek should be set.
type MonthInterval struct {
	N                int
	OnDay            *int
	OnFirstDayOfWeek *time.Weekday
	OnTimes          []TimeOfDay
	OnMonths         []time.Month
}

// Interval is the tagged union of supported interval kinds. Exactly one
// field is non-nil.
type Interval struct {
	Cron           *Cron
	SecondInterval *SecondInterval
	MinuteInterval *MinuteInterval
	HourInterval   *HourInterval
	DayInterval    *DayInterval
	WeekInterval   *WeekInterval
	MonthInterval  *MonthInterval
}

// Rule is a recurring schedule: one interval kind plus modifiers (spec §4.1).
type Rule struct {
	Interval Interval

	// RunNow, InitialDelay and SpecificRunTime only affect the very first
	// run (CurrentRunCount == 0); RunUntil still applies to the result.
	RunNow          bool
	InitialDelay    *time.Duration
	SpecificRunTime *time.Time

	MaxRuns  *int64
	RunUntil *time.Time
}

// Result is the outcome of CalculateNextValidRun.
type Result struct {
	NextRun      *time.Time
	SkippedCount int
}
