package rrule

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoInterval is returned when a Rule's Interval carries no populated
// variant.
var ErrNoInterval = errors.New("rrule: interval has no populated variant")

// ErrInvalidN is returned when a fixed-cadence interval's N is not positive.
var ErrInvalidN = errors.New("rrule: interval N must be positive")

// CalculateNextValidRun implements spec §4.1: given the rule, the task's
// original scheduled time (the calendar/interval baseline), how many runs
// have already happened, and a reference instant ("now"), it returns the
// smallest valid instant strictly greater than referenceTime, or a nil
// NextRun if the rule is exhausted (MaxRuns/RunUntil). The one exception is
// a first-run modifier substitution that lands exactly on referenceTime (as
// RunNow always does): that instant is returned as is.
//
// It never reads a clock; callers always supply referenceTime.
func CalculateNextValidRun(rule Rule, scheduledTime time.Time, currentRunCount int64, referenceTime time.Time) (Result, error) {
	scheduledTime = scheduledTime.UTC()
	referenceTime = referenceTime.UTC()

	// 1. MaxRuns exhausted.
	if rule.MaxRuns != nil && currentRunCount >= *rule.MaxRuns {
		return Result{}, nil
	}
	// 2. RunUntil already passed.
	if rule.RunUntil != nil && !referenceTime.Before(rule.RunUntil.UTC()) {
		return Result{}, nil
	}

	advance, err := intervalAdvancer(rule.Interval)
	if err != nil {
		return Result{}, err
	}

	// 3. Compute the first candidate after referenceTime.
	candidate, err := advance(scheduledTime, referenceTime)
	if err != nil {
		return Result{}, err
	}

	// 4. First-run modifier substitution. Precedence when more than one is
	// set: SpecificRunTime (most deterministic) > InitialDelay > RunNow.
	if currentRunCount == 0 {
		switch {
		case rule.SpecificRunTime != nil:
			candidate = rule.SpecificRunTime.UTC()
		case rule.InitialDelay != nil:
			candidate = referenceTime.Add(*rule.InitialDelay)
		case rule.RunNow:
			candidate = referenceTime
		}
	}

	// 5. Skip-past loop: a modifier substitution (or a stale scheduledTime)
	// may still land strictly before referenceTime; keep advancing. An exact
	// match (RunNow's defining case: "dispatch at referenceTime itself") is
	// left alone rather than bumped to the next tick.
	skipped := 0
	for candidate.Before(referenceTime) {
		next, err := advance(scheduledTime, candidate)
		if err != nil {
			return Result{}, err
		}
		if !next.After(candidate) {
			return Result{}, fmt.Errorf("rrule: interval did not advance past %s", candidate)
		}
		candidate = next
		skipped++
	}

	// 6. Final RunUntil clamp.
	if rule.RunUntil != nil && candidate.After(rule.RunUntil.UTC()) {
		return Result{}, nil
	}

	nr := candidate
	return Result{NextRun: &nr, SkippedCount: skipped}, nil
}

// advancer computes the next candidate instant strictly after `from`, using
// scheduledTime as the calendar/interval baseline.
type advancer func(scheduledTime, from time.Time) (time.Time, error)

func intervalAdvancer(iv Interval) (advancer, error) {
	switch {
	case iv.Cron != nil:
		return cronAdvancer(*iv.Cron)
	case iv.SecondInterval != nil:
		return secondIntervalAdvancer(*iv.SecondInterval)
	case iv.MinuteInterval != nil:
		return minuteIntervalAdvancer(*iv.MinuteInterval)
	case iv.HourInterval != nil:
		return hourIntervalAdvancer(*iv.HourInterval)
	case iv.DayInterval != nil:
		return dayIntervalAdvancer(*iv.DayInterval)
	case iv.WeekInterval != nil:
		return weekIntervalAdvancer(*iv.WeekInterval)
	case iv.MonthInterval != nil:
		return monthIntervalAdvancer(*iv.MonthInterval)
	default:
		return nil, ErrNoInterval
	}
}

func secondIntervalAdvancer(si SecondInterval) (advancer, error) {
	if si.N <= 0 {
		return nil, ErrInvalidN
	}
	n := int64(si.N)
	return func(_ time.Time, from time.Time) (time.Time, error) {
		epoch := from.Unix()
		next := (epoch/n + 1) * n
		return time.Unix(next, 0).UTC(), nil
	}, nil
}

func minuteIntervalAdvancer(mi MinuteInterval) (advancer, error) {
	if mi.N <= 0 {
		return nil, ErrInvalidN
	}
	n := int64(mi.N)
	onSecond := 0
	if mi.OnSecond != nil {
		onSecond = *mi.OnSecond
	}
	return func(_ time.Time, from time.Time) (time.Time, error) {
		minutes := from.Unix() / 60
		nextMinute := (minutes/n + 1) * n
		return time.Unix(nextMinute*60+int64(onSecond), 0).UTC(), nil
	}, nil
}

func hourIntervalAdvancer(hi HourInterval) (advancer, error) {
	if hi.N <= 0 {
		return nil, ErrInvalidN
	}
	n := int64(hi.N)
	onMinute, onSecond := 0, 0
	if hi.OnMinute != nil {
		onMinute = *hi.OnMinute
	}
	if hi.OnSecond != nil {
		onSecond = *hi.OnSecond
	}
	offset := int64(onMinute*60 + onSecond)
	return func(_ time.Time, from time.Time) (time.Time, error) {
		hours := from.Unix() / 3600
		nextHour := (hours/n + 1) * n
		return time.Unix(nextHour*3600+offset, 0).UTC(), nil
	}, nil
}

// dayCandidateCap bounds the search loop below so a pathological rule (e.g.
// OnDaysOfWeek excluding every day) fails loudly instead of spinning forever.
const dayCandidateCap = 4000 // ~11 years of days

func dayIntervalAdvancer(di DayInterval) (advancer, error) {
	if di.N <= 0 {
		return nil, ErrInvalidN
	}
	times := sortedTimes(di.OnTimes)
	n := di.N
	return func(scheduledTime, from time.Time) (time.Time, error) {
		baseline := midnightUTC(scheduledTime)
		startIdx := int(midnightUTC(from).Sub(baseline).Hours() / 24)
		if startIdx < 0 {
			startIdx = 0
		}
		for d := startIdx; d < startIdx+dayCandidateCap; d++ {
			if d%n != 0 {
				continue
			}
			day := baseline.AddDate(0, 0, d)
			if !containsWeekday(di.OnDaysOfWeek, day.Weekday()) {
				continue
			}
			for _, t := range times {
				candidate := atTime(day, t)
				if candidate.After(from) {
					return candidate, nil
				}
			}
		}
		return time.Time{}, fmt.Errorf("rrule: no day-interval candidate found within %d days of %s", dayCandidateCap, from)
	}, nil
}

const weekCandidateCap = 600 // ~11 years of weeks

func weekIntervalAdvancer(wi WeekInterval) (advancer, error) {
	if wi.N <= 0 {
		return nil, ErrInvalidN
	}
	times := sortedTimes(wi.OnTimes)
	days := wi.OnDays
	if len(days) == 0 {
		days = []time.Weekday{time.Sunday}
	}
	n := wi.N
	return func(scheduledTime, from time.Time) (time.Time, error) {
		baseline := weekStartUTC(scheduledTime)
		startIdx := int(weekStartUTC(from).Sub(baseline).Hours() / (24 * 7))
		if startIdx < 0 {
			startIdx = 0
		}
		for w := startIdx; w < startIdx+weekCandidateCap; w++ {
			if w%n != 0 {
				continue
			}
			weekStart := baseline.AddDate(0, 0, 7*w)
			for _, wd := range days {
				day := weekStart.AddDate(0, 0, int(wd))
				for _, t := range times {
					candidate := atTime(day, t)
					if candidate.After(from) {
						return candidate, nil
					}
				}
			}
		}
		return time.Time{}, fmt.Errorf("rrule: no week-interval candidate found within %d weeks of %s", weekCandidateCap, from)
	}, nil
}

const monthCandidateCap = 600 // 50 years of months

func monthIntervalAdvancer(mi MonthInterval) (advancer, error) {
	if mi.N <= 0 {
		return nil, ErrInvalidN
	}
	if mi.OnDay == nil && mi.OnFirstDayOfWeek == nil {
		return nil, errors.New("rrule: MonthInterval requires OnDay or OnFirstDayOfWeek")
	}
	times := sortedTimes(mi.OnTimes)
	n := mi.N
	return func(scheduledTime, from time.Time) (time.Time, error) {
		baseline := monthStartUTC(scheduledTime)
		baseIdx := baseline.Year()*12 + int(baseline.Month()-1)
		fromMonth := monthStartUTC(from)
		fromIdx := fromMonth.Year()*12 + int(fromMonth.Month()-1)
		startIdx := fromIdx - baseIdx
		if startIdx < 0 {
			startIdx = 0
		}
		for m := startIdx; m < startIdx+monthCandidateCap; m++ {
			if m%n != 0 {
				continue
			}
			monthIdx := baseIdx + m
			year := monthIdx / 12
			month := time.Month(monthIdx%12 + 1)
			if !containsMonth(mi.OnMonths, month) {
				continue
			}
			var day time.Time
			switch {
			case mi.OnDay != nil:
				d := *mi.OnDay
				if last := lastDayOfMonth(year, month); d > last {
					d = last
				}
				day = time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
			case mi.OnFirstDayOfWeek != nil:
				day = firstWeekdayOfMonth(year, month, *mi.OnFirstDayOfWeek)
			}
			for _, t := range times {
				candidate := atTime(day, t)
				if candidate.After(from) {
					return candidate, nil
				}
			}
		}
		return time.Time{}, fmt.Errorf("rrule: no month-interval candidate found within %d months of %s", monthCandidateCap, from)
	}, nil
}
