package rrule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts both classic 5-field POSIX expressions and 6-field
// expressions with a leading seconds field (spec §6.3), plus the
// "@every"/"@daily" descriptors robfig/cron already supports.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func cronAdvancer(c Cron) (advancer, error) {
	schedule, err := cronParser.Parse(c.Expression)
	if err != nil {
		return nil, fmt.Errorf("rrule: invalid cron expression %q: %w", c.Expression, err)
	}
	return func(_ time.Time, from time.Time) (time.Time, error) {
		return schedule.Next(from).UTC(), nil
	}, nil
}
