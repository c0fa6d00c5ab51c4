package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"taskcore/internal/domain"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Kind names the recurrence shape of a time period.
type Kind int

const (
	EveryMinute Kind = iota
	Hourly
	Daily
	Weekly
	Monthly
)

func (k Kind) String() string {
	switch k {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return "every-minute"
	}
}

func KindOf(tp domain.TimePeriod) Kind {
	switch {
	case tp.Date != nil:
		return Monthly
	case tp.WeekDay != nil:
		return Weekly
	case tp.Hour != nil && tp.Minute != nil:
		return Daily
	case tp.Minute != nil:
		return Hourly
	default:
		return EveryMinute
	}
}

// CronSpec renders the rule as a five field cron expression. Missing hour or
// minute on date and week day rules count as zero.
func CronSpec(tp domain.TimePeriod) string {
	hour, minute := orZero(tp.Hour), orZero(tp.Minute)
	switch KindOf(tp) {
	case Monthly:
		return fmt.Sprintf("%d %d %d * *", minute, hour, *tp.Date)
	case Weekly:
		// cron counts Sunday as 0, ISO as 7
		return fmt.Sprintf("%d %d * * %d", minute, hour, *tp.WeekDay%7)
	case Daily:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	case Hourly:
		return fmt.Sprintf("%d * * * *", minute)
	default:
		return "* * * * *"
	}
}

// Next returns the soonest instant after now that satisfies tp, in now's location.
func Next(tp domain.TimePeriod, now time.Time) (time.Time, error) {
	if KindOf(tp) == EveryMinute {
		return now.Add(time.Minute), nil
	}
	sched, err := parser.Parse(CronSpec(tp))
	if err != nil {
		return time.Time{}, fmt.Errorf("time period %s: %w", CronSpec(tp), err)
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("time period %s never fires", CronSpec(tp))
	}
	return next, nil
}

// NextStartTime is the earliest Next across all periods. It returns nil when
// periods is empty.
func NextStartTime(periods []domain.TimePeriod, now time.Time) (*time.Time, error) {
	var best *time.Time
	for _, tp := range periods {
		next, err := Next(tp, now)
		if err != nil {
			return nil, err
		}
		if best == nil || next.Before(*best) {
			n := next
			best = &n
		}
	}
	return best, nil
}

func orZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
