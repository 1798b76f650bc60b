package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedules implement periodic.Schedule: a stable string identity and a
// NextRun(now, prev) policy. A zero prev means the (task, schedule) pair
// has never run; every implementation here treats that as due immediately.

// parser allows both 5-field and 6-field (with seconds) cron specs plus
// descriptors like @hourly.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Cron fires per a cron expression. The next due time is the first cron
// fire after the previous run started.
type Cron struct {
	spec  string
	sched cron.Schedule
}

func NewCron(spec string) (*Cron, error) {
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return &Cron{spec: spec, sched: sched}, nil
}

// MustCron is for compile-time-constant specs.
func MustCron(spec string) *Cron {
	c, err := NewCron(spec)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Cron) ID() string { return "cron:" + c.spec }

func (c *Cron) NextRun(now, prev time.Time) time.Time {
	if prev.IsZero() {
		return now
	}
	return c.sched.Next(prev)
}

// Interval fires a fixed duration after the previous run started.
type Interval struct {
	every time.Duration
}

func Every(d time.Duration) Interval { return Interval{every: d} }

func Hourly() Interval { return Every(time.Hour) }

func (i Interval) ID() string { return "every:" + i.every.String() }

func (i Interval) NextRun(now, prev time.Time) time.Time {
	if prev.IsZero() {
		return now
	}
	return prev.Add(i.every)
}

// Daily fires once a day at HH:MM, expressed as a cron schedule.
func Daily(hour, minute int) (*Cron, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid daily time %02d:%02d", hour, minute)
	}
	return NewCron(fmt.Sprintf("%d %d * * *", minute, hour))
}
