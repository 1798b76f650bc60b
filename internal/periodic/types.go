package periodic

import (
	"context"
	"time"
)

// DefaultTimeout bounds an execution when the task carries no override and
// the scheduler config leaves it unset.
const DefaultTimeout = time.Hour

// Task is a unit of recurring work. IDs must be unique within a registry
// and stable across process restarts (execution history is keyed by them).
//
// The core holds a non-owning reference; the registering caller owns the
// task.
type Task interface {
	ID() string
	Run(ctx context.Context) error
}

// BlockingReporter lets a task declare whether Run finishes its work before
// returning. Tasks that do not implement it are blocking.
//
// A non-blocking task's Run starts out-of-band work and returns; the
// execution stays open until a completion is published for the task's id or
// the timeout monitor force-closes it.
type BlockingReporter interface {
	Blocking() bool
}

// TimeoutReporter lets a task override the configured default timeout.
// A zero duration means "use the default".
type TimeoutReporter interface {
	Timeout() time.Duration
}

// Schedule decides when a task is next due.
//
// ID must be a stable identity: it keys execution records and dedupes
// schedules within a task's schedule set.
//
// NextRun returns the next due time given prev, the start of the most
// recent execution for this (task, schedule) pair. A zero prev means the
// pair has never run. The run engine executes when NextRun(now, prev) is at
// or before now.
type Schedule interface {
	ID() string
	NextRun(now, prev time.Time) time.Time
}

// Config controls the scheduler.
type Config struct {
	// DefaultTimeout applies to tasks without a TimeoutReporter override.
	// Zero means DefaultTimeout (the package constant).
	DefaultTimeout time.Duration
}

func (c Config) effectiveTimeout(task Task) time.Duration {
	if tr, ok := task.(TimeoutReporter); ok {
		if d := tr.Timeout(); d > 0 {
			return d
		}
	}
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return DefaultTimeout
}

func isBlocking(task Task) bool {
	if br, ok := task.(BlockingReporter); ok {
		return br.Blocking()
	}
	return true
}
