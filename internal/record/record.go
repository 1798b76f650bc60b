package record

import (
	"context"
	"errors"
	"strings"
	"time"

	"periodically/pkg/logx"
)

var (
	ErrDisabled = errors.New("record store disabled")
	ErrNotFound = errors.New("execution record not found")
)

// Execution is one row of the execution history: a log entry spanning a
// single invocation of a task. It is created open (EndTime nil) and closed
// exactly once with an outcome.
type Execution struct {
	ID         string
	TaskID     string
	ScheduleID string
	StartTime  time.Time
	EndTime    *time.Time // nil while the execution is in flight
	Success    *bool      // nil until closed
	Message    string     // failure or timeout detail, empty on clean success
}

// Open reports whether the execution is still in flight.
func (e *Execution) Open() bool { return e != nil && e.EndTime == nil }

// Store is the persistence API for execution history.
//
// Closed records never mutate again: the only write after Create is Finish,
// which is first-writer-wins.
type Store interface {
	// Create persists a new open execution.
	Create(ctx context.Context, e *Execution) error

	// FindOpen returns the open executions for a task, ordered by start
	// time ascending.
	FindOpen(ctx context.Context, taskID string) ([]*Execution, error)

	// LastStart returns the start time of the most recent execution for the
	// (task, schedule) pair, or the zero time when the pair has never run.
	LastStart(ctx context.Context, taskID, scheduleID string) (time.Time, error)

	// Finish closes an open execution. It reports false when the record was
	// already closed (or does not exist); in that case nothing is changed.
	Finish(ctx context.Context, id string, end time.Time, success bool, message string) (bool, error)

	Close() error
}

// Config configures the record store.
//
// Driver values:
//   - "memory": in-process store, history lost on restart
//   - "sqlite": SQLite database file
//
// An empty Driver defaults to "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemory(), nil
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown record store driver: " + cfg.Driver)
	}
}
