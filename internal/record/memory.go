package record

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is the in-process store. It is the default driver and the one the
// core's tests run against.
type Memory struct {
	mu   sync.Mutex
	rows map[string]*Execution
}

func NewMemory() *Memory {
	return &Memory{rows: map[string]*Execution{}}
}

func (m *Memory) Create(ctx context.Context, e *Execution) error {
	if e == nil || e.ID == "" {
		return ErrNotFound
	}
	cp := *e
	m.mu.Lock()
	m.rows[e.ID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *Memory) FindOpen(ctx context.Context, taskID string) ([]*Execution, error) {
	m.mu.Lock()
	out := make([]*Execution, 0, 4)
	for _, e := range m.rows {
		if e.TaskID == taskID && e.Open() {
			cp := *e
			out = append(out, &cp)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *Memory) LastStart(ctx context.Context, taskID, scheduleID string) (time.Time, error) {
	var last time.Time
	m.mu.Lock()
	for _, e := range m.rows {
		if e.TaskID == taskID && e.ScheduleID == scheduleID && e.StartTime.After(last) {
			last = e.StartTime
		}
	}
	m.mu.Unlock()
	return last, nil
}

func (m *Memory) Finish(ctx context.Context, id string, end time.Time, success bool, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.rows[id]
	if !ok || !e.Open() {
		return false, nil
	}
	endCp := end
	e.EndTime = &endCp
	e.Success = &success
	e.Message = message
	return true, nil
}

func (m *Memory) Close() error { return nil }

// All returns every execution, ordered by start time ascending. Test helper.
func (m *Memory) All() []*Execution {
	m.mu.Lock()
	out := make([]*Execution, 0, len(m.rows))
	for _, e := range m.rows {
		cp := *e
		out = append(out, &cp)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
