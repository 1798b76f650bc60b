package periodic

import (
	"sort"
	"sync"
)

// TaskInfo is a snapshot of one registry entry: a task and its schedule
// set. Schedules are ordered by schedule id for deterministic iteration;
// ordering is not part of the contract.
type TaskInfo struct {
	Task      Task
	Schedules []Schedule
}

type entry struct {
	task      Task
	schedules map[string]Schedule
}

func (e *entry) snapshot() *TaskInfo {
	info := &TaskInfo{Task: e.task, Schedules: make([]Schedule, 0, len(e.schedules))}
	for _, s := range e.schedules {
		info.Schedules = append(info.Schedules, s)
	}
	sort.Slice(info.Schedules, func(a, b int) bool {
		return info.Schedules[a].ID() < info.Schedules[b].ID()
	})
	return info
}

// Registry maps task ids to their task and schedule set. It is an explicit
// object owned by the scheduler instance, so tests can build isolated ones.
// Mutation is safe to call concurrently with reads from the run engine.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]*entry{}}
}

// Add merges sched into the schedule set for task. Registering the same
// task id twice merges schedule sets rather than replacing the entry; the
// task reference itself is refreshed. Re-adding an existing schedule id is
// a no-op.
func (r *Registry) Add(task Task, sched Schedule) {
	r.mu.Lock()
	e, ok := r.tasks[task.ID()]
	if !ok {
		e = &entry{schedules: map[string]Schedule{}}
		r.tasks[task.ID()] = e
	}
	e.task = task
	e.schedules[sched.ID()] = sched
	r.mu.Unlock()
}

// Tasks returns a snapshot of the registered tasks.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	out := make([]Task, 0, len(r.tasks))
	for _, e := range r.tasks {
		out = append(out, e.task)
	}
	r.mu.RUnlock()
	return out
}

// InfoList returns entries for the given tasks, or all entries when none
// are given. An unregistered task id fails the whole lookup with
// ErrNotRegistered before anything is returned; no state is mutated.
func (r *Registry) InfoList(tasks ...Task) ([]*TaskInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(tasks) == 0 {
		out := make([]*TaskInfo, 0, len(r.tasks))
		for _, e := range r.tasks {
			out = append(out, e.snapshot())
		}
		return out, nil
	}

	out := make([]*TaskInfo, 0, len(tasks))
	for _, t := range tasks {
		e, ok := r.tasks[t.ID()]
		if !ok {
			return nil, notRegistered(t.ID())
		}
		out = append(out, e.snapshot())
	}
	return out, nil
}
