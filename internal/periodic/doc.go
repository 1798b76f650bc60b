package periodic

// Package periodic is the scheduling core: a registry of tasks with
// schedules, a run engine that executes due (task, schedule) pairs, a
// timeout monitor for overrunning executions, and the close-execution logic
// shared by the synchronous and asynchronous completion paths.
//
// An external driver invokes RunScheduledTasks on a cadence; the core never
// runs its own timer.
