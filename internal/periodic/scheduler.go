package periodic

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"periodically/internal/completion"
	"periodically/internal/record"
	"periodically/pkg/logx"
)

// Scheduler is the run engine. It owns the registry, the completion
// notifier, and the per-task locks that serialize close-execution.
//
// RunScheduledTasks is driven by an external caller on some cadence and
// processes due (task, schedule) pairs sequentially in that caller's
// goroutine. Completion publishes and timeout sweeps may race it from other
// goroutines; the per-task lock keeps exactly one winner per open record.
type Scheduler struct {
	mu  sync.Mutex // guards cfg
	cfg Config

	log      logx.Logger
	store    record.Store
	registry *Registry
	notify   *completion.Notifier
	clock    clockwork.Clock

	lmu   sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, store record.Store, log logx.Logger) *Scheduler {
	return newScheduler(cfg, store, log, clockwork.NewRealClock())
}

func newScheduler(cfg Config, store record.Store, log logx.Logger, clock clockwork.Clock) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: NewRegistry(),
		notify:   completion.NewNotifier(),
		clock:    clock,
		locks:    map[string]*sync.Mutex{},
	}
}

// Apply swaps the scheduler config at runtime. Safe to call concurrently
// with passes.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Registry exposes the scheduler's registry.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Completions exposes the notifier external work reports completions to.
func (s *Scheduler) Completions() *completion.Notifier { return s.notify }

// ScheduleTask adds the schedules to the task's schedule set, registering
// the task if absent.
//
// For a non-blocking task this also subscribes the completion receiver now,
// not at run time, so completions reported after a process restart can still
// close executions started in a prior lifetime. Subscribing is idempotent
// per task id.
func (s *Scheduler) ScheduleTask(task Task, schedules ...Schedule) {
	for _, sched := range schedules {
		s.log.Info("scheduling task",
			logx.String("task", task.ID()), logx.String("schedule", sched.ID()))
		s.registry.Add(task, sched)
	}
	if !isBlocking(task) {
		s.notify.Subscribe(task.ID(), s.receiver(task))
	}
}

// ScheduledTasks returns the registered tasks.
func (s *Scheduler) ScheduledTasks() []Task { return s.registry.Tasks() }

// RunScheduledTasks performs one pass: for each selected task it checks for
// timed-out executions, then runs the task once per due schedule. With no
// arguments it covers every registered task.
//
// Multiple schedules due on one task in the same pass intentionally run the
// task once each.
func (s *Scheduler) RunScheduledTasks(ctx context.Context, tasks ...Task) error {
	infos, err := s.registry.InfoList(tasks...)
	if err != nil {
		return err
	}
	for _, info := range infos {
		task := info.Task

		// End any execution that exceeded its timeout before judging
		// due-ness.
		if err := s.checkTimeout(ctx, task); err != nil {
			s.log.Error("timeout check failed", logx.String("task", task.ID()), logx.Err(err))
		}

		for _, sched := range info.Schedules {
			due, err := s.isDue(ctx, task, sched)
			if err != nil {
				s.log.Error("due check failed",
					logx.String("task", task.ID()), logx.String("schedule", sched.ID()), logx.Err(err))
				continue
			}
			if !due {
				continue
			}
			s.log.Info("running task", logx.String("task", task.ID()), logx.String("schedule", sched.ID()))
			if err := s.runTask(ctx, task, sched, false); err != nil {
				s.log.Error("run bookkeeping failed", logx.String("task", task.ID()), logx.Err(err))
			}
		}
	}
	return nil
}

// RunTasks runs the selected tasks now, once per attached schedule,
// regardless of due time. With fake set it records a successful execution
// without invoking Run.
func (s *Scheduler) RunTasks(ctx context.Context, fake bool, tasks ...Task) error {
	infos, err := s.registry.InfoList(tasks...)
	if err != nil {
		return err
	}
	for _, info := range infos {
		for _, sched := range info.Schedules {
			if err := s.runTask(ctx, info.Task, sched, fake); err != nil {
				s.log.Error("run bookkeeping failed", logx.String("task", info.Task.ID()), logx.Err(err))
			}
		}
	}
	return nil
}

func (s *Scheduler) isDue(ctx context.Context, task Task, sched Schedule) (bool, error) {
	prev, err := s.store.LastStart(ctx, task.ID(), sched.ID())
	if err != nil {
		return false, err
	}
	now := s.clock.Now()
	return !sched.NextRun(now, prev).After(now), nil
}

// runTask creates the execution record, invokes the task, and closes the
// record unless the task is non-blocking and returned cleanly. Failures
// raised by Run (including panics) are captured here, never propagated; the
// returned error covers record-store bookkeeping only.
func (s *Scheduler) runTask(ctx context.Context, task Task, sched Schedule, fake bool) error {
	rec := &record.Execution{
		ID:         uuid.NewString(),
		TaskID:     task.ID(),
		ScheduleID: sched.ID(),
		StartTime:  s.clock.Now(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("create execution record: %w", err)
	}

	if fake {
		return s.CompleteTask(ctx, task, nil)
	}

	blocking := isBlocking(task)
	if !blocking {
		// Re-arm the one-shot completion receiver for this run. See the
		// subscription note on ScheduleTask.
		s.notify.Subscribe(task.ID(), s.receiver(task))
	}

	var extra *completion.Extra
	if err := runSafely(ctx, task); err != nil {
		extra = &completion.Extra{Level: logx.LevelError, Message: err.Error()}
	}

	if extra != nil || blocking {
		return s.CompleteTask(ctx, task, extra)
	}
	// Non-blocking and no failure: the record stays open until a completion
	// is published or the timeout monitor closes it.
	return nil
}

func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return task.Run(ctx)
}

// receiver builds the completion handler registered for a non-blocking
// task. It is one-shot: the subscription is removed before the close logic
// runs, under the same per-task lock, so a racing timeout sweep cannot
// interleave. Each new run re-subscribes.
func (s *Scheduler) receiver(task Task) completion.Handler {
	return func(ctx context.Context, taskID string, extra *completion.Extra) {
		l := s.taskLock(taskID)
		l.Lock()
		defer l.Unlock()
		s.notify.Unsubscribe(taskID)
		if err := s.closeExecutionLocked(ctx, task, extra); err != nil {
			s.log.Error("completion handling failed", logx.String("task", taskID), logx.Err(err))
		}
	}
}

// CompleteTask closes the most recently started open execution for the
// task. Success means no extra was supplied or its severity is below error
// level. Racing completions for the same record resolve silently: the first
// writer wins, later calls are no-ops.
func (s *Scheduler) CompleteTask(ctx context.Context, task Task, extra *completion.Extra) error {
	l := s.taskLock(task.ID())
	l.Lock()
	defer l.Unlock()
	return s.closeExecutionLocked(ctx, task, extra)
}

func (s *Scheduler) closeExecutionLocked(ctx context.Context, task Task, extra *completion.Extra) error {
	if extra != nil {
		s.log.Log(extra.Level, extra.Message, logx.String("task", task.ID()))
	}

	open, err := s.store.FindOpen(ctx, task.ID())
	if err != nil {
		return fmt.Errorf("find open executions: %w", err)
	}
	if len(open) == 0 {
		// Already closed by whichever path got here first.
		return nil
	}

	rec := open[len(open)-1]
	var message string
	if extra != nil {
		message = extra.Message
	}
	closed, err := s.store.Finish(ctx, rec.ID, s.clock.Now(), !extra.Failure(), message)
	if err != nil {
		return fmt.Errorf("close execution %s: %w", rec.ID, err)
	}
	if closed {
		s.log.Debug("execution closed",
			logx.String("task", task.ID()), logx.String("execution", rec.ID),
			logx.Bool("success", !extra.Failure()))
	}
	return nil
}

func (s *Scheduler) taskLock(taskID string) *sync.Mutex {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	return l
}
