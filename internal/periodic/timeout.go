package periodic

import (
	"context"
	"fmt"

	"periodically/internal/completion"
	"periodically/pkg/logx"
)

// CheckTimeout force-completes any open execution of the task whose elapsed
// running time exceeds the task's timeout (or the configured default). The
// underlying work is not interrupted; only the bookkeeping changes.
func (s *Scheduler) CheckTimeout(ctx context.Context, task Task) error {
	return s.checkTimeout(ctx, task)
}

func (s *Scheduler) checkTimeout(ctx context.Context, task Task) error {
	open, err := s.store.FindOpen(ctx, task.ID())
	if err != nil {
		return fmt.Errorf("find open executions: %w", err)
	}
	timeout := s.config().effectiveTimeout(task)
	for _, rec := range open {
		running := s.clock.Now().Sub(rec.StartTime)
		if running <= timeout {
			continue
		}
		extra := &completion.Extra{
			Level:   logx.LevelError,
			Message: fmt.Sprintf("task timed out after %s", running),
		}
		if err := s.CompleteTask(ctx, task, extra); err != nil {
			return err
		}
	}
	return nil
}

// CheckTimeouts sweeps every registered task. The run engine already checks
// per task each pass; this is for independent sweeps on their own cadence.
func (s *Scheduler) CheckTimeouts(ctx context.Context) error {
	infos, err := s.registry.InfoList()
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := s.checkTimeout(ctx, info.Task); err != nil {
			s.log.Error("timeout check failed", logx.String("task", info.Task.ID()), logx.Err(err))
		}
	}
	return nil
}
