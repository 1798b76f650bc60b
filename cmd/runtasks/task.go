package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"periodically/internal/completion"
	"periodically/internal/config"
	"periodically/pkg/logx"
)

// execTask runs a config-declared command. A blocking exec task waits for
// the command inside Run; a non-blocking one starts it, returns, and reports
// the exit status through the completion notifier.
type execTask struct {
	id       string
	command  string
	args     []string
	blocking bool
	timeout  time.Duration

	log    logx.Logger
	notify *completion.Notifier
}

func newExecTask(tc config.TaskConfig, timeout time.Duration, log logx.Logger, notify *completion.Notifier) *execTask {
	return &execTask{
		id:       tc.ID,
		command:  tc.Command,
		args:     tc.Args,
		blocking: tc.IsBlocking(),
		timeout:  timeout,
		log:      log.With(logx.String("task", tc.ID)),
		notify:   notify,
	}
}

func (t *execTask) ID() string             { return t.id }
func (t *execTask) Blocking() bool         { return t.blocking }
func (t *execTask) Timeout() time.Duration { return t.timeout }

func (t *execTask) Run(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, t.command, t.args...)

	if t.blocking {
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w (output: %s)", t.command, err, truncate(string(out), 512))
		}
		t.log.Debug("command finished", logx.String("command", t.command))
		return nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.command, err)
	}
	t.log.Debug("command started", logx.String("command", t.command), logx.Int("pid", cmd.Process.Pid))

	go func() {
		var extra *completion.Extra
		if err := cmd.Wait(); err != nil {
			extra = &completion.Extra{
				Level:   logx.LevelError,
				Message: fmt.Sprintf("%s: %v", t.command, err),
			}
		}
		if !t.notify.Publish(context.Background(), t.id, extra) {
			t.log.Warn("completion dropped (no subscription)")
		}
	}()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
