package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/time/rate"

	"periodically/internal/config"
	"periodically/internal/periodic"
	"periodically/internal/record"
	"periodically/internal/schedule"
	"periodically/pkg/logx"
)

// runtasks drives the scheduling core: by default it loops, running a pass
// every scheduler.interval and a standalone timeout sweep every
// scheduler.sweep_interval. One-shot modes mirror the usual operator
// actions: a single pass, a forced run, a faked run, or a sweep.
func main() {
	var (
		cfgPath string
		once    bool
		force   bool
		fake    bool
		sweep   bool
	)
	flag.StringVar(&cfgPath, "config", "./periodically.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&once, "once", false, "run a single pass and exit")
	flag.BoolVar(&force, "force", false, "run tasks now regardless of schedule, then exit")
	flag.BoolVar(&fake, "fake", false, "with -force: record executions without running tasks")
	flag.BoolVar(&sweep, "sweep", false, "run a single timeout sweep and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, once, force, fake, sweep, flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, once, force, fake, sweep bool, taskIDs []string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(cfg.LogConfig())
	defer logSvc.Close()
	mgr.SetLogger(log)

	recCfg, err := cfg.RecordConfig()
	if err != nil {
		return err
	}
	store, err := record.Open(recCfg, log)
	if err != nil {
		return fmt.Errorf("open record store: %w", err)
	}
	defer store.Close()

	defTimeout, err := cfg.DefaultTimeout()
	if err != nil {
		return err
	}
	sched := periodic.New(periodic.Config{DefaultTimeout: defTimeout}, store, log)

	if err := registerTasks(sched, cfg, log); err != nil {
		return err
	}

	selected, err := selectTasks(taskIDs)
	if err != nil {
		return err
	}

	switch {
	case force:
		return sched.RunTasks(ctx, fake, selected...)
	case sweep:
		return sched.CheckTimeouts(ctx)
	case once:
		return sched.RunScheduledTasks(ctx, selected...)
	}
	return loop(ctx, mgr, cfg, logSvc, sched, log, selected)
}

// registerTasks builds exec tasks from config and schedules them.
func registerTasks(sched *periodic.Scheduler, cfg *config.Config, log logx.Logger) error {
	for _, tc := range cfg.Tasks {
		timeout, err := config.ParseDurationField("task "+tc.ID+".timeout", tc.Timeout)
		if err != nil {
			return err
		}
		task := newExecTask(tc, timeout, log, sched.Completions())

		schedules := make([]periodic.Schedule, 0, len(tc.Schedules))
		for _, raw := range tc.Schedules {
			s, err := schedule.Parse(raw)
			if err != nil {
				return fmt.Errorf("task %s: %w", tc.ID, err)
			}
			schedules = append(schedules, s)
		}
		sched.ScheduleTask(task, schedules...)
	}
	return nil
}

// taskRef selects a registered task by id; the registry resolves it to the
// real task, so Run is never called on it.
type taskRef string

func (r taskRef) ID() string                    { return string(r) }
func (r taskRef) Run(ctx context.Context) error { panic("taskRef is lookup-only") }

func selectTasks(ids []string) ([]periodic.Task, error) {
	out := make([]periodic.Task, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("empty task id")
		}
		out = append(out, taskRef(id))
	}
	return out, nil
}

func loop(ctx context.Context, mgr *config.Manager, cfg *config.Config, logSvc *logx.Service, sched *periodic.Scheduler, log logx.Logger, selected []periodic.Task) error {
	interval, err := cfg.PassInterval()
	if err != nil {
		return err
	}
	sweepEvery, err := cfg.SweepInterval()
	if err != nil {
		return err
	}

	// Guard against misconfigured sub-second intervals hammering the store.
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)

	updates := mgr.Subscribe(1)
	defer mgr.Unsubscribe(updates)
	go func() {
		if err := mgr.Watch(ctx); err != nil {
			log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	// systemd integration is best-effort; outside a unit these are no-ops.
	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	watchdog := watchdogTicker(log)

	passT := time.NewTicker(interval)
	defer passT.Stop()
	sweepT := time.NewTicker(sweepEvery)
	defer sweepT.Stop()

	log.Info("scheduler running",
		logx.Duration("interval", interval), logx.Duration("sweep_interval", sweepEvery),
		logx.Int("tasks", len(sched.ScheduledTasks())))

	for {
		select {
		case <-ctx.Done():
			_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
			return nil

		case <-passT.C:
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := sched.RunScheduledTasks(ctx, selected...); err != nil {
				log.Error("pass failed", logx.Err(err))
			}

		case <-sweepT.C:
			if err := sched.CheckTimeouts(ctx); err != nil {
				log.Error("timeout sweep failed", logx.Err(err))
			}

		case <-watchdog:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)

		case next := <-updates:
			if next == nil {
				continue
			}
			logSvc.Apply(next.LogConfig())
			if dt, err := next.DefaultTimeout(); err == nil {
				sched.Apply(periodic.Config{DefaultTimeout: dt})
			}
			if ni, err := next.PassInterval(); err == nil && ni != interval {
				interval = ni
				passT.Reset(interval)
			}
			if ns, err := next.SweepInterval(); err == nil && ns != sweepEvery {
				sweepEvery = ns
				sweepT.Reset(sweepEvery)
			}
			// Task list changes need a restart; the registry has no removal.
			log.Info("config applied", logx.Duration("interval", interval))
		}
	}
}

// watchdogTicker returns a channel firing at half the systemd watchdog
// interval, or a never-firing channel when no watchdog is armed.
func watchdogTicker(log logx.Logger) <-chan time.Time {
	usec, err := sd.SdWatchdogEnabled(false)
	if err != nil || usec == 0 {
		return nil
	}
	log.Debug("systemd watchdog armed", logx.Duration("interval", usec))
	return time.NewTicker(usec / 2).C
}
