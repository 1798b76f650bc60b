package config

import (
	"fmt"
	"strings"
	"time"

	"periodically/internal/record"
	"periodically/pkg/logx"
)

type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Tasks     []TaskConfig    `json:"tasks,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"`
	File    LogFileConfig `json:"file,omitempty"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// SchedulerConfig controls pass cadence and execution defaults.
//
// All durations are Go duration strings (e.g. "30s", "10m", "1h").
type SchedulerConfig struct {
	// Interval between passes in daemon mode. Defaults to "1m".
	Interval string `json:"interval,omitempty"`

	// SweepInterval between standalone timeout sweeps in daemon mode.
	// Defaults to Interval.
	SweepInterval string `json:"sweep_interval,omitempty"`

	// DefaultTimeout applies to tasks without their own timeout.
	// Defaults to "1h".
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// TaskConfig declares a command task in config so the daemon is usable
// without writing Go code.
type TaskConfig struct {
	ID        string   `json:"id"`
	Schedules []string `json:"schedules"`
	Command   string   `json:"command"`
	Args      []string `json:"args,omitempty"`

	// Blocking defaults to true when omitted. A non-blocking command is
	// started and left to report its own completion.
	Blocking *bool  `json:"blocking,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

func (c *TaskConfig) IsBlocking() bool {
	return c.Blocking == nil || *c.Blocking
}

func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if strings.TrimSpace(t.ID) == "" {
			return fmt.Errorf("tasks[%d]: id is required", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("tasks[%d]: duplicate task id %q", i, t.ID)
		}
		seen[t.ID] = true
		if len(t.Schedules) == 0 {
			return fmt.Errorf("task %s: at least one schedule is required", t.ID)
		}
		if strings.TrimSpace(t.Command) == "" {
			return fmt.Errorf("task %s: command is required", t.ID)
		}
		if _, err := ParseDurationField("task "+t.ID+".timeout", t.Timeout); err != nil {
			return err
		}
	}
	if _, err := c.PassInterval(); err != nil {
		return err
	}
	if _, err := c.DefaultTimeout(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PassInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.interval", c.Scheduler.Interval, time.Minute)
}

func (c *Config) SweepInterval() (time.Duration, error) {
	def, err := c.PassInterval()
	if err != nil {
		return 0, err
	}
	return ParseDurationOrDefault("scheduler.sweep_interval", c.Scheduler.SweepInterval, def)
}

func (c *Config) DefaultTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.default_timeout", c.Scheduler.DefaultTimeout, time.Hour)
}

func (c *Config) LogConfig() logx.Config {
	console := true
	if c.Logging.Console != nil {
		console = *c.Logging.Console
	}
	return logx.Config{
		Level:   c.Logging.Level,
		Console: console,
		File: logx.FileConfig{
			Enabled: c.Logging.File.Enabled,
			Path:    c.Logging.File.Path,
		},
	}
}

func (c *Config) RecordConfig() (record.Config, error) {
	if c.Storage == nil {
		return record.Config{}, nil
	}
	busy, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	if err != nil {
		return record.Config{}, err
	}
	return record.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}
