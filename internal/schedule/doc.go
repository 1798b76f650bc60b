package schedule

// Package schedule provides the stock periodic.Schedule implementations
// (cron expressions, fixed intervals, daily wall-clock times) and parsing
// of schedule strings from config.
