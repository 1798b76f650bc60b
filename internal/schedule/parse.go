package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"periodically/internal/periodic"
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// Parse turns a schedule string into a Schedule.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "55 * * * *", "@hourly"
//   - Interval duration: "55m", "2h30m"
//   - Daily HH:MM: "02:30" (every day at 02:30)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "every:" or "interval:" forces interval parsing
//   - "daily:" forces daily HH:MM parsing
func Parse(raw string) (periodic.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	// Prefixes (explicit)
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return nil, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return NewCron(expr)
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "daily:"):
		return parseDaily(strings.TrimSpace(s[len("daily:"):]))
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return NewCron(s)
	}

	// - HH:MM => daily at that wall-clock time
	if reHHMM.MatchString(s) {
		return parseDaily(s)
	}

	// - Go duration => interval
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return Every(d), nil
	}

	return nil, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseInterval(v string) (periodic.Schedule, error) {
	if v == "" {
		return nil, fmt.Errorf("interval required")
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q (use a Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return Every(d), nil
}

func parseDaily(v string) (periodic.Schedule, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return nil, fmt.Errorf("invalid HH:MM %q", v)
	}
	var hh, mm int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm = int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return Daily(hh, mm)
}
