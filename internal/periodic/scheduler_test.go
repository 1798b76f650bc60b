package periodic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"periodically/internal/completion"
	"periodically/internal/record"
	"periodically/pkg/logx"
)

type fakeTask struct {
	id       string
	blocking bool
	timeout  time.Duration
	runs     int
	err      error
	panicMsg string
}

func (t *fakeTask) ID() string { return t.id }

func (t *fakeTask) Run(ctx context.Context) error {
	t.runs++
	if t.panicMsg != "" {
		panic(t.panicMsg)
	}
	return t.err
}

func (t *fakeTask) Blocking() bool         { return t.blocking }
func (t *fakeTask) Timeout() time.Duration { return t.timeout }

// fixedInterval mirrors the stock interval schedule without importing the
// schedule package (which would cycle back into this one).
type fixedInterval struct {
	id    string
	every time.Duration
}

func (s fixedInterval) ID() string { return s.id }

func (s fixedInterval) NextRun(now, prev time.Time) time.Time {
	if prev.IsZero() {
		return now
	}
	return prev.Add(s.every)
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *record.Memory, *clockwork.FakeClock) {
	t.Helper()
	store := record.NewMemory()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newScheduler(cfg, store, logx.Nop(), clock)
	return s, store, clock
}

func TestBlockingTaskRunsOncePerDueTime(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "report", blocking: true}
	daily := fixedInterval{id: "every:24h", every: 24 * time.Hour}
	s.ScheduleTask(task, daily)

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].Open() {
		t.Fatal("blocking task left an open record")
	}
	if recs[0].Success == nil || !*recs[0].Success {
		t.Fatal("expected successful close")
	}
	if recs[0].StartTime.After(clock.Now()) {
		t.Fatalf("start time %v is in the future", recs[0].StartTime)
	}

	// Before the next due time nothing new runs.
	clock.Advance(time.Hour)
	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if got := len(store.All()); got != 1 {
		t.Fatalf("records after early pass = %d, want 1", got)
	}

	// At the due time it runs again.
	clock.Advance(23 * time.Hour)
	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("third pass: %v", err)
	}
	if got := len(store.All()); got != 2 {
		t.Fatalf("records after due pass = %d, want 2", got)
	}
	if task.runs != 2 {
		t.Fatalf("task ran %d times, want 2", task.runs)
	}
}

func TestTwoDueSchedulesRunTaskTwice(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "multi", blocking: true}
	s.ScheduleTask(task,
		fixedInterval{id: "every:1h", every: time.Hour},
		fixedInterval{id: "every:24h", every: 24 * time.Hour},
	)

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (one per due schedule)", len(recs))
	}
	if recs[0].ScheduleID == recs[1].ScheduleID {
		t.Fatalf("both records carry schedule %s", recs[0].ScheduleID)
	}
	if task.runs != 2 {
		t.Fatalf("task ran %d times, want 2", task.runs)
	}
}

func TestNonBlockingTaskLeavesRecordOpen(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if !recs[0].Open() {
		t.Fatal("non-blocking task should leave its record open")
	}
}

func TestNonBlockingTaskFailureClosesImmediately(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false, err: errors.New("boom")}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 1 || recs[0].Open() {
		t.Fatal("failing run must close within the same call")
	}
	if recs[0].Success == nil || *recs[0].Success {
		t.Fatal("expected failed close")
	}
	if !strings.Contains(recs[0].Message, "boom") {
		t.Fatalf("message %q does not carry the failure", recs[0].Message)
	}
}

func TestPanickingRunIsCaptured(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "panicky", blocking: true, panicMsg: "kaput"}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 1 || recs[0].Open() {
		t.Fatal("panicking run must still close its record")
	}
	if recs[0].Success == nil || *recs[0].Success {
		t.Fatal("expected failed close")
	}
	if !strings.Contains(recs[0].Message, "kaput") {
		t.Fatalf("message %q does not carry the panic", recs[0].Message)
	}
}

func TestTimeoutSweepClosesOverrunningExecution(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "slow", blocking: false, timeout: 10 * time.Minute}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}

	// At exactly the timeout nothing closes.
	clock.Advance(10 * time.Minute)
	if err := s.CheckTimeout(ctx, task); err != nil {
		t.Fatalf("CheckTimeout: %v", err)
	}
	if recs := store.All(); !recs[0].Open() {
		t.Fatal("record closed at elapsed == timeout")
	}

	// Past the timeout it closes as a failure with a timeout message.
	clock.Advance(time.Minute)
	if err := s.CheckTimeout(ctx, task); err != nil {
		t.Fatalf("CheckTimeout: %v", err)
	}
	recs := store.All()
	if recs[0].Open() {
		t.Fatal("record still open past timeout")
	}
	if recs[0].Success == nil || *recs[0].Success {
		t.Fatal("timed-out execution must close as failure")
	}
	if !strings.Contains(recs[0].Message, "timed out") {
		t.Fatalf("message %q is not a timeout message", recs[0].Message)
	}
}

func TestCompletionBeatsTimeoutSweep(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false, timeout: 10 * time.Minute}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}

	clock.Advance(5 * time.Minute)
	if !s.Completions().Publish(ctx, "poller", nil) {
		t.Fatal("no completion subscription for running task")
	}
	recs := store.All()
	if recs[0].Open() || recs[0].Success == nil || !*recs[0].Success {
		t.Fatal("completion should close the record as success")
	}
	closedAt := *recs[0].EndTime

	// A later sweep is a no-op on the already-closed record.
	clock.Advance(6 * time.Minute)
	if err := s.CheckTimeouts(ctx); err != nil {
		t.Fatalf("CheckTimeouts: %v", err)
	}
	recs = store.All()
	if !recs[0].EndTime.Equal(closedAt) || !*recs[0].Success {
		t.Fatal("timeout sweep mutated a closed record")
	}
}

func TestCompletionSeverityBelowErrorIsSuccess(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})
	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("RunScheduledTasks: %v", err)
	}

	extra := &completion.Extra{Level: logx.LevelWarn, Message: "finished with warnings"}
	if err := s.CompleteTask(ctx, task, extra); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	recs := store.All()
	if recs[0].Success == nil || !*recs[0].Success {
		t.Fatal("warn-level extra must still count as success")
	}
	if recs[0].Message != "finished with warnings" {
		t.Fatalf("message = %q", recs[0].Message)
	}
}

func TestCompletionSubscriptionRearmsPerRun(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	// Subscribed at schedule time, before any run.
	if !s.Completions().Subscribed("poller") {
		t.Fatal("expected subscription at schedule time")
	}

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	s.Completions().Publish(ctx, "poller", nil)
	if s.Completions().Subscribed("poller") {
		t.Fatal("receiver should be one-shot")
	}

	clock.Advance(time.Hour)
	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !s.Completions().Subscribed("poller") {
		t.Fatal("run start should re-arm the subscription")
	}
	if !s.Completions().Publish(ctx, "poller", nil) {
		t.Fatal("second completion dropped")
	}

	recs := store.All()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for i, r := range recs {
		if r.Open() || r.Success == nil || !*r.Success {
			t.Fatalf("record %d not closed successfully", i)
		}
	}
}

func TestCompletionWithoutOpenRecordIsNoop(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "poller", blocking: false}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	// Completion arrives before any execution exists.
	if !s.Completions().Publish(ctx, "poller", nil) {
		t.Fatal("schedule-time subscription missing")
	}
	if got := len(store.All()); got != 0 {
		t.Fatalf("records = %d, want 0", got)
	}
}

func TestRunScheduledTasksUnregistered(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	registered := &fakeTask{id: "known", blocking: true}
	s.ScheduleTask(registered, fixedInterval{id: "every:1h", every: time.Hour})

	err := s.RunScheduledTasks(ctx, registered, &fakeTask{id: "ghost"})
	if !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("err = %v, want ErrNotRegistered", err)
	}
	// The failed lookup must not have run anything.
	if got := len(store.All()); got != 0 {
		t.Fatalf("records = %d, want 0", got)
	}
	if registered.runs != 0 {
		t.Fatal("task ran despite failed lookup")
	}
}

func TestForcedRunIgnoresDueTime(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "report", blocking: true}
	s.ScheduleTask(task, fixedInterval{id: "every:24h", every: 24 * time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	// Not due again, but forced anyway.
	if err := s.RunTasks(ctx, false, task); err != nil {
		t.Fatalf("RunTasks: %v", err)
	}
	if got := len(store.All()); got != 2 {
		t.Fatalf("records = %d, want 2", got)
	}
	if task.runs != 2 {
		t.Fatalf("task ran %d times, want 2", task.runs)
	}
}

func TestFakeRunRecordsWithoutRunning(t *testing.T) {
	t.Parallel()
	s, store, _ := newTestScheduler(t, Config{})
	ctx := context.Background()

	task := &fakeTask{id: "report", blocking: true}
	s.ScheduleTask(task, fixedInterval{id: "every:24h", every: 24 * time.Hour})

	if err := s.RunTasks(ctx, true, task); err != nil {
		t.Fatalf("RunTasks: %v", err)
	}
	recs := store.All()
	if len(recs) != 1 || recs[0].Open() {
		t.Fatal("fake run must create a closed record")
	}
	if recs[0].Success == nil || !*recs[0].Success {
		t.Fatal("fake run must close as success")
	}
	if task.runs != 0 {
		t.Fatalf("fake run invoked the task %d times", task.runs)
	}
}

func TestDefaultTimeoutAppliesWithoutOverride(t *testing.T) {
	t.Parallel()
	s, store, clock := newTestScheduler(t, Config{DefaultTimeout: 30 * time.Minute})
	ctx := context.Background()

	// A zero Timeout() means no override, so the config default applies.
	task := &fakeTask{id: "plain", blocking: false}
	s.ScheduleTask(task, fixedInterval{id: "every:1h", every: time.Hour})

	if err := s.RunScheduledTasks(ctx); err != nil {
		t.Fatalf("pass: %v", err)
	}
	clock.Advance(31 * time.Minute)
	if err := s.CheckTimeouts(ctx); err != nil {
		t.Fatalf("CheckTimeouts: %v", err)
	}
	if recs := store.All(); recs[0].Open() {
		t.Fatal("configured default timeout not applied")
	}
}
