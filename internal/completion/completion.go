package completion

import (
	"context"
	"sync"

	"periodically/pkg/logx"
)

// Extra carries the outcome reported with a completion. A nil *Extra means
// the work finished cleanly. Level at or above error marks the execution as
// failed; anything below is informational.
type Extra struct {
	Level   logx.Level
	Message string
}

// Failure reports whether this outcome closes the execution as failed.
func (e *Extra) Failure() bool {
	return e != nil && e.Level >= logx.LevelError
}

// Handler receives a completion published for a task id.
type Handler func(ctx context.Context, taskID string, extra *Extra)

// Notifier routes asynchronous completion reports back to the scheduler.
//
// Contract:
//   - At most one handler is registered per task id. Subscribe replaces any
//     existing handler, so repeat registration never accumulates duplicates.
//   - Publish dispatches synchronously in the caller's goroutine; the
//     handler owns its own locking.
//   - Handlers are addressable by task id so a handler can remove itself.
type Notifier struct {
	mu       sync.Mutex
	handlers map[string]Handler
}

func NewNotifier() *Notifier {
	return &Notifier{handlers: map[string]Handler{}}
}

// Subscribe registers h for taskID, replacing any previous handler.
func (n *Notifier) Subscribe(taskID string, h Handler) {
	if taskID == "" || h == nil {
		return
	}
	n.mu.Lock()
	n.handlers[taskID] = h
	n.mu.Unlock()
}

// Unsubscribe removes the handler for taskID, if any.
func (n *Notifier) Unsubscribe(taskID string) {
	n.mu.Lock()
	delete(n.handlers, taskID)
	n.mu.Unlock()
}

// Subscribed reports whether a handler is registered for taskID.
func (n *Notifier) Subscribed(taskID string) bool {
	n.mu.Lock()
	_, ok := n.handlers[taskID]
	n.mu.Unlock()
	return ok
}

// Publish reports a completion for taskID. It returns false when no handler
// is registered (the report is dropped, not queued).
func (n *Notifier) Publish(ctx context.Context, taskID string, extra *Extra) bool {
	n.mu.Lock()
	h, ok := n.handlers[taskID]
	n.mu.Unlock()
	if !ok {
		return false
	}
	h(ctx, taskID, extra)
	return true
}
