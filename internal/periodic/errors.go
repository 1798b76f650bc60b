package periodic

import (
	"errors"
	"fmt"
)

// ErrNotRegistered is returned when an operation names a task id absent from
// the registry. It propagates to the caller; task-internal failures never do.
var ErrNotRegistered = errors.New("task is not registered")

func notRegistered(taskID string) error {
	return fmt.Errorf("%w: %s", ErrNotRegistered, taskID)
}
