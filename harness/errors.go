package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrNoTasks is returned when a run matches no tasks.
	ErrNoTasks = errors.New("harness: no tasks matched")
	// ErrUnknownGroup is returned for a group name outside control/treatment.
	ErrUnknownGroup = errors.New("harness: unknown group")
)

// SetupError wraps a failure in workspace provisioning. It is recorded on
// the task result rather than aborting sibling tasks.
type SetupError struct {
	Op  string
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("harness: setup %s: %v", e.Op, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }
