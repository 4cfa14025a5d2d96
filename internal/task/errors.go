package task

import (
	"errors"
	"fmt"
)

// ErrCollaboratorFailure matches every CollaboratorError via errors.Is
var ErrCollaboratorFailure = errors.New("collaborator failure")

// CollaboratorError reports a failed call into a vault while handling a task.
// The original error is reachable through Unwrap.
type CollaboratorError struct {
	Task Task
	Op   string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Task, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCollaboratorFailure) hold for any CollaboratorError
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}
