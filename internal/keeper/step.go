package keeper

import (
	"context"

	"github.com/kination/alkeeper/internal/task"
)

// Outcome is what a successful perform did with its slot
type Outcome string

const (
	// OutcomePerformed means the vault action ran
	OutcomePerformed Outcome = "Performed"
	// OutcomeSkipped means the slot was inadmissible and consumed without action
	OutcomeSkipped Outcome = "Skipped"
)

// Result describes a completed perform
type Result struct {
	// Task is the slot that was attempted
	Task task.Task
	// Outcome reports whether the vault action ran
	Outcome Outcome
	// Next is the slot the rotation advanced to
	Next task.Task
	// StaleHint is set when the payload named a different slot than the live one
	StaleHint bool
}

// Step attempts the task at current and returns the advanced rotation.
// Inadmissible slots are skipped and still advance. On error nothing advances
// and the caller must keep current.
func Step(ctx context.Context, tasks *task.Registry, current task.Task) (Result, error) {
	t, err := tasks.TaskAt(current.Index())
	if err != nil {
		return Result{}, err
	}

	res := Result{Task: t, Outcome: OutcomeSkipped, Next: t.Next()}

	ok, err := tasks.IsAdmissible(ctx, t)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return res, nil
	}

	if err := tasks.Run(ctx, t); err != nil {
		return Result{}, err
	}
	res.Outcome = OutcomePerformed
	return res, nil
}
