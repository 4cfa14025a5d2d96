package task

import (
	"context"
	"fmt"
	"math/big"

	"github.com/kination/alkeeper/internal/vault"
)

// Registry maps rotation slots to their admissibility checks and vault actions.
// It holds no state of its own; every answer is read through to the vaults.
type Registry struct {
	transmuter vault.Vault
	alchemist  vault.Vault
}

// NewRegistry creates a task registry over the transmuter and alchemist systems
func NewRegistry(transmuter, alchemist vault.Vault) *Registry {
	return &Registry{
		transmuter: transmuter,
		alchemist:  alchemist,
	}
}

// Tasks returns the rotation in order
func (r *Registry) Tasks() []Task {
	return All()
}

// TaskAt resolves a rotation index
func (r *Registry) TaskAt(index int) (Task, error) {
	return FromIndex(index)
}

// IsAdmissible reports whether t may act right now:
//   - HarvestTransmuter: transmuter not paused and yield pending
//   - HarvestAlchemist: alchemist not in emergency exit and yield pending
//   - FlushAlchemist: alchemist not in emergency exit and deposits pending
func (r *Registry) IsAdmissible(ctx context.Context, t Task) (bool, error) {
	switch t {
	case HarvestTransmuter:
		paused, err := r.transmuter.IsPaused(ctx)
		if err != nil {
			return false, &CollaboratorError{Task: t, Op: "isPaused", Err: err}
		}
		if paused {
			return false, nil
		}
		return r.positive(ctx, t, "pendingYield", r.transmuter.PendingYield)

	case HarvestAlchemist, FlushAlchemist:
		exit, err := r.alchemist.EmergencyExitActive(ctx)
		if err != nil {
			return false, &CollaboratorError{Task: t, Op: "emergencyExitActive", Err: err}
		}
		if exit {
			return false, nil
		}
		if t == HarvestAlchemist {
			return r.positive(ctx, t, "pendingYield", r.alchemist.PendingYield)
		}
		return r.positive(ctx, t, "pendingUnflushedDeposits", r.alchemist.PendingUnflushedDeposits)
	}
	return false, fmt.Errorf("%w: %d", ErrUnknownTask, uint8(t))
}

// Run invokes the vault action for t
func (r *Registry) Run(ctx context.Context, t Task) error {
	var err error
	var op string
	switch t {
	case HarvestTransmuter:
		op, err = "harvest", r.transmuter.Harvest(ctx)
	case HarvestAlchemist:
		op, err = "harvest", r.alchemist.Harvest(ctx)
	case FlushAlchemist:
		op, err = "flush", r.alchemist.Flush(ctx)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownTask, uint8(t))
	}
	if err != nil {
		return &CollaboratorError{Task: t, Op: op, Err: err}
	}
	return nil
}

func (r *Registry) positive(ctx context.Context, t Task, op string, read func(context.Context) (*big.Int, error)) (bool, error) {
	amt, err := read(ctx)
	if err != nil {
		return false, &CollaboratorError{Task: t, Op: op, Err: err}
	}
	return amt != nil && amt.Sign() > 0, nil
}
