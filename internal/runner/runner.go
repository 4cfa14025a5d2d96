package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kination/alkeeper/internal/store"
	"github.com/kination/alkeeper/internal/task"
)

var log = ctrl.Log.WithName("runner")

// OutcomeFailed is recorded in history for performs that returned an error
const OutcomeFailed = "Failed"

// DefaultRunner implements the Runner interface for a single keeper.
type DefaultRunner struct {
	keeper  Upkeeper
	history store.History
	config  RunnerConfig
	now     func() time.Time
}

// NewRunner creates a new DefaultRunner. history may be nil.
func NewRunner(k Upkeeper, history store.History, config RunnerConfig) *DefaultRunner {
	return &DefaultRunner{
		keeper:  k,
		history: history,
		config:  config,
		now:     time.Now,
	}
}

// Tick checks for upkeep and, when needed, performs it. Vault failures are
// retried with exponential backoff up to MaxRetries; other errors are returned at once.
func (r *DefaultRunner) Tick(ctx context.Context) (*TickResult, error) {
	needed, payload, err := r.keeper.Check(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("check upkeep: %w", err)
	}
	out := &TickResult{Needed: needed}
	if !needed {
		return out, nil
	}

	backoff := wait.Backoff{
		Duration: r.config.RetryBackoff,
		Factor:   2,
		Jitter:   0.1,
		Steps:    r.config.MaxRetries + 1,
	}
	// The backoff waits on ctx, so cancellation stops further vault calls.
	var lastErr error
	err = wait.ExponentialBackoffWithContext(ctx, backoff, func(ctx context.Context) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		out.Attempts++
		res, err := r.keeper.Perform(ctx, payload)
		if err == nil {
			out.Result = res
			return true, nil
		}
		log.V(1).Info("Perform attempt failed", "keeper", r.keeper.Name(), "attempt", out.Attempts, "error", err.Error())
		if !errors.Is(err, task.ErrCollaboratorFailure) {
			return false, err
		}
		lastErr = err
		return false, nil
	})
	if err != nil && lastErr != nil && (wait.Interrupted(err) || ctx.Err() != nil) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w (stopped: %v)", lastErr, ctxErr)
		} else {
			err = lastErr
		}
	}

	r.record(context.WithoutCancel(ctx), out, err)
	if err != nil {
		return out, fmt.Errorf("perform upkeep after %d attempt(s): %w", out.Attempts, err)
	}
	return out, nil
}

// Run ticks every Interval until ctx is cancelled
func (r *DefaultRunner) Run(ctx context.Context) error {
	log.Info("Starting keeper runner", "keeper", r.keeper.Name(), "interval", r.config.Interval.String())

	wait.UntilWithContext(ctx, func(ctx context.Context) {
		res, err := r.Tick(ctx)
		if err != nil {
			log.Error(err, "Upkeep round failed", "keeper", r.keeper.Name())
			return
		}
		if res.Needed {
			log.V(1).Info("Upkeep round done", "keeper", r.keeper.Name(),
				"task", res.Result.Task.String(), "outcome", res.Result.Outcome)
		}
	}, r.config.Interval)

	log.Info("Keeper runner stopped", "keeper", r.keeper.Name())
	return nil
}

func (r *DefaultRunner) record(ctx context.Context, out *TickResult, err error) {
	if r.history == nil {
		return
	}
	rec := store.Record{
		Keeper: r.keeper.Name(),
		Task:   out.Result.Task,
		At:     r.now(),
	}
	if err != nil {
		rec.Outcome = OutcomeFailed
		rec.Error = err.Error()
		var cerr *task.CollaboratorError
		if errors.As(err, &cerr) {
			rec.Task = cerr.Task
		}
	} else {
		rec.Outcome = string(out.Result.Outcome)
	}
	if herr := r.history.Append(ctx, rec); herr != nil {
		log.Error(herr, "Failed to record perform outcome", "keeper", r.keeper.Name())
	}
}

// Config returns the runner configuration
func (r *DefaultRunner) Config() RunnerConfig {
	return r.config
}
