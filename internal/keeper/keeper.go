// Package keeper implements the two-phase upkeep protocol: a read-only Check that
// names the next slot of the maintenance rotation, and a Perform that re-validates
// against live state, acts at most once and advances the rotation.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/kination/alkeeper/internal/metrics"
	"github.com/kination/alkeeper/internal/store"
	"github.com/kination/alkeeper/internal/task"
)

const tracerName = "github.com/kination/alkeeper/internal/keeper"

// Keeper owns the rotation state of one transmuter/alchemist pair.
// Check may be called concurrently with anything; Perform calls are serialized.
type Keeper struct {
	name     string
	tasks    *task.Registry
	store    store.Store
	recorder metrics.Recorder
	tracer   trace.Tracer
	log      logr.Logger

	mu sync.Mutex
}

// Option configures a Keeper
type Option func(*Keeper)

// WithName sets the name used in logs and metrics
func WithName(name string) Option {
	return func(k *Keeper) { k.name = name }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r metrics.Recorder) Option {
	return func(k *Keeper) { k.recorder = r }
}

// WithLogger sets the logger
func WithLogger(l logr.Logger) Option {
	return func(k *Keeper) { k.log = l }
}

// WithTracer sets the tracer used for perform spans
func WithTracer(t trace.Tracer) Option {
	return func(k *Keeper) { k.tracer = t }
}

// New creates a keeper over tasks whose rotation index lives in st
func New(tasks *task.Registry, st store.Store, opts ...Option) *Keeper {
	k := &Keeper{
		name:     "default",
		tasks:    tasks,
		store:    st,
		recorder: metrics.Noop{},
		tracer:   otel.Tracer(tracerName),
		log:      ctrl.Log.WithName("keeper"),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.log = k.log.WithValues("keeper", k.name)
	return k
}

// Name returns the keeper name
func (k *Keeper) Name() string {
	return k.name
}

// Check reports whether upkeep is needed and the payload to hand to Perform.
// Upkeep is always needed: whether the slot actually has work is decided by Perform,
// which consumes inadmissible slots. checkData is reserved and ignored.
func (k *Keeper) Check(ctx context.Context, checkData []byte) (bool, []byte, error) {
	cur, err := k.store.Load(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("load rotation state: %w", err)
	}
	return true, EncodePayload(cur), nil
}

// Perform runs the live slot of the rotation and advances it.
//
// The payload is validated but only used as a hint: the slot acted on is always the
// one read from the store. A malformed payload or a failing vault leaves the rotation
// where it was.
func (k *Keeper) Perform(ctx context.Context, payload []byte) (Result, error) {
	hint, err := DecodePayload(payload)
	if err != nil {
		k.recorder.ObserveError(k.name, metrics.ErrorKindMalformedPayload)
		return Result{}, err
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	ctx, span := k.tracer.Start(ctx, "keeper.perform",
		trace.WithAttributes(attribute.String("keeper.name", k.name)))
	defer span.End()

	res, err := k.perform(ctx, hint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.String("keeper.task", res.Task.String()),
		attribute.String("keeper.outcome", string(res.Outcome)),
		attribute.Bool("keeper.stale_hint", res.StaleHint),
	)
	return res, nil
}

func (k *Keeper) perform(ctx context.Context, hint task.Task) (Result, error) {
	cur, err := k.store.Load(ctx)
	if err != nil {
		k.recorder.ObserveError(k.name, metrics.ErrorKindStore)
		return Result{}, fmt.Errorf("load rotation state: %w", err)
	}
	if hint != cur {
		k.log.V(1).Info("Payload is stale, acting on live slot", "payload", hint.String(), "live", cur.String())
	}

	res, err := Step(ctx, k.tasks, cur)
	if err != nil {
		kind := metrics.ErrorKindStore
		if errors.Is(err, task.ErrCollaboratorFailure) {
			kind = metrics.ErrorKindCollaborator
		}
		k.recorder.ObserveError(k.name, kind)
		k.log.Error(err, "Perform failed, rotation not advanced", "task", cur.String())
		return Result{}, err
	}
	res.StaleHint = hint != cur

	if err := k.store.Save(ctx, res.Next); err != nil {
		k.recorder.ObserveError(k.name, metrics.ErrorKindStore)
		return Result{}, fmt.Errorf("save rotation state: %w", err)
	}

	k.recorder.ObservePerform(k.name, res.Task, string(res.Outcome))
	k.recorder.SetCurrentTask(k.name, res.Next)
	k.log.Info("Upkeep performed", "task", res.Task.String(), "outcome", res.Outcome, "next", res.Next.String())
	return res, nil
}

// CurrentTaskIndex returns the index of the next task to attempt
func (k *Keeper) CurrentTaskIndex(ctx context.Context) (int, error) {
	cur, err := k.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load rotation state: %w", err)
	}
	return cur.Index(), nil
}
