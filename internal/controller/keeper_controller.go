package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"

	keeperv1 "github.com/kination/alkeeper/api/v1"
	"github.com/kination/alkeeper/internal/keeper"
	"github.com/kination/alkeeper/internal/metrics"
	"github.com/kination/alkeeper/internal/task"
	"github.com/kination/alkeeper/internal/vault"
)

// KeeperReconciler reconciles a Keeper object: every interval it runs one
// check/perform round against the keeper's vaults and records the result in status.
// +kubebuilder:rbac:groups=keeper.alkeeper.io,resources=keepers,verbs=get;list;watch
// +kubebuilder:rbac:groups=keeper.alkeeper.io,resources=keepers/status,verbs=get;update;patch
type KeeperReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Vaults   *vault.Registry
	Recorder metrics.Recorder
	Tracer   trace.Tracer
	Clock    func() time.Time
}

func (r *KeeperReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	log := log.FromContext(ctx)

	var kp keeperv1.Keeper
	if err := r.Get(ctx, req.NamespacedName, &kp); err != nil {
		return ctrl.Result{}, client.IgnoreNotFound(err)
	}
	interval := kp.IntervalOrDefault().Duration
	kp.Status.ObservedGeneration = kp.Generation

	if kp.Spec.Suspend {
		if setReady(&kp, metav1.ConditionFalse, keeperv1.ReasonSuspended, "keeper is suspended") {
			return ctrl.Result{}, r.Status().Update(ctx, &kp)
		}
		return ctrl.Result{}, nil
	}

	// Not due yet
	if last := kp.Status.LastPerformTime; last != nil {
		if remaining := last.Add(interval).Sub(r.now()); remaining > 0 {
			return ctrl.Result{RequeueAfter: remaining}, nil
		}
	}

	tasks, err := r.resolveTasks(&kp)
	if err != nil {
		log.Info("Vault backend not available", "error", err.Error())
		setReady(&kp, metav1.ConditionFalse, keeperv1.ReasonVaultNotFound, err.Error())
		if uerr := r.Status().Update(ctx, &kp); uerr != nil {
			return ctrl.Result{}, uerr
		}
		return ctrl.Result{RequeueAfter: interval}, nil
	}

	opts := []keeper.Option{
		keeper.WithName(req.String()),
		keeper.WithLogger(log),
		keeper.WithRecorder(r.recorder()),
	}
	if r.Tracer != nil {
		opts = append(opts, keeper.WithTracer(r.Tracer))
	}
	k := keeper.New(tasks, NewStatusStore(&kp), opts...)

	needed, payload, err := k.Check(ctx, nil)
	if err != nil {
		return ctrl.Result{}, err
	}
	if !needed {
		return ctrl.Result{RequeueAfter: interval}, nil
	}

	attempted := task.Task(kp.Status.CurrentTaskIndex)
	res, perr := k.Perform(ctx, payload)
	if perr != nil {
		// Rotation stays on the failed slot; controller-runtime backs off and retries.
		kp.Status.LastTask = attempted.String()
		kp.Status.LastOutcome = keeperv1.OutcomeFailed
		kp.Status.Message = perr.Error()
		setReady(&kp, metav1.ConditionFalse, keeperv1.ReasonPerformFailed, perr.Error())
		if uerr := r.Status().Update(ctx, &kp); uerr != nil {
			log.Error(uerr, "Failed to record perform failure")
		}
		return ctrl.Result{}, perr
	}

	now := metav1.NewTime(r.now())
	kp.Status.LastPerformTime = &now
	kp.Status.LastTask = res.Task.String()
	kp.Status.Message = ""
	switch res.Outcome {
	case keeper.OutcomePerformed:
		kp.Status.LastOutcome = keeperv1.OutcomePerformed
		kp.Status.PerformedCount++
		setReady(&kp, metav1.ConditionTrue, keeperv1.ReasonPerformed, fmt.Sprintf("%s performed", res.Task))
	default:
		kp.Status.LastOutcome = keeperv1.OutcomeSkipped
		kp.Status.SkippedCount++
		setReady(&kp, metav1.ConditionTrue, keeperv1.ReasonSkipped, fmt.Sprintf("%s not admissible, skipped", res.Task))
	}

	// Index and bookkeeping are committed together
	if err := r.Status().Update(ctx, &kp); err != nil {
		if apierrors.IsConflict(err) {
			log.Info("Keeper changed during perform, rotation not advanced", "task", res.Task.String())
		}
		return ctrl.Result{}, err
	}

	return ctrl.Result{RequeueAfter: interval}, nil
}

// resolveTasks looks up both vault backends named by the keeper
func (r *KeeperReconciler) resolveTasks(kp *keeperv1.Keeper) (*task.Registry, error) {
	if r.Vaults == nil {
		return nil, errors.New("no vault registry configured")
	}
	transmuter, err := r.Vaults.Get(kp.Spec.Transmuter)
	if err != nil {
		return nil, fmt.Errorf("transmuter: %w", err)
	}
	alchemist, err := r.Vaults.Get(kp.Spec.Alchemist)
	if err != nil {
		return nil, fmt.Errorf("alchemist: %w", err)
	}
	return task.NewRegistry(transmuter, alchemist), nil
}

func (r *KeeperReconciler) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now()
}

func (r *KeeperReconciler) recorder() metrics.Recorder {
	if r.Recorder != nil {
		return r.Recorder
	}
	return metrics.Noop{}
}

// setReady sets the Ready condition and reports whether it changed
func setReady(kp *keeperv1.Keeper, status metav1.ConditionStatus, reason, message string) bool {
	return meta.SetStatusCondition(&kp.Status.Conditions, metav1.Condition{
		Type:               keeperv1.ConditionReady,
		Status:             status,
		Reason:             reason,
		Message:            message,
		ObservedGeneration: kp.Generation,
	})
}

// SetupWithManager sets up the controller with the Manager.
// Status writes do not bump the generation, so the reconciler's own updates do not
// trigger extra rounds; timing comes from RequeueAfter.
func (r *KeeperReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&keeperv1.Keeper{}, builder.WithPredicates(predicate.GenerationChangedPredicate{})).
		Named("keeper").
		Complete(r)
}
