// Package metrics exposes keeper activity as Prometheus metrics.
package metrics

import (
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/kination/alkeeper/internal/task"
)

// Error kinds reported through ObserveError
const (
	ErrorKindMalformedPayload = "malformed_payload"
	ErrorKindCollaborator     = "collaborator"
	ErrorKindStore            = "store"
)

// Recorder receives keeper events
type Recorder interface {
	ObservePerform(keeper string, t task.Task, outcome string)
	ObserveError(keeper, kind string)
	SetCurrentTask(keeper string, t task.Task)
}

// Prometheus implements Recorder with Prometheus collectors
type Prometheus struct {
	performs    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	currentTask *prometheus.GaugeVec
}

var _ Recorder = (*Prometheus)(nil)

// NewPrometheus creates the collectors and registers them with reg
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		performs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_perform_total",
			Help: "Perform calls that completed, by task and outcome.",
		}, []string{"keeper", "task", "outcome"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "keeper_perform_errors_total",
			Help: "Perform calls that failed, by error kind.",
		}, []string{"keeper", "kind"}),
		currentTask: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "keeper_current_task_index",
			Help: "Index of the next task in the rotation.",
		}, []string{"keeper"}),
	}
	for _, c := range []prometheus.Collector{p.performs, p.errors, p.currentTask} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

var (
	defaultOnce     sync.Once
	defaultRecorder Recorder
)

var log = ctrl.Log.WithName("metrics")

// Default returns a recorder registered on the controller-runtime metrics registry.
// Registration failures are logged and fall back to a no-op recorder.
func Default() Recorder {
	defaultOnce.Do(func() {
		defaultRecorder = register(ctrlmetrics.Registry, log)
	})
	return defaultRecorder
}

func register(reg prometheus.Registerer, log logr.Logger) Recorder {
	p, err := NewPrometheus(reg)
	if err != nil {
		log.Error(err, "Failed to register keeper metrics, recording disabled")
		return Noop{}
	}
	return p
}

func (p *Prometheus) ObservePerform(keeper string, t task.Task, outcome string) {
	p.performs.WithLabelValues(keeper, t.String(), outcome).Inc()
}

func (p *Prometheus) ObserveError(keeper, kind string) {
	p.errors.WithLabelValues(keeper, kind).Inc()
}

func (p *Prometheus) SetCurrentTask(keeper string, t task.Task) {
	p.currentTask.WithLabelValues(keeper).Set(float64(t.Index()))
}

// Noop discards everything
type Noop struct{}

func (Noop) ObservePerform(string, task.Task, string) {}
func (Noop) ObserveError(string, string)              {}
func (Noop) SetCurrentTask(string, task.Task)         {}
