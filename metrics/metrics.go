// Package metrics - Prometheus-Observer fuer Sampling-Laeufe
//
// MODUL: metrics
// ZWECK: Zaehlt Laeufe, Schritte, Predictor-Aufrufe und Fehlerklassen,
//
//	misst die Laufdauer und exportiert alles als Textfile
//
// INPUT: sampler.Event
// OUTPUT: Prometheus-Collectors, optional Textfile (FLOWSAMPLE_METRICS_FILE)
// NEBENEFFEKTE: Registriert Collectors beim uebergebenen Registerer
// ABHAENGIGKEITEN: prometheus/client_golang, sampler, types/errtypes
// HINWEISE: Bereits registrierte Collectors gleichen Namens werden wiederverwendet
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ollama/flowsample/sampler"
	"github.com/ollama/flowsample/types/errtypes"
)

const (
	namespace = "flowsample"
	subsystem = "sampler"
)

// Observer implementiert sampler.Observer mit Prometheus-Collectors.
type Observer struct {
	runs           *prometheus.CounterVec
	failures       *prometheus.CounterVec
	steps          *prometheus.CounterVec
	predictorCalls *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	active         prometheus.Gauge
}

var _ sampler.Observer = (*Observer)(nil)

// New legt die Collectors an und registriert sie bei reg (nil = DefaultRegisterer).
func New(reg prometheus.Registerer) *Observer {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_total",
			Help:      "Finished sampling runs by mode and status.",
		}, []string{"mode", "status"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "failures_total",
			Help:      "Failed sampling runs by error class.",
		}, []string{"reason"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "steps_total",
			Help:      "Accepted integration steps.",
		}, []string{"mode", "solver"}),
		predictorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "predictor_calls_total",
			Help:      "Predictor invocations including the unconditional branch.",
		}, []string{"mode"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rejected_steps_total",
			Help:      "Steps rejected by adaptive step size control.",
		}, []string{"solver"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "run_duration_seconds",
			Help:      "Wall time of sampling runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"mode", "status"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "runs_active",
			Help:      "Sampling runs currently in progress.",
		}),
	}

	o.runs = register(reg, o.runs)
	o.failures = register(reg, o.failures)
	o.steps = register(reg, o.steps)
	o.predictorCalls = register(reg, o.predictorCalls)
	o.rejected = register(reg, o.rejected)
	o.duration = register(reg, o.duration)
	o.active = register(reg, o.active)
	return o
}

// register registriert c oder gibt den bereits registrierten Collector zurueck.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(fmt.Sprintf("metrics: register collector: %v", err))
	}
	return c
}

// Observe verbucht ein Sampler-Event.
func (o *Observer) Observe(e sampler.Event) {
	mode := string(e.Mode)
	switch e.Kind {
	case sampler.RunStarted:
		o.active.Inc()
	case sampler.StepCompleted:
		o.steps.WithLabelValues(mode, e.Solver).Inc()
	case sampler.RunFinished:
		o.active.Dec()
		status := "ok"
		if e.Err != nil {
			status = "error"
			o.failures.WithLabelValues(Reason(e.Err)).Inc()
		}
		o.runs.WithLabelValues(mode, status).Inc()
		o.duration.WithLabelValues(mode, status).Observe(e.Elapsed.Seconds())
		o.predictorCalls.WithLabelValues(mode).Add(float64(e.PredictorCalls))
		if e.Rejected > 0 {
			o.rejected.WithLabelValues(e.Solver).Add(float64(e.Rejected))
		}
	}
}

// Reason ordnet einen Lauf-Fehler einer Fehlerklasse zu.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, errtypes.ErrConfig):
		return "config"
	case errors.Is(err, errtypes.ErrPredictor):
		return "predictor"
	case errors.Is(err, errtypes.ErrNumericalInstability):
		return "numerical_instability"
	case errors.Is(err, errtypes.ErrNonConvergence):
		return "non_convergence"
	default:
		return "other"
	}
}

// WriteTextfile schreibt alle Metriken aus g im Textformat nach path
// (fuer den node_exporter-Textfile-Collector).
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("metrics: write %s: %w", path, err)
	}
	return nil
}
