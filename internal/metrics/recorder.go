// Package metrics counts migration outcomes on a private Prometheus registry.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespaceConstant           = "corpus_migrate"
	artifactsMetricNameConstant        = "artifacts_total"
	artifactsMetricHelpConstant        = "Artifacts processed, by outcome."
	problemsMetricNameConstant         = "problems_total"
	problemsMetricHelpConstant         = "Artifacts that failed to migrate, by problem kind."
	strategiesMetricNameConstant       = "strategy_applications_total"
	strategiesMetricHelpConstant       = "Migration strategy applications, by strategy."
	outcomeLabelConstant               = "outcome"
	kindLabelConstant                  = "kind"
	strategyLabelConstant              = "strategy"
	textfileWriteErrorTemplateConstant = "unable to write metrics to %s: %w"
)

// Recorder implements the migration metrics contract with Prometheus counters.
type Recorder struct {
	registry   *prometheus.Registry
	artifacts  *prometheus.CounterVec
	problems   *prometheus.CounterVec
	strategies *prometheus.CounterVec
}

// NewRecorder registers the migration counters on a fresh registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		artifacts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespaceConstant,
			Name:      artifactsMetricNameConstant,
			Help:      artifactsMetricHelpConstant,
		}, []string{outcomeLabelConstant}),
		problems: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespaceConstant,
			Name:      problemsMetricNameConstant,
			Help:      problemsMetricHelpConstant,
		}, []string{kindLabelConstant}),
		strategies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespaceConstant,
			Name:      strategiesMetricNameConstant,
			Help:      strategiesMetricHelpConstant,
		}, []string{strategyLabelConstant}),
	}
}

// ObserveArtifact counts one processed artifact.
func (recorder *Recorder) ObserveArtifact(outcome string) {
	recorder.artifacts.WithLabelValues(outcome).Inc()
}

// ObserveProblem counts one failed artifact.
func (recorder *Recorder) ObserveProblem(kind string) {
	recorder.problems.WithLabelValues(kind).Inc()
}

// ObserveStrategy counts one strategy application.
func (recorder *Recorder) ObserveStrategy(strategy string) {
	recorder.strategies.WithLabelValues(strategy).Inc()
}

// Registry exposes the underlying registry, e.g. for an HTTP handler.
func (recorder *Recorder) Registry() *prometheus.Registry {
	return recorder.registry
}

// WriteTextfile writes the counters in the node exporter textfile format.
func (recorder *Recorder) WriteTextfile(path string) error {
	if writeError := prometheus.WriteToTextfile(path, recorder.registry); writeError != nil {
		return fmt.Errorf(textfileWriteErrorTemplateConstant, path, writeError)
	}
	return nil
}
