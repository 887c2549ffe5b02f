// Package metrics exposes pipeline counters for batch runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pipeline collects per-record pipeline outcomes
type Pipeline struct {
	registry *prometheus.Registry

	records           prometheus.Counter
	classifications   *prometheus.CounterVec
	inferenceErrors   prometheus.Counter
	extractionErrors  prometheus.Counter
	inferenceDuration prometheus.Histogram
}

// NewPipeline registers the pipeline metrics on a private registry
func NewPipeline() *Pipeline {
	registry := prometheus.NewRegistry()

	records := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Subsystem: "pipeline",
		Name:      "records_total",
		Help:      "Receipt records extracted from analysis results.",
	})
	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Subsystem: "pipeline",
		Name:      "classification_total",
		Help:      "Classified records by the parser stage that decided the category.",
	}, []string{"stage"})
	inferenceErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Subsystem: "pipeline",
		Name:      "inference_errors_total",
		Help:      "Inference calls that failed.",
	})
	extractionErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "spend_tracker",
		Subsystem: "pipeline",
		Name:      "extraction_errors_total",
		Help:      "Detected documents that produced no record.",
	})
	inferenceDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "spend_tracker",
		Subsystem: "pipeline",
		Name:      "inference_duration_seconds",
		Help:      "Inference call latency in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	registry.MustRegister(records, classifications, inferenceErrors, extractionErrors, inferenceDuration)

	return &Pipeline{
		registry:          registry,
		records:           records,
		classifications:   classifications,
		inferenceErrors:   inferenceErrors,
		extractionErrors:  extractionErrors,
		inferenceDuration: inferenceDuration,
	}
}

// Registry returns the registry the metrics are registered on
func (m *Pipeline) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRecords counts extracted records
func (m *Pipeline) ObserveRecords(n int) {
	m.records.Add(float64(n))
}

// ObserveExtractionErrors counts documents that produced no record
func (m *Pipeline) ObserveExtractionErrors(n int) {
	m.extractionErrors.Add(float64(n))
}

// ObserveInference records one inference call
func (m *Pipeline) ObserveInference(duration time.Duration, err error) {
	m.inferenceDuration.Observe(duration.Seconds())
	if err != nil {
		m.inferenceErrors.Inc()
	}
}

// ObserveClassification counts a parsed category by stage
func (m *Pipeline) ObserveClassification(stage string) {
	m.classifications.WithLabelValues(stage).Inc()
}

// WriteTextfile writes the metrics in the node exporter textfile format
func (m *Pipeline) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
