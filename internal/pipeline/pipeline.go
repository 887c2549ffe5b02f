// Package pipeline runs extraction, normalization and classification for
// one document analysis result.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/zombor/spend-tracker/internal/classify"
	"github.com/zombor/spend-tracker/internal/inference"
	"github.com/zombor/spend-tracker/internal/metrics"
	"github.com/zombor/spend-tracker/internal/money"
	"github.com/zombor/spend-tracker/internal/scanning"
)

// InferenceServiceError reports a failed classification call for one record
type InferenceServiceError struct {
	Record int
	Err    error
}

func (e *InferenceServiceError) Error() string {
	return fmt.Sprintf("classifying record %d: %v", e.Record, e.Err)
}

func (e *InferenceServiceError) Unwrap() error {
	return e.Err
}

// Outcome is one processed record. Err is set when classification could not
// be attempted; Classification is empty in that case.
type Outcome struct {
	Record         scanning.Record
	Classification classify.Result
	Err            error
}

// Orchestrator composes the pipeline stages around an inference Model
type Orchestrator struct {
	model   inference.Model
	set     classify.CategorySet
	parser  *classify.Parser
	metrics *metrics.Pipeline
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithParser replaces the default response parser
func WithParser(p *classify.Parser) Option {
	return func(o *Orchestrator) {
		o.parser = p
	}
}

// WithMetrics records pipeline outcomes on m
func WithMetrics(m *metrics.Pipeline) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator. The model is reused for every call.
func New(model inference.Model, set classify.CategorySet, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		model: model,
		set:   set,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.parser == nil {
		o.parser = classify.NewParser(set)
	}
	return o
}

// Run processes every record of the result in order, one inference call per
// record. It returns an error only when no record could be extracted.
func (o *Orchestrator) Run(ctx context.Context, result *scanning.Result) ([]Outcome, error) {
	records, err := scanning.Extract(result)
	if o.metrics != nil {
		o.metrics.ObserveRecords(len(records))
		o.metrics.ObserveExtractionErrors(countErrors(err))
	}
	if len(records) == 0 {
		return nil, err
	}
	if err != nil {
		slog.Warn("Skipped documents during extraction", "error", err)
	}

	outcomes := make([]Outcome, 0, len(records))
	for i, record := range records {
		outcomes = append(outcomes, o.process(ctx, i, normalize(record)))
	}
	return outcomes, nil
}

func (o *Orchestrator) process(ctx context.Context, index int, record scanning.Record) Outcome {
	prompt := classify.BuildPrompt(record, o.set)

	start := time.Now()
	raw, err := o.model.Generate(ctx, prompt)
	if o.metrics != nil {
		o.metrics.ObserveInference(time.Since(start), err)
	}
	if err != nil {
		slog.Error("Failed to classify receipt", "record", index, "vendor", record.Vendor, "error", err)
		return Outcome{
			Record: record,
			Err:    &InferenceServiceError{Record: index, Err: err},
		}
	}

	classification := o.parser.Parse(raw)
	if o.metrics != nil {
		o.metrics.ObserveClassification(string(classification.Stage))
	}
	slog.Info("Classified receipt",
		"record", index,
		"vendor", record.Vendor,
		"category", classification.Category,
		"stage", classification.Stage,
	)

	return Outcome{Record: record, Classification: classification}
}

// normalize fills the exact total and item prices from their raw text
func normalize(record scanning.Record) scanning.Record {
	record.Total = money.NormalizeOrZero(record.RawTotal)

	items := make([]scanning.LineItem, len(record.Items))
	for i, item := range record.Items {
		item.Price = money.NormalizeOrZero(item.RawPrice)
		items[i] = item
	}
	record.Items = items
	return record
}

func countErrors(err error) int {
	if err == nil {
		return 0
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return len(joined.Unwrap())
	}
	return 1
}
