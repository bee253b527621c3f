// Package pipeline connects the collect, normalize and persist stages into a
// single run and drives repeated runs.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-books-etl/models"
)

// Collector gathers up to target distinct records from the source.
type Collector interface {
	Collect(ctx context.Context, target int) (*models.Collection, error)
}

// Persister stores normalized records and reports how many rows it wrote.
type Persister interface {
	Persist(ctx context.Context, records []models.Record) (int, error)
}

// OutputWriter defines the interface for the optional file export.
type OutputWriter interface {
	Write(records []models.Record) error
	Close() error
	Validate() error
}

// RetryPolicy controls how often a failed run is started again.
type RetryPolicy struct {
	Retries int
	Delay   time.Duration
}

// Pipeline runs Collector, Normalize and Persister strictly in sequence.
type Pipeline struct {
	collector Collector
	persister Persister
	exporter  OutputWriter
	metrics   *Metrics
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithExporter writes every run's normalized records to w once they are
// persisted.
func WithExporter(w OutputWriter) Option {
	return func(p *Pipeline) {
		p.exporter = w
	}
}

// WithMetrics records run outcomes on m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// NewPipeline builds a pipeline over the given stages.
func NewPipeline(collector Collector, persister Persister, opts ...Option) *Pipeline {
	p := &Pipeline{
		collector: collector,
		persister: persister,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run performs one full extract-transform-load. The first failing stage
// aborts the run and later stages are not invoked.
func (p *Pipeline) Run(ctx context.Context, target int) (*models.RunResult, error) {
	result := &models.RunResult{Attempt: 1, StartTime: time.Now()}

	if err := p.run(ctx, target, result); err != nil {
		p.metrics.ObserveRun("failed", time.Since(result.StartTime))
		return nil, err
	}

	result.EndTime = time.Now()
	p.metrics.ObserveRun("succeeded", result.Duration())
	p.metrics.AddRows(result.RowsWritten)
	p.metrics.AddNormalizeDuplicates(result.NormalizeDuplicates)
	return result, nil
}

func (p *Pipeline) run(ctx context.Context, target int, result *models.RunResult) error {
	collection, err := p.collector.Collect(ctx, target)
	if err != nil {
		return fmt.Errorf("collect: %w", err)
	}
	result.PageCount = collection.PageCount
	result.RequestCount = collection.RequestCount
	result.SkippedItems = collection.SkippedItems
	result.CollectorDuplicates = collection.Duplicates
	result.CollectedCount = len(collection.Records)

	slog.Info("collection finished",
		slog.Int("records", result.CollectedCount),
		slog.Int("pages", result.PageCount),
		slog.Int("skipped", result.SkippedItems),
		slog.Bool("exhausted", collection.Exhausted),
	)

	normalized, err := Normalize(collection.Records)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	result.NormalizedCount = len(normalized)
	result.NormalizeDuplicates = result.CollectedCount - result.NormalizedCount

	written, err := p.persister.Persist(ctx, normalized)
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	result.RowsWritten = written

	// The rows are committed at this point. Failing the run here would make a
	// retry append them again, so an export error is only reported.
	if p.exporter != nil {
		if err := p.exporter.Write(normalized); err != nil {
			p.metrics.IncExportFailure()
			slog.Error("export failed", slog.Int("records", len(normalized)), slog.Any("error", err))
		}
	}
	return nil
}

// RunWithRetry runs the pipeline and, when the run fails, starts it again
// from the first page after policy.Delay, at most policy.Retries times.
func (p *Pipeline) RunWithRetry(ctx context.Context, target int, policy RetryPolicy) (*models.RunResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := p.Run(ctx, target)
		if err == nil {
			result.Attempt = attempt
			return result, nil
		}
		if attempt > policy.Retries || ctx.Err() != nil {
			return nil, err
		}

		slog.Warn("run failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("delay", policy.Delay),
			slog.Any("error", err),
		)
		p.metrics.IncRetry()

		if err := sleep(ctx, policy.Delay); err != nil {
			return nil, err
		}
	}
}

// Schedule runs the pipeline immediately and then once per interval until
// ctx is cancelled. A failed run is logged and the schedule carries on.
func (p *Pipeline) Schedule(ctx context.Context, interval time.Duration, target int, policy RetryPolicy) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		p.scheduledRun(ctx, target, policy)

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
	slog.Info("schedule stopped")
}

func (p *Pipeline) scheduledRun(ctx context.Context, target int, policy RetryPolicy) {
	result, err := p.RunWithRetry(ctx, target, policy)
	if err != nil {
		slog.Error("scheduled run failed", slog.Any("error", err))
		return
	}
	slog.Info("scheduled run finished",
		slog.Int("rows", result.RowsWritten),
		slog.Int("attempt", result.Attempt),
		slog.Duration("duration", result.Duration()),
	)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
