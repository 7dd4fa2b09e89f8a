package enhance

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/recallbox/recallbox/internal/bulk"
	"github.com/recallbox/recallbox/internal/store"
)

// DefaultBatchConcurrency bounds in-flight enhancement calls per batch.
const DefaultBatchConcurrency = 4

// ItemError records one failed record in a partial-success report.
type ItemError struct {
	MemoryID string `json:"memory_id"`
	Error    string `json:"error"`
}

// BatchReport is the partial-success result of a batch run.
type BatchReport struct {
	Processed int         `json:"processed"`
	Enhanced  int         `json:"enhanced"`
	Skipped   int         `json:"skipped"`
	Failed    []ItemError `json:"failed,omitempty"`
	Tripped   string      `json:"tripped,omitempty"`
}

// BatchOptions tune one batch run.
type BatchOptions struct {
	Project     string
	Force       bool // re-enhance records that already carry both tags
	Concurrency int64
}

// Batcher runs bounded-concurrency batch enhancement over the memory store.
type Batcher struct {
	Memories *store.MemoryStore
	Enhancer Enhancer
	logger   *slog.Logger
}

// NewBatcher wires a batch runner.
func NewBatcher(memories *store.MemoryStore, enhancer Enhancer, logger *slog.Logger) *Batcher {
	return &Batcher{Memories: memories, Enhancer: enhancer, logger: logger}
}

// Run enhances every memory in scope, collecting per-item errors rather than
// failing the batch. Iteration is guarded by the bulk breaker; a trip stops
// the batch and is reported, with completed items kept. Workers write through
// the store's per-file locks, so a running batch never blocks other callers.
func (b *Batcher) Run(ctx context.Context, opts BatchOptions) (*BatchReport, error) {
	memories, err := b.Memories.List(ctx, opts.Project, 0)
	if err != nil {
		return nil, err
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultBatchConcurrency
	}
	sem := semaphore.NewWeighted(opts.Concurrency)

	breaker := bulk.New()
	breaker.Start()

	report := &BatchReport{}
	type outcome struct {
		id   string
		err  error
		skip bool
	}
	results := make(chan outcome, len(memories))
	launched := 0

	for _, m := range memories {
		if err := breaker.Check(len(m.Content)); err != nil {
			report.Tripped = err.Error()
			break
		}
		if !opts.Force && Enhanced(m) {
			report.Skipped++
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			report.Tripped = fmt.Sprintf("cancelled: %v", err)
			break
		}
		launched++
		go func(m *store.Memory) {
			defer sem.Release(1)
			enh, err := b.Enhancer.Enhance(ctx, m)
			if err != nil {
				results <- outcome{id: m.ID, err: err}
				return
			}
			Apply(m, enh)
			if err := b.Memories.Save(ctx, m); err != nil {
				results <- outcome{id: m.ID, err: err}
				return
			}
			results <- outcome{id: m.ID}
		}(m)
	}

	for i := 0; i < launched; i++ {
		out := <-results
		report.Processed++
		if out.err != nil {
			report.Failed = append(report.Failed, ItemError{MemoryID: out.id, Error: out.err.Error()})
			continue
		}
		report.Enhanced++
	}
	report.Processed += report.Skipped

	b.logger.Info("batch enhancement finished",
		"enhancer", b.Enhancer.Name(),
		"enhanced", report.Enhanced,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"tripped", report.Tripped != "",
	)
	return report, nil
}
