// Package analysis implements the checkpointed log-analysis engine. It turns
// a job's raw event log into aggregate response-bucket and error counters
// without ever reprocessing an entry it has already counted.
package analysis

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Analyzer consumes log-update signals and advances the analysis checkpoint.
// It must not run concurrently for the same job; the subscriber loop that
// drives it delivers signals one at a time.
type Analyzer struct {
	jobs   store.JobStore
	logs   store.LogStore
	logger *zap.Logger
}

// New constructs an Analyzer.
func New(jobs store.JobStore, logs store.LogStore, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{jobs: jobs, logs: logs, logger: logger}
}

// HandleSignal processes one log-update signal whose payload is a job ident.
func (a *Analyzer) HandleSignal(ctx context.Context, payload string) error {
	return a.Analyze(ctx, job.Ident(payload))
}

// Analyze reads every log entry past the job's analysis checkpoint, buckets
// download responses, counts errors, and commits the counter increments
// together with the checkpoint advance as one atomic batch. With no new
// entries it performs no writes at all, so duplicate signals are no-ops and
// a crash before the commit only causes safe reprocessing.
func (a *Analyzer) Analyze(ctx context.Context, ident job.Ident) error {
	rec, err := a.jobs.Get(ctx, ident)
	if err != nil {
		if err == store.ErrNotFound {
			a.logger.Debug("analysis signal for unknown job", logging.Ident(ident))
			return nil
		}
		return fmt.Errorf("load job %s: %w", ident, err)
	}

	entries, err := a.logs.ReadRange(ctx, ident, rec.LastAnalyzedLogEntry, maxScore)
	if err != nil {
		return fmt.Errorf("read log %s: %w", ident, err)
	}
	if len(entries) == 0 {
		return nil
	}

	mutation := store.Mutation{
		Incs: make(map[string]int64),
		Checkpoints: map[string]float64{
			job.FieldLastAnalyzedLogEntry: entries[len(entries)-1].Score,
		},
	}
	for _, se := range entries {
		if se.Entry.Type != job.EntryDownload {
			continue
		}
		bucket := job.ClassifyResponse(se.Entry.ResponseCode)
		mutation.Incs[bucket.Field()]++
		if se.Entry.IsError {
			mutation.Incs[job.FieldErrorCount]++
		}
	}

	if err := a.jobs.Apply(ctx, ident, mutation); err != nil {
		return fmt.Errorf("commit analysis for %s: %w", ident, err)
	}
	metrics.ObserveAnalyzedEntries(len(entries))
	a.logger.Debug("analyzed log entries",
		logging.Ident(ident),
		zap.Int("entries", len(entries)),
		zap.Float64("checkpoint", entries[len(entries)-1].Score),
	)
	return nil
}

// maxScore is the open upper bound for checkpoint range reads.
const maxScore = 1e308
