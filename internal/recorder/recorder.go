// Package recorder persists finished and aborted jobs to cold storage so
// their records survive expiry of the hot store.
package recorder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Recorder consumes log-update signals and snapshots terminal jobs into cold
// storage under the derived document id. Duplicate-id conflicts are expected
// on redelivered signals and are ignored.
type Recorder struct {
	jobs    store.JobStore
	storage store.ColdStorage
	logger  *zap.Logger
}

// New constructs a Recorder.
func New(jobs store.JobStore, storage store.ColdStorage, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{jobs: jobs, storage: storage, logger: logger}
}

// HandleSignal processes one log-update signal whose payload is a job ident.
func (r *Recorder) HandleSignal(ctx context.Context, payload string) error {
	return r.Record(ctx, job.Ident(payload))
}

// Record writes the job's full field snapshot if the job is terminal.
func (r *Recorder) Record(ctx context.Context, ident job.Ident) error {
	rec, err := r.jobs.Get(ctx, ident)
	if err != nil {
		if err == store.ErrNotFound {
			r.logger.Debug("record signal for unknown job", logging.Ident(ident))
			return nil
		}
		return fmt.Errorf("load job %s: %w", ident, err)
	}
	if !rec.Aborted && !rec.Finished() {
		return nil
	}

	docID := rec.DocumentID()
	if err := r.storage.PutDocument(ctx, docID, rec.AsJSON()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			metrics.ObserveRecordedJob("conflict")
			r.logger.Debug("document already recorded", zap.String("doc_id", docID))
			return nil
		}
		metrics.ObserveRecordedJob("error")
		return fmt.Errorf("record job %s: %w", docID, err)
	}
	metrics.ObserveRecordedJob("stored")
	r.logger.Info("job recorded", zap.String("doc_id", docID))
	return nil
}
