// Package trim implements the log trimmer: it reclaims log storage by
// deleting entries that both the analysis and broadcast engines have already
// consumed, optionally archiving them to cold storage first.
package trim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// DefaultThreshold is the minimum score gap between the trim checkpoint and
// the oldest still-needed entry before a trim is attempted. It bounds the
// number of delete calls, not the number of entries kept.
const DefaultThreshold = 1000

// Trimmer consumes log-update signals and trims fully-consumed log entries.
type Trimmer struct {
	jobs      store.JobStore
	logs      store.LogStore
	archive   store.ColdStorage
	threshold float64
	logger    *zap.Logger
}

// New constructs a Trimmer. A nil archive disables archival of trimmed
// entries. A threshold of 0 trims everything eligible on every signal.
func New(jobs store.JobStore, logs store.LogStore, archive store.ColdStorage, threshold float64, logger *zap.Logger) *Trimmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return &Trimmer{jobs: jobs, logs: logs, archive: archive, threshold: threshold, logger: logger}
}

// HandleSignal processes one log-update signal whose payload is a job ident.
func (t *Trimmer) HandleSignal(ctx context.Context, payload string) error {
	_, err := t.Trim(ctx, job.Ident(payload))
	return err
}

// Trim removes entries in [last_trimmed, min(analyzed, broadcasted)] once the
// gap reaches the threshold, advances the trim checkpoint, and returns the
// removed entries. Below the threshold it returns nil and writes nothing.
// The trim cursor never passes the other two checkpoints, so no entry is
// deleted before both consumers have seen it.
func (t *Trimmer) Trim(ctx context.Context, ident job.Ident) ([]job.ScoredEntry, error) {
	rec, err := t.jobs.Get(ctx, ident)
	if err != nil {
		if err == store.ErrNotFound {
			t.logger.Debug("trim signal for unknown job", logging.Ident(ident))
			return nil, nil
		}
		return nil, fmt.Errorf("load job %s: %w", ident, err)
	}

	m := rec.LastAnalyzedLogEntry
	if rec.LastBroadcastedLogEntry < m {
		m = rec.LastBroadcastedLogEntry
	}
	if m-rec.LastTrimmedLogEntry < t.threshold {
		return nil, nil
	}

	removed, err := t.logs.DeleteRange(ctx, ident, rec.LastTrimmedLogEntry, m)
	if err != nil {
		return nil, fmt.Errorf("delete log range for %s: %w", ident, err)
	}

	mutation := store.Mutation{
		Checkpoints: map[string]float64{job.FieldLastTrimmedLogEntry: m},
	}
	if err := t.jobs.Apply(ctx, ident, mutation); err != nil {
		return nil, fmt.Errorf("advance trim checkpoint for %s: %w", ident, err)
	}
	metrics.ObserveTrimmedEntries(len(removed))

	if t.archive != nil && len(removed) > 0 {
		if err := t.archiveEntries(ctx, ident, removed); err != nil {
			// The entries are already gone from the hot log; archival
			// failure is reported but does not undo the trim.
			t.logger.Warn("archive of trimmed entries failed",
				logging.Ident(ident), zap.Error(err))
		}
	}
	return removed, nil
}

func (t *Trimmer) archiveEntries(ctx context.Context, ident job.Ident, entries []job.ScoredEntry) error {
	type archived struct {
		Score float64      `json:"score"`
		Entry job.LogEntry `json:"entry"`
	}
	out := make([]archived, 0, len(entries))
	for _, se := range entries {
		out = append(out, archived{Score: se.Score, Entry: se.Entry})
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encode trimmed entries: %w", err)
	}
	key := fmt.Sprintf("trimmed/%s/%d.json", ident, time.Now().UTC().UnixNano())
	if err := t.archive.PutArchive(ctx, key, data); err != nil {
		return fmt.Errorf("put archive %s: %w", key, err)
	}
	return nil
}
