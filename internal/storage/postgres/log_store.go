package postgres

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
)

// LogStore implements store.LogStore on Postgres.
type LogStore struct {
	db     Querier
	logger *zap.Logger

	// A malformed row below a checkpoint gets re-read on every signal;
	// lost tracks which rows were already reported so the metric and the
	// warning fire once per row, not once per read.
	mu   sync.Mutex
	lost map[string]struct{}
}

// NewLogStore wraps a pgx pool (or mock) in a LogStore.
func NewLogStore(db Querier, logger *zap.Logger) *LogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogStore{db: db, logger: logger, lost: make(map[string]struct{})}
}

// Append implements store.LogStore.
func (s *LogStore) Append(ctx context.Context, ident job.Ident, entry job.LogEntry, score float64) error {
	data, err := entry.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO log_entries (ident, score, entry) VALUES ($1, $2, $3)",
		ident.String(), score, data)
	if err != nil {
		return fmt.Errorf("append log entry: %w", err)
	}
	return nil
}

// ReadRange implements store.LogStore. Rows whose payload fails to parse are
// counted as lost and skipped; one bad entry never halts a batch.
func (s *LogStore) ReadRange(ctx context.Context, ident job.Ident, minExclusive, maxInclusive float64) ([]job.ScoredEntry, error) {
	rows, err := s.db.Query(ctx,
		"SELECT score, entry FROM log_entries WHERE ident = $1 AND score > $2 AND score <= $3 ORDER BY score",
		ident.String(), minExclusive, maxInclusive)
	if err != nil {
		return nil, fmt.Errorf("read log range: %w", err)
	}
	defer rows.Close()
	return s.collect(ident, rows, false)
}

// ReadTail implements store.LogStore.
func (s *LogStore) ReadTail(ctx context.Context, ident job.Ident, count int) ([]job.ScoredEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT score, entry FROM (
			SELECT score, entry FROM log_entries WHERE ident = $1 ORDER BY score DESC LIMIT $2
		) tail ORDER BY score`,
		ident.String(), count)
	if err != nil {
		return nil, fmt.Errorf("read log tail: %w", err)
	}
	defer rows.Close()
	return s.collect(ident, rows, false)
}

// DeleteRange implements store.LogStore.
func (s *LogStore) DeleteRange(ctx context.Context, ident job.Ident, minInclusive, maxInclusive float64) ([]job.ScoredEntry, error) {
	rows, err := s.db.Query(ctx,
		"DELETE FROM log_entries WHERE ident = $1 AND score >= $2 AND score <= $3 RETURNING score, entry",
		ident.String(), minInclusive, maxInclusive)
	if err != nil {
		return nil, fmt.Errorf("delete log range: %w", err)
	}
	defer rows.Close()

	out, err := s.collect(ident, rows, true)
	if err != nil {
		return nil, err
	}
	// RETURNING order is not guaranteed; restore score order.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score < out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out, nil
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (s *LogStore) collect(ident job.Ident, rows pgxRows, deleting bool) ([]job.ScoredEntry, error) {
	var out []job.ScoredEntry
	for rows.Next() {
		var score float64
		var raw []byte
		if err := rows.Scan(&score, &raw); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		entry, err := job.ParseEntry(raw)
		if err != nil {
			if s.reportLost(ident, score, deleting) {
				metrics.ObserveLostEntry()
				s.logger.Warn("dropping malformed log entry",
					logging.Ident(ident),
					zap.Float64("score", score),
					zap.Error(err),
				)
			}
			continue
		}
		out = append(out, job.ScoredEntry{Entry: entry, Score: score})
	}
	return out, rows.Err()
}

// reportLost says whether a malformed row should be counted. Deleting a row
// releases its slot so the score can be reported again if reused.
func (s *LogStore) reportLost(ident job.Ident, score float64, deleting bool) bool {
	key := fmt.Sprintf("%s:%g", ident, score)
	s.mu.Lock()
	defer s.mu.Unlock()
	if deleting {
		delete(s.lost, key)
		return false
	}
	if _, ok := s.lost[key]; ok {
		return false
	}
	s.lost[key] = struct{}{}
	return true
}
