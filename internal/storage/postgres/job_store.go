// Package postgres provides Postgres-backed store, queue, log, and bus
// providers built on pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

//go:embed schema.sql
var schema string

// Querier is the subset of pgxpool.Pool the stores use; pgxmock satisfies it
// in tests.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// jobColumns whitelists the field names accepted in dynamic statements.
var jobColumns = map[string]struct{}{
	job.FieldURL: {}, job.FieldFetchDepth: {}, job.FieldStartedBy: {},
	job.FieldStartedIn: {}, job.FieldUserAgent: {}, job.FieldPipelineID: {},
	job.FieldQueuedAt: {}, job.FieldStartedAt: {}, job.FieldFinishedAt: {},
	job.FieldAborted: {}, job.FieldAbortRequested: {}, job.FieldFailed: {},
	job.FieldSuppressIgnores: {}, job.FieldBytesDownloaded: {},
	job.FieldItemsDownloaded: {}, job.FieldItemsQueued: {},
	job.FieldWARCSize: {}, job.FieldErrorCount: {},
	job.FieldResponses1xx: {}, job.FieldResponses2xx: {},
	job.FieldResponses3xx: {}, job.FieldResponses4xx: {},
	job.FieldResponses5xx: {}, job.FieldResponsesUnknown: {},
	job.FieldLastAnalyzedLogEntry: {}, job.FieldLastBroadcastedLogEntry: {},
	job.FieldLastTrimmedLogEntry: {}, job.FieldConcurrency: {},
	job.FieldDelayMin: {}, job.FieldDelayMax: {}, job.FieldSettingsAge: {},
	job.FieldLogScore: {}, job.FieldHeartbeat: {},
	job.FieldLastAckHeartbeat: {}, job.FieldDeathTimer: {},
}

// liveFilter excludes rows whose retention TTL has passed but which the
// janitor has not deleted yet.
const liveFilter = "(expires_at IS NULL OR expires_at > now())"

// JobStore implements store.JobStore and store.Queue on Postgres.
type JobStore struct {
	db Querier
}

// NewJobStore wraps a pgx pool (or mock) in a JobStore.
func NewJobStore(db Querier) *JobStore {
	return &JobStore{db: db}
}

// Migrate applies the schema. It is idempotent.
func Migrate(ctx context.Context, db Querier) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, ident job.Ident) (job.Record, error) {
	rows, err := s.db.Query(ctx,
		"SELECT * FROM jobs WHERE ident = $1 AND "+liveFilter, ident.String())
	if err != nil {
		return job.Record{}, fmt.Errorf("query job: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return job.Record{}, fmt.Errorf("scan job: %w", err)
		}
		return job.Record{}, store.ErrNotFound
	}

	values, err := rows.Values()
	if err != nil {
		return job.Record{}, fmt.Errorf("read job row: %w", err)
	}
	fields := make(map[string]any, len(values))
	for i, fd := range rows.FieldDescriptions() {
		fields[string(fd.Name)] = values[i]
	}
	return job.FromFields(ident, fields), nil
}

// Exists implements store.JobStore.
func (s *JobStore) Exists(ctx context.Context, ident job.Ident) (bool, error) {
	var ok bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM jobs WHERE ident = $1 AND "+liveFilter+")",
		ident.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return ok, nil
}

// Create implements store.JobStore.
func (s *JobStore) Create(ctx context.Context, ident job.Ident, fields map[string]any) error {
	cols := []string{"ident"}
	args := []any{ident.String()}
	for _, name := range sortedFields(fields) {
		if err := checkColumn(name); err != nil {
			return err
		}
		cols = append(cols, name)
		args = append(args, fields[name])
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(
		"INSERT INTO jobs (%s) VALUES (%s) ON CONFLICT (ident) DO NOTHING",
		strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrAlreadyExists
	}
	return nil
}

// SetFields implements store.JobStore.
func (s *JobStore) SetFields(ctx context.Context, ident job.Ident, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	sets := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields)+1)
	for _, name := range sortedFields(fields) {
		if err := checkColumn(name); err != nil {
			return err
		}
		args = append(args, fields[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	args = append(args, ident.String())

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE ident = $%d AND "+liveFilter,
		strings.Join(sets, ", "), len(args))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementField implements store.JobStore.
func (s *JobStore) IncrementField(ctx context.Context, ident job.Ident, field string, delta int64) (int64, error) {
	if err := checkColumn(field); err != nil {
		return 0, err
	}
	query := fmt.Sprintf(
		"UPDATE jobs SET %s = %s + $1 WHERE ident = $2 AND "+liveFilter+" RETURNING %s",
		field, field, field)
	var next int64
	if err := s.db.QueryRow(ctx, query, delta, ident.String()).Scan(&next); err != nil {
		if err == pgx.ErrNoRows {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("increment %s: %w", field, err)
	}
	return next, nil
}

// Apply implements store.JobStore. Sets, increments, and guarded checkpoint
// advances are issued as one statement, so the batch commits atomically.
func (s *JobStore) Apply(ctx context.Context, ident job.Ident, m store.Mutation) error {
	if m.Empty() {
		return nil
	}
	var sets []string
	var args []any
	for _, name := range sortedFields(m.Sets) {
		if err := checkColumn(name); err != nil {
			return err
		}
		args = append(args, m.Sets[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
	}
	for _, name := range sortedIncs(m.Incs) {
		if err := checkColumn(name); err != nil {
			return err
		}
		args = append(args, m.Incs[name])
		sets = append(sets, fmt.Sprintf("%s = %s + $%d", name, name, len(args)))
	}
	guards := []string{liveFilter}
	for _, name := range sortedCheckpoints(m.Checkpoints) {
		if err := checkColumn(name); err != nil {
			return err
		}
		args = append(args, m.Checkpoints[name])
		sets = append(sets, fmt.Sprintf("%s = $%d", name, len(args)))
		guards = append(guards, fmt.Sprintf("%s <= $%d", name, len(args)))
	}
	args = append(args, ident.String())

	query := fmt.Sprintf("UPDATE jobs SET %s WHERE ident = $%d AND %s",
		strings.Join(sets, ", "), len(args), strings.Join(guards, " AND "))
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply mutation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.Exists(ctx, ident)
		if err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrCheckpointRegression
	}
	return nil
}

// Expire implements store.JobStore. Expired rows vanish from reads at once;
// a periodic DeleteExpired sweep reclaims the storage.
func (s *JobStore) Expire(ctx context.Context, ident job.Ident, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	_, err := s.db.Exec(ctx,
		"UPDATE jobs SET expires_at = now() + $1 WHERE ident = $2",
		ttl, ident.String())
	if err != nil {
		return fmt.Errorf("expire job: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose TTL has passed; the log entries and
// ignore patterns cascade. Returns the number of jobs deleted.
func (s *JobStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM jobs WHERE expires_at IS NOT NULL AND expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddIgnorePatterns implements store.JobStore.
func (s *JobStore) AddIgnorePatterns(ctx context.Context, ident job.Ident, patterns ...string) error {
	for _, p := range patterns {
		_, err := s.db.Exec(ctx,
			"INSERT INTO ignore_patterns (ident, pattern) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			ident.String(), p)
		if err != nil {
			return fmt.Errorf("add ignore pattern: %w", err)
		}
	}
	return nil
}

// RemoveIgnorePattern implements store.JobStore.
func (s *JobStore) RemoveIgnorePattern(ctx context.Context, ident job.Ident, pattern string) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM ignore_patterns WHERE ident = $1 AND pattern = $2",
		ident.String(), pattern)
	if err != nil {
		return fmt.Errorf("remove ignore pattern: %w", err)
	}
	return nil
}

// IgnorePatterns implements store.JobStore.
func (s *JobStore) IgnorePatterns(ctx context.Context, ident job.Ident) ([]string, error) {
	rows, err := s.db.Query(ctx,
		"SELECT pattern FROM ignore_patterns WHERE ident = $1 ORDER BY pattern",
		ident.String())
	if err != nil {
		return nil, fmt.Errorf("list ignore patterns: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan ignore pattern: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Push implements store.Queue.
func (s *JobStore) Push(ctx context.Context, queue string, ident job.Ident) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO queues (queue, ident) VALUES ($1, $2)",
		queue, ident.String())
	if err != nil {
		return fmt.Errorf("push to queue %s: %w", queue, err)
	}
	return nil
}

// Remove implements store.Queue.
func (s *JobStore) Remove(ctx context.Context, queue string, ident job.Ident) error {
	_, err := s.db.Exec(ctx,
		"DELETE FROM queues WHERE queue = $1 AND ident = $2",
		queue, ident.String())
	if err != nil {
		return fmt.Errorf("remove from queue %s: %w", queue, err)
	}
	return nil
}

// List implements store.Queue.
func (s *JobStore) List(ctx context.Context, queue string) ([]job.Ident, error) {
	rows, err := s.db.Query(ctx,
		"SELECT ident FROM queues WHERE queue = $1 ORDER BY pos", queue)
	if err != nil {
		return nil, fmt.Errorf("list queue %s: %w", queue, err)
	}
	defer rows.Close()

	var out []job.Ident
	for rows.Next() {
		var ident string
		if err := rows.Scan(&ident); err != nil {
			return nil, fmt.Errorf("scan queue entry: %w", err)
		}
		out = append(out, job.Ident(ident))
	}
	return out, rows.Err()
}

func checkColumn(name string) error {
	if _, ok := jobColumns[name]; !ok {
		return fmt.Errorf("unknown job field %q", name)
	}
	return nil
}

func sortedFields(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedIncs(m map[string]int64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedCheckpoints(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
