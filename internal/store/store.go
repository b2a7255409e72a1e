// Package store declares the persistence and messaging interfaces the
// engines depend on. Implementations live in internal/storage; this package
// must not import database drivers or concrete clients.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/archive-coordinator/internal/job"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("job record not found")

// ErrAlreadyExists signals a register attempt on an existing ident.
var ErrAlreadyExists = errors.New("job record already exists")

// ErrConflict signals a duplicate-id write to cold storage. Callers treat it
// as a harmless duplicate-delivery artifact.
var ErrConflict = errors.New("document id conflict")

// ErrCheckpointRegression signals an attempt to move a checkpoint backward.
// It indicates a sequencing bug and must never be silently corrected.
var ErrCheckpointRegression = errors.New("checkpoint would move backward")

// Well-known queue names.
const (
	QueuePending  = "pending"
	QueuePriority = "pending-ao"
	QueueWorking  = "working"
)

// PendingQueue returns the queue name for an optional destination pipeline.
func PendingQueue(destination string) string {
	if destination == "" {
		return QueuePending
	}
	return QueuePending + ":" + destination
}

// Mutation is an atomic batch of job-record writes. Sets overwrite fields,
// Incs add deltas to integer counters, and Checkpoints advance cursor fields
// under a monotonicity guard: a checkpoint value below the stored one fails
// the whole batch with ErrCheckpointRegression and nothing is applied.
type Mutation struct {
	Sets        map[string]any
	Incs        map[string]int64
	Checkpoints map[string]float64
}

// Empty reports whether applying the mutation would write nothing.
func (m Mutation) Empty() bool {
	return len(m.Sets) == 0 && len(m.Incs) == 0 && len(m.Checkpoints) == 0
}

// JobStore persists job records keyed by ident.
type JobStore interface {
	// Get loads every field of a job or returns ErrNotFound.
	Get(ctx context.Context, ident job.Ident) (job.Record, error)
	// Exists reports whether a record exists for the ident.
	Exists(ctx context.Context, ident job.Ident) (bool, error)
	// Create registers a new record or returns ErrAlreadyExists.
	Create(ctx context.Context, ident job.Ident, fields map[string]any) error
	// SetFields overwrites the given fields. Last write wins per field.
	SetFields(ctx context.Context, ident job.Ident, fields map[string]any) error
	// IncrementField atomically adds delta and returns the new value.
	IncrementField(ctx context.Context, ident job.Ident, field string, delta int64) (int64, error)
	// Apply commits the mutation as a single atomic batch.
	Apply(ctx context.Context, ident job.Ident, m Mutation) error
	// Expire schedules deletion of all per-job state after ttl (0 = now).
	Expire(ctx context.Context, ident job.Ident, ttl time.Duration) error

	// AddIgnorePatterns adds patterns to the job's ignore set.
	AddIgnorePatterns(ctx context.Context, ident job.Ident, patterns ...string) error
	// RemoveIgnorePattern removes one pattern from the ignore set.
	RemoveIgnorePattern(ctx context.Context, ident job.Ident, pattern string) error
	// IgnorePatterns lists the job's ignore set.
	IgnorePatterns(ctx context.Context, ident job.Ident) ([]string, error)
}

// Queue is the named work-queue surface of the job store.
type Queue interface {
	// Push appends the ident to the named queue.
	Push(ctx context.Context, queue string, ident job.Ident) error
	// Remove deletes every occurrence of the ident from the named queue.
	Remove(ctx context.Context, queue string, ident job.Ident) error
	// List returns the idents currently on the named queue, oldest first.
	List(ctx context.Context, queue string) ([]job.Ident, error)
}

// LogStore persists per-job append-only logs ordered by score.
type LogStore interface {
	// Append writes an entry at the given score. The append path must
	// generate scores strictly greater than any previous score for the job.
	Append(ctx context.Context, ident job.Ident, entry job.LogEntry, score float64) error
	// ReadRange returns entries with min < score <= max, ascending.
	ReadRange(ctx context.Context, ident job.Ident, minExclusive, maxInclusive float64) ([]job.ScoredEntry, error)
	// ReadTail returns the last count entries, ascending.
	ReadTail(ctx context.Context, ident job.Ident, count int) ([]job.ScoredEntry, error)
	// DeleteRange removes entries with min <= score <= max and returns them.
	DeleteRange(ctx context.Context, ident job.Ident, minInclusive, maxInclusive float64) ([]job.ScoredEntry, error)
}

// Bus is the pub/sub notification channel between the append path and the
// engines. Delivery is at-most-once per subscriber; consumers rely on
// persistent checkpoints, so lost or duplicated payloads are harmless.
type Bus interface {
	// Publish sends payload to every current subscriber of channel.
	Publish(ctx context.Context, channel, payload string) error
	// Subscribe returns a stream of payloads for channel. The stream closes
	// when ctx is canceled.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// ColdStorage receives documents for long-term archival. Duplicate-id writes
// return ErrConflict; any other failure is fatal to the write.
type ColdStorage interface {
	// PutDocument stores a JSON document under id.
	PutDocument(ctx context.Context, id string, doc map[string]any) error
	// PutArchive stores a blob of trimmed log data under key.
	PutArchive(ctx context.Context, key string, data []byte) error
}
