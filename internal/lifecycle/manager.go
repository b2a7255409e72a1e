// Package lifecycle implements the job lifecycle API: registration, queuing,
// two-phase abort, parameter changes, worker acknowledgements, and expiry.
// Every mutation is a small atomic transaction against the job store.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// TTLs applied when a job leaves the active set. Aborted and failed jobs
// expire quickly; completed jobs linger long enough for re-archival checks.
const (
	CompletedTTL = 168 * time.Hour
	AbortedTTL   = 5 * time.Second
	FailedTTL    = 5 * time.Second
)

// RegisterRequest carries the caller-supplied parameters for a new job.
type RegisterRequest struct {
	URL       string
	Depth     job.Depth
	StartedBy string
	StartedIn string
	UserAgent string
}

// Manager mutates job records and coordinates the surrounding bookkeeping:
// queue membership, log-update signals, and parameter-change notifications.
type Manager struct {
	jobs   store.JobStore
	queue  store.Queue
	logs   store.LogStore
	bus    store.Bus
	hooks  []Hook
	logger *zap.Logger
}

// New constructs a Manager. Hooks run in order after each registration.
func New(jobs store.JobStore, queue store.Queue, logs store.LogStore, bus store.Bus, hooks []Hook, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{jobs: jobs, queue: queue, logs: logs, bus: bus, hooks: hooks, logger: logger}
}

// Exists reports whether a job exists for the URL, returning its ident.
// Callers must check existence before registering; two racing registrations
// are still safe because Create is atomic and the loser sees ErrAlreadyExists.
func (m *Manager) Exists(ctx context.Context, rawURL string) (job.Ident, bool, error) {
	ident, _, err := job.NewIdent(rawURL)
	if err != nil {
		return "", false, err
	}
	ok, err := m.jobs.Exists(ctx, ident)
	if err != nil {
		return "", false, fmt.Errorf("check job %s: %w", ident, err)
	}
	return ident, ok, nil
}

// Register creates the job record and runs the post-registration hooks.
// Registering an existing URL returns store.ErrAlreadyExists.
func (m *Manager) Register(ctx context.Context, req RegisterRequest) (job.Ident, error) {
	ident, normalized, err := job.NewIdent(req.URL)
	if err != nil {
		return "", err
	}
	if req.Depth == "" {
		req.Depth = job.DepthInfinite
	}

	fields := map[string]any{
		job.FieldURL:        normalized,
		job.FieldFetchDepth: string(req.Depth),
		job.FieldStartedBy:  req.StartedBy,
		job.FieldStartedIn:  req.StartedIn,
		job.FieldUserAgent:  req.UserAgent,
	}
	if err := m.jobs.Create(ctx, ident, fields); err != nil {
		return ident, err
	}

	for _, h := range m.hooks {
		if err := h.AfterRegister(ctx, m, ident); err != nil {
			return ident, fmt.Errorf("post-registration hook: %w", err)
		}
	}

	m.logger.Info("job registered",
		logging.Ident(ident),
		zap.String("url", normalized),
		zap.String("depth", string(req.Depth)),
	)
	return ident, nil
}

// Queue stamps queued_at and pushes the ident onto the work queue: a named
// queue when a destination pipeline is given, the priority queue for
// shallow jobs, otherwise the default pending queue.
func (m *Manager) Queue(ctx context.Context, ident job.Ident, destination string) error {
	rec, err := m.jobs.Get(ctx, ident)
	if err != nil {
		return fmt.Errorf("load job %s: %w", ident, err)
	}

	name := store.PendingQueue(destination)
	if destination == "" && rec.Depth == job.DepthShallow {
		name = store.QueuePriority
	}

	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldQueuedAt: time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("stamp queued_at for %s: %w", ident, err)
	}
	if err := m.queue.Push(ctx, name, ident); err != nil {
		return fmt.Errorf("queue %s on %s: %w", ident, name, err)
	}

	m.logger.Info("job queued", logging.Ident(ident), zap.String("queue", name))
	return nil
}

// Abort requests cancellation. The aborted flag itself is set later by the
// worker via MarkAborted once it honors the request.
func (m *Manager) Abort(ctx context.Context, n *Notifier, ident job.Ident) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldAbortRequested: true,
	}); err != nil {
		return fmt.Errorf("request abort for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// SetDelay sets the inter-request delay range in milliseconds.
func (m *Manager) SetDelay(ctx context.Context, n *Notifier, ident job.Ident, min, max float64) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldDelayMin: min,
		job.FieldDelayMax: max,
	}); err != nil {
		return fmt.Errorf("set delay for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// SetConcurrency sets the worker concurrency level.
func (m *Manager) SetConcurrency(ctx context.Context, n *Notifier, ident job.Ident, level int64) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldConcurrency: level,
	}); err != nil {
		return fmt.Errorf("set concurrency for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// ToggleIgnores enables or suppresses ignore-pattern reports.
func (m *Manager) ToggleIgnores(ctx context.Context, n *Notifier, ident job.Ident, enabled bool) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldSuppressIgnores: !enabled,
	}); err != nil {
		return fmt.Errorf("toggle ignores for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// AddIgnorePatterns adds ignore patterns to the job.
func (m *Manager) AddIgnorePatterns(ctx context.Context, n *Notifier, ident job.Ident, patterns ...string) error {
	if err := m.jobs.AddIgnorePatterns(ctx, ident, patterns...); err != nil {
		return fmt.Errorf("add ignore patterns for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// RemoveIgnorePattern removes one ignore pattern from the job.
func (m *Manager) RemoveIgnorePattern(ctx context.Context, n *Notifier, ident job.Ident, pattern string) error {
	if err := m.jobs.RemoveIgnorePattern(ctx, ident, pattern); err != nil {
		return fmt.Errorf("remove ignore pattern for %s: %w", ident, err)
	}
	return m.parametersChanged(ctx, n, ident)
}

// Expire schedules immediate deletion of all per-job state. Used once the
// caller has decided the job is eligible for re-archival.
func (m *Manager) Expire(ctx context.Context, ident job.Ident) error {
	if err := m.jobs.Expire(ctx, ident, 0); err != nil {
		return fmt.Errorf("expire %s: %w", ident, err)
	}
	return nil
}

// Fail marks the job failed, drops it from the pending and working queues,
// and expires its state after a short grace period.
func (m *Manager) Fail(ctx context.Context, ident job.Ident) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldFailed: true,
	}); err != nil {
		return fmt.Errorf("mark %s failed: %w", ident, err)
	}
	if err := m.queue.Remove(ctx, store.QueuePending, ident); err != nil {
		return fmt.Errorf("dequeue %s: %w", ident, err)
	}
	if err := m.queue.Remove(ctx, store.QueueWorking, ident); err != nil {
		return fmt.Errorf("remove %s from working: %w", ident, err)
	}
	if err := m.jobs.Expire(ctx, ident, FailedTTL); err != nil {
		return fmt.Errorf("expire %s: %w", ident, err)
	}
	metrics.ObserveFailedJob()
	m.logger.Warn("job failed", logging.Ident(ident))
	return nil
}

// Claim records a worker taking the job: started_at and pipeline_id are
// stamped and the ident moves to the working list.
func (m *Manager) Claim(ctx context.Context, ident job.Ident, pipelineID string) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldStartedAt:  time.Now().Unix(),
		job.FieldPipelineID: pipelineID,
	}); err != nil {
		return fmt.Errorf("claim %s: %w", ident, err)
	}
	if err := m.queue.Push(ctx, store.QueueWorking, ident); err != nil {
		return fmt.Errorf("push %s to working: %w", ident, err)
	}
	return nil
}

// MarkAborted is the worker acknowledgement of an abort request; it sets the
// aborted flag and signals the log channel so engines see the transition.
func (m *Manager) MarkAborted(ctx context.Context, ident job.Ident) error {
	if err := m.jobs.SetFields(ctx, ident, map[string]any{
		job.FieldAborted: true,
	}); err != nil {
		return fmt.Errorf("mark %s aborted: %w", ident, err)
	}
	return m.signal(ctx, ident)
}

// MarkDone finishes the job: finished_at is stamped, the ident leaves the
// working list, per-job state gets its retention TTL (short when aborted),
// and the log channel is signaled.
func (m *Manager) MarkDone(ctx context.Context, ident job.Ident, warcSize int64) error {
	rec, err := m.jobs.Get(ctx, ident)
	if err != nil {
		return fmt.Errorf("load job %s: %w", ident, err)
	}
	fields := map[string]any{
		job.FieldFinishedAt: time.Now().Unix(),
	}
	if warcSize > 0 {
		fields[job.FieldWARCSize] = warcSize
	}
	if err := m.jobs.SetFields(ctx, ident, fields); err != nil {
		return fmt.Errorf("mark %s done: %w", ident, err)
	}
	if err := m.queue.Remove(ctx, store.QueueWorking, ident); err != nil {
		return fmt.Errorf("remove %s from working: %w", ident, err)
	}

	ttl := CompletedTTL
	if rec.Aborted {
		ttl = AbortedTTL
	}
	if err := m.jobs.Expire(ctx, ident, ttl); err != nil {
		return fmt.Errorf("expire %s: %w", ident, err)
	}
	return m.signal(ctx, ident)
}

// NextScore hands the append path the next log score for the job. Scores are
// strictly increasing per job.
func (m *Manager) NextScore(ctx context.Context, ident job.Ident) (float64, error) {
	n, err := m.jobs.IncrementField(ctx, ident, job.FieldLogScore, 1)
	if err != nil {
		return 0, fmt.Errorf("next score for %s: %w", ident, err)
	}
	return float64(n), nil
}

// AppendEvent is the ingest path for worker events: the entry is scored,
// appended to the job's log, raw counters are bumped, and the shared
// log-update channel is signaled.
func (m *Manager) AppendEvent(ctx context.Context, ident job.Ident, entry job.LogEntry) error {
	score, err := m.NextScore(ctx, ident)
	if err != nil {
		return err
	}
	if err := m.logs.Append(ctx, ident, entry, score); err != nil {
		return fmt.Errorf("append log entry for %s: %w", ident, err)
	}

	if entry.Type == job.EntryDownload {
		mutation := store.Mutation{Incs: map[string]int64{
			job.FieldItemsDownloaded: 1,
		}}
		if entry.Bytes > 0 {
			mutation.Incs[job.FieldBytesDownloaded] = entry.Bytes
		}
		if err := m.jobs.Apply(ctx, ident, mutation); err != nil {
			return fmt.Errorf("bump counters for %s: %w", ident, err)
		}
	}
	return m.signal(ctx, ident)
}

// Heartbeat bumps the job's heartbeat counter for liveness tracking.
func (m *Manager) Heartbeat(ctx context.Context, ident job.Ident) error {
	if _, err := m.jobs.IncrementField(ctx, ident, job.FieldHeartbeat, 1); err != nil {
		return fmt.Errorf("heartbeat for %s: %w", ident, err)
	}
	return nil
}

func (m *Manager) signal(ctx context.Context, ident job.Ident) error {
	if err := m.bus.Publish(ctx, store.ChannelLogUpdates, ident.String()); err != nil {
		return fmt.Errorf("signal log update for %s: %w", ident, err)
	}
	return nil
}

// parametersChanged bumps settings_age and records the notification on the
// caller's Notifier; publication happens when the Notifier flushes.
func (m *Manager) parametersChanged(ctx context.Context, n *Notifier, ident job.Ident) error {
	age, err := m.jobs.IncrementField(ctx, ident, job.FieldSettingsAge, 1)
	if err != nil {
		return fmt.Errorf("bump settings age for %s: %w", ident, err)
	}
	if n != nil {
		n.record(ident, age)
	}
	return nil
}
