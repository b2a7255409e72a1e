// Package broadcast implements the fan-out engine: it turns log-update
// signals into structured update messages on the shared broadcast channel,
// where per-client relays pick them up.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Broadcaster consumes log-update signals, reads entries past the broadcast
// checkpoint, and publishes download-update and status-change messages.
//
// Messages are published before the checkpoint advances: a crash between the
// two redelivers entries on the next signal but never skips any.
type Broadcaster struct {
	jobs   store.JobStore
	logs   store.LogStore
	bus    store.Bus
	logger *zap.Logger

	mu       sync.Mutex
	terminal map[job.Ident]bool
}

// New constructs a Broadcaster.
func New(jobs store.JobStore, logs store.LogStore, bus store.Bus, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		jobs:     jobs,
		logs:     logs,
		bus:      bus,
		logger:   logger,
		terminal: make(map[job.Ident]bool),
	}
}

// HandleSignal processes one log-update signal whose payload is a job ident.
func (b *Broadcaster) HandleSignal(ctx context.Context, payload string) error {
	return b.Broadcast(ctx, job.Ident(payload))
}

// Broadcast publishes updates for the job. A signal for an ident with no
// record (e.g. an expired job) is skipped.
func (b *Broadcaster) Broadcast(ctx context.Context, ident job.Ident) error {
	rec, err := b.jobs.Get(ctx, ident)
	if err != nil {
		if err == store.ErrNotFound {
			b.logger.Debug("broadcast signal for unknown job", logging.Ident(ident))
			b.forget(ident)
			return nil
		}
		return fmt.Errorf("load job %s: %w", ident, err)
	}

	if err := b.announceTransition(ctx, rec); err != nil {
		return err
	}

	entries, err := b.logs.ReadRange(ctx, ident, rec.LastBroadcastedLogEntry, maxScore)
	if err != nil {
		return fmt.Errorf("read log %s: %w", ident, err)
	}
	if len(entries) == 0 {
		return nil
	}

	payload, err := encode(NewDownloadUpdate(rec, entries))
	if err != nil {
		return err
	}
	if err := b.bus.Publish(ctx, store.ChannelBroadcast, payload); err != nil {
		return fmt.Errorf("publish download update for %s: %w", ident, err)
	}

	mutation := store.Mutation{
		Checkpoints: map[string]float64{
			job.FieldLastBroadcastedLogEntry: entries[len(entries)-1].Score,
		},
	}
	if err := b.jobs.Apply(ctx, ident, mutation); err != nil {
		return fmt.Errorf("advance broadcast checkpoint for %s: %w", ident, err)
	}
	metrics.ObserveBroadcastEntries(len(entries))
	return nil
}

// announceTransition emits one status-change message the first time a job is
// seen aborted or finished.
func (b *Broadcaster) announceTransition(ctx context.Context, rec job.Record) error {
	if !rec.Aborted && !rec.Finished() {
		return nil
	}
	b.mu.Lock()
	seen := b.terminal[rec.Ident]
	b.mu.Unlock()
	if seen {
		return nil
	}

	payload, err := encode(NewStatusChange(rec))
	if err != nil {
		return err
	}
	if err := b.bus.Publish(ctx, store.ChannelBroadcast, payload); err != nil {
		return fmt.Errorf("publish status change for %s: %w", rec.Ident, err)
	}
	// Mark only after a successful publish so a transient bus failure is
	// retried on the next signal instead of skipped.
	b.mu.Lock()
	b.terminal[rec.Ident] = true
	b.mu.Unlock()
	metrics.ObserveStatusChange()
	return nil
}

func (b *Broadcaster) forget(ident job.Ident) {
	b.mu.Lock()
	delete(b.terminal, ident)
	b.mu.Unlock()
}

const maxScore = 1e308
