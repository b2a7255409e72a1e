// Package reaper fails jobs whose workers stop sending heartbeats.
//
// For each working job the reaper compares the current heartbeat against the
// last acknowledged one. Progress resets the death timer; a stalled
// heartbeat increments it, and once the timer passes the threshold the job
// is failed.
package reaper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/lifecycle"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/metrics"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Defaults: one check cycle every two seconds, reap after 3600 stalled
// cycles (two hours without a heartbeat).
const (
	DefaultInterval  = 2 * time.Second
	DefaultThreshold = 3600
)

// Reaper periodically sweeps the working list.
type Reaper struct {
	jobs      store.JobStore
	queue     store.Queue
	manager   *lifecycle.Manager
	interval  time.Duration
	threshold int64
	logger    *zap.Logger
}

// New constructs a Reaper. Non-positive interval/threshold select defaults.
func New(jobs store.JobStore, queue store.Queue, manager *lifecycle.Manager, interval time.Duration, threshold int64, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Reaper{
		jobs:      jobs,
		queue:     queue,
		manager:   manager,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
}

// Run blocks, sweeping every interval until the context finishes.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("reaper sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep checks every working job once.
func (r *Reaper) Sweep(ctx context.Context) error {
	idents, err := r.queue.List(ctx, store.QueueWorking)
	if err != nil {
		return fmt.Errorf("list working jobs: %w", err)
	}
	for _, ident := range idents {
		if err := r.checkOne(ctx, ident); err != nil {
			r.logger.Error("heartbeat check failed",
				logging.Ident(ident), zap.Error(err))
		}
	}
	return nil
}

func (r *Reaper) checkOne(ctx context.Context, ident job.Ident) error {
	rec, err := r.jobs.Get(ctx, ident)
	if err != nil {
		if err == store.ErrNotFound {
			// Expired while on the working list; nothing to reap.
			return r.queue.Remove(ctx, store.QueueWorking, ident)
		}
		return err
	}

	fields, err := r.heartbeatFields(ctx, ident)
	if err != nil {
		return err
	}
	current, acked := fields[0], fields[1]

	// No heartbeat yet means the worker has not started reporting; jobs
	// without heartbeats are never reaped.
	if current == 0 {
		return nil
	}

	if acked == 0 {
		return r.jobs.SetFields(ctx, ident, map[string]any{
			job.FieldLastAckHeartbeat: current,
		})
	}

	if current > acked {
		return r.jobs.SetFields(ctx, ident, map[string]any{
			job.FieldLastAckHeartbeat: current,
			job.FieldDeathTimer:       int64(0),
		})
	}

	count, err := r.jobs.IncrementField(ctx, ident, job.FieldDeathTimer, 1)
	if err != nil {
		return err
	}
	if count >= r.threshold {
		r.logger.Warn("reaping stalled job",
			logging.Ident(ident),
			zap.Int64("stalled_cycles", count),
			zap.String("pipeline_id", rec.PipelineID),
		)
		metrics.ObserveReapedJob()
		return r.manager.Fail(ctx, ident)
	}
	return nil
}

// heartbeatFields reads the heartbeat counters. They are bookkeeping fields
// outside the Record snapshot, so they are read via zero increments.
func (r *Reaper) heartbeatFields(ctx context.Context, ident job.Ident) ([2]int64, error) {
	current, err := r.jobs.IncrementField(ctx, ident, job.FieldHeartbeat, 0)
	if err != nil {
		return [2]int64{}, err
	}
	acked, err := r.jobs.IncrementField(ctx, ident, job.FieldLastAckHeartbeat, 0)
	if err != nil {
		return [2]int64{}, err
	}
	return [2]int64{current, acked}, nil
}
