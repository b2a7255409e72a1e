package lifecycle

import (
	"context"
	"fmt"

	"github.com/JakeFAU/archive-coordinator/internal/job"
)

// Hook runs after a job is registered, before it is handed back to the
// caller. Hooks form an ordered chain driven explicitly by the Manager.
type Hook interface {
	AfterRegister(ctx context.Context, m *Manager, ident job.Ident) error
}

// DefaultTuningHook applies the initial crawl tuning to new jobs without
// emitting parameter-change notifications.
type DefaultTuningHook struct {
	DelayMin    float64
	DelayMax    float64
	Concurrency int64
}

// AfterRegister implements Hook.
func (h DefaultTuningHook) AfterRegister(ctx context.Context, m *Manager, ident job.Ident) error {
	n := Silent()
	if err := m.SetDelay(ctx, n, ident, h.DelayMin, h.DelayMax); err != nil {
		return fmt.Errorf("apply default delay: %w", err)
	}
	if err := m.SetConcurrency(ctx, n, ident, h.Concurrency); err != nil {
		return fmt.Errorf("apply default concurrency: %w", err)
	}
	return nil
}

// IgnoreSetHook seeds new jobs with a shared set of ignore patterns.
type IgnoreSetHook struct {
	Patterns []string
}

// AfterRegister implements Hook.
func (h IgnoreSetHook) AfterRegister(ctx context.Context, m *Manager, ident job.Ident) error {
	if len(h.Patterns) == 0 {
		return nil
	}
	if err := m.jobs.AddIgnorePatterns(ctx, ident, h.Patterns...); err != nil {
		return fmt.Errorf("seed ignore patterns: %w", err)
	}
	return nil
}
