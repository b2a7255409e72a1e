package lifecycle

import (
	"context"
	"fmt"
	"strconv"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Notifier accumulates parameter-change notifications across one or more
// mutations and flushes them as a single message per job. It is passed
// explicitly through the call chain; there is no ambient state.
//
// Every mutation still bumps settings_age immediately; the Notifier only
// batches the publication. A silenced Notifier discards notifications.
type Notifier struct {
	bus     store.Bus
	silent  bool
	pending map[job.Ident]int64
}

// NewNotifier returns a Notifier publishing on the given bus.
func NewNotifier(bus store.Bus) *Notifier {
	return &Notifier{bus: bus, pending: make(map[job.Ident]int64)}
}

// Silent returns a Notifier that swallows every notification. Used when
// applying defaults during registration.
func Silent() *Notifier {
	return &Notifier{silent: true}
}

// record notes the latest settings age for the job; later ages supersede
// earlier ones so one flush emits exactly one message per job.
func (n *Notifier) record(ident job.Ident, age int64) {
	if n.silent {
		return
	}
	n.pending[ident] = age
}

// Flush publishes one parameter-change notification per recorded job on its
// per-job channel and clears the accumulator.
func (n *Notifier) Flush(ctx context.Context) error {
	if n.silent || len(n.pending) == 0 {
		return nil
	}
	for ident, age := range n.pending {
		if err := n.bus.Publish(ctx, store.JobChannel(ident), strconv.FormatInt(age, 10)); err != nil {
			return fmt.Errorf("publish parameter change for %s: %w", ident, err)
		}
	}
	n.pending = make(map[job.Ident]int64)
	return nil
}
