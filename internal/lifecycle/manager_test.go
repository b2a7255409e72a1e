package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/storage/memory"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

func newTestManager(ms *memory.Store, hooks ...Hook) *Manager {
	return New(ms, ms, ms, ms, hooks, nil)
}

func TestRegisterAppliesHookDefaults(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms,
		DefaultTuningHook{DelayMin: 250, DelayMax: 375, Concurrency: 3},
		IgnoreSetHook{Patterns: []string{"cdn\\.", "doubleclick"}},
	)
	ctx := context.Background()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/wiki"})
	require.NoError(t, err)

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/wiki", rec.URL)
	assert.Equal(t, job.DepthInfinite, rec.Depth)
	assert.Equal(t, 250.0, rec.DelayMin)
	assert.Equal(t, 375.0, rec.DelayMax)
	assert.Equal(t, int64(3), rec.Concurrency)
	// Hook defaults bump settings_age like any mutation, but the silent
	// notifier publishes nothing.
	assert.Equal(t, int64(2), rec.SettingsAge)

	patterns, err := ms.IgnorePatterns(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, []string{"cdn\\.", "doubleclick"}, patterns)
}

func TestRegisterDuplicateURL(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx := context.Background()

	first, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	// Trivially different spelling of the same URL collides on the ident.
	second, err := m.Register(ctx, RegisterRequest{URL: "https://EXAMPLE.com"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.Equal(t, first, second)

	ident, ok, err := m.Exists(ctx, "https://example.com/#top")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, first, ident)
}

func TestQueueSelectsQueueByDepthAndDestination(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx := context.Background()

	deep, err := m.Register(ctx, RegisterRequest{URL: "https://a.example.com/"})
	require.NoError(t, err)
	shallow, err := m.Register(ctx, RegisterRequest{URL: "https://b.example.com/", Depth: job.DepthShallow})
	require.NoError(t, err)
	targeted, err := m.Register(ctx, RegisterRequest{URL: "https://c.example.com/"})
	require.NoError(t, err)

	require.NoError(t, m.Queue(ctx, deep, ""))
	require.NoError(t, m.Queue(ctx, shallow, ""))
	require.NoError(t, m.Queue(ctx, targeted, "pipeline-7"))

	pending, err := ms.List(ctx, store.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{deep}, pending)

	priority, err := ms.List(ctx, store.QueuePriority)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{shallow}, priority)

	dest, err := ms.List(ctx, store.PendingQueue("pipeline-7"))
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{targeted}, dest)

	rec, err := ms.Get(ctx, deep)
	require.NoError(t, err)
	assert.NotNil(t, rec.QueuedAt)
}

func TestAbortRequestsAndNotifies(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	updates, err := ms.Subscribe(ctx, store.JobChannel(ident))
	require.NoError(t, err)

	n := NewNotifier(ms)
	require.NoError(t, m.Abort(ctx, n, ident))

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.True(t, rec.AbortRequested)
	assert.False(t, rec.Aborted, "worker acknowledges the abort, not the manager")
	assert.Equal(t, int64(1), rec.SettingsAge)

	// Nothing published until the notifier flushes.
	select {
	case p := <-updates:
		t.Fatalf("premature notification: %q", p)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, n.Flush(ctx))
	select {
	case p := <-updates:
		assert.Equal(t, "1", p)
	case <-time.After(time.Second):
		t.Fatal("no notification after flush")
	}
}

func TestBatchedChangesNotifyOnce(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	updates, err := ms.Subscribe(ctx, store.JobChannel(ident))
	require.NoError(t, err)

	n := NewNotifier(ms)
	require.NoError(t, m.SetDelay(ctx, n, ident, 100, 200))
	require.NoError(t, m.SetConcurrency(ctx, n, ident, 6))
	require.NoError(t, m.ToggleIgnores(ctx, n, ident, false))
	require.NoError(t, n.Flush(ctx))

	select {
	case p := <-updates:
		// One message carrying the final settings age.
		assert.Equal(t, "3", p)
	case <-time.After(time.Second):
		t.Fatal("no notification after flush")
	}
	select {
	case p := <-updates:
		t.Fatalf("expected a single batched notification, got extra %q", p)
	case <-time.After(50 * time.Millisecond):
	}

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, 100.0, rec.DelayMin)
	assert.Equal(t, int64(6), rec.Concurrency)
	assert.True(t, rec.SuppressIgnore)
	assert.Equal(t, int64(3), rec.SettingsAge)
}

func TestAppendEventScoresAndSignals(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	signals, err := ms.Subscribe(ctx, store.ChannelLogUpdates)
	require.NoError(t, err)

	require.NoError(t, m.AppendEvent(ctx, ident, job.LogEntry{
		Type: job.EntryDownload, URL: "https://example.com/a", ResponseCode: 200, Bytes: 1024,
	}))
	require.NoError(t, m.AppendEvent(ctx, ident, job.LogEntry{
		Type: job.EntryStdout, Message: "checkpointing",
	}))

	entries, err := ms.ReadRange(ctx, ident, 0, 1e308)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Scores are strictly increasing, assigned by the append path.
	assert.Equal(t, 1.0, entries[0].Score)
	assert.Equal(t, 2.0, entries[1].Score)

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ItemsDownloaded)
	assert.Equal(t, int64(1024), rec.BytesDownloaded)

	for i := 0; i < 2; i++ {
		select {
		case p := <-signals:
			assert.Equal(t, ident.String(), p)
		case <-time.After(time.Second):
			t.Fatal("missing log-update signal")
		}
	}
}

func TestClaimAndMarkDone(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx := context.Background()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, m.Queue(ctx, ident, ""))
	require.NoError(t, m.Claim(ctx, ident, "pipeline-1"))

	working, err := ms.List(ctx, store.QueueWorking)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{ident}, working)

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, job.StateInProgress, rec.State())
	assert.Equal(t, "pipeline-1", rec.PipelineID)

	require.NoError(t, m.MarkDone(ctx, ident, 123456))

	working, err = ms.List(ctx, store.QueueWorking)
	require.NoError(t, err)
	assert.Empty(t, working)

	rec, err = ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, job.StateFinished, rec.State())
	assert.Equal(t, int64(123456), rec.WARCSize)
}

func TestFailRemovesFromQueues(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx := context.Background()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)
	require.NoError(t, m.Queue(ctx, ident, ""))
	require.NoError(t, m.Claim(ctx, ident, "pipeline-1"))

	require.NoError(t, m.Fail(ctx, ident))

	pending, err := ms.List(ctx, store.QueuePending)
	require.NoError(t, err)
	assert.Empty(t, pending)
	working, err := ms.List(ctx, store.QueueWorking)
	require.NoError(t, err)
	assert.Empty(t, working)

	rec, err := ms.Get(ctx, ident)
	require.NoError(t, err)
	assert.True(t, rec.Failed)
}

func TestNextScoreMonotonic(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx := context.Background()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	var last float64
	for i := 0; i < 10; i++ {
		score, err := m.NextScore(ctx, ident)
		require.NoError(t, err)
		assert.Greater(t, score, last)
		last = score
	}
}

func TestSilentNotifierSwallowsFlush(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	m := newTestManager(ms)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ident, err := m.Register(ctx, RegisterRequest{URL: "https://example.com/"})
	require.NoError(t, err)

	updates, err := ms.Subscribe(ctx, store.JobChannel(ident))
	require.NoError(t, err)

	n := Silent()
	require.NoError(t, m.SetDelay(ctx, n, ident, 1, 2))
	require.NoError(t, n.Flush(ctx))

	select {
	case p := <-updates:
		t.Fatalf("silent notifier published %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}
