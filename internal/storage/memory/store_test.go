package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

func TestJobRecordLifecycle(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")

	ok, err := s.Exists(ctx, ident)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, ident)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Create(ctx, ident, map[string]any{job.FieldURL: "https://example.com/"}))
	assert.ErrorIs(t, s.Create(ctx, ident, nil), store.ErrAlreadyExists)

	require.NoError(t, s.SetFields(ctx, ident, map[string]any{job.FieldPipelineID: "p1"}))
	rec, err := s.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", rec.URL)
	assert.Equal(t, "p1", rec.PipelineID)

	n, err := s.IncrementField(ctx, ident, job.FieldLogScore, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = s.IncrementField(ctx, ident, job.FieldLogScore, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	assert.ErrorIs(t, s.SetFields(ctx, "missing", nil), store.ErrNotFound)
}

func TestApplyAtomicBatch(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")
	require.NoError(t, s.Create(ctx, ident, nil))

	err := s.Apply(ctx, ident, store.Mutation{
		Incs:        map[string]int64{job.FieldResponses2xx: 2, job.FieldErrorCount: 1},
		Checkpoints: map[string]float64{job.FieldLastAnalyzedLogEntry: 5},
	})
	require.NoError(t, err)

	rec, err := s.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.ResponseCounts[job.Bucket2xx])
	assert.Equal(t, int64(1), rec.ErrorCount)
	assert.Equal(t, 5.0, rec.LastAnalyzedLogEntry)
}

func TestApplyRejectsCheckpointRegression(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")
	require.NoError(t, s.Create(ctx, ident, nil))
	require.NoError(t, s.Apply(ctx, ident, store.Mutation{
		Checkpoints: map[string]float64{job.FieldLastAnalyzedLogEntry: 10},
	}))

	err := s.Apply(ctx, ident, store.Mutation{
		Incs:        map[string]int64{job.FieldErrorCount: 1},
		Checkpoints: map[string]float64{job.FieldLastAnalyzedLogEntry: 4},
	})
	assert.ErrorIs(t, err, store.ErrCheckpointRegression)

	// The failed batch must leave the record untouched.
	rec, err := s.Get(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.ErrorCount)
	assert.Equal(t, 10.0, rec.LastAnalyzedLogEntry)

	// Re-applying the same checkpoint is allowed; only regression fails.
	require.NoError(t, s.Apply(ctx, ident, store.Mutation{
		Checkpoints: map[string]float64{job.FieldLastAnalyzedLogEntry: 10},
	}))
}

func TestExpirePurgesAllJobState(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")
	require.NoError(t, s.Create(ctx, ident, nil))
	require.NoError(t, s.AddIgnorePatterns(ctx, ident, "cdn\\."))
	require.NoError(t, s.Append(ctx, ident, job.LogEntry{Type: job.EntryStdout}, 1))

	require.NoError(t, s.Expire(ctx, ident, 0))

	_, err := s.Get(ctx, ident)
	assert.ErrorIs(t, err, store.ErrNotFound)
	patterns, err := s.IgnorePatterns(ctx, ident)
	require.NoError(t, err)
	assert.Empty(t, patterns)
	entries, err := s.ReadRange(ctx, ident, 0, 1e308)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIgnorePatternSet(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")
	require.NoError(t, s.Create(ctx, ident, nil))

	require.NoError(t, s.AddIgnorePatterns(ctx, ident, "b", "a", "b"))
	patterns, err := s.IgnorePatterns(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, patterns)

	require.NoError(t, s.RemoveIgnorePattern(ctx, ident, "a"))
	patterns, err = s.IgnorePatterns(ctx, ident)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, patterns)
}

func TestQueueOrderAndRemove(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	require.NoError(t, s.Push(ctx, store.QueuePending, "a"))
	require.NoError(t, s.Push(ctx, store.QueuePending, "b"))
	require.NoError(t, s.Push(ctx, store.QueuePending, "c"))
	require.NoError(t, s.Push(ctx, store.QueuePriority, "z"))

	items, err := s.List(ctx, store.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{"a", "b", "c"}, items)

	require.NoError(t, s.Remove(ctx, store.QueuePending, "b"))
	items, err = s.List(ctx, store.QueuePending)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{"a", "c"}, items)

	items, err = s.List(ctx, store.QueuePriority)
	require.NoError(t, err)
	assert.Equal(t, []job.Ident{"z"}, items)
}

func TestLogRangeSemantics(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	ident := job.Ident("j1")
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, ident, job.LogEntry{Type: job.EntryStdout, Message: "m"}, float64(i)))
	}

	// ReadRange is exclusive at the low end, inclusive at the high end.
	entries, err := s.ReadRange(ctx, ident, 2, 4)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3.0, entries[0].Score)
	assert.Equal(t, 4.0, entries[1].Score)

	tail, err := s.ReadTail(ctx, ident, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, 4.0, tail[0].Score)
	assert.Equal(t, 5.0, tail[1].Score)

	// DeleteRange is inclusive at both ends.
	removed, err := s.DeleteRange(ctx, ident, 1, 3)
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	left, err := s.ReadRange(ctx, ident, 0, 1e308)
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, 4.0, left[0].Score)
}

func TestBusFanOut(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch1, err := s.Subscribe(ctx, "updates")
	require.NoError(t, err)
	ch2, err := s.Subscribe(ctx, "updates")
	require.NoError(t, err)
	other, err := s.Subscribe(ctx, "broadcast")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "updates", "j1"))

	assert.Equal(t, "j1", mustReceive(t, ch1))
	assert.Equal(t, "j1", mustReceive(t, ch2))
	select {
	case p := <-other:
		t.Fatalf("unexpected payload on broadcast channel: %q", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	t.Parallel()

	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := s.Subscribe(ctx, "updates")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "expected closed channel")
	case <-time.After(time.Second):
		t.Fatal("subscription did not close")
	}
}

func mustReceive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case p := <-ch:
		return p
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return ""
	}
}
