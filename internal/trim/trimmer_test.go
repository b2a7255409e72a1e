package trim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/storage/memory"
)

func seedJob(t *testing.T, ms *memory.Store, analyzed, broadcasted float64, entries int) job.Ident {
	t.Helper()
	ctx := context.Background()
	ident := job.Ident("j1")
	require.NoError(t, ms.Create(ctx, ident, map[string]any{
		job.FieldLastAnalyzedLogEntry:    analyzed,
		job.FieldLastBroadcastedLogEntry: broadcasted,
	}))
	for i := 1; i <= entries; i++ {
		require.NoError(t, ms.Append(ctx, ident, job.LogEntry{Type: job.EntryStdout}, float64(i)))
	}
	return ident
}

func TestTrimBelowThresholdDoesNothing(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	ident := seedJob(t, ms, 5, 5, 5)

	tr := New(ms, ms, nil, 10, nil)
	removed, err := tr.Trim(context.Background(), ident)
	require.NoError(t, err)
	assert.Nil(t, removed)

	entries, err := ms.ReadRange(context.Background(), ident, 0, 1e308)
	require.NoError(t, err)
	assert.Len(t, entries, 5)
}

func TestTrimRemovesConsumedEntries(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	ident := seedJob(t, ms, 8, 6, 10)

	// Threshold 0 trims on every signal; the cursor stops at the slower
	// consumer (broadcast at 6), never past it.
	tr := New(ms, ms, nil, 0, nil)
	removed, err := tr.Trim(context.Background(), ident)
	require.NoError(t, err)
	assert.Len(t, removed, 6)

	left, err := ms.ReadRange(context.Background(), ident, 0, 1e308)
	require.NoError(t, err)
	require.Len(t, left, 4)
	assert.Equal(t, 7.0, left[0].Score)

	rec, err := ms.Get(context.Background(), ident)
	require.NoError(t, err)
	assert.Equal(t, 6.0, rec.LastTrimmedLogEntry)
}

func TestTrimArchivesRemovedEntries(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	cold := memory.NewColdStorage()
	ident := seedJob(t, ms, 3, 3, 3)

	tr := New(ms, ms, cold, 0, nil)
	removed, err := tr.Trim(context.Background(), ident)
	require.NoError(t, err)
	require.Len(t, removed, 3)

	keys := cold.Archives()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "trimmed/j1/")
}

func TestTrimThresholdGatesRepeatTrims(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	ctx := context.Background()
	ident := seedJob(t, ms, 10, 10, 10)

	tr := New(ms, ms, nil, 5, nil)
	removed, err := tr.Trim(ctx, ident)
	require.NoError(t, err)
	assert.Len(t, removed, 10)

	// Checkpoint now at 10; a gap of 4 stays below the threshold.
	require.NoError(t, ms.SetFields(ctx, ident, map[string]any{
		job.FieldLastAnalyzedLogEntry:    14.0,
		job.FieldLastBroadcastedLogEntry: 14.0,
	}))
	removed, err = tr.Trim(ctx, ident)
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestTrimUnknownJobIsNoOp(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	tr := New(ms, ms, nil, 0, nil)
	removed, err := tr.Trim(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, removed)
}
