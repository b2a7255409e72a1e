package recorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/storage/memory"
)

func TestRecordSkipsRunningJobs(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	cold := memory.NewColdStorage()
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "j1", map[string]any{
		job.FieldURL:       "https://example.com/",
		job.FieldStartedAt: time.Now().Unix(),
	}))

	r := New(ms, cold, nil)
	require.NoError(t, r.Record(ctx, "j1"))
	assert.Empty(t, cold.Documents())
}

func TestRecordStoresTerminalSnapshot(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	cold := memory.NewColdStorage()
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "j1", map[string]any{
		job.FieldURL:        "https://example.com/",
		job.FieldQueuedAt:   int64(1700000000),
		job.FieldFinishedAt: time.Now().Unix(),
		job.FieldWARCSize:   int64(42),
	}))

	r := New(ms, cold, nil)
	require.NoError(t, r.Record(ctx, "j1"))

	docs := cold.Documents()
	require.Len(t, docs, 1)
	doc, ok := docs["j1:1700000000"]
	require.True(t, ok, "document id must be ident:queued-unix")
	assert.Equal(t, "https://example.com/", doc["url"])
	assert.Equal(t, int64(42), doc["warc_size"])
	assert.Equal(t, true, doc["finished"])
}

func TestRecordToleratesConflict(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	cold := memory.NewColdStorage()
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "j1", map[string]any{
		job.FieldQueuedAt: int64(1700000000),
		job.FieldAborted:  true,
	}))

	r := New(ms, cold, nil)
	require.NoError(t, r.Record(ctx, "j1"))
	// Redelivered signal hits the duplicate id; that is not an error.
	require.NoError(t, r.Record(ctx, "j1"))
	assert.Len(t, cold.Documents(), 1)
}

func TestRecordPropagatesStorageFailure(t *testing.T) {
	t.Parallel()

	ms := memory.New()
	cold := memory.NewColdStorage()
	cold.PutErr = errors.New("bucket unavailable")
	ctx := context.Background()
	require.NoError(t, ms.Create(ctx, "j1", map[string]any{
		job.FieldAborted: true,
	}))

	r := New(ms, cold, nil)
	err := r.Record(ctx, "j1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unavailable")
}

func TestRecordUnknownJobIsNoOp(t *testing.T) {
	t.Parallel()

	r := New(memory.New(), memory.NewColdStorage(), nil)
	require.NoError(t, r.Record(context.Background(), "ghost"))
}
