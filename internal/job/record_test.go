package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFieldsCoercion(t *testing.T) {
	t.Parallel()

	rec := FromFields("id1", map[string]any{
		FieldURL:             "https://example.com/",
		FieldFetchDepth:      "shallow",
		FieldQueuedAt:        int64(1700000000),
		FieldStartedAt:       "1700000100",
		FieldAborted:         "true",
		FieldBytesDownloaded: float64(2048),
		FieldErrorCount:      "7",
		FieldDelayMin:        "250.5",
		FieldResponses2xx:    int64(12),
	})

	assert.Equal(t, Ident("id1"), rec.Ident)
	assert.Equal(t, DepthShallow, rec.Depth)
	require.NotNil(t, rec.QueuedAt)
	assert.Equal(t, int64(1700000000), rec.QueuedAt.Unix())
	require.NotNil(t, rec.StartedAt)
	assert.Equal(t, int64(1700000100), rec.StartedAt.Unix())
	assert.True(t, rec.Aborted)
	assert.Equal(t, int64(2048), rec.BytesDownloaded)
	assert.Equal(t, int64(7), rec.ErrorCount)
	assert.Equal(t, 250.5, rec.DelayMin)
	assert.Equal(t, int64(12), rec.ResponseCounts[Bucket2xx])
	assert.Nil(t, rec.FinishedAt)
}

func TestStateDerivation(t *testing.T) {
	t.Parallel()

	now := time.Now()
	var rec Record
	assert.Equal(t, StatePending, rec.State())

	rec.StartedAt = &now
	assert.Equal(t, StateInProgress, rec.State())
	assert.False(t, rec.Finished())

	rec.FinishedAt = &now
	assert.Equal(t, StateFinished, rec.State())
	assert.True(t, rec.Finished())
}

func TestTotalResponses(t *testing.T) {
	t.Parallel()

	rec := FromFields("id1", map[string]any{
		FieldResponses2xx:     int64(10),
		FieldResponses4xx:     int64(3),
		FieldResponsesUnknown: int64(1),
	})
	assert.Equal(t, int64(14), rec.TotalResponses())
}

func TestDocumentID(t *testing.T) {
	t.Parallel()

	queued := time.Unix(1700000000, 0)
	rec := Record{Ident: "abc", QueuedAt: &queued}
	assert.Equal(t, "abc:1700000000", rec.DocumentID())

	// Jobs recorded before ever being queued still get a stable id.
	rec.QueuedAt = nil
	assert.Equal(t, "abc:0", rec.DocumentID())
}

func TestAsJSONShape(t *testing.T) {
	t.Parallel()

	queued := time.Unix(1700000000, 0)
	rec := Record{
		Ident:    "abc",
		URL:      "https://example.com/",
		QueuedAt: &queued,
		ResponseCounts: map[Bucket]int64{
			Bucket2xx: 5,
		},
	}
	out := rec.AsJSON()
	assert.Equal(t, "abc", out["ident"])
	assert.Equal(t, int64(1700000000), out["queued_at"])
	assert.Nil(t, out["finished_at"])
	assert.Equal(t, int64(5), out["r2xx"])
	for _, b := range Buckets {
		_, ok := out[b.Field()]
		assert.True(t, ok, "missing bucket key %s", b.Field())
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	now := time.Now()
	rec := Record{Ident: "abc", URL: "https://example.com/"}
	assert.Contains(t, rec.StatusText(), "pending")

	rec.StartedAt = &now
	rec.BytesDownloaded = 1_500_000
	rec.ErrorCount = 2
	text := rec.StatusText()
	assert.Contains(t, text, "in progress")
	assert.Contains(t, text, "1.50 MB")
	assert.Contains(t, text, "2 errors")

	rec.FinishedAt = &now
	assert.Contains(t, rec.StatusText(), "finished")

	rec.Aborted = true
	assert.Contains(t, rec.StatusText(), "aborted")
}
