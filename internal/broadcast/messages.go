package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/archive-coordinator/internal/job"
)

// Message types published on the broadcast channel.
const (
	TypeStatusChange   = "status_change"
	TypeDownloadUpdate = "download_update"
)

// StatusChange announces that a job reached a terminal state.
type StatusChange struct {
	Type    string         `json:"type"`
	JobData map[string]any `json:"job_data"`
}

// NewStatusChange builds a StatusChange for the record.
func NewStatusChange(rec job.Record) StatusChange {
	return StatusChange{Type: TypeStatusChange, JobData: rec.AsJSON()}
}

// DownloadUpdate packages new log entries with the job's aggregate counters.
type DownloadUpdate struct {
	Type            string         `json:"type"`
	Ident           string         `json:"ident"`
	URL             string         `json:"url"`
	R1xx            int64          `json:"r1xx"`
	R2xx            int64          `json:"r2xx"`
	R3xx            int64          `json:"r3xx"`
	R4xx            int64          `json:"r4xx"`
	R5xx            int64          `json:"r5xx"`
	RUnknown        int64          `json:"runk"`
	Total           int64          `json:"total"`
	BytesDownloaded int64          `json:"bytes_downloaded"`
	ErrorCount      int64          `json:"error_count"`
	Entries         []job.LogEntry `json:"entries"`
}

// NewDownloadUpdate builds a DownloadUpdate from the record and new entries.
func NewDownloadUpdate(rec job.Record, entries []job.ScoredEntry) DownloadUpdate {
	msg := DownloadUpdate{
		Type:            TypeDownloadUpdate,
		Ident:           rec.Ident.String(),
		URL:             rec.URL,
		R1xx:            rec.ResponseCounts[job.Bucket1xx],
		R2xx:            rec.ResponseCounts[job.Bucket2xx],
		R3xx:            rec.ResponseCounts[job.Bucket3xx],
		R4xx:            rec.ResponseCounts[job.Bucket4xx],
		R5xx:            rec.ResponseCounts[job.Bucket5xx],
		RUnknown:        rec.ResponseCounts[job.BucketUnknown],
		Total:           rec.TotalResponses(),
		BytesDownloaded: rec.BytesDownloaded,
		ErrorCount:      rec.ErrorCount,
		Entries:         make([]job.LogEntry, 0, len(entries)),
	}
	for _, se := range entries {
		msg.Entries = append(msg.Entries, se.Entry)
	}
	return msg
}

func encode(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode broadcast message: %w", err)
	}
	return string(data), nil
}
