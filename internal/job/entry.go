package job

import (
	"encoding/json"
	"fmt"
)

// EntryType tags the variant of a log entry.
type EntryType string

// Log entry variants emitted by crawl workers.
const (
	EntryDownload EntryType = "download"
	EntryIgnore   EntryType = "ignore"
	EntryStdout   EntryType = "stdout"
)

// LogEntry is one event in a job's append-only log. Entries are immutable
// once written; which fields are meaningful depends on Type.
type LogEntry struct {
	Type EntryType `json:"type"`

	// Download fields.
	URL          string `json:"url,omitempty"`
	ResponseCode int    `json:"response_code,omitempty"`
	WgetCode     string `json:"wget_code,omitempty"`
	IsError      bool   `json:"is_error,omitempty"`
	IsWarning    bool   `json:"is_warning,omitempty"`
	Bytes        int64  `json:"bytes,omitempty"`

	// Ignore fields.
	Pattern string `json:"pattern,omitempty"`
	Source  string `json:"source,omitempty"`

	// Stdout fields.
	Message string `json:"message,omitempty"`
}

// ScoredEntry pairs a log entry with its score, the monotonically increasing
// logical timestamp assigned by the append path.
type ScoredEntry struct {
	Entry LogEntry
	Score float64
}

// ParseEntry decodes a raw log entry. Malformed entries are reported as
// errors so consumers can skip them without halting a batch.
func ParseEntry(raw []byte) (LogEntry, error) {
	var e LogEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return LogEntry{}, fmt.Errorf("parse log entry: %w", err)
	}
	return e, nil
}

// Encode renders the entry in its wire form.
func (e LogEntry) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode log entry: %w", err)
	}
	return data, nil
}
