// Package job models archive jobs: their deterministic identifiers, the
// record fields kept in the job store, per-job log entries, and the response
// bucket classification used by log analysis.
package job

import (
	"fmt"
	"strconv"
	"time"
)

// Job-record field names as stored in the job store. The checkpoint fields
// are each owned by exactly one engine; nothing else may write them.
const (
	FieldURL             = "url"
	FieldFetchDepth      = "fetch_depth"
	FieldStartedBy       = "started_by"
	FieldStartedIn       = "started_in"
	FieldQueuedAt        = "queued_at"
	FieldStartedAt       = "started_at"
	FieldFinishedAt      = "finished_at"
	FieldAborted         = "aborted"
	FieldAbortRequested  = "abort_requested"
	FieldFailed          = "failed"
	FieldBytesDownloaded = "bytes_downloaded"
	FieldItemsDownloaded = "items_downloaded"
	FieldItemsQueued     = "items_queued"
	FieldWARCSize        = "warc_size"
	FieldErrorCount      = "error_count"
	FieldPipelineID      = "pipeline_id"
	FieldConcurrency     = "concurrency"
	FieldDelayMin        = "delay_min"
	FieldDelayMax        = "delay_max"
	FieldSuppressIgnores = "suppress_ignore_reports"
	FieldSettingsAge     = "settings_age"
	FieldLogScore        = "log_score"
	FieldUserAgent       = "user_agent"

	FieldResponses1xx     = "r1xx"
	FieldResponses2xx     = "r2xx"
	FieldResponses3xx     = "r3xx"
	FieldResponses4xx     = "r4xx"
	FieldResponses5xx     = "r5xx"
	FieldResponsesUnknown = "runk"

	FieldLastAnalyzedLogEntry    = "last_analyzed_log_entry"
	FieldLastBroadcastedLogEntry = "last_broadcasted_log_entry"
	FieldLastTrimmedLogEntry     = "last_trimmed_log_entry"

	FieldHeartbeat        = "heartbeat"
	FieldLastAckHeartbeat = "last_acknowledged_heartbeat"
	FieldDeathTimer       = "death_timer"
)

// Depth is the fetch depth of a job.
type Depth string

// Supported fetch depths.
const (
	DepthInfinite Depth = "inf"
	DepthShallow  Depth = "shallow"
)

// State is the derived lifecycle state of a job. It is never stored
// directly; it follows from the presence of started_at and finished_at.
type State string

// Lifecycle states.
const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateFinished   State = "finished"
)

// Record is a point-in-time snapshot of a job's fields. Mutators in the
// lifecycle package do not refresh snapshots; re-read the store after a
// mutation if you need current values.
type Record struct {
	Ident Ident
	URL   string
	Depth Depth

	StartedBy string
	StartedIn string

	QueuedAt   *time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	Aborted        bool
	AbortRequested bool
	Failed         bool

	BytesDownloaded int64
	ItemsDownloaded int64
	ItemsQueued     int64
	WARCSize        int64
	ErrorCount      int64

	ResponseCounts map[Bucket]int64

	LastAnalyzedLogEntry    float64
	LastBroadcastedLogEntry float64
	LastTrimmedLogEntry     float64

	Concurrency    int64
	DelayMin       float64
	DelayMax       float64
	SuppressIgnore bool
	SettingsAge    int64
	PipelineID     string
	UserAgent      string
}

// FromFields decodes a store field map into a Record.
func FromFields(ident Ident, fields map[string]any) Record {
	r := Record{
		Ident:          ident,
		URL:            asString(fields[FieldURL]),
		Depth:          Depth(asString(fields[FieldFetchDepth])),
		StartedBy:      asString(fields[FieldStartedBy]),
		StartedIn:      asString(fields[FieldStartedIn]),
		QueuedAt:       asUnixTime(fields[FieldQueuedAt]),
		StartedAt:      asUnixTime(fields[FieldStartedAt]),
		FinishedAt:     asUnixTime(fields[FieldFinishedAt]),
		Aborted:        asBool(fields[FieldAborted]),
		AbortRequested: asBool(fields[FieldAbortRequested]),
		Failed:         asBool(fields[FieldFailed]),

		BytesDownloaded: asInt64(fields[FieldBytesDownloaded]),
		ItemsDownloaded: asInt64(fields[FieldItemsDownloaded]),
		ItemsQueued:     asInt64(fields[FieldItemsQueued]),
		WARCSize:        asInt64(fields[FieldWARCSize]),
		ErrorCount:      asInt64(fields[FieldErrorCount]),

		LastAnalyzedLogEntry:    asFloat64(fields[FieldLastAnalyzedLogEntry]),
		LastBroadcastedLogEntry: asFloat64(fields[FieldLastBroadcastedLogEntry]),
		LastTrimmedLogEntry:     asFloat64(fields[FieldLastTrimmedLogEntry]),

		Concurrency:    asInt64(fields[FieldConcurrency]),
		DelayMin:       asFloat64(fields[FieldDelayMin]),
		DelayMax:       asFloat64(fields[FieldDelayMax]),
		SuppressIgnore: asBool(fields[FieldSuppressIgnores]),
		SettingsAge:    asInt64(fields[FieldSettingsAge]),
		PipelineID:     asString(fields[FieldPipelineID]),
		UserAgent:      asString(fields[FieldUserAgent]),
	}

	r.ResponseCounts = make(map[Bucket]int64, len(Buckets))
	for _, b := range Buckets {
		r.ResponseCounts[b] = asInt64(fields[b.Field()])
	}
	return r
}

// State derives the lifecycle state from the timestamp fields. Exactly one
// state holds at any time.
func (r Record) State() State {
	switch {
	case r.FinishedAt != nil:
		return StateFinished
	case r.StartedAt != nil:
		return StateInProgress
	default:
		return StatePending
	}
}

// Finished reports whether the job is terminal.
func (r Record) Finished() bool {
	return r.FinishedAt != nil
}

// TotalResponses sums the response bucket counters. By construction this
// equals the number of download entries the analysis engine has processed.
func (r Record) TotalResponses() int64 {
	var total int64
	for _, n := range r.ResponseCounts {
		total += n
	}
	return total
}

// DocumentID derives the cold-storage document id for a finished job.
func (r Record) DocumentID() string {
	var queued int64
	if r.QueuedAt != nil {
		queued = r.QueuedAt.Unix()
	}
	return fmt.Sprintf("%s:%d", r.Ident, queued)
}

// AsJSON renders the record in the wire shape consumed by dashboards and the
// recorder: flat field map with r1xx..runk bucket keys.
func (r Record) AsJSON() map[string]any {
	out := map[string]any{
		"ident":                   r.Ident.String(),
		"url":                     r.URL,
		"depth":                   string(r.Depth),
		"aborted":                 r.Aborted,
		"finished":                r.Finished(),
		"bytes_downloaded":        r.BytesDownloaded,
		"items_downloaded":        r.ItemsDownloaded,
		"items_queued":            r.ItemsQueued,
		"warc_size":               r.WARCSize,
		"error_count":             r.ErrorCount,
		"pipeline_id":             r.PipelineID,
		"started_by":              r.StartedBy,
		"started_in":              r.StartedIn,
		"queued_at":               unixOrNil(r.QueuedAt),
		"started_at":              unixOrNil(r.StartedAt),
		"finished_at":             unixOrNil(r.FinishedAt),
		"suppress_ignore_reports": r.SuppressIgnore,
		"concurrency":             r.Concurrency,
		"delay_min":               r.DelayMin,
		"delay_max":               r.DelayMax,
	}
	for _, b := range Buckets {
		out[b.Field()] = r.ResponseCounts[b]
	}
	return out
}

// StatusText renders a short human-readable summary for chat and CLI use.
func (r Record) StatusText() string {
	head := fmt.Sprintf("Job %s (%s): ", r.Ident, r.URL)
	switch {
	case r.Aborted:
		return head + "aborted."
	case r.Finished():
		return head + fmt.Sprintf("finished. Downloaded %.2f MB, %d errors encountered.",
			float64(r.BytesDownloaded)/1e6, r.ErrorCount)
	case r.State() == StateInProgress:
		return head + fmt.Sprintf("in progress. Downloaded %.2f MB, %d errors encountered.",
			float64(r.BytesDownloaded)/1e6, r.ErrorCount)
	default:
		return head + "pending."
	}
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func asString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asBool(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t == "true" || t == "1"
	default:
		return asInt64(v) != 0
	}
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch t := v.(type) {
	case nil:
		return 0
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

func asUnixTime(v any) *time.Time {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	default:
		n := asInt64(v)
		if n == 0 {
			return nil
		}
		ts := time.Unix(n, 0).UTC()
		return &ts
	}
}
