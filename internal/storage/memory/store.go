// Package memory provides in-memory store, queue, log, and bus providers for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// Store implements store.JobStore, store.Queue, store.LogStore, and
// store.Bus against process memory. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	jobs    map[job.Ident]map[string]any
	ignores map[job.Ident]map[string]struct{}
	logs    map[job.Ident][]job.ScoredEntry
	queues  map[string][]job.Ident

	subs map[string][]chan string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[job.Ident]map[string]any),
		ignores: make(map[job.Ident]map[string]struct{}),
		logs:    make(map[job.Ident][]job.ScoredEntry),
		queues:  make(map[string][]job.Ident),
		subs:    make(map[string][]chan string),
	}
}

// Get implements store.JobStore.
func (s *Store) Get(_ context.Context, ident job.Ident) (job.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields, ok := s.jobs[ident]
	if !ok {
		return job.Record{}, store.ErrNotFound
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return job.FromFields(ident, copied), nil
}

// Exists implements store.JobStore.
func (s *Store) Exists(_ context.Context, ident job.Ident) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[ident]
	return ok, nil
}

// Create implements store.JobStore.
func (s *Store) Create(_ context.Context, ident job.Ident, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[ident]; ok {
		return store.ErrAlreadyExists
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	s.jobs[ident] = copied
	return nil
}

// SetFields implements store.JobStore. Missing jobs return ErrNotFound.
func (s *Store) SetFields(_ context.Context, ident job.Ident, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[ident]
	if !ok {
		return store.ErrNotFound
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

// IncrementField implements store.JobStore.
func (s *Store) IncrementField(_ context.Context, ident job.Ident, field string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[ident]
	if !ok {
		return 0, store.ErrNotFound
	}
	next := asInt64(rec[field]) + delta
	rec[field] = next
	return next, nil
}

// Apply implements store.JobStore. The checkpoint guard is evaluated before
// any write, so a regression leaves the record untouched.
func (s *Store) Apply(_ context.Context, ident job.Ident, m store.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[ident]
	if !ok {
		return store.ErrNotFound
	}
	for field, next := range m.Checkpoints {
		if next < asFloat64(rec[field]) {
			return store.ErrCheckpointRegression
		}
	}
	for k, v := range m.Sets {
		rec[k] = v
	}
	for k, d := range m.Incs {
		rec[k] = asInt64(rec[k]) + d
	}
	for k, v := range m.Checkpoints {
		rec[k] = v
	}
	return nil
}

// Expire implements store.JobStore. A non-positive ttl deletes immediately;
// otherwise deletion is scheduled.
func (s *Store) Expire(_ context.Context, ident job.Ident, ttl time.Duration) error {
	if ttl <= 0 {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.purge(ident)
		return nil
	}
	time.AfterFunc(ttl, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.purge(ident)
	})
	return nil
}

func (s *Store) purge(ident job.Ident) {
	delete(s.jobs, ident)
	delete(s.ignores, ident)
	delete(s.logs, ident)
}

// AddIgnorePatterns implements store.JobStore.
func (s *Store) AddIgnorePatterns(_ context.Context, ident job.Ident, patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.ignores[ident]
	if !ok {
		set = make(map[string]struct{})
		s.ignores[ident] = set
	}
	for _, p := range patterns {
		set[p] = struct{}{}
	}
	return nil
}

// RemoveIgnorePattern implements store.JobStore.
func (s *Store) RemoveIgnorePattern(_ context.Context, ident job.Ident, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ignores[ident], pattern)
	return nil
}

// IgnorePatterns implements store.JobStore.
func (s *Store) IgnorePatterns(_ context.Context, ident job.Ident) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.ignores[ident]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// Push implements store.Queue.
func (s *Store) Push(_ context.Context, queue string, ident job.Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue] = append(s.queues[queue], ident)
	return nil
}

// Remove implements store.Queue.
func (s *Store) Remove(_ context.Context, queue string, ident job.Ident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := s.queues[queue]
	kept := items[:0]
	for _, it := range items {
		if it != ident {
			kept = append(kept, it)
		}
	}
	s.queues[queue] = kept
	return nil
}

// List implements store.Queue.
func (s *Store) List(_ context.Context, queue string) ([]job.Ident, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]job.Ident, len(s.queues[queue]))
	copy(out, s.queues[queue])
	return out, nil
}

// Append implements store.LogStore. Entries are kept sorted by score.
func (s *Store) Append(_ context.Context, ident job.Ident, entry job.LogEntry, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[ident]
	entries = append(entries, job.ScoredEntry{Entry: entry, Score: score})
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Score < entries[j].Score })
	s.logs[ident] = entries
	return nil
}

// ReadRange implements store.LogStore: min < score <= max, ascending.
func (s *Store) ReadRange(_ context.Context, ident job.Ident, minExclusive, maxInclusive float64) ([]job.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []job.ScoredEntry
	for _, e := range s.logs[ident] {
		if e.Score > minExclusive && e.Score <= maxInclusive {
			out = append(out, e)
		}
	}
	return out, nil
}

// ReadTail implements store.LogStore.
func (s *Store) ReadTail(_ context.Context, ident job.Ident, count int) ([]job.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.logs[ident]
	if count <= 0 || count > len(entries) {
		count = len(entries)
	}
	out := make([]job.ScoredEntry, count)
	copy(out, entries[len(entries)-count:])
	return out, nil
}

// DeleteRange implements store.LogStore: min <= score <= max.
func (s *Store) DeleteRange(_ context.Context, ident job.Ident, minInclusive, maxInclusive float64) ([]job.ScoredEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed, kept []job.ScoredEntry
	for _, e := range s.logs[ident] {
		if e.Score >= minInclusive && e.Score <= maxInclusive {
			removed = append(removed, e)
		} else {
			kept = append(kept, e)
		}
	}
	s.logs[ident] = kept
	return removed, nil
}

// Publish implements store.Bus. Slow subscribers drop messages rather than
// block the publisher, matching at-most-once channel semantics.
func (s *Store) Publish(_ context.Context, channel, payload string) error {
	s.mu.Lock()
	subs := make([]chan string, len(s.subs[channel]))
	copy(subs, s.subs[channel])
	s.mu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe implements store.Bus.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ch := make(chan string, 64)
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		subs := s.subs[channel]
		for i, c := range subs {
			if c == ch {
				s.subs[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asFloat64(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
