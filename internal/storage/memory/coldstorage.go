package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// ColdStorage implements store.ColdStorage in memory for tests.
type ColdStorage struct {
	mu        sync.Mutex
	documents map[string]map[string]any
	archives  map[string][]byte

	// PutErr, when set, is returned by PutDocument for non-duplicate ids.
	PutErr error
}

// NewColdStorage returns an empty ColdStorage.
func NewColdStorage() *ColdStorage {
	return &ColdStorage{
		documents: make(map[string]map[string]any),
		archives:  make(map[string][]byte),
	}
}

// PutDocument implements store.ColdStorage; duplicate ids conflict.
func (c *ColdStorage) PutDocument(_ context.Context, id string, doc map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.documents[id]; ok {
		return store.ErrConflict
	}
	if c.PutErr != nil {
		return c.PutErr
	}
	c.documents[id] = doc
	return nil
}

// PutArchive implements store.ColdStorage.
func (c *ColdStorage) PutArchive(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives[key] = append([]byte(nil), data...)
	return nil
}

// Documents returns a copy of the stored documents keyed by id.
func (c *ColdStorage) Documents() map[string]map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]map[string]any, len(c.documents))
	for k, v := range c.documents {
		out[k] = v
	}
	return out
}

// Archives returns the stored archive keys.
func (c *ColdStorage) Archives() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.archives))
	for k := range c.archives {
		out = append(out, k)
	}
	return out
}
