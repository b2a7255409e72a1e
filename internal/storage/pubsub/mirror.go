// Package pubsub mirrors work-queue pushes to Google Cloud Pub/Sub so
// external crawl pipelines can consume named destinations without polling
// the primary store.
package pubsub

import (
	"context"
	"fmt"
	"strings"
	"sync"

	gpubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-coordinator/internal/job"
	"github.com/JakeFAU/archive-coordinator/internal/logging"
	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// MirrorQueue decorates a store.Queue: every push also publishes the ident
// to a per-queue topic. Removes and lists pass straight through, since
// Pub/Sub has no deletion semantics for already-published work.
type MirrorQueue struct {
	inner  store.Queue
	client *gpubsub.Client
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	topics map[string]*gpubsub.Topic
}

// NewMirrorQueue connects to Pub/Sub and wraps inner. Topic names are
// derived from queue names under the given prefix.
func NewMirrorQueue(ctx context.Context, inner store.Queue, projectID, prefix string, logger *zap.Logger) (*MirrorQueue, error) {
	client, err := gpubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MirrorQueue{
		inner:  inner,
		client: client,
		prefix: prefix,
		logger: logger,
		topics: make(map[string]*gpubsub.Topic),
	}, nil
}

// Push implements store.Queue. The mirror publish is fire-and-forget: the
// client batches and retries in the background, and a mirror failure never
// fails the primary push.
func (m *MirrorQueue) Push(ctx context.Context, queue string, ident job.Ident) error {
	if err := m.inner.Push(ctx, queue, ident); err != nil {
		return err
	}
	topic := m.topic(queue)
	result := topic.Publish(ctx, &gpubsub.Message{
		Data:       []byte(ident.String()),
		Attributes: map[string]string{"queue": queue},
	})
	go func() {
		if _, err := result.Get(context.Background()); err != nil {
			m.logger.Warn("pubsub mirror publish failed",
				zap.String("queue", queue),
				logging.Ident(ident),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Remove implements store.Queue.
func (m *MirrorQueue) Remove(ctx context.Context, queue string, ident job.Ident) error {
	return m.inner.Remove(ctx, queue, ident)
}

// List implements store.Queue.
func (m *MirrorQueue) List(ctx context.Context, queue string) ([]job.Ident, error) {
	return m.inner.List(ctx, queue)
}

// Close stops the topic publishers and the client.
func (m *MirrorQueue) Close() error {
	m.mu.Lock()
	for _, t := range m.topics {
		t.Stop()
	}
	m.mu.Unlock()
	if err := m.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

func (m *MirrorQueue) topic(queue string) *gpubsub.Topic {
	name := m.prefix + "-" + strings.ReplaceAll(queue, ":", "-")
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[name]
	if !ok {
		t = m.client.Topic(name)
		m.topics[name] = t
	}
	return t
}
