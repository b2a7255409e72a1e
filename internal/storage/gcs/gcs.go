// Package gcs implements cold storage on Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/archive-coordinator/internal/store"
)

// ColdStorage implements store.ColdStorage against a GCS bucket. Documents
// are written with a does-not-exist precondition so a duplicate document id
// surfaces as store.ErrConflict instead of a silent overwrite.
type ColdStorage struct {
	client *gstorage.Client
	bucket string
	prefix string
}

// New initializes a GCS client and verifies the bucket is reachable.
// Authentication uses Application Default Credentials.
func New(ctx context.Context, bucket, prefix string) (*ColdStorage, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("get GCS bucket %q attributes: %w", bucket, err)
	}
	return &ColdStorage{client: client, bucket: bucket, prefix: prefix}, nil
}

// PutDocument implements store.ColdStorage.
func (c *ColdStorage) PutDocument(ctx context.Context, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}

	obj := c.client.Bucket(c.bucket).Object(c.objectName(id + ".json"))
	wc := obj.If(gstorage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write document %s: %w", id, err)
	}
	if err := wc.Close(); err != nil {
		if isPreconditionFailed(err) {
			return store.ErrConflict
		}
		return fmt.Errorf("finalize document %s: %w", id, err)
	}
	return nil
}

// PutArchive implements store.ColdStorage. Archives carry unique keys, so
// overwrites are allowed.
func (c *ColdStorage) PutArchive(ctx context.Context, key string, data []byte) error {
	wc := c.client.Bucket(c.bucket).Object(c.objectName(key)).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write archive %s: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize archive %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying client.
func (c *ColdStorage) Close() error {
	return c.client.Close()
}

func (c *ColdStorage) objectName(key string) string {
	if c.prefix == "" {
		return key
	}
	return path.Join(c.prefix, key)
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
