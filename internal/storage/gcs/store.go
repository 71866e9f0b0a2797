// Package gcs keeps failure artifacts in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"

	gcstorage "cloud.google.com/go/storage"

	"github.com/JakeFAU/conference-crawler/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	Prefix string
}

// Store uploads artifacts to a bucket under an optional prefix.
type Store struct {
	client *gcstorage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed artifact store.
func New(client *gcstorage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Save uploads a and returns its gs:// URI. The run, stage and page URL
// travel as object metadata so artifacts can be listed per run.
func (s *Store) Save(ctx context.Context, a storage.Artifact) (string, error) {
	if err := a.Validate(); err != nil {
		return "", err
	}
	name := s.objectName(a)
	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	w.ContentType = a.ContentType
	w.Metadata = metadata(a)
	if _, err := w.Write(a.Data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write %s: %w (close writer: %v)", name, err, closeErr)
		}
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

func (s *Store) objectName(a storage.Artifact) string {
	if s.prefix == "" {
		return a.Key()
	}
	return s.prefix + "/" + a.Key()
}

func metadata(a storage.Artifact) map[string]string {
	return map[string]string{
		"run_id":     a.RunID,
		"stage":      a.Stage,
		"source_url": a.URL,
	}
}
