package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// GCSStore writes artifacts to a Google Cloud Storage bucket. Authentication
// comes from Application Default Credentials.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS initializes a GCS client and verifies the bucket is reachable so a
// misconfigured install fails at startup instead of mid-run.
func NewGCS(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("artifacts: bucket %q attributes: %w", bucket, err)
	}
	return &GCSStore{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *GCSStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	object := s.objectName(key)
	wc := s.client.Bucket(s.bucket).Object(object).NewWriter(ctx)
	if _, err := wc.Write(data); err != nil {
		wc.Close()
		return "", fmt.Errorf("artifacts: write gs://%s/%s: %w", s.bucket, object, err)
	}
	// Close finalizes the upload and flushes buffered data.
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("artifacts: finalize gs://%s/%s: %w", s.bucket, object, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}

func (s *GCSStore) Get(ctx context.Context, key string) ([]byte, error) {
	object := s.objectName(key)
	rc, err := s.client.Bucket(s.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("artifacts: open gs://%s/%s: %w", s.bucket, object, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("artifacts: read gs://%s/%s: %w", s.bucket, object, err)
	}
	return data, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	object := s.objectName(key)
	_, err := s.client.Bucket(s.bucket).Object(object).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("artifacts: stat gs://%s/%s: %w", s.bucket, object, err)
	}
	return true, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) objectName(key string) string {
	key = strings.TrimLeft(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
