//go:build gcp

package evidence

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSVault stores blobs in a Google Cloud Storage bucket. Credentials come
// from Application Default Credentials.
type GCSVault struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSConfig configures the GCS backend.
type GCSConfig struct {
	Bucket string
	Prefix string
}

func NewGCSVault(ctx context.Context, cfg GCSConfig) (*GCSVault, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &GCSVault{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (v *GCSVault) object(digest string) *storage.ObjectHandle {
	return v.client.Bucket(v.bucket).Object(v.prefix + digest + ".blob")
}

func (v *GCSVault) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	digest, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	obj := v.object(digest)

	if _, err := obj.Attrs(ctx); err == nil {
		return addr, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs commit: %w", err)
	}
	return addr, nil
}

func (v *GCSVault) Get(ctx context.Context, addr string) ([]byte, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	r, err := v.object(digest).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs get %s: %w", addr, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read %s: %w", addr, err)
	}
	if err := verifyContent(addr, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *GCSVault) Exists(ctx context.Context, addr string) (bool, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = v.object(digest).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs %s: %w", addr, err)
}

// Close releases the underlying client.
func (v *GCSVault) Close() error {
	return v.client.Close()
}
