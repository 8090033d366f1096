package evidence

import (
	"context"
	"fmt"
)

// Backend names a vault implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendFS     Backend = "fs"
	BackendS3     Backend = "s3"
	BackendGCS    Backend = "gcs"
)

// Config selects and parameterizes a vault backend.
type Config struct {
	Backend Backend
	// Dir is the base directory for the fs backend.
	Dir string
	S3  S3Config
	GCS GCSParams
}

// GCSParams mirrors GCSConfig without depending on the gcp build tag.
type GCSParams struct {
	Bucket string
	Prefix string
}

// New builds the configured vault backend.
func New(ctx context.Context, cfg Config) (Vault, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemoryVault(), nil
	case BackendFS:
		if cfg.Dir == "" {
			return nil, fmt.Errorf("evidence fs backend requires a directory")
		}
		return NewFileVault(cfg.Dir)
	case BackendS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("evidence s3 backend requires a bucket")
		}
		return NewS3Vault(ctx, cfg.S3)
	case BackendGCS:
		if cfg.GCS.Bucket == "" {
			return nil, fmt.Errorf("evidence gcs backend requires a bucket")
		}
		return newGCSVault(ctx, cfg.GCS)
	default:
		return nil, fmt.Errorf("unknown evidence backend %q", cfg.Backend)
	}
}
