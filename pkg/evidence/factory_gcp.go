//go:build gcp

package evidence

import "context"

func newGCSVault(ctx context.Context, p GCSParams) (Vault, error) {
	return NewGCSVault(ctx, GCSConfig{Bucket: p.Bucket, Prefix: p.Prefix})
}
