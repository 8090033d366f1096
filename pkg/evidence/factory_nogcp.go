//go:build !gcp

package evidence

import (
	"context"
	"fmt"
)

func newGCSVault(ctx context.Context, p GCSParams) (Vault, error) {
	return nil, fmt.Errorf("gcs evidence backend is not compiled in (build with -tags gcp)")
}
