package evidence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileVault stores blobs as <digest>.blob files under a base directory.
// Writes go through a temp file and rename so a crash never leaves a partial
// blob at its final address.
type FileVault struct {
	baseDir string
}

// NewFileVault creates the base directory if needed.
func NewFileVault(baseDir string) (*FileVault, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("evidence dir: %w", err)
	}
	return &FileVault{baseDir: baseDir}, nil
}

func (v *FileVault) Put(ctx context.Context, data []byte) (string, error) {
	addr := Address(data)
	digest, err := ParseAddress(addr)
	if err != nil {
		return "", err
	}
	path := filepath.Join(v.baseDir, digest+".blob")

	if _, err := os.Stat(path); err == nil {
		return addr, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write evidence blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit evidence blob: %w", err)
	}
	return addr, nil
}

func (v *FileVault) Get(ctx context.Context, addr string) ([]byte, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(v.baseDir, digest+".blob"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read evidence blob: %w", err)
	}
	if err := verifyContent(addr, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (v *FileVault) Exists(ctx context.Context, addr string) (bool, error) {
	digest, err := ParseAddress(addr)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(v.baseDir, digest+".blob"))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
