package objectstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DiskStore writes assets to a local directory and hands back file:// URLs.
// It exists for local development and tests where no S3 bucket is
// configured.
type DiskStore struct {
	baseDir string
}

func NewDiskStore(baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create base dir: %w", err)
	}
	return &DiskStore{baseDir: baseDir}, nil
}

var _ Store = (*DiskStore)(nil)

func (d *DiskStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	path := filepath.Join(d.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("objectstore: create dir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("objectstore: write %s: %w", key, err)
	}
	return "file://" + path, nil
}

func (d *DiskStore) Download(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(d.baseDir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	return data, nil
}

func (d *DiskStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(filepath.Join(d.baseDir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
