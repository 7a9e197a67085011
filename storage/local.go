package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Local stores objects as files under BasePath. Parent directories are
// created before first write; "already exists" is not an error.
type Local struct {
	BasePath string
}

func NewLocal(basePath string) (*Local, error) {
	if basePath == "" {
		return nil, fmt.Errorf("local storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("local storage: create base path: %w", err)
	}
	return &Local{BasePath: basePath}, nil
}

func (l *Local) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (l *Local) Create(ctx context.Context, key string, data []byte, contentType string) error {
	path := l.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (l *Local) path(key string) string {
	return filepath.Join(l.BasePath, filepath.FromSlash(key))
}
