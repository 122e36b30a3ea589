package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores objects below a directory on disk.
type LocalBackend struct {
	baseDir   string // root directory, e.g. "./uploads"
	urlPrefix string // prefix the directory is served under, e.g. "/uploads"
}

// NewLocalBackend returns a LocalBackend rooted at baseDir.
func NewLocalBackend(baseDir, urlPrefix string) *LocalBackend {
	return &LocalBackend{baseDir: baseDir, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Put writes body to a temp file and renames it over the target, so readers
// never see a partial image.
func (s *LocalBackend) Put(ctx context.Context, key string, body io.ReadSeeker, _ int64, _ string, _ map[string]string) (string, error) {
	dest, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", fmt.Errorf("storage: write: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("storage: close: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("storage: rename: %w", err)
	}

	return s.urlPrefix + "/" + key, nil
}

func (s *LocalBackend) Delete(_ context.Context, key string) error {
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: remove: %w", err)
	}
	return nil
}

// path maps key below baseDir and refuses keys escaping it.
func (s *LocalBackend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage: key %q escapes base directory", key)
	}
	return filepath.Join(s.baseDir, clean), nil
}
