package file

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/wb-go/wbf/zlog"
)

// Storage keeps transient artifacts on the local filesystem under a base
// directory. Files live in subdirectories and are addressed by the relative
// path returned from Save.
type Storage struct {
	baseDir string
}

// NewStorage creates a Storage rooted at baseDir. Directory creation is
// idempotent and owned by this bootstrap step, not by request handling.
func NewStorage(baseDir string) (*Storage, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	return &Storage{baseDir: baseDir}, nil
}

// Save writes the reader's content to subdir/filename and returns the
// relative path within the storage root.
func (s *Storage) Save(_ context.Context, subdir, filename string, src io.Reader) (string, error) {
	dir := filepath.Join(s.baseDir, subdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create subdir: %w", err)
	}

	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filepath.Join(subdir, filename), nil
}

// Open returns a reader for a previously saved artifact. A missing file
// reports fs.ErrNotExist through the error chain.
func (s *Storage) Open(_ context.Context, path string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.baseDir, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return f, nil
}

// Remove deletes the artifact now. Removing an already-deleted artifact is
// not an error.
func (s *Storage) Remove(_ context.Context, path string) error {
	if err := os.Remove(filepath.Join(s.baseDir, path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}

// ScheduleRemove deletes the artifact after the delay. Used for artifacts
// exposed via byte-served URLs, which must outlast any in-flight download;
// the delay is the caller's guarantee, not a reference count.
func (s *Storage) ScheduleRemove(path string, after time.Duration) {
	time.AfterFunc(after, func() {
		if err := s.Remove(context.Background(), path); err != nil {
			zlog.Logger.Err(err).Str("path", path).Msg("failed to remove expired artifact")
		}
	})
}
