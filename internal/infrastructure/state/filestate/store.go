// Package filestate persists the tracked-blob set of a CLI client as a JSON
// array in a single file.
package filestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/property-report-analyzer/internal/core/domain"
)

type Store struct {
	path   string
	logger *slog.Logger

	mu sync.Mutex
}

func New(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) List(_ context.Context) ([]domain.TrackedBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) Update(ctx context.Context, fn func([]domain.TrackedBlob) ([]domain.TrackedBlob, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := s.read()
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	return s.write(next)
}

// read treats a missing file as an empty set. An unreadable file is reset so
// a corrupted state never blocks uploads.
func (s *Store) read() ([]domain.TrackedBlob, error) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return []domain.TrackedBlob{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(raw) == 0 {
		return []domain.TrackedBlob{}, nil
	}

	var blobs []domain.TrackedBlob
	if err := json.Unmarshal(raw, &blobs); err != nil {
		s.logger.Warn("tracked_blobs_state_corrupt", "path", s.path, "error", err)
		return []domain.TrackedBlob{}, nil
	}
	if blobs == nil {
		blobs = []domain.TrackedBlob{}
	}
	return blobs, nil
}

func (s *Store) write(blobs []domain.TrackedBlob) error {
	if blobs == nil {
		blobs = []domain.TrackedBlob{}
	}
	raw, err := json.MarshalIndent(blobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
