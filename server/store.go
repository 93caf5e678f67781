package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/segmentio/ksuid"
)

const resultSuffix = "_processed.png"

// ErrNotFound is returned for unknown or expired result names.
var ErrNotFound = errors.New("result not found")

// Store keeps processed PNGs on disk until they expire. A result can be
// downloaded any number of times before that.
// Names carry a ksuid, so their creation time is known without a stat.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create result dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save writes data under a new unique name and returns that name.
func (s *Store) Save(data []byte) (string, error) {
	name := ksuid.New().String() + resultSuffix
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create result: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close result: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to store result: %w", err)
	}
	return name, nil
}

// Path returns the file of a stored result. Names are reduced to their base
// and must have been produced by Save.
func (s *Store) Path(name string) (string, error) {
	name = filepath.Base(name)
	if _, ok := parseName(name); !ok {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}

// Sweep removes results created before cutoff and returns how many it removed.
func (s *Store) Sweep(cutoff time.Time) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("failed to list results", "dir", s.dir, "error", err)
		return 0
	}

	removed := 0
	for _, e := range entries {
		id, ok := parseName(e.Name())
		if !ok || !id.Time().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to cleanup file", "name", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired results removed", "count", removed)
	}
	return removed
}

func parseName(name string) (ksuid.KSUID, bool) {
	raw, ok := strings.CutSuffix(name, resultSuffix)
	if !ok {
		return ksuid.Nil, false
	}
	id, err := ksuid.Parse(raw)
	if err != nil {
		return ksuid.Nil, false
	}
	return id, true
}
