package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore implements Store on the local filesystem.
type LocalStore struct {
	logger *slog.Logger
}

// NewLocalStore creates a filesystem store.
func NewLocalStore(logger *slog.Logger) *LocalStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalStore{logger: logger.With("component", "local-store")}
}

func localPath(location string) string {
	return strings.TrimPrefix(location, "file://")
}

// Read returns the file contents.
func (s *LocalStore) Read(_ context.Context, location string) ([]byte, error) {
	data, err := os.ReadFile(localPath(location))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, location)
		}
		return nil, fmt.Errorf("read %s: %w", location, err)
	}
	return data, nil
}

// Write replaces the file atomically through a temporary sibling.
func (s *LocalStore) Write(_ context.Context, location string, data []byte) error {
	p := localPath(location)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", location, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", location, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", location, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", location, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename into %s: %w", location, err)
	}

	s.logger.Debug("object written", "location", location, "size", len(data))
	return nil
}

// Create writes the file with O_EXCL so only one writer can create it.
func (s *LocalStore) Create(_ context.Context, location string, data []byte) error {
	p := localPath(location)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", location, err)
	}

	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExist, location)
		}
		return fmt.Errorf("create %s: %w", location, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(p)
		return fmt.Errorf("write %s: %w", location, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", location, err)
	}
	return nil
}

// Exists checks if the file exists.
func (s *LocalStore) Exists(_ context.Context, location string) (bool, error) {
	_, err := os.Stat(localPath(location))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", location, err)
}

// Delete removes the file.
func (s *LocalStore) Delete(_ context.Context, location string) error {
	err := os.Remove(localPath(location))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", location, err)
	}
	return nil
}

// List walks the directory at prefix and returns every regular file.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	root := localPath(prefix)
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.Type().IsRegular() && !strings.HasPrefix(d.Name(), ".tmp-") {
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(out)
	return out, nil
}

// EnsureDir creates a directory and its parents.
func (s *LocalStore) EnsureDir(location string) error {
	if err := os.MkdirAll(localPath(location), 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", location, err)
	}
	return nil
}

var _ Store = (*LocalStore)(nil)
