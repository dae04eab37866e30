// Package local persists the seen-set snapshot as a JSON file on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/questwatch/internal/storage/snapshot"
)

// Config captures the parameters for the file-backed seen-set.
type Config struct {
	// Path is the snapshot file. Its parent directory is created when missing.
	Path string `mapstructure:"path" yaml:"path"`
}

// FileBackend implements snapshot.Backend over a single file.
type FileBackend struct {
	path string
}

// New validates the target path and ensures its directory exists and is writable.
func New(cfg Config) (*FileBackend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dir := filepath.Dir(cfg.Path)

	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create storage directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat storage directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage directory %s is not a directory", dir)
	}

	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("storage path %s is a directory", cfg.Path)
	}

	probe, err := os.CreateTemp(dir, ".writable_test-*")
	if err != nil {
		return nil, fmt.Errorf("storage directory is not writable: %w", err)
	}
	name := probe.Name()
	if err := probe.Close(); err != nil {
		return nil, fmt.Errorf("close probe file: %w", err)
	}
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &FileBackend{path: cfg.Path}, nil
}

// Open builds a snapshot store over the file at cfg.Path.
func Open(ctx context.Context, cfg Config) (*snapshot.Store, error) {
	backend, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return snapshot.Open(ctx, backend)
}

// Path returns the snapshot file path.
func (b *FileBackend) Path() string { return b.path }

// Load reads the snapshot file. A missing file is reported as no document.
func (b *FileBackend) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	return data, nil
}

// Save writes data to a sibling temp file, fsyncs it and renames it over the
// snapshot so a crash never leaves a half-written file behind.
func (b *FileBackend) Save(_ context.Context, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", b.path, err)
	}
	return nil
}

// Close is a no-op; every Save leaves the file complete.
func (b *FileBackend) Close() error { return nil }
