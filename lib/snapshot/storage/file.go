package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// fileStorage stores the snapshot in a single file.
// Writes go to <path>.tmp first which is then renamed over <path>, so a reader
// never sees a partially written snapshot.
type fileStorage struct {
	path string
}

// NewFileStorage creates a file backend for the given path.
// The file and its directory are created on the first write.
func NewFileStorage(path string) IStorage {
	return &fileStorage{path: path}
}

func (f *fileStorage) Read() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	return data, nil
}

func (f *fileStorage) Write(data []byte) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}

	tmpPath := f.path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temporary snapshot file: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temporary snapshot file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary snapshot file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temporary snapshot file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

func (f *fileStorage) Close() error { return nil }

func (f *fileStorage) String() string { return "file:" + f.path }
