package objstore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store is a filesystem-backed object store. Writes go through a temp file
// and a rename so a crash never leaves a partial artifact behind.
type Store struct {
	baseDir string
}

func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

// Put writes body under key, overwriting any existing object. Keys are
// slash-separated paths relative to the base directory.
func (s *Store) Put(key string, body []byte) error {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create object directory for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("create temp object for %s: %w", key, err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close object %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("store object %s: %w", key, err)
	}
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}
	return body, nil
}

// Exists reports whether an object is stored under key.
func (s *Store) Exists(key string) (bool, error) {
	path := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}
