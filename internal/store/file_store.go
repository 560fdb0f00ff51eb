package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"chatique/internal/domain"
)

// FileStore persists one encrypted record per key under dir.
type FileStore struct {
	dir        string
	passphrase string
	mu         sync.Mutex
}

// NewFileStore builds a store rooted at dir. The passphrase protects every
// record at rest.
func NewFileStore(dir, passphrase string) *FileStore {
	return &FileStore{dir: dir, passphrase: passphrase}
}

// Store serializes v and writes it encrypted to <key>.enc.
func (s *FileStore) Store(key string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data, err := seal(s.passphrase, raw)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path(key), data, 0o600)
}

// Load decrypts <key>.enc into v. A missing record is (false, nil).
func (s *FileStore) Load(key string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	raw, err := open(s.passphrase, data)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the record; deleting a missing record is not an error.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+".enc")
}

var _ domain.PreferenceStore = (*FileStore)(nil)
