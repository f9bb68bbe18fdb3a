package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
)

// ErrNotFound is returned when a key has no persisted value.
var ErrNotFound = errors.New("storage: key not found")

// FileStore is the on-device snapshot store: a single JSON file holding
// a string map, rewritten atomically on every Set/Delete. Losing it only
// costs the faster first paint, so load errors degrade to an empty map.
type FileStore struct {
	path  string
	mutex sync.Mutex
	data  map[string]json.RawMessage
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path: path,
		data: make(map[string]json.RawMessage),
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &fs.data); err != nil {
		// Corrupt cache file; start empty rather than fail.
		fs.data = make(map[string]json.RawMessage)
	}
	return fs, nil
}

func (fs *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	value, exists := fs.data[key]
	if !exists {
		return nil, ErrNotFound
	}
	return value, nil
}

func (fs *FileStore) Set(ctx context.Context, key string, value []byte) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	fs.data[key] = json.RawMessage(value)
	return fs.flushLocked()
}

func (fs *FileStore) Delete(ctx context.Context, key string) error {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()

	if _, exists := fs.data[key]; !exists {
		return nil
	}
	delete(fs.data, key)
	return fs.flushLocked()
}

func (fs *FileStore) flushLocked() error {
	raw, err := json.Marshal(fs.data)
	if err != nil {
		return err
	}

	tmp := fs.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path)
}
