// Package buildcache persists values between builds so that files already
// stored in the CDN project are not uploaded again.
package buildcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Store is a small key/value store that outlives a single build.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// manifestVersion is bumped when the manifest format changes.
const manifestVersion = "1"

const lockRetryDelay = 50 * time.Millisecond

// manifest is the structure persisted as manifest.json.
type manifest struct {
	Version string                     `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// FileStore keeps every entry in a single JSON manifest inside a cache
// directory. Writes re-read the manifest under an exclusive file lock so
// concurrent builds sharing the directory do not lose each other's entries.
// All methods are safe for concurrent use.
type FileStore struct {
	mu       sync.Mutex
	dir      string
	lock     *flock.Flock
	manifest manifest
}

// NewFileStore opens the store rooted at dir, creating it when missing. An
// unreadable or outdated manifest starts the store empty.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	s := &FileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, "manifest.lock")),
	}
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	s.manifest = m
	return s, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path() string { return filepath.Join(s.dir, "manifest.json") }

func (s *FileStore) read() (manifest, error) {
	empty := manifest{Version: manifestVersion, Entries: make(map[string]json.RawMessage)}

	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return empty, nil
		}
		return manifest{}, fmt.Errorf("reading cache manifest: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return empty, nil
	}
	if m.Version != manifestVersion {
		return empty, nil
	}
	if m.Entries == nil {
		m.Entries = make(map[string]json.RawMessage)
	}
	return m, nil
}

// Get returns the value stored under key.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.manifest.Entries[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Set stores value under key and persists the manifest. The value must be
// valid JSON.
func (s *FileStore) Set(ctx context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("cache value for %q is not valid JSON", key)
	}
	return s.update(ctx, func(m *manifest) {
		m.Entries[key] = append(json.RawMessage(nil), value...)
	})
}

// Delete removes key and persists the manifest.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	return s.update(ctx, func(m *manifest) {
		delete(m.Entries, key)
	})
}

// Keys returns the stored keys in sorted order.
func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.manifest.Entries))
	for k := range s.manifest.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close releases the file lock if it is still held.
func (s *FileStore) Close() error {
	return s.lock.Close()
}

// update applies fn to the on-disk manifest under the file lock and writes
// the result back atomically.
func (s *FileStore) update(ctx context.Context, fn func(*manifest)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("locking cache manifest: %w", err)
	}
	if !locked {
		return fmt.Errorf("locking cache manifest: lock not acquired")
	}
	defer s.lock.Unlock()

	m, err := s.read()
	if err != nil {
		return err
	}
	fn(&m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling cache manifest: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing cache manifest: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("replacing cache manifest: %w", err)
	}
	s.manifest = m
	return nil
}
