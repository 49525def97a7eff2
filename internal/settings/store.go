// Package settings persists user-editable overrides as a JSON document of
// fixed string keys: API keys, the database DSN override, the selected
// vector index, per-user model and filter choices, and the session user.
//
// Other components read overrides through this store and subscribe to
// changes so cached clients can be rebuilt when a key or index changes.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/iapropria/iapropria/internal/logging"
	"go.uber.org/zap"
)

// Fixed keys of the settings document.
const (
	KeyAPIKeys       = "iapropria.api_keys"
	KeyDBOverride    = "iapropria.db_override"
	KeyVectorIndex   = "iapropria.vector_index"
	KeySessionUser   = "iapropria.session_user"
	modelKeyPrefix   = "iapropria.model."
	filtersKeyPrefix = "iapropria.filters."
)

// ProviderVectorStore is the api_keys entry holding the vector store key.
const ProviderVectorStore = "vector_store"

var (
	// ErrInvalidKey indicates an empty or malformed settings key.
	ErrInvalidKey = errors.New("invalid settings key")

	// ErrCorrupt indicates the settings file could not be parsed.
	ErrCorrupt = errors.New("settings file is corrupt")
)

// Change describes one modified key.
type Change struct {
	Key     string
	Deleted bool
}

// Store is a concurrency-safe key/value document backed by a JSON file.
// A Store with an empty path keeps everything in memory.
type Store struct {
	path   string
	logger *logging.Logger

	mu     sync.RWMutex
	values map[string]json.RawMessage

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	// serializes read-modify-write of the api_keys blob
	apiKeysMu sync.Mutex
}

// Open loads the document at path, creating its directory if needed. A
// missing file yields an empty store.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		path:   path,
		logger: logger,
		values: make(map[string]json.RawMessage),
		subs:   make(map[int]func(Change)),
	}
	if path == "" {
		return s, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating settings directory: %w", err)
	}
	values, err := readFile(path)
	if err != nil {
		return nil, err
	}
	s.values = values
	return s, nil
}

// NewMemory returns a store without persistence.
func NewMemory() *Store {
	s, _ := Open("", nil)
	return s
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string {
	return s.path
}

func readFile(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]json.RawMessage), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	values := make(map[string]json.RawMessage)
	if len(bytes.TrimSpace(data)) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	// Compact so values compare equal to what Set stored before indenting.
	for k, v := range values {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrCorrupt, k, err)
		}
		values[k] = buf.Bytes()
	}
	return values, nil
}

// Get decodes the value under key into v. It reports false when the key is
// absent.
func (s *Store) Get(key string, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decoding %s: %w", key, err)
	}
	return true, nil
}

// Set stores v under key and persists the document.
func (s *Store) Set(key string, v any) error {
	if strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}

	s.mu.Lock()
	prev, existed := s.values[key]
	if existed && bytes.Equal(prev, raw) {
		s.mu.Unlock()
		return nil
	}
	s.values[key] = raw
	err = s.persistLocked()
	if err != nil {
		// memory must not diverge from disk
		if existed {
			s.values[key] = prev
		} else {
			delete(s.values, key)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(Change{Key: key})
	return nil
}

// Delete removes key and persists the document.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	prev, ok := s.values[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.values, key)
	err := s.persistLocked()
	if err != nil {
		s.values[key] = prev
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(Change{Key: key, Deleted: true})
	return nil
}

// Keys returns all keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Reload re-reads the backing file and emits a Change for every key whose
// value differs from memory. Writes made by this process produce no events.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	fresh, err := readFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	var changes []Change
	for k, v := range fresh {
		if prev, ok := s.values[k]; !ok || !bytes.Equal(prev, v) {
			changes = append(changes, Change{Key: k})
		}
	}
	for k := range s.values {
		if _, ok := fresh[k]; !ok {
			changes = append(changes, Change{Key: k, Deleted: true})
		}
	}
	s.values = fresh
	s.mu.Unlock()

	for _, c := range changes {
		s.notify(c)
	}
	return nil
}

// Subscribe registers fn for change events and returns an unsubscribe func.
// fn runs synchronously on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// persistLocked writes the document atomically. Caller holds s.mu.
func (s *Store) persistLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing settings: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting settings permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing settings: %w", err)
	}

	s.logger.Debug(context.Background(), "settings persisted", zap.String("path", s.path), zap.Int("keys", len(s.values)))
	return nil
}
