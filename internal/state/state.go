// Package state persists records and tracks visited URLs.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("record not found")

// Store keeps JSON-encoded records in named buckets.
type Store interface {
	// Put encodes v as JSON under key.
	Put(bucket, key string, v interface{}) error
	// Get decodes the record under key into v. It returns ErrNotFound when
	// the key is absent.
	Get(bucket, key string, v interface{}) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(bucket, key string) error
	// ForEach calls fn for every record in key order until fn fails.
	ForEach(bucket string, fn func(key string, data []byte) error) error
	Close() error
}

// MemoryStore implements Store in memory.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]map[string][]byte)}
}

// Put stores v under key.
func (s *MemoryStore) Put(bucket, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", bucket, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		s.buckets[bucket] = b
	}
	b[key] = data
	return nil
}

// Get loads key into v.
func (s *MemoryStore) Get(bucket, key string, v interface{}) error {
	s.mu.RLock()
	data, ok := s.buckets[bucket][key]
	s.mu.RUnlock()

	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

// Delete removes key.
func (s *MemoryStore) Delete(bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.buckets[bucket], key)
	return nil
}

// ForEach iterates a bucket in key order.
func (s *MemoryStore) ForEach(bucket string, fn func(key string, data []byte) error) error {
	s.mu.RLock()
	b := s.buckets[bucket]
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	snapshot := make(map[string][]byte, len(b))
	for k, v := range b {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}
