package storage

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// invalidationThreshold is the number of consecutive backend failures
// after which the store marks itself invalidated and degrades to
// cache-only operation.
const invalidationThreshold = 3

// Store is a write-through key-value store: every read and write goes
// through an in-process cache, with the configured backend providing
// durability. When the backend becomes unreachable the store degrades
// to cache-only operation: reads serve cached data, writes report
// failure via their boolean result instead of erroring.
type Store struct {
	backend Backend

	mu    sync.RWMutex
	cache map[string]json.RawMessage

	invalidated atomic.Bool
	failures    atomic.Int32
}

// NewStore creates a store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		cache:   make(map[string]json.RawMessage),
	}
}

// Get retrieves the raw value for a key: cache first, then backend.
// A backend hit is cached for subsequent reads.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, true
	}

	if s.Invalidated() {
		return nil, false
	}

	value, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.recordFailure(err, "get")
		return nil, false
	}
	s.recordSuccess()
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return value, true
}

// GetJSON retrieves a key and unmarshals it into out.
func (s *Store) GetJSON(ctx context.Context, key string, out any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("stored value is not valid JSON for target type")
		return false
	}
	return true
}

// Set writes a batch of values. The cache is always updated; the
// backend write is skipped when the store is invalidated. Returns
// false when any value could not be persisted.
func (s *Store) Set(ctx context.Context, values map[string]any) bool {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		data, err := json.Marshal(value)
		if err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to marshal value")
			return false
		}
		encoded[key] = data
	}

	s.mu.Lock()
	for key, data := range encoded {
		s.cache[key] = data
	}
	s.mu.Unlock()

	if s.Invalidated() {
		return false
	}

	for key, data := range encoded {
		if err := s.backend.Set(ctx, key, data); err != nil {
			s.recordFailure(err, "set")
			return false
		}
	}
	s.recordSuccess()
	return true
}

// Put writes a single value.
func (s *Store) Put(ctx context.Context, key string, value any) bool {
	return s.Set(ctx, map[string]any{key: value})
}

// Remove deletes keys from cache and backend. Removing an absent key
// is a no-op.
func (s *Store) Remove(ctx context.Context, keys ...string) bool {
	s.mu.Lock()
	for _, key := range keys {
		delete(s.cache, key)
	}
	s.mu.Unlock()

	if s.Invalidated() {
		return false
	}

	if err := s.backend.Remove(ctx, keys...); err != nil {
		s.recordFailure(err, "remove")
		return false
	}
	s.recordSuccess()
	return true
}

// GetAll returns every known key/value pair, merging backend records
// with the cache. Cached entries win so in-flight writes are visible
// even when the backend write failed.
func (s *Store) GetAll(ctx context.Context) map[string]json.RawMessage {
	merged := make(map[string]json.RawMessage)

	if !s.Invalidated() {
		stored, err := s.backend.GetAll(ctx)
		if err != nil {
			s.recordFailure(err, "get_all")
		} else {
			s.recordSuccess()
			for key, value := range stored {
				merged[key] = value
			}
		}
	}

	s.mu.RLock()
	for key, value := range s.cache {
		merged[key] = value
	}
	s.mu.RUnlock()

	return merged
}

// Clear removes everything from cache and backend.
func (s *Store) Clear(ctx context.Context) bool {
	s.mu.Lock()
	s.cache = make(map[string]json.RawMessage)
	s.mu.Unlock()

	if s.Invalidated() {
		return false
	}

	if err := s.backend.Clear(ctx); err != nil {
		s.recordFailure(err, "clear")
		return false
	}
	s.recordSuccess()
	return true
}

// Invalidated reports whether the store has degraded to cache-only
// operation. The condition is sticky: clearing it requires
// constructing a new store over a healthy backend.
func (s *Store) Invalidated() bool {
	return s.invalidated.Load()
}

// MarkInvalidated forces the store into cache-only operation.
func (s *Store) MarkInvalidated() {
	if s.invalidated.CompareAndSwap(false, true) {
		log.Warn().Str("backend", s.backend.Name()).Msg("storage invalidated, degrading to cache-only")
	}
}

// Close closes the underlying backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) recordFailure(err error, op string) {
	count := s.failures.Add(1)
	log.Warn().Err(err).Str("op", op).Str("backend", s.backend.Name()).Msg("storage backend error")
	if count >= invalidationThreshold {
		s.MarkInvalidated()
	}
}

func (s *Store) recordSuccess() {
	s.failures.Store(0)
}
