package session

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/kavarel/gigpilot/internal/storage"
	"github.com/rs/zerolog/log"
)

// exportVersion tags the export format so future imports can detect
// incompatible payloads.
const exportVersion = 1

// Manager owns the set of live sessions. The in-memory map is a
// write-through cache over the key-value store; eviction runs
// periodically against both.
type Manager struct {
	store *storage.Store
	cfg   config.SessionConfig

	mu        sync.Mutex
	active    map[string]*Session
	currentID string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager over the given store.
func NewManager(store *storage.Store, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:  store,
		cfg:    cfg,
		active: make(map[string]*Session),
		stop:   make(chan struct{}),
	}
}

// Start launches the periodic cleanup task. It returns immediately;
// Stop terminates the task.
func (m *Manager) Start(ctx context.Context) {
	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed := m.CleanupOldSessions(ctx)
				if removed > 0 {
					log.Info().Int("removed", removed).Msg("session cleanup pass finished")
				}
			case <-m.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the periodic cleanup task.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Create creates a session, registers it in the in-memory set and
// persists it.
func (m *Manager) Create(ctx context.Context, opts Options) *Session {
	s := New(m.store, opts)
	s.Save(ctx)

	m.mu.Lock()
	m.active[s.ID] = s
	m.mu.Unlock()
	return s
}

// GetOrCreateSession returns the session mirroring the given external
// conversation context, creating one when none exists.
func (m *Manager) GetOrCreateSession(ctx context.Context, contextID string) *Session {
	m.mu.Lock()
	if s := m.findByContextLocked(contextID); s != nil {
		m.currentID = s.ID
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	for id, rec := range m.storedRecords(ctx) {
		if rec.Metadata.FiverrContext != contextID {
			continue
		}
		s := fromRecord(m.store, id, rec)
		m.mu.Lock()
		// A racing caller may have loaded or created one first; their
		// instance wins.
		if existing := m.findByContextLocked(contextID); existing != nil {
			m.currentID = existing.ID
			m.mu.Unlock()
			return existing
		}
		m.active[id] = s
		m.currentID = id
		m.mu.Unlock()
		return s
	}

	s := New(m.store, Options{
		Title:         "Chat " + time.Now().Format("Jan 2, 2006"),
		FiverrContext: contextID,
	})
	m.mu.Lock()
	// A racing caller may have created one since the first scan.
	if existing := m.findByContextLocked(contextID); existing != nil {
		m.currentID = existing.ID
		m.mu.Unlock()
		return existing
	}
	m.active[s.ID] = s
	m.currentID = s.ID
	m.mu.Unlock()

	s.Save(ctx)
	return s
}

// findByContextLocked scans the in-memory set for a session mirroring
// the given external context. Callers hold m.mu.
func (m *Manager) findByContextLocked(contextID string) *Session {
	for _, s := range m.active {
		if s.Meta().FiverrContext == contextID {
			return s
		}
	}
	return nil
}

// GetSession returns a session by id: in-memory set first, then the
// store (caching the result). Returns nil when neither has it.
func (m *Manager) GetSession(ctx context.Context, id string) *Session {
	m.mu.Lock()
	if s, ok := m.active[id]; ok {
		m.mu.Unlock()
		return s
	}
	m.mu.Unlock()

	s := Load(ctx, m.store, id)
	if s == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.active[id]; ok {
		return existing
	}
	m.active[id] = s
	return s
}

// AllSessions merges in-memory and persisted sessions (in-memory
// wins), sorted by last update, most recent first.
func (m *Manager) AllSessions(ctx context.Context) []*Session {
	sessions := make(map[string]*Session)
	for id, rec := range m.storedRecords(ctx) {
		sessions[id] = fromRecord(m.store, id, rec)
	}

	m.mu.Lock()
	for id, s := range m.active {
		sessions[id] = s
	}
	m.mu.Unlock()

	out := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Meta().LastUpdated.After(out[j].Meta().LastUpdated)
	})
	return out
}

// DeleteSession removes a session from memory and store. Deleting an
// unknown id is a no-op.
func (m *Manager) DeleteSession(ctx context.Context, id string) {
	m.mu.Lock()
	delete(m.active, id)
	if m.currentID == id {
		m.currentID = ""
	}
	m.mu.Unlock()

	m.store.Remove(ctx, keyPrefix+id)
}

// Current returns the session treated as active by the caller, if any.
func (m *Manager) Current(ctx context.Context) *Session {
	m.mu.Lock()
	id := m.currentID
	m.mu.Unlock()
	if id == "" {
		return nil
	}
	return m.GetSession(ctx, id)
}

// SetCurrent marks a session as the active one.
func (m *Manager) SetCurrent(id string) {
	m.mu.Lock()
	m.currentID = id
	m.mu.Unlock()
}

// CleanupOldSessions removes sessions idle past the configured
// timeout, then the oldest sessions beyond the configured maximum.
// It is skipped entirely while the store is invalidated. Returns the
// number of sessions removed.
func (m *Manager) CleanupOldSessions(ctx context.Context) int {
	if m.store.Invalidated() {
		return 0
	}

	sessions := m.AllSessions(ctx)
	now := time.Now()
	removed := 0

	var kept []*Session
	for _, s := range sessions {
		if now.Sub(s.Meta().LastUpdated) > m.cfg.Timeout {
			m.DeleteSession(ctx, s.ID)
			removed++
			continue
		}
		kept = append(kept, s)
	}

	// kept is still sorted most-recent-first.
	if m.cfg.MaxSessions > 0 && len(kept) > m.cfg.MaxSessions {
		for _, s := range kept[m.cfg.MaxSessions:] {
			m.DeleteSession(ctx, s.ID)
			removed++
		}
	}

	return removed
}

// ExportData is the serialized form of every known session.
type ExportData struct {
	Version    int             `json:"version"`
	ExportedAt time.Time       `json:"exported_at"`
	Sessions   []SessionExport `json:"sessions"`
}

// SessionExport is one exported session entry.
type SessionExport struct {
	ID          string            `json:"id"`
	Messages    []domain.Message  `json:"messages"`
	Context     map[string]string `json:"context,omitempty"`
	Metadata    Metadata          `json:"metadata"`
	APIKeyIndex *int              `json:"api_key_index,omitempty"`
}

func exportSession(s *Session) SessionExport {
	entry := SessionExport{
		ID:       s.ID,
		Messages: s.Messages(),
		Context:  s.ContextMap(),
		Metadata: s.Meta(),
	}
	if index, ok := s.APIKeyIndex(); ok {
		entry.APIKeyIndex = &index
	}
	return entry
}

func importSession(store *storage.Store, entry SessionExport) *Session {
	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	return fromRecord(store, id, record{
		Messages:    entry.Messages,
		Context:     entry.Context,
		Metadata:    entry.Metadata,
		APIKeyIndex: entry.APIKeyIndex,
	})
}

// ExportSessions serializes every known session with a format version
// and timestamp.
func (m *Manager) ExportSessions(ctx context.Context) ExportData {
	sessions := m.AllSessions(ctx)
	entries := make([]SessionExport, 0, len(sessions))
	for _, s := range sessions {
		entries = append(entries, exportSession(s))
	}
	return ExportData{
		Version:    exportVersion,
		ExportedAt: time.Now(),
		Sessions:   entries,
	}
}

// ImportSessions recreates and persists a session per entry. A payload
// without a sessions list is rejected; partial writes already made are
// not rolled back.
func (m *Manager) ImportSessions(ctx context.Context, data ExportData) bool {
	if data.Sessions == nil {
		log.Warn().Msg("import payload has no sessions list")
		return false
	}

	for _, entry := range data.Sessions {
		s := importSession(m.store, entry)
		if !s.Save(ctx) {
			log.Warn().Str("session_id", s.ID).Msg("failed to persist imported session")
		}
		m.mu.Lock()
		m.active[s.ID] = s
		m.mu.Unlock()
	}
	return true
}

// storedRecords loads every persisted session record, skipping
// entries that no longer parse.
func (m *Manager) storedRecords(ctx context.Context) map[string]record {
	out := make(map[string]record)
	for key, raw := range m.store.GetAll(ctx) {
		if !strings.HasPrefix(key, keyPrefix) {
			continue
		}
		var rec record
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("skipping unreadable session record")
			continue
		}
		out[strings.TrimPrefix(key, keyPrefix)] = rec
	}
	return out
}
