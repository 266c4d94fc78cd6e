package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/kavarel/gigpilot/internal/config"
	"github.com/kavarel/gigpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManagerConfig() config.SessionConfig {
	return config.SessionConfig{
		Timeout:         30 * time.Minute,
		MaxSessions:     50,
		CleanupInterval: time.Minute,
	}
}

// backdate rewrites a session's last-update time and persists it.
func backdate(ctx context.Context, s *Session, age time.Duration) {
	s.mu.Lock()
	s.meta.LastUpdated = time.Now().Add(-age)
	s.mu.Unlock()
	s.Save(ctx)
}

func TestManager_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	m := NewManager(store, testManagerConfig())

	s := m.Create(ctx, Options{Title: "First"})
	require.NotNil(t, s)

	got := m.GetSession(ctx, s.ID)
	assert.Same(t, s, got)

	// A fresh manager over the same store finds the persisted session.
	m2 := NewManager(store, testManagerConfig())
	loaded := m2.GetSession(ctx, s.ID)
	require.NotNil(t, loaded)
	assert.Equal(t, "First", loaded.Meta().Title)

	assert.Nil(t, m.GetSession(ctx, "missing"))
}

func TestManager_GetOrCreateSession(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())

	s1 := m.GetOrCreateSession(ctx, "fiverr-ctx-1")
	require.NotNil(t, s1)
	assert.Equal(t, "fiverr-ctx-1", s1.Meta().FiverrContext)
	assert.Contains(t, s1.Meta().Title, "Chat ")

	// Same context id maps back to the same session.
	s2 := m.GetOrCreateSession(ctx, "fiverr-ctx-1")
	assert.Same(t, s1, s2)

	// A different context id gets its own session.
	s3 := m.GetOrCreateSession(ctx, "fiverr-ctx-2")
	assert.NotEqual(t, s1.ID, s3.ID)

	// The most recently mapped session becomes current.
	assert.Same(t, s3, m.Current(ctx))
}

func TestManager_GetOrCreateSession_FindsPersisted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()

	m1 := NewManager(store, testManagerConfig())
	created := m1.GetOrCreateSession(ctx, "fiverr-ctx-1")

	m2 := NewManager(store, testManagerConfig())
	found := m2.GetOrCreateSession(ctx, "fiverr-ctx-1")
	assert.Equal(t, created.ID, found.ID)
}

func TestManager_GetOrCreateSession_ConcurrentSameContext(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())

	const callers = 8
	ids := make(chan string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- m.GetOrCreateSession(ctx, "fiverr-ctx-1").ID
		}()
	}
	wg.Wait()
	close(ids)

	first := <-ids
	for id := range ids {
		assert.Equal(t, first, id)
	}
	assert.Len(t, m.AllSessions(ctx), 1)
}

func TestManager_AllSessionsSorted(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())

	old := m.Create(ctx, Options{Title: "old"})
	backdate(ctx, old, time.Hour)

	recent := m.Create(ctx, Options{Title: "recent"})

	sessions := m.AllSessions(ctx)
	require.Len(t, sessions, 2)
	assert.Equal(t, recent.ID, sessions[0].ID)
	assert.Equal(t, old.ID, sessions[1].ID)
}

func TestManager_DeleteSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	m := NewManager(store, testManagerConfig())

	s := m.Create(ctx, Options{})
	m.SetCurrent(s.ID)

	m.DeleteSession(ctx, s.ID)

	assert.Nil(t, m.GetSession(ctx, s.ID))
	assert.Nil(t, m.Current(ctx))
	assert.Nil(t, Load(ctx, store, s.ID))

	// Deleting an unknown id is a no-op.
	m.DeleteSession(ctx, "missing")
}

func TestManager_CleanupOldSessions(t *testing.T) {
	ctx := context.Background()

	t.Run("removes timed out sessions", func(t *testing.T) {
		m := NewManager(newTestStore(), testManagerConfig())

		stale := m.Create(ctx, Options{Title: "stale"})
		backdate(ctx, stale, time.Hour)

		fresh := m.Create(ctx, Options{Title: "fresh"})

		removed := m.CleanupOldSessions(ctx)
		assert.Equal(t, 1, removed)
		assert.Nil(t, m.GetSession(ctx, stale.ID))
		assert.NotNil(t, m.GetSession(ctx, fresh.ID))
	})

	t.Run("zero timeout removes every session", func(t *testing.T) {
		cfg := testManagerConfig()
		cfg.Timeout = 0
		m := NewManager(newTestStore(), cfg)

		for _, age := range []time.Duration{3 * time.Second, 2 * time.Second, time.Second} {
			s := m.Create(ctx, Options{})
			backdate(ctx, s, age)
		}

		removed := m.CleanupOldSessions(ctx)
		assert.Equal(t, 3, removed)
		assert.Empty(t, m.AllSessions(ctx))
	})

	t.Run("evicts oldest beyond max", func(t *testing.T) {
		cfg := testManagerConfig()
		cfg.MaxSessions = 2
		m := NewManager(newTestStore(), cfg)

		oldest := m.Create(ctx, Options{Title: "oldest"})
		backdate(ctx, oldest, 10*time.Minute)

		middle := m.Create(ctx, Options{Title: "middle"})
		backdate(ctx, middle, 5*time.Minute)

		newest := m.Create(ctx, Options{Title: "newest"})

		removed := m.CleanupOldSessions(ctx)
		assert.Equal(t, 1, removed)
		assert.Nil(t, m.GetSession(ctx, oldest.ID))
		assert.NotNil(t, m.GetSession(ctx, middle.ID))
		assert.NotNil(t, m.GetSession(ctx, newest.ID))
	})

	t.Run("skipped while store degraded", func(t *testing.T) {
		store := newTestStore()
		m := NewManager(store, testManagerConfig())

		stale := m.Create(ctx, Options{})
		backdate(ctx, stale, time.Hour)

		store.MarkInvalidated()
		assert.Zero(t, m.CleanupOldSessions(ctx))
		assert.NotNil(t, m.GetSession(ctx, stale.ID))
	})
}

// Exercises the cleanup ticker's read paths while a handler-side
// goroutine mutates the same session; meaningful under -race.
func TestManager_ConcurrentMutationAndCleanup(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())
	s := m.GetOrCreateSession(ctx, "fiverr-ctx-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			s.AddMessage(domain.RoleUser, "ping", nil)
			m.ExportSessions(ctx)
		}
	}()

	for i := 0; i < 50; i++ {
		m.CleanupOldSessions(ctx)
		m.AllSessions(ctx)
		m.GetOrCreateSession(ctx, "fiverr-ctx-1")
	}
	<-done

	assert.NotNil(t, m.GetSession(ctx, s.ID))
}

func TestManager_ExportImportRoundtrip(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())

	s := m.Create(ctx, Options{Title: "Exported", FiverrContext: "ctx-7"})
	s.AddMessage(domain.RoleUser, "hello", nil)
	s.AddMessage(domain.RoleAssistant, "hi", nil)
	s.Save(ctx)

	data := m.ExportSessions(ctx)
	assert.Equal(t, 1, data.Version)
	require.Len(t, data.Sessions, 1)

	// Import into a fresh manager over an empty store.
	m2 := NewManager(newTestStore(), testManagerConfig())
	require.True(t, m2.ImportSessions(ctx, data))

	imported := m2.GetSession(ctx, s.ID)
	require.NotNil(t, imported)
	assert.Equal(t, "Exported", imported.Meta().Title)
	assert.Equal(t, "ctx-7", imported.Meta().FiverrContext)
	assert.Len(t, imported.Messages(), 2)
}

func TestManager_ImportRejectsMissingSessionsList(t *testing.T) {
	ctx := context.Background()
	m := NewManager(newTestStore(), testManagerConfig())

	t.Run("missing sessions key", func(t *testing.T) {
		var data ExportData
		require.NoError(t, json.Unmarshal([]byte(`{"version":1}`), &data))
		assert.False(t, m.ImportSessions(ctx, data))
	})

	t.Run("explicit empty list accepted", func(t *testing.T) {
		var data ExportData
		require.NoError(t, json.Unmarshal([]byte(`{"version":1,"sessions":[]}`), &data))
		assert.True(t, m.ImportSessions(ctx, data))
	})

	t.Run("entry without id gets a fresh one", func(t *testing.T) {
		data := ExportData{Sessions: []SessionExport{{Metadata: Metadata{Title: "anon"}}}}
		require.True(t, m.ImportSessions(ctx, data))

		var found bool
		for _, s := range m.AllSessions(ctx) {
			if s.Meta().Title == "anon" {
				found = true
				assert.NotEmpty(t, s.ID)
			}
		}
		assert.True(t, found)
	})
}
