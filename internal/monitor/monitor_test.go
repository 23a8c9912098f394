package monitor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/hub"
	"github.com/vantrex/warelay/internal/registry"
	"github.com/vantrex/warelay/internal/store"
	"github.com/vantrex/warelay/internal/transport"
)

func newTestMonitor(t *testing.T) (*Monitor, *store.SQLiteStore, *credstore.FileStore, *registry.Registry) {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	creds, err := credstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	reg := registry.New(repo, creds, transport.NewSimulated(), hub.New(), time.Hour)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = reg.Drain(ctx)
	})

	m := New(repo, creds, reg, Config{
		CleanupInterval:  time.Hour,
		CleanupThreshold: 30 * 24 * time.Hour,
		HealthInterval:   time.Hour,
		DisconnectGrace:  5 * time.Minute,
	})
	return m, repo, creds, reg
}

func seed(t *testing.T, repo *store.SQLiteStore, sessionID string, status domain.SessionStatus, lastActivity time.Time) {
	t.Helper()
	require.NoError(t, repo.UpsertSession(context.Background(), &domain.Session{
		SessionID:    sessionID,
		Status:       status,
		IsActive:     true,
		LastActivity: lastActivity,
		CreatedAt:    lastActivity,
		UpdatedAt:    lastActivity,
	}))
}

func TestCleanupPurgesExpiredSessions(t *testing.T) {
	m, repo, creds, _ := newTestMonitor(t)
	ctx := context.Background()

	seed(t, repo, "stale", domain.StatusDisconnected, time.Now().Add(-31*24*time.Hour))
	seed(t, repo, "fresh", domain.StatusDisconnected, time.Now())
	seed(t, repo, "busy", domain.StatusConnected, time.Now().Add(-31*24*time.Hour))

	// Stale session has credentials and dependent records to clear.
	_, err := creds.Load(ctx, "stale")
	require.NoError(t, err)
	require.NoError(t, repo.UpsertChat(ctx, &domain.Chat{SessionID: "stale", ChatID: "111@c.us", LastMessageAt: time.Now()}))

	cleaned, err := m.RunCleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, cleaned)

	sess, err := repo.GetSession(ctx, "stale")
	require.NoError(t, err)
	require.Nil(t, sess)
	chat, err := repo.GetChat(ctx, "stale", "111@c.us")
	require.NoError(t, err)
	require.Nil(t, chat)

	// A fresh identity is generated on next load, meaning the old
	// material is gone.
	identity, err := creds.Load(ctx, "stale")
	require.NoError(t, err)
	require.False(t, identity.Paired)

	for _, id := range []string{"fresh", "busy"} {
		sess, err := repo.GetSession(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, sess, "session %s must survive cleanup", id)
	}
}

func TestCleanupEmptySweep(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)

	cleaned, err := m.RunCleanup(context.Background())
	require.NoError(t, err)
	require.Zero(t, cleaned)
}

func TestHealthCheckWritesSnapshots(t *testing.T) {
	m, repo, _, reg := newTestMonitor(t)
	ctx := context.Background()

	require.NoError(t, reg.Create(ctx, "s1"))
	require.Eventually(t, func() bool {
		_, ok := reg.Get("s1")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, m.RunHealthCheck(ctx))

	sess, err := repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Positive(t, sess.MemoryUsage)
	require.WithinDuration(t, time.Now(), sess.LastHealthCheck, 5*time.Second)
}

func TestHealthCheckNoLiveSessions(t *testing.T) {
	m, _, _, _ := newTestMonitor(t)
	require.NoError(t, m.RunHealthCheck(context.Background()))
}

func TestProblematicSessions(t *testing.T) {
	m, repo, _, _ := newTestMonitor(t)
	ctx := context.Background()

	seed(t, repo, "healthy", domain.StatusConnected, time.Now())
	seed(t, repo, "errored", domain.StatusError, time.Now())
	seed(t, repo, "flapping", domain.StatusDisconnected, time.Now())
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.RecordDisconnect(ctx, "flapping", "network error", time.Now()))
	}

	problematic, err := m.ProblematicSessions(ctx, 3)
	require.NoError(t, err)

	ids := make([]string, 0, len(problematic))
	for _, sess := range problematic {
		ids = append(ids, sess.SessionID)
	}
	require.ElementsMatch(t, []string{"errored", "flapping"}, ids)
}
