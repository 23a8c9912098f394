package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/hub"
	"github.com/vantrex/warelay/internal/store"
	"github.com/vantrex/warelay/internal/transport"
)

const waitFor = 3 * time.Second
const tick = 10 * time.Millisecond

type fixture struct {
	repo   *store.SQLiteStore
	creds  *credstore.FileStore
	tr     *transport.Simulated
	events *hub.Hub
	reg    *Registry
}

func newFixture(t *testing.T, reconnectDelay time.Duration) *fixture {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	creds, err := credstore.NewFileStore(t.TempDir())
	require.NoError(t, err)

	tr := transport.NewSimulated()
	events := hub.New()
	reg := New(repo, creds, tr, events, reconnectDelay)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = reg.Drain(ctx)
	})

	return &fixture{repo: repo, creds: creds, tr: tr, events: events, reg: reg}
}

func (f *fixture) sessionStatus(t *testing.T, sessionID string) domain.SessionStatus {
	t.Helper()
	sess, err := f.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	if sess == nil {
		return ""
	}
	return sess.Status
}

func (f *fixture) waitStatus(t *testing.T, sessionID string, want domain.SessionStatus) *domain.Session {
	t.Helper()
	require.Eventually(t, func() bool {
		return f.sessionStatus(t, sessionID) == want
	}, waitFor, tick, "session %s never reached %s", sessionID, want)

	sess, err := f.repo.GetSession(context.Background(), sessionID)
	require.NoError(t, err)
	return sess
}

func TestCreateIssuesPairingCodeForFreshSession(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))

	sess := f.waitStatus(t, "s1", domain.StatusQRReady)
	require.NotEmpty(t, sess.QRCode)

	status, ok := f.reg.Get("s1")
	require.True(t, ok)
	require.False(t, status.Connected)
}

func TestCreateIsIdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, f.reg.Create(ctx, "s1"))
		}()
	}
	wg.Wait()

	require.Len(t, f.reg.Live(), 1)
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)

	// Scan completes out of band; the session opens.
	require.NoError(t, f.tr.CompletePairing(ctx, "s1", "+4917012345", "Alice", "android"))

	sess := f.waitStatus(t, "s1", domain.StatusConnected)
	require.Empty(t, sess.QRCode, "QR code must be cleared on connect")
	require.Zero(t, sess.ConnectionAttempts)
	require.Equal(t, "+4917012345", sess.Phone)
	require.Equal(t, "android", sess.Platform)

	require.Eventually(t, func() bool {
		status, ok := f.reg.Get("s1")
		return ok && status.Connected
	}, waitFor, tick)

	// A network drop records the disconnect and reconnects once; the
	// paired identity survives, so the session comes straight back up.
	require.NoError(t, f.tr.Drop("s1", "network error"))

	require.Eventually(t, func() bool {
		sess, err := f.repo.GetSession(ctx, "s1")
		require.NoError(t, err)
		return sess.LastDisconnectReason == "network error"
	}, waitFor, tick)

	sess = f.waitStatus(t, "s1", domain.StatusConnected)
	require.Equal(t, "+4917012345", sess.Phone)
}

func TestLogoutDoesNotReconnect(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)
	require.NoError(t, f.tr.CompletePairing(ctx, "s1", "", "", ""))
	f.waitStatus(t, "s1", domain.StatusConnected)

	require.NoError(t, f.reg.Disconnect(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusDisconnected)

	// Well past the reconnect delay: no handle may come back.
	time.Sleep(100 * time.Millisecond)
	_, ok := f.reg.Get("s1")
	require.False(t, ok, "logout must not schedule a reconnect")
	require.Equal(t, domain.StatusDisconnected, f.sessionStatus(t, "s1"))
}

func TestRemoveDoesNotResurrectDeletedSession(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)

	// Purge order mirrors the cleanup sweep: cascade-delete the durable
	// session, then drop the live handle.
	require.NoError(t, f.repo.DeleteSessionCascade(ctx, "s1"))
	f.reg.Remove("s1")

	// Well past the reconnect delay: the discarded handle's final Closed
	// event must not re-seed a session that was just purged.
	time.Sleep(100 * time.Millisecond)
	_, ok := f.reg.Get("s1")
	require.False(t, ok, "removed handle came back to life")
	sess, err := f.repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.Nil(t, sess, "purged session was re-seeded by a stale reconnect")
}

func TestDisconnectUnknownSession(t *testing.T) {
	f := newFixture(t, time.Hour)

	err := f.reg.Disconnect(context.Background(), "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenFailureBecomesErrorStatus(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.tr.FailNextOpen("s1", errors.New("dial refused"))

	// Create does not propagate the transport failure.
	require.NoError(t, f.reg.Create(ctx, "s1"))

	sess := f.waitStatus(t, "s1", domain.StatusError)
	require.Contains(t, sess.LastDisconnectReason, "dial refused")
	_, ok := f.reg.Get("s1")
	require.False(t, ok)
}

func TestSendMessageRequiresConnection(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	_, err := f.reg.SendMessage(ctx, "s1", "111@c.us", "hello")
	require.ErrorIs(t, err, domain.ErrNotConnected)

	// A handle waiting on pairing is live but not connected.
	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)
	_, err = f.reg.SendMessage(ctx, "s1", "111@c.us", "hello")
	require.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestSendMessageRecordsDurably(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)
	require.NoError(t, f.tr.CompletePairing(ctx, "s1", "", "", ""))
	f.waitStatus(t, "s1", domain.StatusConnected)
	require.Eventually(t, func() bool {
		status, ok := f.reg.Get("s1")
		return ok && status.Connected
	}, waitFor, tick)

	sub := f.events.Subscribe()
	defer f.events.Unsubscribe(sub)

	msg, err := f.reg.SendMessage(ctx, "s1", "111@c.us", "hello")
	require.NoError(t, err)
	require.True(t, msg.FromMe)
	require.Equal(t, domain.MessageStatusSent, msg.Status)

	// The durable write lands before the fan-out fires.
	select {
	case ev := <-sub.C:
		require.Equal(t, hub.EventMessageSent, ev.Type)
		messages, total, err := f.repo.ListMessages(ctx, "s1", "111@c.us", 0, 10)
		require.NoError(t, err)
		require.Equal(t, 1, total)
		require.Equal(t, msg.MessageID, messages[0].MessageID)
	case <-time.After(waitFor):
		t.Fatal("no message-sent event published")
	}

	sess, err := f.repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.EqualValues(t, 1, sess.MessagesSent)
}

func TestInboundMessageFlow(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)
	require.NoError(t, f.tr.CompletePairing(ctx, "s1", "", "", ""))
	f.waitStatus(t, "s1", domain.StatusConnected)

	require.NoError(t, f.tr.Deliver("s1", "111@c.us", "111@c.us", "hi there"))

	require.Eventually(t, func() bool {
		_, total, err := f.repo.ListMessages(ctx, "s1", "111@c.us", 0, 10)
		require.NoError(t, err)
		return total == 1
	}, waitFor, tick)

	chat, err := f.repo.GetChat(ctx, "s1", "111@c.us")
	require.NoError(t, err)
	require.Equal(t, "hi there", chat.LastMessage)
	require.Equal(t, 1, chat.UnreadCount)

	sess, err := f.repo.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.EqualValues(t, 1, sess.MessagesReceived)
}

func TestChatReconciliationOnOpen(t *testing.T) {
	f := newFixture(t, time.Hour)
	ctx := context.Background()

	f.tr.SeedGroups("s1", []transport.GroupInfo{
		{ChatID: "team@g.us", Name: "Team"},
		{ChatID: "family@g.us", Name: "Family"},
	})

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)
	require.NoError(t, f.tr.CompletePairing(ctx, "s1", "", "", ""))
	f.waitStatus(t, "s1", domain.StatusConnected)

	require.Eventually(t, func() bool {
		_, total, err := f.repo.ListChats(ctx, "s1", domain.FilterGroup, nil, 0, 10)
		require.NoError(t, err)
		return total == 2
	}, waitFor, tick)

	chat, err := f.repo.GetChat(ctx, "s1", "team@g.us")
	require.NoError(t, err)
	require.Equal(t, "Team", chat.Name)
}

func TestDrainStopsEverything(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, f.reg.Create(ctx, "s1"))
	f.waitStatus(t, "s1", domain.StatusQRReady)

	drainCtx, cancel := context.WithTimeout(ctx, waitFor)
	defer cancel()
	require.NoError(t, f.reg.Drain(drainCtx))

	require.Empty(t, f.reg.Live())
	require.Error(t, f.reg.Create(ctx, "s2"), "a drained registry must refuse new handles")
}
