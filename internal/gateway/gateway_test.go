package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/store"
)

var (
	admin    = domain.Caller{UserID: "boss", Role: domain.RoleAdmin}
	assignee = domain.Caller{UserID: "u1", Role: domain.RoleAssignee}
)

func newTestGateway(t *testing.T) (*Gateway, *store.SQLiteStore) {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return New(repo), repo
}

func seedChats(t *testing.T, repo *store.SQLiteStore, sessionID string, chatIDs ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, repo.UpsertSession(ctx, &domain.Session{
		SessionID:    sessionID,
		Status:       domain.StatusConnected,
		IsActive:     true,
		LastActivity: time.Now(),
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}))
	for i, chatID := range chatIDs {
		require.NoError(t, repo.UpsertChat(ctx, &domain.Chat{
			SessionID:     sessionID,
			ChatID:        chatID,
			LastMessageAt: time.Now().Add(-time.Duration(i) * time.Minute),
		}))
	}
}

func TestAdminSeesAllChats(t *testing.T) {
	g, repo := newTestGateway(t)
	seedChats(t, repo, "s1", "111@c.us", "222@c.us", "grp@g.us")

	page, err := g.ListChats(context.Background(), "s1", admin, 1, 20, domain.FilterAll)
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Chats, 3)
}

func TestAssigneeWithoutAssignmentsGetsEmptyPage(t *testing.T) {
	g, repo := newTestGateway(t)
	seedChats(t, repo, "s1", "111@c.us", "222@c.us")

	page, err := g.ListChats(context.Background(), "s1", assignee, 1, 20, domain.FilterAll)
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Empty(t, page.Chats)
}

func TestAssigneeSeesOnlyAssignedChats(t *testing.T) {
	g, repo := newTestGateway(t)
	ctx := context.Background()
	seedChats(t, repo, "s1", "111@c.us", "222@c.us")

	_, err := g.Assign(ctx, "s1", "111@c.us", assignee.UserID)
	require.NoError(t, err)

	page, err := g.ListChats(ctx, "s1", assignee, 1, 20, domain.FilterAll)
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, "111@c.us", page.Chats[0].ChatID)

	// Unassignment revokes visibility immediately.
	require.NoError(t, g.Unassign(ctx, "s1", "111@c.us", assignee.UserID))
	page, err = g.ListChats(ctx, "s1", assignee, 1, 20, domain.FilterAll)
	require.NoError(t, err)
	require.Zero(t, page.Total)
}

func TestListMessagesForbiddenForUnassignedChat(t *testing.T) {
	g, repo := newTestGateway(t)
	ctx := context.Background()
	seedChats(t, repo, "s1", "111@c.us", "222@c.us")
	_, err := g.Assign(ctx, "s1", "111@c.us", assignee.UserID)
	require.NoError(t, err)

	_, err = g.ListMessages(ctx, "s1", "222@c.us", assignee, 1, 20)
	require.ErrorIs(t, err, domain.ErrForbidden)

	// The covered chat works and the admin is never gated.
	_, err = g.ListMessages(ctx, "s1", "111@c.us", assignee, 1, 20)
	require.NoError(t, err)
	_, err = g.ListMessages(ctx, "s1", "222@c.us", admin, 1, 20)
	require.NoError(t, err)
}

func TestAssignUnknownSession(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.Assign(context.Background(), "ghost", "111@c.us", "u1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssignIsIdempotent(t *testing.T) {
	g, repo := newTestGateway(t)
	ctx := context.Background()
	seedChats(t, repo, "s1", "111@c.us")

	first, err := g.Assign(ctx, "s1", "111@c.us", "u1")
	require.NoError(t, err)
	second, err := g.Assign(ctx, "s1", "111@c.us", "u1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	rows, err := g.Assignments(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestPaginationNormalization(t *testing.T) {
	g, repo := newTestGateway(t)
	seedChats(t, repo, "s1", "111@c.us", "222@c.us", "333@c.us")

	page, err := g.ListChats(context.Background(), "s1", admin, 0, -5, domain.FilterAll)
	require.NoError(t, err)
	require.Equal(t, 1, page.Page)
	require.Equal(t, 20, page.Limit)
	require.Equal(t, 3, page.Total)

	page, err = g.ListChats(context.Background(), "s1", admin, 2, 2, domain.FilterAll)
	require.NoError(t, err)
	require.Len(t, page.Chats, 1, "second page of 2 over 3 chats")
	require.Equal(t, 3, page.Total)
}

func TestReadRepairCorrectsStalePreview(t *testing.T) {
	g, repo := newTestGateway(t)
	ctx := context.Background()
	seedChats(t, repo, "s1", "111@c.us")

	// The message log is ahead of the cached preview.
	newer := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, repo.AppendMessage(ctx, &domain.Message{
		MessageID: "m-late", ChatID: "111@c.us", SessionID: "s1",
		Body: "late arrival", Timestamp: newer, Status: domain.MessageStatusReceived,
	}))

	_, err := g.ListChats(ctx, "s1", admin, 1, 20, domain.FilterAll)
	require.NoError(t, err)

	// The repair is asynchronous.
	require.Eventually(t, func() bool {
		chat, err := repo.GetChat(ctx, "s1", "111@c.us")
		require.NoError(t, err)
		return chat.LastMessage == "late arrival" && chat.LastMessageAt.Equal(newer)
	}, 3*time.Second, 10*time.Millisecond)
}
