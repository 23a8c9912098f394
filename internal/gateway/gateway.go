// Package gateway serves chat and message listings gated by the
// per-user assignment list.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	readRepairTimeout = 5 * time.Second
)

// ChatPage is one page of a chat listing.
type ChatPage struct {
	Chats []*domain.Chat `json:"chats"`
	Total int            `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// MessagePage is one page of a message listing.
type MessagePage struct {
	Messages []*domain.Message `json:"messages"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// Gateway applies the assignment ACL on top of the durable store.
type Gateway struct {
	repo store.Repository
}

// New creates a gateway over the repository.
func New(repo store.Repository) *Gateway {
	return &Gateway{repo: repo}
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

// ListChats returns a page of chats. Restricted callers only see their
// assigned chats; with zero active assignments the gateway
// short-circuits to an empty page without touching chat storage.
func (g *Gateway) ListChats(ctx context.Context, sessionID string, caller domain.Caller, page, limit int, filter domain.ChatFilter) (*ChatPage, error) {
	page, limit = normalizePage(page, limit)

	var chatIDs []string
	if caller.Role.Restricted() {
		assignments, err := g.repo.ActiveAssignments(ctx, sessionID, caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignments for %s: %w", caller.UserID, err)
		}
		if len(assignments) == 0 {
			return &ChatPage{Chats: []*domain.Chat{}, Total: 0, Page: page, Limit: limit}, nil
		}
		chatIDs = make([]string, 0, len(assignments))
		for _, a := range assignments {
			chatIDs = append(chatIDs, a.ChatID)
		}
	}

	chats, total, err := g.repo.ListChats(ctx, sessionID, filter, chatIDs, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list chats for %s: %w", sessionID, err)
	}

	// Read-repair runs after the response is assembled, off the
	// critical path.
	go g.repairChatPreviews(sessionID, chats)

	return &ChatPage{Chats: chats, Total: total, Page: page, Limit: limit}, nil
}

// repairChatPreviews corrects stale cached previews from the
// authoritative message log. Best effort: failures are only logged.
func (g *Gateway) repairChatPreviews(sessionID string, chats []*domain.Chat) {
	ctx, cancel := context.WithTimeout(context.Background(), readRepairTimeout)
	defer cancel()

	for _, chat := range chats {
		latest, err := g.repo.LatestMessage(ctx, sessionID, chat.ChatID)
		if err != nil {
			slog.Debug("Read repair lookup failed", "session_id", sessionID, "chat_id", chat.ChatID, "error", err)
			continue
		}
		if latest == nil || !latest.Timestamp.After(chat.LastMessageAt) {
			continue
		}

		if err := g.repo.UpsertChat(ctx, &domain.Chat{
			SessionID:     sessionID,
			ChatID:        chat.ChatID,
			LastMessage:   latest.Body,
			LastMessageAt: latest.Timestamp,
			Pinned:        chat.Pinned,
			Archived:      chat.Archived,
		}); err != nil {
			slog.Debug("Read repair write failed", "session_id", sessionID, "chat_id", chat.ChatID, "error", err)
			continue
		}
		slog.Debug("Repaired stale chat preview", "session_id", sessionID, "chat_id", chat.ChatID)
	}
}

// ListMessages returns a page of messages for one chat. A restricted
// caller without an active assignment covering the named chat gets
// ErrForbidden, never a silent empty result.
func (g *Gateway) ListMessages(ctx context.Context, sessionID, chatID string, caller domain.Caller, page, limit int) (*MessagePage, error) {
	page, limit = normalizePage(page, limit)

	if caller.Role.Restricted() {
		assignments, err := g.repo.ActiveAssignments(ctx, sessionID, caller.UserID)
		if err != nil {
			return nil, fmt.Errorf("resolve assignments for %s: %w", caller.UserID, err)
		}
		covered := false
		for _, a := range assignments {
			if a.ChatID == chatID {
				covered = true
				break
			}
		}
		if !covered {
			return nil, fmt.Errorf("chat %s not assigned to %s: %w", chatID, caller.UserID, domain.ErrForbidden)
		}
	}

	messages, total, err := g.repo.ListMessages(ctx, sessionID, chatID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s/%s: %w", sessionID, chatID, err)
	}
	return &MessagePage{Messages: messages, Total: total, Page: page, Limit: limit}, nil
}
