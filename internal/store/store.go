// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/vantrex/warelay/internal/domain"
)

// Repository defines the interface for persisting sessions, chats,
// messages and assignments.
type Repository interface {
	// GetSession retrieves a session by ID. Returns (nil, nil) when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// UpsertSession creates or updates a session record.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// ListSessions returns all active (not soft-deleted) sessions.
	ListSessions(ctx context.Context) ([]*domain.Session, error)

	// SetSessionStatus updates only the lifecycle status.
	SetSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error

	// SetQRCode stores a freshly issued pairing code and moves the
	// session to qr_ready.
	SetQRCode(ctx context.Context, sessionID, code string, generatedAt time.Time) error

	// RecordConnected applies the full "connection opened" durable write:
	// status connected, pairing code cleared, attempt counter reset,
	// identity metadata and activity refreshed.
	RecordConnected(ctx context.Context, sessionID, phone, name, platform string, at time.Time) error

	// RecordDisconnect applies the "connection closed" durable write:
	// status disconnected, reason recorded, attempt counter incremented.
	RecordDisconnect(ctx context.Context, sessionID, reason string, at time.Time) error

	// RecordError marks the session errored with the given reason.
	RecordError(ctx context.Context, sessionID, reason string) error

	// ResetForPairing returns the session to pending with no pairing
	// code, ahead of a forced fresh pairing cycle.
	ResetForPairing(ctx context.Context, sessionID string) error

	// ResetConnectionAttempts zeroes the attempt counter.
	ResetConnectionAttempts(ctx context.Context, sessionID string) error

	// UpdateSessionActivity refreshes the last_activity timestamp.
	UpdateSessionActivity(ctx context.Context, sessionID string, at time.Time) error

	// UpdateSessionHealth writes a health snapshot for the session.
	UpdateSessionHealth(ctx context.Context, sessionID string, memoryUsage int64, at time.Time) error

	// IncrementMessagesSent / IncrementMessagesReceived bump the
	// per-session counters.
	IncrementMessagesSent(ctx context.Context, sessionID string) error
	IncrementMessagesReceived(ctx context.Context, sessionID string) error

	// DeleteSessionCascade removes a session and every dependent record:
	// messages, chats, assignments, credential keys and root, session row.
	DeleteSessionCascade(ctx context.Context, sessionID string) error

	// GetExpiredSessions retrieves sessions that are not connected and
	// whose last activity is older than the threshold.
	GetExpiredSessions(ctx context.Context, threshold time.Duration) ([]*domain.Session, error)

	// UpsertChat creates or updates a chat keyed by (session, chat).
	// The cached preview only moves forward in time, so replaying the
	// same event is a no-op.
	UpsertChat(ctx context.Context, chat *domain.Chat) error

	// GetChat retrieves one chat. Returns (nil, nil) when absent.
	GetChat(ctx context.Context, sessionID, chatID string) (*domain.Chat, error)

	// ListChats returns a page of chats ordered by last message time,
	// optionally narrowed by kind and by an explicit chat-id set, plus
	// the total count under the same filter.
	ListChats(ctx context.Context, sessionID string, filter domain.ChatFilter, chatIDs []string, offset, limit int) ([]*domain.Chat, int, error)

	// IncrementUnread / ResetUnread maintain the per-chat unread counter.
	IncrementUnread(ctx context.Context, sessionID, chatID string) error
	ResetUnread(ctx context.Context, sessionID, chatID string) error

	// AppendMessage stores a message. Idempotent by message_id.
	AppendMessage(ctx context.Context, msg *domain.Message) error

	// ListMessages returns a page of messages for a chat, newest first,
	// plus the total count.
	ListMessages(ctx context.Context, sessionID, chatID string, offset, limit int) ([]*domain.Message, int, error)

	// LatestMessage returns the newest message for a chat, or (nil, nil).
	LatestMessage(ctx context.Context, sessionID, chatID string) (*domain.Message, error)

	// UpdateMessageStatus transitions the delivery status of a message.
	UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) error

	// UpsertAssignment activates an assignment for (session, chat, user).
	// At most one active row exists per triple; re-assigning is a no-op.
	UpsertAssignment(ctx context.Context, sessionID, chatID, userID string, at time.Time) (*domain.Assignment, error)

	// DeactivateAssignment flips the active flag off and stamps
	// unassigned_at. Rows are never deleted here.
	DeactivateAssignment(ctx context.Context, sessionID, chatID, userID string, at time.Time) error

	// ActiveAssignments returns the caller's active assignments for a session.
	ActiveAssignments(ctx context.Context, sessionID, userID string) ([]*domain.Assignment, error)

	// ListAssignments returns all assignment rows for a session.
	ListAssignments(ctx context.Context, sessionID string) ([]*domain.Assignment, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
