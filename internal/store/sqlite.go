package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db           *sql.DB
	assignmentMu chan struct{} // serializes assignment writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, assignmentMu: make(chan struct{}, 1)}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		qr_code TEXT NOT NULL DEFAULT '',
		qr_generated_at INTEGER NOT NULL DEFAULT 0,
		connection_attempts INTEGER NOT NULL DEFAULT 0,
		last_disconnect_reason TEXT NOT NULL DEFAULT '',
		last_activity INTEGER NOT NULL,
		last_health_check INTEGER NOT NULL DEFAULT 0,
		memory_usage INTEGER NOT NULL DEFAULT 0,
		phone TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		is_active INTEGER NOT NULL DEFAULT 1,
		messages_sent INTEGER NOT NULL DEFAULT 0,
		messages_received INTEGER NOT NULL DEFAULT 0,
		total_chats INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(last_activity) WHERE status != 'connected';

	CREATE TABLE IF NOT EXISTS chats (
		session_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		last_message TEXT NOT NULL DEFAULT '',
		last_message_at INTEGER NOT NULL DEFAULT 0,
		unread_count INTEGER NOT NULL DEFAULT 0,
		pinned INTEGER NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, chat_id)
	);
	CREATE INDEX IF NOT EXISTS idx_chats_last_message ON chats(session_id, last_message_at);

	CREATE TABLE IF NOT EXISTS messages (
		message_id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		sender TEXT NOT NULL,
		recipient TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		from_me INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(session_id, chat_id, timestamp);

	CREATE TABLE IF NOT EXISTS assignments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		chat_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		assigned_at INTEGER NOT NULL,
		unassigned_at INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_active
		ON assignments(session_id, chat_id, user_id) WHERE active = 1;
	CREATE INDEX IF NOT EXISTS idx_assignments_user ON assignments(session_id, user_id) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS wa_credentials (
		session_id TEXT PRIMARY KEY,
		creds BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wa_credential_keys (
		session_id TEXT NOT NULL,
		key_type TEXT NOT NULL,
		key_id TEXT NOT NULL,
		value BLOB NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, key_type, key_id)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle so the database-backed credential
// store can share one connection pool.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const sessionColumns = `session_id, status, qr_code, qr_generated_at, connection_attempts,
	last_disconnect_reason, last_activity, last_health_check, memory_usage,
	phone, name, platform, is_active, messages_sent, messages_received, total_chats,
	created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	var qrGeneratedAt, lastActivity, lastHealthCheck, createdAt, updatedAt int64

	err := row.Scan(
		&sess.SessionID, &sess.Status, &sess.QRCode, &qrGeneratedAt, &sess.ConnectionAttempts,
		&sess.LastDisconnectReason, &lastActivity, &lastHealthCheck, &sess.MemoryUsage,
		&sess.Phone, &sess.Name, &sess.Platform, &sess.IsActive,
		&sess.MessagesSent, &sess.MessagesReceived, &sess.TotalChats,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.QRGeneratedAt = time.Unix(qrGeneratedAt, 0)
	sess.LastActivity = time.Unix(lastActivity, 0)
	sess.LastHealthCheck = time.Unix(lastHealthCheck, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE session_id = ?`

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// UpsertSession creates or updates a session record.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		phone = excluded.phone,
		name = excluded.name,
		platform = excluded.platform,
		is_active = excluded.is_active,
		last_activity = excluded.last_activity,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		session.SessionID, session.Status, session.QRCode, session.QRGeneratedAt.Unix(),
		session.ConnectionAttempts, session.LastDisconnectReason,
		session.LastActivity.Unix(), session.LastHealthCheck.Unix(), session.MemoryUsage,
		session.Phone, session.Name, session.Platform, session.IsActive,
		session.MessagesSent, session.MessagesReceived, session.TotalChats,
		session.CreatedAt.Unix(), session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// ListSessions returns all active sessions.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE is_active = 1 ORDER BY last_activity DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer closeRows(rows, "sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// SetSessionStatus updates only the lifecycle status.
func (s *SQLiteStore) SetSessionStatus(ctx context.Context, sessionID string, status domain.SessionStatus) error {
	return s.execSession(ctx, sessionID, "set status",
		`UPDATE sessions SET status = ?, updated_at = ? WHERE session_id = ?`,
		status, time.Now().Unix(), sessionID)
}

// SetQRCode stores a pairing code and moves the session to qr_ready.
func (s *SQLiteStore) SetQRCode(ctx context.Context, sessionID, code string, generatedAt time.Time) error {
	return s.execSession(ctx, sessionID, "set qr code",
		`UPDATE sessions SET qr_code = ?, qr_generated_at = ?, status = ?, updated_at = ? WHERE session_id = ?`,
		code, generatedAt.Unix(), domain.StatusQRReady, time.Now().Unix(), sessionID)
}

// RecordConnected applies the full "connection opened" durable write.
func (s *SQLiteStore) RecordConnected(ctx context.Context, sessionID, phone, name, platform string, at time.Time) error {
	query := `
	UPDATE sessions SET
		status = ?,
		qr_code = '',
		qr_generated_at = 0,
		connection_attempts = 0,
		phone = CASE WHEN ? != '' THEN ? ELSE phone END,
		name = CASE WHEN ? != '' THEN ? ELSE name END,
		platform = CASE WHEN ? != '' THEN ? ELSE platform END,
		last_activity = ?,
		updated_at = ?
	WHERE session_id = ?`
	return s.execSession(ctx, sessionID, "record connected", query,
		domain.StatusConnected, phone, phone, name, name, platform, platform,
		at.Unix(), time.Now().Unix(), sessionID)
}

// RecordDisconnect applies the "connection closed" durable write.
func (s *SQLiteStore) RecordDisconnect(ctx context.Context, sessionID, reason string, at time.Time) error {
	query := `
	UPDATE sessions SET
		status = ?,
		last_disconnect_reason = ?,
		connection_attempts = connection_attempts + 1,
		last_activity = ?,
		updated_at = ?
	WHERE session_id = ?`
	return s.execSession(ctx, sessionID, "record disconnect", query,
		domain.StatusDisconnected, reason, at.Unix(), time.Now().Unix(), sessionID)
}

// RecordError marks the session errored with the given reason.
func (s *SQLiteStore) RecordError(ctx context.Context, sessionID, reason string) error {
	return s.execSession(ctx, sessionID, "record error",
		`UPDATE sessions SET status = ?, last_disconnect_reason = ?, updated_at = ? WHERE session_id = ?`,
		domain.StatusError, reason, time.Now().Unix(), sessionID)
}

// ResetForPairing returns the session to pending with no pairing code.
func (s *SQLiteStore) ResetForPairing(ctx context.Context, sessionID string) error {
	return s.execSession(ctx, sessionID, "reset for pairing",
		`UPDATE sessions SET status = ?, qr_code = '', qr_generated_at = 0, updated_at = ? WHERE session_id = ?`,
		domain.StatusPending, time.Now().Unix(), sessionID)
}

// ResetConnectionAttempts zeroes the attempt counter.
func (s *SQLiteStore) ResetConnectionAttempts(ctx context.Context, sessionID string) error {
	return s.execSession(ctx, sessionID, "reset connection attempts",
		`UPDATE sessions SET connection_attempts = 0, updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
}

// UpdateSessionActivity refreshes the last_activity timestamp.
func (s *SQLiteStore) UpdateSessionActivity(ctx context.Context, sessionID string, at time.Time) error {
	return s.execSession(ctx, sessionID, "update activity",
		`UPDATE sessions SET last_activity = ?, updated_at = ? WHERE session_id = ?`,
		at.Unix(), time.Now().Unix(), sessionID)
}

// UpdateSessionHealth writes a health snapshot for the session.
func (s *SQLiteStore) UpdateSessionHealth(ctx context.Context, sessionID string, memoryUsage int64, at time.Time) error {
	return s.execSession(ctx, sessionID, "update health",
		`UPDATE sessions SET memory_usage = ?, last_health_check = ?, updated_at = ? WHERE session_id = ?`,
		memoryUsage, at.Unix(), time.Now().Unix(), sessionID)
}

// IncrementMessagesSent bumps the outbound counter.
func (s *SQLiteStore) IncrementMessagesSent(ctx context.Context, sessionID string) error {
	return s.execSession(ctx, sessionID, "increment messages sent",
		`UPDATE sessions SET messages_sent = messages_sent + 1, updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
}

// IncrementMessagesReceived bumps the inbound counter.
func (s *SQLiteStore) IncrementMessagesReceived(ctx context.Context, sessionID string) error {
	return s.execSession(ctx, sessionID, "increment messages received",
		`UPDATE sessions SET messages_received = messages_received + 1, updated_at = ? WHERE session_id = ?`,
		time.Now().Unix(), sessionID)
}

func (s *SQLiteStore) execSession(ctx context.Context, sessionID, op, query string, args ...any) error {
	const maxRetries = 3
	const baseDelay = 50 * time.Millisecond

	var result sql.Result
	var err error
	for i := 0; i < maxRetries; i++ {
		result, err = s.db.ExecContext(ctx, query, args...)
		if err == nil || !shared.IsSQLiteConflictError(err) {
			break
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i) // exponential backoff
			slog.Debug("Database locked during session update, retrying",
				"op", op,
				"session_id", sessionID,
				"attempt", i+1,
				"delay", delay)
			time.Sleep(delay)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if rows == 0 {
		slog.Warn("Session update affected 0 rows", "op", op, "session_id", sessionID)
	}
	return nil
}

// DeleteSessionCascade removes a session and every dependent record.
// Ordering follows the dependency chain for referential hygiene.
func (s *SQLiteStore) DeleteSessionCascade(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cascade delete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`DELETE FROM messages WHERE session_id = ?`,
		`DELETE FROM chats WHERE session_id = ?`,
		`DELETE FROM assignments WHERE session_id = ?`,
		`DELETE FROM wa_credential_keys WHERE session_id = ?`,
		`DELETE FROM wa_credentials WHERE session_id = ?`,
		`DELETE FROM sessions WHERE session_id = ?`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return fmt.Errorf("cascade delete session %s: %w", sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cascade delete: %w", err)
	}
	return nil
}

// GetExpiredSessions retrieves sessions eligible for the inactivity sweep.
func (s *SQLiteStore) GetExpiredSessions(ctx context.Context, threshold time.Duration) ([]*domain.Session, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status != ? AND last_activity < ?`

	rows, err := s.db.QueryContext(ctx, query, domain.StatusConnected, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	defer closeRows(rows, "expired sessions")

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired sessions: %w", err)
	}
	return sessions, nil
}

// UpsertChat creates or updates a chat. The cached preview only moves
// forward in time so replaying an event cannot regress it.
func (s *SQLiteStore) UpsertChat(ctx context.Context, chat *domain.Chat) error {
	query := `
	INSERT INTO chats (session_id, chat_id, name, last_message, last_message_at,
		unread_count, pinned, archived, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, chat_id) DO UPDATE SET
		name = CASE WHEN excluded.name != '' THEN excluded.name ELSE chats.name END,
		last_message = CASE WHEN excluded.last_message_at > chats.last_message_at
			THEN excluded.last_message ELSE chats.last_message END,
		last_message_at = MAX(excluded.last_message_at, chats.last_message_at),
		pinned = excluded.pinned,
		archived = excluded.archived,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, query,
		chat.SessionID, chat.ChatID, chat.Name, chat.LastMessage, chat.LastMessageAt.Unix(),
		chat.UnreadCount, chat.Pinned, chat.Archived, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert chat: %w", err)
	}

	// Keep the denormalized chat total in step with the chats table.
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET total_chats = (SELECT COUNT(*) FROM chats WHERE session_id = ?) WHERE session_id = ?`,
		chat.SessionID, chat.SessionID)
	if err != nil {
		return fmt.Errorf("update chat total: %w", err)
	}
	return nil
}

// GetChat retrieves one chat.
func (s *SQLiteStore) GetChat(ctx context.Context, sessionID, chatID string) (*domain.Chat, error) {
	query := `
	SELECT session_id, chat_id, name, last_message, last_message_at,
		unread_count, pinned, archived, created_at, updated_at
	FROM chats WHERE session_id = ? AND chat_id = ?`

	chat, err := scanChat(s.db.QueryRowContext(ctx, query, sessionID, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat row: %w", err)
	}
	return chat, nil
}

func scanChat(row interface{ Scan(...any) error }) (*domain.Chat, error) {
	var chat domain.Chat
	var lastMessageAt, createdAt, updatedAt int64

	err := row.Scan(
		&chat.SessionID, &chat.ChatID, &chat.Name, &chat.LastMessage, &lastMessageAt,
		&chat.UnreadCount, &chat.Pinned, &chat.Archived, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	chat.LastMessageAt = time.Unix(lastMessageAt, 0)
	chat.CreatedAt = time.Unix(createdAt, 0)
	chat.UpdatedAt = time.Unix(updatedAt, 0)
	return &chat, nil
}

// ListChats returns a page of chats plus the total count under the filter.
func (s *SQLiteStore) ListChats(ctx context.Context, sessionID string, filter domain.ChatFilter, chatIDs []string, offset, limit int) ([]*domain.Chat, int, error) {
	where := `WHERE session_id = ?`
	args := []any{sessionID}

	switch filter {
	case domain.FilterGroup:
		where += ` AND chat_id LIKE '%@g.us'`
	case domain.FilterIndividual:
		where += ` AND chat_id NOT LIKE '%@g.us'`
	}

	if chatIDs != nil {
		if len(chatIDs) == 0 {
			return []*domain.Chat{}, 0, nil
		}
		placeholders := strings.Repeat("?,", len(chatIDs))
		where += ` AND chat_id IN (` + placeholders[:len(placeholders)-1] + `)`
		for _, id := range chatIDs {
			args = append(args, id)
		}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chats `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}

	query := `
	SELECT session_id, chat_id, name, last_message, last_message_at,
		unread_count, pinned, archived, created_at, updated_at
	FROM chats ` + where + `
	ORDER BY pinned DESC, last_message_at DESC
	LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query chats: %w", err)
	}
	defer closeRows(rows, "chats")

	chats := make([]*domain.Chat, 0)
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan chat row: %w", err)
		}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate chats: %w", err)
	}
	return chats, total, nil
}

// IncrementUnread bumps the unread counter for a chat.
func (s *SQLiteStore) IncrementUnread(ctx context.Context, sessionID, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET unread_count = unread_count + 1, updated_at = ? WHERE session_id = ? AND chat_id = ?`,
		time.Now().Unix(), sessionID, chatID)
	if err != nil {
		return fmt.Errorf("increment unread: %w", err)
	}
	return nil
}

// ResetUnread zeroes the unread counter for a chat.
func (s *SQLiteStore) ResetUnread(ctx context.Context, sessionID, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chats SET unread_count = 0, updated_at = ? WHERE session_id = ? AND chat_id = ?`,
		time.Now().Unix(), sessionID, chatID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return nil
}

// AppendMessage stores a message, idempotently by message_id.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	query := `
	INSERT INTO messages (message_id, chat_id, session_id, sender, recipient, body, from_me, timestamp, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(message_id) DO NOTHING`

	_, err := s.db.ExecContext(ctx, query,
		msg.MessageID, msg.ChatID, msg.SessionID, msg.From, msg.To,
		msg.Body, msg.FromMe, msg.Timestamp.Unix(), msg.Status,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var msg domain.Message
	var timestamp int64

	err := row.Scan(
		&msg.MessageID, &msg.ChatID, &msg.SessionID, &msg.From, &msg.To,
		&msg.Body, &msg.FromMe, &timestamp, &msg.Status,
	)
	if err != nil {
		return nil, err
	}

	msg.Timestamp = time.Unix(timestamp, 0)
	return &msg, nil
}

// ListMessages returns a page of messages for a chat, newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID, chatID string, offset, limit int) ([]*domain.Message, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND chat_id = ?`,
		sessionID, chatID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := `
	SELECT message_id, chat_id, session_id, sender, recipient, body, from_me, timestamp, status
	FROM messages WHERE session_id = ? AND chat_id = ?
	ORDER BY timestamp DESC
	LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, sessionID, chatID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("query messages: %w", err)
	}
	defer closeRows(rows, "messages")

	messages := make([]*domain.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, total, nil
}

// LatestMessage returns the newest message for a chat.
func (s *SQLiteStore) LatestMessage(ctx context.Context, sessionID, chatID string) (*domain.Message, error) {
	query := `
	SELECT message_id, chat_id, session_id, sender, recipient, body, from_me, timestamp, status
	FROM messages WHERE session_id = ? AND chat_id = ?
	ORDER BY timestamp DESC LIMIT 1`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, sessionID, chatID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan latest message: %w", err)
	}
	return msg, nil
}

// UpdateMessageStatus transitions the delivery status of a message.
func (s *SQLiteStore) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE message_id = ?`,
		status, messageID)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// UpsertAssignment activates an assignment for (session, chat, user).
// The partial unique index makes a repeated assignment a no-op.
func (s *SQLiteStore) UpsertAssignment(ctx context.Context, sessionID, chatID, userID string, at time.Time) (*domain.Assignment, error) {
	s.assignmentMu <- struct{}{}
	defer func() { <-s.assignmentMu }()

	query := `
	INSERT INTO assignments (session_id, chat_id, user_id, active, assigned_at)
	VALUES (?, ?, ?, 1, ?)
	ON CONFLICT(session_id, chat_id, user_id) WHERE active = 1 DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, sessionID, chatID, userID, at.Unix()); err != nil {
		return nil, fmt.Errorf("upsert assignment: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, chat_id, user_id, active, assigned_at, unassigned_at
		 FROM assignments WHERE session_id = ? AND chat_id = ? AND user_id = ? AND active = 1`,
		sessionID, chatID, userID)
	assignment, err := scanAssignment(row)
	if err != nil {
		return nil, fmt.Errorf("read back assignment: %w", err)
	}
	return assignment, nil
}

// DeactivateAssignment flips the active flag off and stamps unassigned_at.
func (s *SQLiteStore) DeactivateAssignment(ctx context.Context, sessionID, chatID, userID string, at time.Time) error {
	s.assignmentMu <- struct{}{}
	defer func() { <-s.assignmentMu }()

	_, err := s.db.ExecContext(ctx,
		`UPDATE assignments SET active = 0, unassigned_at = ?
		 WHERE session_id = ? AND chat_id = ? AND user_id = ? AND active = 1`,
		at.Unix(), sessionID, chatID, userID)
	if err != nil {
		return fmt.Errorf("deactivate assignment: %w", err)
	}
	return nil
}

func scanAssignment(row interface{ Scan(...any) error }) (*domain.Assignment, error) {
	var a domain.Assignment
	var assignedAt int64
	var unassignedAt sql.NullInt64

	err := row.Scan(&a.ID, &a.SessionID, &a.ChatID, &a.UserID, &a.Active, &assignedAt, &unassignedAt)
	if err != nil {
		return nil, err
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	if unassignedAt.Valid {
		ts := time.Unix(unassignedAt.Int64, 0)
		a.UnassignedAt = &ts
	}
	return &a, nil
}

// ActiveAssignments returns the caller's active assignments for a session.
func (s *SQLiteStore) ActiveAssignments(ctx context.Context, sessionID, userID string) ([]*domain.Assignment, error) {
	query := `
	SELECT id, session_id, chat_id, user_id, active, assigned_at, unassigned_at
	FROM assignments WHERE session_id = ? AND user_id = ? AND active = 1`

	return s.queryAssignments(ctx, query, sessionID, userID)
}

// ListAssignments returns all assignment rows for a session.
func (s *SQLiteStore) ListAssignments(ctx context.Context, sessionID string) ([]*domain.Assignment, error) {
	query := `
	SELECT id, session_id, chat_id, user_id, active, assigned_at, unassigned_at
	FROM assignments WHERE session_id = ? ORDER BY assigned_at DESC`

	return s.queryAssignments(ctx, query, sessionID)
}

func (s *SQLiteStore) queryAssignments(ctx context.Context, query string, args ...any) ([]*domain.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query assignments: %w", err)
	}
	defer closeRows(rows, "assignments")

	assignments := make([]*domain.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assignment row: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assignments: %w", err)
	}
	return assignments, nil
}

func closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "what", what, "error", err)
	}
}
