package credstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DBStore persists credentials in SQLite: one root record per session
// plus a keyed-record table for rotating material. It shares the main
// repository's connection pool.
type DBStore struct {
	db     *sql.DB
	loadMu sync.Mutex // serializes lazy root-identity creation
}

// NewDBStore creates a database-backed credential store on an existing
// connection. The schema is created if missing so the store also works
// standalone.
func NewDBStore(db *sql.DB) (*DBStore, error) {
	schema := `
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
	);`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create credential schema: %w", err)
	}
	return &DBStore{db: db}, nil
}

// Load returns the root identity, creating a fresh one exactly once if absent.
func (d *DBStore) Load(ctx context.Context, sessionID string) (*RootIdentity, error) {
	d.loadMu.Lock()
	defer d.loadMu.Unlock()

	var blob []byte
	err := d.db.QueryRowContext(ctx,
		`SELECT creds FROM wa_credentials WHERE session_id = ?`, sessionID).Scan(&blob)
	if err == nil {
		var identity RootIdentity
		if err := json.Unmarshal(blob, &identity); err != nil {
			return nil, fmt.Errorf("decode credentials for %s: %w", sessionID, err)
		}
		return &identity, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("load credentials for %s: %w", sessionID, err)
	}

	identity, err := NewRootIdentity(sessionID)
	if err != nil {
		return nil, err
	}
	if err := d.save(ctx, sessionID, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Save persists the root identity.
func (d *DBStore) Save(ctx context.Context, sessionID string, identity *RootIdentity) error {
	return d.save(ctx, sessionID, identity)
}

func (d *DBStore) save(ctx context.Context, sessionID string, identity *RootIdentity) error {
	blob, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encode credentials for %s: %w", sessionID, err)
	}

	now := time.Now().Unix()
	query := `
	INSERT INTO wa_credentials (session_id, creds, created_at, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		creds = excluded.creds,
		updated_at = excluded.updated_at`

	if _, err := d.db.ExecContext(ctx, query, sessionID, blob, now, now); err != nil {
		return fmt.Errorf("save credentials for %s: %w", sessionID, err)
	}
	return nil
}

// GetKeys fetches keyed entries of one type.
func (d *DBStore) GetKeys(ctx context.Context, sessionID, keyType string, ids []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(ids))
	for _, id := range ids {
		var value []byte
		err := d.db.QueryRowContext(ctx,
			`SELECT value FROM wa_credential_keys WHERE session_id = ? AND key_type = ? AND key_id = ?`,
			sessionID, keyType, id).Scan(&value)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get key %s/%s for %s: %w", keyType, id, sessionID, err)
		}
		result[id] = value
	}
	return result, nil
}

// SetKeys upserts a batch of keyed entries in one transaction.
func (d *DBStore) SetKeys(ctx context.Context, sessionID string, batch map[KeyRef][]byte) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin key batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
	INSERT INTO wa_credential_keys (session_id, key_type, key_id, value, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(session_id, key_type, key_id) DO UPDATE SET
		value = excluded.value,
		updated_at = excluded.updated_at`

	now := time.Now().Unix()
	for ref, value := range batch {
		if _, err := tx.ExecContext(ctx, query, sessionID, ref.Type, ref.ID, value, now); err != nil {
			return fmt.Errorf("set key %s/%s for %s: %w", ref.Type, ref.ID, sessionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit key batch: %w", err)
	}
	return nil
}

// DeleteKeys removes keyed entries of one type.
func (d *DBStore) DeleteKeys(ctx context.Context, sessionID, keyType string, ids []string) error {
	for _, id := range ids {
		_, err := d.db.ExecContext(ctx,
			`DELETE FROM wa_credential_keys WHERE session_id = ? AND key_type = ? AND key_id = ?`,
			sessionID, keyType, id)
		if err != nil {
			return fmt.Errorf("delete key %s/%s for %s: %w", keyType, id, sessionID, err)
		}
	}
	return nil
}

// Clear wipes all credential material for a session.
func (d *DBStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credential clear: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM wa_credential_keys WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear credential keys for %s: %w", sessionID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM wa_credentials WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear credentials for %s: %w", sessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential clear: %w", err)
	}
	return nil
}
