package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const credsFileName = "creds.json"

// FileStore persists credentials under one directory per session.
type FileStore struct {
	root string
	mu   sync.Mutex
}

// NewFileStore creates a filesystem-backed credential store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create credential directory: %w", err)
	}
	return &FileStore{root: dir}, nil
}

func (f *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(f.root, sanitizeComponent(sessionID))
}

// sanitizeComponent keeps session/key identifiers safe as path elements.
func sanitizeComponent(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(s)
}

func keyFileName(keyType, id string) string {
	return sanitizeComponent(keyType) + "-" + sanitizeComponent(id) + ".json"
}

// Load returns the root identity, creating a fresh one exactly once if absent.
func (f *FileStore) Load(ctx context.Context, sessionID string) (*RootIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.sessionDir(sessionID), credsFileName)
	data, err := os.ReadFile(path)
	if err == nil {
		var identity RootIdentity
		if err := json.Unmarshal(data, &identity); err != nil {
			return nil, fmt.Errorf("decode credentials for %s: %w", sessionID, err)
		}
		return &identity, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read credentials for %s: %w", sessionID, err)
	}

	identity, err := NewRootIdentity(sessionID)
	if err != nil {
		return nil, err
	}
	if err := f.writeJSON(path, identity); err != nil {
		return nil, err
	}
	return identity, nil
}

// Save persists the root identity.
func (f *FileStore) Save(ctx context.Context, sessionID string, identity *RootIdentity) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := filepath.Join(f.sessionDir(sessionID), credsFileName)
	return f.writeJSON(path, identity)
}

// writeJSON writes atomically via temp file + rename.
func (f *FileStore) writeJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create session credential directory: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename credential file: %w", err)
	}
	return nil
}

// GetKeys fetches keyed entries of one type.
func (f *FileStore) GetKeys(ctx context.Context, sessionID, keyType string, ids []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.sessionDir(sessionID)
	result := make(map[string][]byte, len(ids))
	for _, id := range ids {
		data, err := os.ReadFile(filepath.Join(dir, keyFileName(keyType, id)))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read key %s/%s for %s: %w", keyType, id, sessionID, err)
		}
		var value []byte
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("decode key %s/%s for %s: %w", keyType, id, sessionID, err)
		}
		result[id] = value
	}
	return result, nil
}

// SetKeys upserts a batch of keyed entries.
func (f *FileStore) SetKeys(ctx context.Context, sessionID string, batch map[KeyRef][]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.sessionDir(sessionID)
	for ref, value := range batch {
		path := filepath.Join(dir, keyFileName(ref.Type, ref.ID))
		if err := f.writeJSON(path, value); err != nil {
			return fmt.Errorf("set key %s/%s for %s: %w", ref.Type, ref.ID, sessionID, err)
		}
	}
	return nil
}

// DeleteKeys removes keyed entries of one type.
func (f *FileStore) DeleteKeys(ctx context.Context, sessionID, keyType string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := f.sessionDir(sessionID)
	for _, id := range ids {
		err := os.Remove(filepath.Join(dir, keyFileName(keyType, id)))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete key %s/%s for %s: %w", keyType, id, sessionID, err)
		}
	}
	return nil
}

// Clear wipes all credential material for a session.
func (f *FileStore) Clear(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.RemoveAll(f.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("clear credentials for %s: %w", sessionID, err)
	}
	return nil
}
