// Package credstore persists per-session cryptographic pairing material.
//
// Two interchangeable backends exist: a filesystem store (one directory
// per session) and a database store (one root record plus a keyed-record
// table). Which one is active is decided once at process start; swapping
// backends does not change observable session behavior.
package credstore

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// RootIdentity is the durable identity material a session needs to
// resume without re-pairing. The key blobs are opaque to this layer.
type RootIdentity struct {
	SessionID      string    `json:"sessionId"`
	NoiseKey       []byte    `json:"noiseKey"`
	IdentityKey    []byte    `json:"identityKey"`
	SignedPreKey   []byte    `json:"signedPreKey"`
	RegistrationID uint32    `json:"registrationId"`
	AdvSecret      []byte    `json:"advSecret"`
	Paired         bool      `json:"paired"`
	CreatedAt      time.Time `json:"createdAt"`
}

// KeyRef addresses one rotating credential entry.
type KeyRef struct {
	Type string
	ID   string
}

// Store is the pluggable credential persistence contract.
type Store interface {
	// Load returns the root identity for a session, creating and
	// persisting a fresh one exactly once if none exists.
	Load(ctx context.Context, sessionID string) (*RootIdentity, error)

	// Save persists the root identity.
	Save(ctx context.Context, sessionID string, identity *RootIdentity) error

	// GetKeys fetches keyed entries of one type. Missing IDs are absent
	// from the returned map.
	GetKeys(ctx context.Context, sessionID, keyType string, ids []string) (map[string][]byte, error)

	// SetKeys upserts a batch of keyed entries. Idempotent.
	SetKeys(ctx context.Context, sessionID string, batch map[KeyRef][]byte) error

	// DeleteKeys removes keyed entries of one type.
	DeleteKeys(ctx context.Context, sessionID, keyType string, ids []string) error

	// Clear wipes all credential material for a session. The session
	// must be able to request a brand-new pairing code afterwards.
	Clear(ctx context.Context, sessionID string) error
}

// NewRootIdentity generates fresh identity material for a session.
func NewRootIdentity(sessionID string) (*RootIdentity, error) {
	identity := &RootIdentity{
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}

	for _, key := range []*[]byte{&identity.NoiseKey, &identity.IdentityKey, &identity.SignedPreKey, &identity.AdvSecret} {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generate identity material: %w", err)
		}
		*key = buf
	}

	var reg [4]byte
	if _, err := rand.Read(reg[:]); err != nil {
		return nil, fmt.Errorf("generate registration id: %w", err)
	}
	identity.RegistrationID = uint32(reg[0])<<24 | uint32(reg[1])<<16 | uint32(reg[2])<<8 | uint32(reg[3])

	return identity, nil
}
