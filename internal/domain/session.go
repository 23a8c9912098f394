// Package domain holds the core entities shared across the relay server.
package domain

import (
	"strings"
	"time"
)

// SessionStatus describes the connection lifecycle state of a session.
type SessionStatus string

const (
	StatusPending      SessionStatus = "pending"
	StatusQRReady      SessionStatus = "qr_ready"
	StatusConnected    SessionStatus = "connected"
	StatusDisconnected SessionStatus = "disconnected"
	StatusError        SessionStatus = "error"
	StatusInactive     SessionStatus = "inactive"
)

// Session is the durable record of one messaging session.
type Session struct {
	SessionID            string
	Status               SessionStatus
	QRCode               string
	QRGeneratedAt        time.Time
	ConnectionAttempts   int
	LastDisconnectReason string
	LastActivity         time.Time
	LastHealthCheck      time.Time
	MemoryUsage          int64
	Phone                string
	Name                 string
	Platform             string
	IsActive             bool
	MessagesSent         int64
	MessagesReceived     int64
	TotalChats           int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasUnexpiredQR reports whether the session holds a pairing code that
// is still inside the given TTL window.
func (s *Session) HasUnexpiredQR(ttl time.Duration, now time.Time) bool {
	if s.QRCode == "" {
		return false
	}
	return now.Sub(s.QRGeneratedAt) < ttl
}

// Problematic reports whether the session is in a state an operator
// should look at: errored, or stuck disconnected after repeated attempts.
func (s *Session) Problematic(attemptThreshold int) bool {
	if s.Status == StatusError {
		return true
	}
	return s.Status == StatusDisconnected && s.ConnectionAttempts >= attemptThreshold
}

// groupChatSuffix is the address suffix that distinguishes group chats
// from individual ones.
const groupChatSuffix = "@g.us"

// IsGroupChat reports whether a chat address belongs to a group.
func IsGroupChat(chatID string) bool {
	return strings.HasSuffix(chatID, groupChatSuffix)
}
