// Package transport defines the boundary to the messaging-network client.
//
// The real end-to-end encrypted client is an external collaborator; this
// package models its surface as a closed event union plus a small handle
// interface so the lifecycle controller can pattern-match exhaustively
// instead of probing optional fields.
package transport

import (
	"context"
	"time"

	"github.com/vantrex/warelay/internal/credstore"
)

// Event is the closed set of signals a transport connection emits.
// Exactly one of PairingCode, Opened, Closed or InboundMessage flows
// through the per-session event channel at a time, in delivery order.
type Event interface {
	isEvent()
}

// PairingCode is emitted when the network issues a scannable pairing
// payload for an unlinked session.
type PairingCode struct {
	Code string
}

// Opened is emitted when the connection is fully established.
type Opened struct {
	Phone    string
	Name     string
	Platform string
}

// Closed is emitted when the connection drops. LoggedOut marks an
// explicit remote logout, after which no reconnect should be attempted.
type Closed struct {
	Reason    string
	LoggedOut bool
}

// InboundMessage is emitted for every message received on the session.
type InboundMessage struct {
	MessageID string
	ChatID    string
	From      string
	To        string
	Body      string
	Timestamp time.Time
}

func (PairingCode) isEvent()    {}
func (Opened) isEvent()         {}
func (Closed) isEvent()         {}
func (InboundMessage) isEvent() {}

// SentMessage describes an accepted outbound message.
type SentMessage struct {
	MessageID string
	Timestamp time.Time
}

// GroupInfo is one entry of the transport's group listing, used for
// chat-list reconciliation after connect.
type GroupInfo struct {
	ChatID string
	Name   string
}

// Handle is one live connection to the messaging network.
type Handle interface {
	// Events returns the session's ordered event stream. The channel is
	// closed after a terminal Closed event.
	Events() <-chan Event

	// Send delivers a message to the given chat address.
	Send(ctx context.Context, to, body string) (SentMessage, error)

	// Logout unlinks the session from the network. The transport emits a
	// Closed event with LoggedOut set.
	Logout(ctx context.Context) error

	// ListGroups returns the session's current group chats.
	ListGroups(ctx context.Context) ([]GroupInfo, error)

	// Close releases the connection without logging out.
	Close()
}

// Transport opens connections. Implementations read and persist pairing
// material through the provided credential store.
type Transport interface {
	Open(ctx context.Context, sessionID string, creds credstore.Store) (Handle, error)
}
