package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vantrex/warelay/internal/credstore"
)

var (
	errConnClosed    = errors.New("simulated connection closed")
	errNotOpen       = errors.New("simulated connection not open")
	errNoSuchSession = errors.New("no simulated connection for session")
)

// Simulated is an in-process transport used in development and tests.
// It reproduces the observable behavior of the real client: an unpaired
// session receives a pairing code, a paired session opens immediately,
// and test hooks inject pairing completion, inbound messages and drops.
type Simulated struct {
	mu     sync.Mutex
	conns  map[string]*SimulatedConn
	groups map[string][]GroupInfo
	// OpenErr, when set for a session, makes the next Open fail with it.
	openErr map[string]error
}

// NewSimulated creates a simulated transport.
func NewSimulated() *Simulated {
	return &Simulated{
		conns:   make(map[string]*SimulatedConn),
		groups:  make(map[string][]GroupInfo),
		openErr: make(map[string]error),
	}
}

// FailNextOpen makes the next Open for the session return err.
func (s *Simulated) FailNextOpen(sessionID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr[sessionID] = err
}

// SeedGroups sets the group listing returned for a session.
func (s *Simulated) SeedGroups(sessionID string, groups []GroupInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[sessionID] = groups
}

// Open implements Transport.
func (s *Simulated) Open(ctx context.Context, sessionID string, creds credstore.Store) (Handle, error) {
	s.mu.Lock()
	if err, ok := s.openErr[sessionID]; ok {
		delete(s.openErr, sessionID)
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	identity, err := creds.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	conn := &SimulatedConn{
		sessionID: sessionID,
		owner:     s,
		creds:     creds,
		identity:  identity,
		events:    make(chan Event, 64),
	}

	s.mu.Lock()
	s.conns[sessionID] = conn
	s.mu.Unlock()

	if identity.Paired {
		conn.open()
	} else {
		conn.emit(PairingCode{Code: "sim-" + uuid.NewString()})
	}
	return conn, nil
}

func (s *Simulated) conn(sessionID string) (*SimulatedConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conn, ok := s.conns[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNoSuchSession, sessionID)
	}
	return conn, nil
}

// CompletePairing acts as the out-of-band scan: it marks the session
// paired, persists that, and opens the connection.
func (s *Simulated) CompletePairing(ctx context.Context, sessionID, phone, name, platform string) error {
	conn, err := s.conn(sessionID)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	conn.identity.Paired = true
	identity := conn.identity
	conn.mu.Unlock()

	if err := conn.creds.Save(ctx, sessionID, identity); err != nil {
		return fmt.Errorf("persist pairing: %w", err)
	}

	conn.profile = profile{phone: phone, name: name, platform: platform}
	conn.open()
	return nil
}

// Drop severs the connection with the given reason.
func (s *Simulated) Drop(sessionID, reason string) error {
	conn, err := s.conn(sessionID)
	if err != nil {
		return err
	}
	conn.shutdown(Closed{Reason: reason})
	return nil
}

// Deliver injects an inbound message on the session.
func (s *Simulated) Deliver(sessionID, chatID, from, body string) error {
	conn, err := s.conn(sessionID)
	if err != nil {
		return err
	}
	conn.emit(InboundMessage{
		MessageID: uuid.NewString(),
		ChatID:    chatID,
		From:      from,
		To:        sessionID,
		Body:      body,
		Timestamp: time.Now(),
	})
	return nil
}

type profile struct {
	phone, name, platform string
}

// SimulatedConn is one simulated live connection.
type SimulatedConn struct {
	sessionID string
	owner     *Simulated
	creds     credstore.Store
	profile   profile

	mu       sync.Mutex
	identity *credstore.RootIdentity
	opened   bool
	closed   bool
	events   chan Event
}

// Events implements Handle.
func (c *SimulatedConn) Events() <-chan Event {
	return c.events
}

func (c *SimulatedConn) open() {
	c.mu.Lock()
	c.opened = true
	c.mu.Unlock()
	c.emit(Opened{Phone: c.profile.phone, Name: c.profile.name, Platform: c.profile.platform})
}

func (c *SimulatedConn) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		slog.Warn("Simulated transport dropped event", "session_id", c.sessionID)
	}
}

// shutdown emits the terminal Closed event and closes the stream.
func (c *SimulatedConn) shutdown(closed Closed) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.opened = false
	c.closed = true
	select {
	case c.events <- closed:
	default:
		slog.Warn("Simulated transport dropped close event", "session_id", c.sessionID)
	}
	close(c.events)
}

// Send implements Handle.
func (c *SimulatedConn) Send(ctx context.Context, to, body string) (SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return SentMessage{}, errConnClosed
	}
	if !c.opened {
		return SentMessage{}, errNotOpen
	}
	return SentMessage{MessageID: uuid.NewString(), Timestamp: time.Now()}, nil
}

// Logout implements Handle. The identity is unpaired and persisted so
// the next connect must request a fresh pairing code.
func (c *SimulatedConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.identity.Paired = false
	identity := c.identity
	c.mu.Unlock()

	if err := c.creds.Save(ctx, c.sessionID, identity); err != nil {
		return fmt.Errorf("persist logout: %w", err)
	}
	c.shutdown(Closed{Reason: "logged out", LoggedOut: true})
	return nil
}

// ListGroups implements Handle.
func (c *SimulatedConn) ListGroups(ctx context.Context) ([]GroupInfo, error) {
	c.owner.mu.Lock()
	defer c.owner.mu.Unlock()
	return c.owner.groups[c.sessionID], nil
}

// Close implements Handle.
func (c *SimulatedConn) Close() {
	c.shutdown(Closed{Reason: "connection closed"})
}
