// Package registry owns the live transport handles, one per session,
// and drives each session's connection lifecycle.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/hub"
	"github.com/vantrex/warelay/internal/store"
	"github.com/vantrex/warelay/internal/transport"
)

// reconnectAttemptTimeout bounds the transport reopen triggered by a
// reconnect timer.
const reconnectAttemptTimeout = 30 * time.Second

// HandleStatus is a point-in-time view of one live handle.
type HandleStatus struct {
	SessionID string
	Connected bool
	LastSeen  time.Time
}

// liveHandle is the in-memory, non-durable state for one open connection.
// It is mutated only by its own lifecycle goroutine.
type liveHandle struct {
	sessionID string
	handle    transport.Handle

	mu        sync.Mutex
	connected bool
	lastSeen  time.Time
}

func (lh *liveHandle) setConnected(connected bool) {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.connected = connected
	lh.lastSeen = time.Now()
}

func (lh *liveHandle) touch() {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	lh.lastSeen = time.Now()
}

func (lh *liveHandle) status() HandleStatus {
	lh.mu.Lock()
	defer lh.mu.Unlock()
	return HandleStatus{SessionID: lh.sessionID, Connected: lh.connected, LastSeen: lh.lastSeen}
}

// Registry is the process-wide session map. It is the only owner of
// transport handles; at most one live handle exists per session ID.
type Registry struct {
	repo           store.Repository
	creds          credstore.Store
	transport      transport.Transport
	events         *hub.Hub
	reconnectDelay time.Duration

	mu         sync.Mutex
	handles    map[string]*liveHandle
	reconnects map[string]*time.Timer
	closed     bool

	creating singleflight.Group
	wg       sync.WaitGroup
}

// New creates a registry. Handles are opened lazily through Create.
func New(repo store.Repository, creds credstore.Store, tr transport.Transport, events *hub.Hub, reconnectDelay time.Duration) *Registry {
	return &Registry{
		repo:           repo,
		creds:          creds,
		transport:      tr,
		events:         events,
		reconnectDelay: reconnectDelay,
		handles:        make(map[string]*liveHandle),
		reconnects:     make(map[string]*time.Timer),
	}
}

// Create ensures a live handle exists for the session, opening a
// transport connection and attaching the lifecycle controller. It is
// idempotent: concurrent and repeated calls for the same ID collapse
// into at most one live handle.
//
// Transport open failures are absorbed into a durable error status and
// do not propagate; only acquisition failures (storage) are returned.
func (r *Registry) Create(ctx context.Context, sessionID string) error {
	_, err, _ := r.creating.Do(sessionID, func() (interface{}, error) {
		return nil, r.create(ctx, sessionID)
	})
	return err
}

func (r *Registry) create(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("registry is shut down")
	}
	if _, exists := r.handles[sessionID]; exists {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	sess, err := r.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		now := time.Now()
		sess = &domain.Session{
			SessionID:    sessionID,
			Status:       domain.StatusPending,
			IsActive:     true,
			LastActivity: now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.repo.UpsertSession(ctx, sess); err != nil {
			return fmt.Errorf("create session %s: %w", sessionID, err)
		}
	} else if err := r.repo.SetSessionStatus(ctx, sessionID, domain.StatusPending); err != nil {
		return fmt.Errorf("reset session %s to pending: %w", sessionID, err)
	}

	handle, err := r.transport.Open(ctx, sessionID, r.creds)
	if err != nil {
		// Open failures become durable state, not process failures.
		slog.Error("Transport open failed", "session_id", sessionID, "error", err)
		if recErr := r.repo.RecordError(context.WithoutCancel(ctx), sessionID, err.Error()); recErr != nil {
			slog.Error("Failed to record transport error", "session_id", sessionID, "error", recErr)
		}
		return nil
	}

	lh := &liveHandle{sessionID: sessionID, handle: handle, lastSeen: time.Now()}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		handle.Close()
		return fmt.Errorf("registry is shut down")
	}
	if _, exists := r.handles[sessionID]; exists {
		// Lost the race; keep the existing handle.
		r.mu.Unlock()
		handle.Close()
		return nil
	}
	r.handles[sessionID] = lh
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runLifecycle(lh)

	slog.Info("Session handle registered", "session_id", sessionID)
	return nil
}

// Get returns the live handle status for a session, if one exists.
// It never blocks on I/O.
func (r *Registry) Get(sessionID string) (HandleStatus, bool) {
	r.mu.Lock()
	lh := r.handles[sessionID]
	r.mu.Unlock()
	if lh == nil {
		return HandleStatus{}, false
	}
	return lh.status(), true
}

// Live returns a snapshot of every live handle.
func (r *Registry) Live() []HandleStatus {
	r.mu.Lock()
	handles := make([]*liveHandle, 0, len(r.handles))
	for _, lh := range r.handles {
		handles = append(handles, lh)
	}
	r.mu.Unlock()

	statuses := make([]HandleStatus, 0, len(handles))
	for _, lh := range handles {
		statuses = append(statuses, lh.status())
	}
	return statuses
}

// Disconnect logs the session out, discards the live handle and cancels
// any pending reconnect. The durable disconnect write happens through
// the lifecycle controller processing the resulting Closed event.
func (r *Registry) Disconnect(ctx context.Context, sessionID string) error {
	r.cancelReconnect(sessionID)

	r.mu.Lock()
	lh := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()

	if lh == nil {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	if err := lh.handle.Logout(ctx); err != nil {
		slog.Warn("Transport logout failed", "session_id", sessionID, "error", err)
	}
	lh.handle.Close()

	slog.Info("Session disconnected", "session_id", sessionID)
	return nil
}

// Remove discards a live handle without logging out, used by cleanup
// when the durable session is being deleted anyway.
func (r *Registry) Remove(sessionID string) {
	r.cancelReconnect(sessionID)

	r.mu.Lock()
	lh := r.handles[sessionID]
	delete(r.handles, sessionID)
	r.mu.Unlock()

	if lh != nil {
		lh.handle.Close()
	}
}

// SendMessage forwards a message over the live connection and records
// the Message plus a Chat upsert as side effects.
func (r *Registry) SendMessage(ctx context.Context, sessionID, to, body string) (*domain.Message, error) {
	r.mu.Lock()
	lh := r.handles[sessionID]
	r.mu.Unlock()

	if lh == nil || !lh.status().Connected {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotConnected)
	}

	sent, err := lh.handle.Send(ctx, to, body)
	if err != nil {
		return nil, fmt.Errorf("send message on %s: %w", sessionID, err)
	}

	msg := &domain.Message{
		MessageID: sent.MessageID,
		ChatID:    to,
		SessionID: sessionID,
		From:      sessionID,
		To:        to,
		Body:      body,
		FromMe:    true,
		Timestamp: sent.Timestamp,
		Status:    domain.MessageStatusSent,
	}

	if err := r.repo.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("record sent message: %w", err)
	}
	if err := r.repo.UpsertChat(ctx, &domain.Chat{
		SessionID:     sessionID,
		ChatID:        to,
		LastMessage:   body,
		LastMessageAt: sent.Timestamp,
	}); err != nil {
		slog.Warn("Failed to upsert chat after send", "session_id", sessionID, "chat_id", to, "error", err)
	}
	if err := r.repo.ResetUnread(ctx, sessionID, to); err != nil {
		slog.Warn("Failed to reset unread after send", "session_id", sessionID, "chat_id", to, "error", err)
	}
	if err := r.repo.IncrementMessagesSent(ctx, sessionID); err != nil {
		slog.Warn("Failed to bump sent counter", "session_id", sessionID, "error", err)
	}
	if err := r.repo.UpdateSessionActivity(ctx, sessionID, time.Now()); err != nil {
		slog.Warn("Failed to refresh activity", "session_id", sessionID, "error", err)
	}

	lh.touch()
	r.events.Publish(hub.Event{
		Type:      hub.EventMessageSent,
		SessionID: sessionID,
		MessageID: msg.MessageID,
		From:      msg.From,
		To:        msg.To,
		Text:      msg.Body,
		Timestamp: msg.Timestamp,
	})
	return msg, nil
}

// scheduleReconnect arms exactly one delayed reconnect for the session.
// Disconnect and Remove cancel it deterministically.
func (r *Registry) scheduleReconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, pending := r.reconnects[sessionID]; pending {
		return
	}

	r.reconnects[sessionID] = time.AfterFunc(r.reconnectDelay, func() {
		r.mu.Lock()
		delete(r.reconnects, sessionID)
		r.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), reconnectAttemptTimeout)
		defer cancel()
		slog.Info("Attempting reconnect", "session_id", sessionID)
		if err := r.Create(ctx, sessionID); err != nil {
			slog.Error("Reconnect failed", "session_id", sessionID, "error", err)
		}
	})
	slog.Info("Reconnect scheduled", "session_id", sessionID, "delay", r.reconnectDelay)
}

func (r *Registry) cancelReconnect(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if timer, ok := r.reconnects[sessionID]; ok {
		timer.Stop()
		delete(r.reconnects, sessionID)
	}
}

// removeHandle drops the handle if it is still the registered one.
func (r *Registry) removeHandle(lh *liveHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[lh.sessionID] == lh {
		delete(r.handles, lh.sessionID)
	}
}

// isCurrent reports whether lh is still the registered handle for its
// session. A handle discarded by Disconnect or Remove keeps draining
// its event stream but no longer speaks for the session.
func (r *Registry) isCurrent(lh *liveHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[lh.sessionID] == lh
}

// Drain cancels pending reconnects, closes every handle and waits for
// the lifecycle goroutines to finish.
func (r *Registry) Drain(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	for id, timer := range r.reconnects {
		timer.Stop()
		delete(r.reconnects, id)
	}
	handles := make([]*liveHandle, 0, len(r.handles))
	for _, lh := range r.handles {
		handles = append(handles, lh)
	}
	r.mu.Unlock()

	for _, lh := range handles {
		lh.handle.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain registry: %w", ctx.Err())
	}
}
