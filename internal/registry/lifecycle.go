package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/hub"
	"github.com/vantrex/warelay/internal/transport"
)

// eventWriteTimeout bounds the durable writes derived from one
// transport event.
const eventWriteTimeout = 10 * time.Second

// runLifecycle consumes the session's event stream in delivery order.
// One goroutine per handle keeps same-session events serialized while
// different sessions proceed in parallel. Durable writes for an event
// complete before the corresponding fan-out is published.
func (r *Registry) runLifecycle(lh *liveHandle) {
	defer r.wg.Done()
	defer r.removeHandle(lh)

	for ev := range lh.handle.Events() {
		r.handleEvent(lh, ev)
	}
	slog.Debug("Lifecycle stream ended", "session_id", lh.sessionID)
}

func (r *Registry) handleEvent(lh *liveHandle, ev transport.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), eventWriteTimeout)
	defer cancel()

	switch ev := ev.(type) {
	case transport.PairingCode:
		r.onPairingCode(ctx, lh, ev)
	case transport.Opened:
		r.onOpened(ctx, lh, ev)
	case transport.Closed:
		r.onClosed(ctx, lh, ev)
	case transport.InboundMessage:
		r.onInboundMessage(ctx, lh, ev)
	}
}

func (r *Registry) onPairingCode(ctx context.Context, lh *liveHandle, ev transport.PairingCode) {
	slog.Info("Pairing code issued", "session_id", lh.sessionID)
	if err := r.repo.SetQRCode(ctx, lh.sessionID, ev.Code, time.Now()); err != nil {
		slog.Error("Failed to store pairing code", "session_id", lh.sessionID, "error", err)
		return
	}
	r.events.Publish(hub.Event{
		Type:      hub.EventQR,
		SessionID: lh.sessionID,
		Code:      ev.Code,
	})
}

func (r *Registry) onOpened(ctx context.Context, lh *liveHandle, ev transport.Opened) {
	slog.Info("Session connected", "session_id", lh.sessionID, "phone", ev.Phone, "platform", ev.Platform)
	lh.setConnected(true)

	if err := r.repo.RecordConnected(ctx, lh.sessionID, ev.Phone, ev.Name, ev.Platform, time.Now()); err != nil {
		slog.Error("Failed to persist connected state", "session_id", lh.sessionID, "error", err)
	}

	r.events.Publish(hub.Event{
		Type:      hub.EventConnected,
		SessionID: lh.sessionID,
		Status:    string(domain.StatusConnected),
		Connected: true,
	})

	r.reconcileChats(ctx, lh)
}

func (r *Registry) onClosed(ctx context.Context, lh *liveHandle, ev transport.Closed) {
	slog.Info("Session closed", "session_id", lh.sessionID, "reason", ev.Reason, "logged_out", ev.LoggedOut)
	lh.setConnected(false)

	if err := r.repo.RecordDisconnect(ctx, lh.sessionID, ev.Reason, time.Now()); err != nil {
		slog.Error("Failed to persist disconnect", "session_id", lh.sessionID, "error", err)
	}

	r.events.Publish(hub.Event{
		Type:      hub.EventConnected,
		SessionID: lh.sessionID,
		Status:    string(domain.StatusDisconnected),
		Connected: false,
	})

	// An explicit logout is terminal: the handle is discarded and no
	// reconnect is scheduled. Every other close reason gets exactly one
	// delayed reconnect attempt, and only while this handle is still the
	// registered one. The final Closed of a handle that Disconnect or
	// Remove already discarded must not arm a reconnect, or a purged
	// session would be re-seeded after its row was deleted.
	if !ev.LoggedOut && r.isCurrent(lh) {
		r.scheduleReconnect(lh.sessionID)
	}
}

func (r *Registry) onInboundMessage(ctx context.Context, lh *liveHandle, ev transport.InboundMessage) {
	msg := &domain.Message{
		MessageID: ev.MessageID,
		ChatID:    ev.ChatID,
		SessionID: lh.sessionID,
		From:      ev.From,
		To:        ev.To,
		Body:      ev.Body,
		FromMe:    false,
		Timestamp: ev.Timestamp,
		Status:    domain.MessageStatusReceived,
	}

	if err := r.repo.AppendMessage(ctx, msg); err != nil {
		slog.Error("Failed to store inbound message", "session_id", lh.sessionID, "message_id", ev.MessageID, "error", err)
		return
	}
	if err := r.repo.UpsertChat(ctx, &domain.Chat{
		SessionID:     lh.sessionID,
		ChatID:        ev.ChatID,
		LastMessage:   ev.Body,
		LastMessageAt: ev.Timestamp,
	}); err != nil {
		slog.Warn("Failed to upsert chat for inbound message", "session_id", lh.sessionID, "chat_id", ev.ChatID, "error", err)
	}
	if err := r.repo.IncrementUnread(ctx, lh.sessionID, ev.ChatID); err != nil {
		slog.Warn("Failed to bump unread counter", "session_id", lh.sessionID, "chat_id", ev.ChatID, "error", err)
	}
	if err := r.repo.IncrementMessagesReceived(ctx, lh.sessionID); err != nil {
		slog.Warn("Failed to bump received counter", "session_id", lh.sessionID, "error", err)
	}
	if err := r.repo.UpdateSessionActivity(ctx, lh.sessionID, time.Now()); err != nil {
		slog.Warn("Failed to refresh activity", "session_id", lh.sessionID, "error", err)
	}

	lh.touch()
	r.events.Publish(hub.Event{
		Type:      hub.EventMessage,
		SessionID: lh.sessionID,
		MessageID: ev.MessageID,
		From:      ev.From,
		Text:      ev.Body,
		Timestamp: ev.Timestamp,
	})
}

// reconcileChats seeds the chat list from the transport's group listing
// after a connection opens. Upserts are keyed by natural identifiers so
// replaying the listing cannot duplicate rows.
func (r *Registry) reconcileChats(ctx context.Context, lh *liveHandle) {
	groups, err := lh.handle.ListGroups(ctx)
	if err != nil {
		slog.Warn("Group listing failed during reconciliation", "session_id", lh.sessionID, "error", err)
		return
	}

	for _, g := range groups {
		if err := r.repo.UpsertChat(ctx, &domain.Chat{
			SessionID: lh.sessionID,
			ChatID:    g.ChatID,
			Name:      g.Name,
		}); err != nil {
			slog.Warn("Failed to reconcile chat", "session_id", lh.sessionID, "chat_id", g.ChatID, "error", err)
		}
	}
	if len(groups) > 0 {
		slog.Info("Chat list reconciled", "session_id", lh.sessionID, "groups", len(groups))
	}
}
