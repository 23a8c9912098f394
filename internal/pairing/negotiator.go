// Package pairing orchestrates the first-link QR negotiation flow.
//
// Pairing-code issuance is asynchronous and not guaranteed on the first
// connection attempt (stale credentials, transient network errors), so
// the negotiation polls durable session state with a timeout and a
// bounded number of forced retry cycles.
package pairing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantrex/warelay/internal/credstore"
	"github.com/vantrex/warelay/internal/domain"
	"github.com/vantrex/warelay/internal/registry"
	"github.com/vantrex/warelay/internal/store"
)

// Options tunes one negotiation.
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Force        bool
	Retries      int
	RetryDelay   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 3 * time.Second
	}
	return o
}

// Result is the negotiation outcome: the session status and, when one
// was issued, the pairing code.
type Result struct {
	Status domain.SessionStatus `json:"status"`
	QR     string               `json:"qr,omitempty"`
}

// Negotiator drives QR pairing against the registry and durable state.
type Negotiator struct {
	repo  store.Repository
	creds credstore.Store
	reg   *registry.Registry
	qrTTL time.Duration
}

// New creates a negotiator. qrTTL bounds how long an issued code is
// considered fresh.
func New(repo store.Repository, creds credstore.Store, reg *registry.Registry, qrTTL time.Duration) *Negotiator {
	return &Negotiator{repo: repo, creds: creds, reg: reg, qrTTL: qrTTL}
}

// Negotiate returns a scannable pairing code or the connected status,
// forcing fresh pairing cycles as needed within the retry budget.
func (n *Negotiator) Negotiate(ctx context.Context, sessionID string, opts Options) (Result, error) {
	opts = opts.withDefaults()

	force := opts.Force
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		res, done, err := n.attempt(ctx, sessionID, force, opts)
		if err != nil {
			return Result{}, err
		}
		if done {
			return res, nil
		}

		// Timed out waiting for a code: force a fresh pairing cycle on
		// the next attempt.
		force = true
		if attempt < opts.Retries {
			slog.Info("Pairing attempt timed out, retrying", "session_id", sessionID, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return Result{}, fmt.Errorf("negotiate pairing for %s: %w", sessionID, ctx.Err())
			case <-time.After(opts.RetryDelay):
			}
		}
	}

	return n.bestKnown(ctx, sessionID)
}

// attempt runs one pairing cycle. done is false only on timeout.
func (n *Negotiator) attempt(ctx context.Context, sessionID string, force bool, opts Options) (Result, bool, error) {
	sess, err := n.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	if sess != nil {
		// Fast paths: already connected, or a fresh code already exists.
		if sess.Status == domain.StatusConnected {
			return Result{Status: domain.StatusConnected}, true, nil
		}
		if !force && sess.HasUnexpiredQR(n.qrTTL, time.Now()) {
			return Result{Status: domain.StatusQRReady, QR: sess.QRCode}, true, nil
		}
	}

	needsReset := force || sess == nil || problemState(sess.Status)
	if needsReset {
		if err := n.resetForPairing(ctx, sessionID, sess); err != nil {
			return Result{}, false, err
		}
	}

	if err := n.reg.Create(ctx, sessionID); err != nil {
		return Result{}, false, fmt.Errorf("start connection for %s: %w", sessionID, err)
	}

	return n.poll(ctx, sessionID, opts)
}

func problemState(status domain.SessionStatus) bool {
	switch status {
	case domain.StatusInactive, domain.StatusDisconnected, domain.StatusError:
		return true
	}
	return false
}

// resetForPairing wipes credential material and returns the durable
// session to pending, discarding any stale live handle so the registry
// opens a genuinely new connection.
func (n *Negotiator) resetForPairing(ctx context.Context, sessionID string, sess *domain.Session) error {
	n.reg.Remove(sessionID)

	if err := n.creds.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear credentials for %s: %w", sessionID, err)
	}

	if sess == nil {
		return nil // Create seeds the fresh pending row.
	}
	if err := n.repo.ResetForPairing(ctx, sessionID); err != nil {
		return fmt.Errorf("reset session %s for pairing: %w", sessionID, err)
	}
	return nil
}

// poll watches durable session state until a code appears, the session
// connects, a terminal failure shows up, or the timeout elapses.
func (n *Negotiator) poll(ctx context.Context, sessionID string, opts Options) (Result, bool, error) {
	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Result{}, false, fmt.Errorf("negotiate pairing for %s: %w", sessionID, ctx.Err())
		case <-ticker.C:
		}

		sess, err := n.repo.GetSession(ctx, sessionID)
		if err != nil {
			return Result{}, false, fmt.Errorf("poll session %s: %w", sessionID, err)
		}
		if sess != nil {
			switch {
			case sess.Status == domain.StatusConnected:
				return Result{Status: domain.StatusConnected}, true, nil
			case sess.Status == domain.StatusQRReady && sess.QRCode != "":
				return Result{Status: domain.StatusQRReady, QR: sess.QRCode}, true, nil
			case sess.Status == domain.StatusError:
				return Result{Status: domain.StatusError}, true, nil
			}
		}

		if time.Now().After(deadline) {
			return Result{}, false, nil
		}
	}
}

func (n *Negotiator) bestKnown(ctx context.Context, sessionID string) (Result, error) {
	sess, err := n.repo.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return Result{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}
	return Result{Status: sess.Status, QR: sess.QRCode}, nil
}
