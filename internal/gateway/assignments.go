package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/vantrex/warelay/internal/domain"
)

// Assign activates an assignment of one chat to one user within a
// session. Repeating the call leaves exactly one active row for the
// triple.
func (g *Gateway) Assign(ctx context.Context, sessionID, chatID, userID string) (*domain.Assignment, error) {
	sess, err := g.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, domain.ErrNotFound)
	}

	assignment, err := g.repo.UpsertAssignment(ctx, sessionID, chatID, userID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("assign chat %s to %s: %w", chatID, userID, err)
	}
	return assignment, nil
}

// Unassign deactivates an assignment, stamping unassigned_at. The row
// is retained for audit.
func (g *Gateway) Unassign(ctx context.Context, sessionID, chatID, userID string) error {
	if err := g.repo.DeactivateAssignment(ctx, sessionID, chatID, userID, time.Now()); err != nil {
		return fmt.Errorf("unassign chat %s from %s: %w", chatID, userID, err)
	}
	return nil
}

// Assignments lists all assignment rows for a session, active and not.
func (g *Gateway) Assignments(ctx context.Context, sessionID string) ([]*domain.Assignment, error) {
	assignments, err := g.repo.ListAssignments(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list assignments for %s: %w", sessionID, err)
	}
	return assignments, nil
}
