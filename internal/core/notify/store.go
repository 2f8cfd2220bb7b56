// Package notify defines user-facing notices derived from approvals, actions, and rules.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/apperr"
)

// Type classifies a notification.
type Type string

const (
	TypeApprovalNeeded  Type = "approval_needed"
	TypeApprovalHandled Type = "approval_resolved"
	TypeActionCompleted Type = "action_completed"
	TypeActionFailed    Type = "action_failed"
	TypeRateLimited     Type = "rate_limited"
	TypePaused          Type = "automation_paused"
	TypeResumed         Type = "automation_resumed"
)

// Notification is a write-once fact about state already recorded elsewhere.
// Only Read ever changes after creation.
type Notification struct {
	ID        int64     `json:"id"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	ModuleID  string    `json:"moduleId,omitempty"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultLimit bounds List when the caller passes no limit.
const DefaultLimit = 50

// Store persists notifications to durable storage.
type Store interface {
	Save(ctx context.Context, workspaceID string, n Notification) (int64, error)
	// List returns the newest notifications first.
	List(ctx context.Context, workspaceID string, limit int, unreadOnly bool) ([]Notification, error)
	// MarkRead sets the read flag. Returns ErrNotFound if missing.
	MarkRead(ctx context.Context, workspaceID string, id int64) error
	// MarkAllRead marks every unread notification read and returns how many changed.
	MarkAllRead(ctx context.Context, workspaceID string) (int64, error)
	CountUnread(ctx context.Context, workspaceID string) (int64, error)
}

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = fmt.Errorf("notification %w", apperr.ErrNotFound)
