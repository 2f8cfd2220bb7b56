// Package approval defines the approval queue domain model: AI-proposed actions
// waiting for a human decision.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/apperr"
)

// Status is the review state of an item. Items leave pending exactly once.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Priority orders the queue for triage.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of p; lower ranks are served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// Source identifies what created an item.
type Source string

const (
	SourceRule       Source = "rule"
	SourceAI         Source = "ai"
	SourceConfidence Source = "confidence_override"
	SourceManual     Source = "manual"
)

// Item is a proposed action awaiting review.
type Item struct {
	ID           string          `json:"id"`
	ModuleID     string          `json:"moduleId"`
	ActionType   string          `json:"actionType"`
	Title        string          `json:"title"`
	Description  string          `json:"description,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	AIConfidence *float64        `json:"aiConfidence,omitempty"`
	Priority     Priority        `json:"priority"`
	Status       Status          `json:"status"`
	ReviewedBy   string          `json:"reviewedBy,omitempty"`
	ReviewNotes  string          `json:"reviewNotes,omitempty"`
	Source       Source          `json:"source"`
	RuleID       string          `json:"ruleId,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	ReviewedAt   *time.Time      `json:"reviewedAt,omitempty"`
}

// IsPending reports whether the item can still be reviewed.
func (i Item) IsPending() bool {
	return i.Status == StatusPending
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	ModuleID string
	Status   Status
	Priority Priority
	Limit    int
	Offset   int
}

// Resolution describes a guarded pending -> approved/rejected transition.
type Resolution struct {
	Status     Status
	ReviewedBy string
	Notes      string
	// Payload replaces the stored payload in the same transition when non-nil.
	Payload    json.RawMessage
	ReviewedAt time.Time
}

// Store persists approval items scoped by workspace.
type Store interface {
	// Create persists a new item. The store fills ID, Status and CreatedAt when unset.
	Create(ctx context.Context, workspaceID string, item *Item) error
	// Get returns an item. Returns ErrNotFound if it does not exist in the workspace.
	Get(ctx context.Context, workspaceID, id string) (Item, error)
	// List returns items ordered by priority rank, then created_at descending.
	List(ctx context.Context, workspaceID string, filter ListFilter) ([]Item, error)
	// Count returns the number of items matching the filter, ignoring paging.
	Count(ctx context.Context, workspaceID string, filter ListFilter) (int64, error)
	// CountByPriority returns pending counts keyed by priority.
	CountByPriority(ctx context.Context, workspaceID string) (map[Priority]int64, error)
	// Resolve applies res only if the item is still pending.
	// Returns ErrNotFound for unknown ids and ErrNotPending if already resolved.
	Resolve(ctx context.Context, workspaceID, id string, res Resolution) (Item, error)
}

var (
	// ErrNotFound is returned when an approval item does not exist.
	ErrNotFound = fmt.Errorf("approval item %w", apperr.ErrNotFound)
	// ErrNotPending is returned when a transition targets an already reviewed item.
	ErrNotPending = fmt.Errorf("%w: item is not pending", apperr.ErrStateConflict)
)

// BatchAction is the transition applied by a batch request.
type BatchAction string

const (
	BatchApprove BatchAction = "approve"
	BatchReject  BatchAction = "reject"
)

// IsValid reports whether a is a supported batch action.
func (a BatchAction) IsValid() bool {
	return a == BatchApprove || a == BatchReject
}

// BatchResult reports how many requested items actually changed state.
type BatchResult struct {
	Requested int      `json:"requested"`
	Changed   int      `json:"changed"`
	Skipped   []string `json:"skipped,omitempty"`
}
