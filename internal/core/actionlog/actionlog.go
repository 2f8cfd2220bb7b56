// Package actionlog defines the append-only audit trail of action attempts.
package actionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/mode"
)

// Status is the outcome of an attempt.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusQueued marks an attempt whose handler is still running.
	StatusQueued Status = "queued"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusQueued:
		return true
	}
	return false
}

// IsTerminal reports whether s is a final status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ActionModeChange is the action type of audit entries written on mode transitions.
const ActionModeChange = "mode_change"

// Cancellation reasons recorded in Entry.Error for attempts that never executed.
const (
	ReasonManualMode  = "module in manual mode"
	ReasonPaused      = "automation paused"
	ReasonHourlyLimit = "hourly action limit reached"
	ReasonDailyLimit  = "daily action limit reached"
	ReasonRejected    = "rejected by reviewer"
)

// IsRateLimitReason reports whether a cancellation reason came from a safety limit.
func IsRateLimitReason(reason string) bool {
	return reason == ReasonPaused || reason == ReasonHourlyLimit || reason == ReasonDailyLimit
}

// Entry is one attempted action.
type Entry struct {
	ID          string          `json:"id"`
	ModuleID    string          `json:"moduleId"`
	ActionType  string          `json:"actionType"`
	Mode        mode.Mode       `json:"mode"`
	Description string          `json:"description"`
	InputData   json.RawMessage `json:"inputData,omitempty"`
	OutputData  json.RawMessage `json:"outputData,omitempty"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	ApprovalID  string          `json:"approvalId,omitempty"`
	RuleID      string          `json:"ruleId,omitempty"`
	DurationMS  int64           `json:"durationMs"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ModuleID   string
	Status     Status
	ActionType string
	Since      time.Time
	Until      time.Time
	Query      string
	Limit      int
	Offset     int
}

// Outcome finalizes a queued entry.
type Outcome struct {
	Status      Status
	OutputData  json.RawMessage
	Error       string
	DurationMS  int64
	CompletedAt time.Time
}

// Stats aggregates entries in a window.
type Stats struct {
	Total         int64            `json:"total"`
	ByStatus      map[Status]int64 `json:"byStatus"`
	ByModule      map[string]int64 `json:"byModule"`
	AvgDurationMS float64          `json:"avgDurationMs"`
	SuccessRate   float64          `json:"successRate"`
}

// DayCount is the number of entries created on one calendar day.
type DayCount struct {
	Day   string `json:"day"`
	Count int64  `json:"count"`
}

// Store persists log entries. Entries are never modified once CompletedAt is set.
type Store interface {
	// Append writes a new entry. The store fills ID and CreatedAt when unset.
	Append(ctx context.Context, workspaceID string, e *Entry) error
	// Complete finalizes a queued entry. Returns ErrAlreadyFinal when the entry is not queued.
	Complete(ctx context.Context, workspaceID, id string, out Outcome) (Entry, error)
	// Get returns an entry. Returns ErrNotFound if missing.
	Get(ctx context.Context, workspaceID, id string) (Entry, error)
	// List returns entries newest first.
	List(ctx context.Context, workspaceID string, filter Filter) ([]Entry, error)
	// Count returns the number of entries matching filter, ignoring paging.
	Count(ctx context.Context, workspaceID string, filter Filter) (int64, error)
	// CountExecutedSince counts completed and in-flight attempts since t, excluding
	// mode-change audit entries. Used for rate limiting.
	CountExecutedSince(ctx context.Context, workspaceID string, since time.Time) (int64, error)
	// Stats aggregates entries created in [since, until).
	Stats(ctx context.Context, workspaceID string, since, until time.Time) (Stats, error)
	// CountByDay returns per-day entry counts since t, in loc.
	CountByDay(ctx context.Context, workspaceID string, since time.Time, loc *time.Location) ([]DayCount, error)
}

var (
	// ErrNotFound is returned when an entry does not exist.
	ErrNotFound = fmt.Errorf("action log entry %w", apperr.ErrNotFound)
	// ErrAlreadyFinal is returned when completing an entry that is not queued.
	ErrAlreadyFinal = fmt.Errorf("%w: action log entry is already final", apperr.ErrStateConflict)
)
