// Package rule defines stored trigger -> action bindings evaluated by the rule engine.
package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/autopilot/internal/core/apperr"
)

// TriggerType selects how a rule is evaluated.
type TriggerType string

const (
	TriggerSchedule  TriggerType = "schedule"
	TriggerEvent     TriggerType = "event"
	TriggerThreshold TriggerType = "threshold"
)

// IsValid reports whether t is a known trigger type.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerSchedule, TriggerEvent, TriggerThreshold:
		return true
	}
	return false
}

// Status controls whether the engine evaluates a rule.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

// Rule binds a trigger to an action on one module.
type Rule struct {
	ID               string          `json:"id"`
	ModuleID         string          `json:"moduleId"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	TriggerType      TriggerType     `json:"triggerType"`
	TriggerConfig    json.RawMessage `json:"triggerConfig"`
	ActionType       string          `json:"actionType"`
	ActionConfig     json.RawMessage `json:"actionConfig"`
	RequiresApproval bool            `json:"requiresApproval"`
	Status           Status          `json:"status"`
	LastTriggered    *time.Time      `json:"lastTriggered,omitempty"`
	RunCount         int64           `json:"runCount"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// IsActive reports whether the engine should evaluate the rule.
func (r Rule) IsActive() bool {
	return r.Status == StatusActive
}

// ActionHints are optional keys inside ActionConfig that shape how a fired rule
// is presented to reviewers or the executor.
type ActionHints struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    string   `json:"priority"`
	Confidence  *float64 `json:"confidence"`
}

// Hints extracts ActionHints from the action config. Unknown keys are ignored;
// a hint of the wrong type is an error.
func (r Rule) Hints() (ActionHints, error) {
	var h ActionHints
	if len(r.ActionConfig) > 0 {
		if err := json.Unmarshal(r.ActionConfig, &h); err != nil {
			return h, fmt.Errorf("decode action hints: %w", err)
		}
	}
	if h.Title == "" {
		h.Title = r.Name
	}
	return h, nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	ModuleID    string
	Status      Status
	TriggerType TriggerType
}

// Store persists rules scoped by workspace.
type Store interface {
	// Create persists a new rule. The store fills ID and timestamps when unset.
	Create(ctx context.Context, workspaceID string, r *Rule) error
	// Get returns a rule. Returns ErrNotFound if missing.
	Get(ctx context.Context, workspaceID, id string) (Rule, error)
	// List returns rules ordered by created_at descending.
	List(ctx context.Context, workspaceID string, filter ListFilter) ([]Rule, error)
	// Update replaces the user-editable fields of a rule. Returns ErrNotFound if missing.
	Update(ctx context.Context, workspaceID string, r Rule) (Rule, error)
	// Delete removes a rule. Returns ErrNotFound if missing.
	Delete(ctx context.Context, workspaceID, id string) error
	// ActiveWorkspaces returns workspaces that own at least one active rule.
	ActiveWorkspaces(ctx context.Context) ([]string, error)
	// MarkFired increments run_count and sets last_triggered only if last_triggered
	// still equals prev. Returns ErrAlreadyFired when another evaluator won.
	MarkFired(ctx context.Context, workspaceID, id string, prev *time.Time, firedAt time.Time) (Rule, error)
}

var (
	// ErrNotFound is returned when a rule does not exist.
	ErrNotFound = fmt.Errorf("rule %w", apperr.ErrNotFound)
	// ErrAlreadyFired is returned when a concurrent evaluation already fired the rule.
	ErrAlreadyFired = fmt.Errorf("%w: rule already fired for this period", apperr.ErrStateConflict)
	// ErrInactive is returned when manually running an inactive rule.
	ErrInactive = fmt.Errorf("%w: rule is inactive", apperr.ErrStateConflict)
)
