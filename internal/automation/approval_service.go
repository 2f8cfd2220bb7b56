package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/metrics"
)

// ApprovalService manages the approval queue. Approving runs the action through
// the executor; rejecting records a cancelled entry. Both transitions are
// guarded by the item's pending status.
type ApprovalService struct {
	store    approval.Store
	actions  actionlog.Store
	modes    *ModeService
	executor *Executor
	notices  *NotificationService
	bus      *eventbus.EventBus
	log      zerolog.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	store approval.Store,
	actions actionlog.Store,
	modes *ModeService,
	executor *Executor,
	notices *NotificationService,
	bus *eventbus.EventBus,
	log zerolog.Logger,
) *ApprovalService {
	return &ApprovalService{
		store:    store,
		actions:  actions,
		modes:    modes,
		executor: executor,
		notices:  notices,
		bus:      bus,
		log:      log.With().Str("component", "approval-service").Logger(),
	}
}

// Create validates and enqueues a new pending item.
func (s *ApprovalService) Create(ctx context.Context, workspaceID string, item *approval.Item) error {
	if err := s.modes.Catalog().Validate(item.ModuleID); err != nil {
		return err
	}
	if item.ActionType == "" {
		return apperr.Invalidf("action type is required")
	}
	if item.Title == "" {
		item.Title = item.ActionType
	}
	if item.Priority == "" {
		item.Priority = approval.PriorityMedium
	}
	if !item.Priority.IsValid() {
		return apperr.Invalidf("priority %q must be one of urgent, high, medium, low", item.Priority)
	}
	if item.AIConfidence != nil && (*item.AIConfidence < 0 || *item.AIConfidence > 1) {
		return apperr.Invalidf("confidence must be between 0 and 1")
	}
	if len(item.Payload) > 0 && !json.Valid(item.Payload) {
		return apperr.Invalidf("payload must be valid JSON")
	}

	item.ID = ""
	item.Status = approval.StatusPending
	item.ReviewedBy, item.ReviewNotes, item.ReviewedAt = "", "", nil

	if err := s.store.Create(ctx, workspaceID, item); err != nil {
		return err
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("approval_id", item.ID).
		Str("module", item.ModuleID).
		Str("priority", string(item.Priority)).
		Str("source", string(item.Source)).
		Msg("approval item created")

	s.notices.ApprovalCreated(ctx, workspaceID, *item)
	s.bus.PublishApprovalCreated(eventbus.ApprovalCreatedPayload{WorkspaceID: workspaceID, Item: *item})
	return nil
}

// Get returns one item.
func (s *ApprovalService) Get(ctx context.Context, workspaceID, id string) (approval.Item, error) {
	return s.store.Get(ctx, workspaceID, id)
}

// List returns one page of items in triage order plus the total match count.
func (s *ApprovalService) List(ctx context.Context, workspaceID string, filter approval.ListFilter) ([]approval.Item, int64, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, apperr.Invalidf("status %q must be one of pending, approved, rejected", filter.Status)
	}
	if filter.Priority != "" && !filter.Priority.IsValid() {
		return nil, 0, apperr.Invalidf("priority %q must be one of urgent, high, medium, low", filter.Priority)
	}

	items, err := s.store.List(ctx, workspaceID, filter)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.store.Count(ctx, workspaceID, filter)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// PendingCount summarizes the pending queue.
type PendingCount struct {
	Total      int64                       `json:"total"`
	ByPriority map[approval.Priority]int64 `json:"byPriority"`
}

// Count returns pending counts by priority.
func (s *ApprovalService) Count(ctx context.Context, workspaceID string) (PendingCount, error) {
	byPriority, err := s.store.CountByPriority(ctx, workspaceID)
	if err != nil {
		return PendingCount{}, err
	}
	var total int64
	for _, n := range byPriority {
		total += n
	}
	return PendingCount{Total: total, ByPriority: byPriority}, nil
}

// Review carries the reviewer's identity and notes.
type Review struct {
	ReviewedBy string `json:"reviewedBy,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Decision is the result of approving or rejecting an item.
type Decision struct {
	Item  approval.Item    `json:"item"`
	Entry *actionlog.Entry `json:"entry,omitempty"`
}

// Approve resolves the item as approved and executes its payload.
func (s *ApprovalService) Approve(ctx context.Context, workspaceID, id string, review Review) (Decision, error) {
	return s.approve(ctx, workspaceID, id, review, nil)
}

// Edit replaces the payload and approves in the same guarded transition.
func (s *ApprovalService) Edit(ctx context.Context, workspaceID, id string, payload json.RawMessage, review Review) (Decision, error) {
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return Decision{}, apperr.Invalidf("edited payload must be a JSON object")
	}
	return s.approve(ctx, workspaceID, id, review, payload)
}

func (s *ApprovalService) approve(ctx context.Context, workspaceID, id string, review Review, edited json.RawMessage) (Decision, error) {
	item, err := s.store.Get(ctx, workspaceID, id)
	if err != nil {
		return Decision{}, err
	}
	if !item.IsPending() {
		return Decision{}, approval.ErrNotPending
	}

	payload := item.Payload
	if edited != nil {
		payload = edited
	}

	var resolved approval.Item
	req := ExecuteRequest{
		ModuleID:    item.ModuleID,
		ActionType:  item.ActionType,
		Description: item.Title,
		Payload:     payload,
		ApprovalID:  item.ID,
		RuleID:      item.RuleID,
		beforeRun: func(ctx context.Context) error {
			var err error
			resolved, err = s.store.Resolve(ctx, workspaceID, id, approval.Resolution{
				Status:     approval.StatusApproved,
				ReviewedBy: review.ReviewedBy,
				Notes:      review.Notes,
				Payload:    edited,
			})
			return err
		},
	}

	result, err := s.executor.Execute(ctx, workspaceID, req)
	if resolved.ID == "" {
		// Never left pending: a safety limit or a concurrent review got there first.
		return Decision{Entry: result.Entry}, err
	}

	s.resolved(ctx, workspaceID, resolved)

	if err != nil && !errors.Is(err, apperr.ErrHandlerFailure) {
		return Decision{Item: resolved, Entry: result.Entry}, err
	}
	return Decision{Item: resolved, Entry: result.Entry}, nil
}

// Reject resolves the item as rejected and records a cancelled entry.
func (s *ApprovalService) Reject(ctx context.Context, workspaceID, id string, review Review) (Decision, error) {
	item, err := s.store.Resolve(ctx, workspaceID, id, approval.Resolution{
		Status:     approval.StatusRejected,
		ReviewedBy: review.ReviewedBy,
		Notes:      review.Notes,
	})
	if err != nil {
		return Decision{}, err
	}

	current, err := s.modes.Get(ctx, workspaceID, item.ModuleID)
	if err != nil {
		return Decision{}, err
	}

	reason := actionlog.ReasonRejected
	if review.Notes != "" {
		reason = fmt.Sprintf("%s: %s", reason, review.Notes)
	}
	entry := actionlog.Entry{
		ModuleID:    item.ModuleID,
		ActionType:  item.ActionType,
		Mode:        current.Mode,
		Description: item.Title,
		InputData:   item.Payload,
		Status:      actionlog.StatusCancelled,
		Error:       reason,
		ApprovalID:  item.ID,
		RuleID:      item.RuleID,
		CreatedAt:   time.Now(),
	}
	if err := s.actions.Append(ctx, workspaceID, &entry); err != nil {
		return Decision{}, fmt.Errorf("log rejection: %w", err)
	}

	s.resolved(ctx, workspaceID, item)
	s.notices.ActionRecorded(ctx, workspaceID, entry)
	s.bus.PublishActionRecorded(eventbus.ActionRecordedPayload{WorkspaceID: workspaceID, Entry: entry})

	return Decision{Item: item, Entry: &entry}, nil
}

// Batch applies action to each id. Items that are missing, no longer pending, or
// blocked by a safety limit are skipped; any other error aborts the batch.
func (s *ApprovalService) Batch(ctx context.Context, workspaceID string, ids []string, action approval.BatchAction, review Review) (approval.BatchResult, error) {
	if !action.IsValid() {
		return approval.BatchResult{}, apperr.Invalidf("batch action %q must be approve or reject", action)
	}
	if len(ids) == 0 {
		return approval.BatchResult{}, apperr.Invalidf("ids are required")
	}

	result := approval.BatchResult{Requested: len(ids)}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			result.Skipped = append(result.Skipped, id)
			continue
		}
		seen[id] = true

		var err error
		switch action {
		case approval.BatchApprove:
			_, err = s.Approve(ctx, workspaceID, id, review)
		case approval.BatchReject:
			_, err = s.Reject(ctx, workspaceID, id, review)
		}

		switch {
		case err == nil:
			result.Changed++
		case errors.Is(err, apperr.ErrNotFound),
			errors.Is(err, apperr.ErrStateConflict),
			errors.Is(err, apperr.ErrRateLimited):
			result.Skipped = append(result.Skipped, id)
		default:
			return result, err
		}
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("action", string(action)).
		Int("requested", result.Requested).
		Int("changed", result.Changed).
		Msg("batch review applied")

	return result, nil
}

func (s *ApprovalService) resolved(ctx context.Context, workspaceID string, item approval.Item) {
	metrics.RecordApprovalResolved(string(item.Status))
	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("approval_id", item.ID).
		Str("status", string(item.Status)).
		Str("reviewed_by", item.ReviewedBy).
		Msg("approval item resolved")
	s.notices.ApprovalResolved(ctx, workspaceID, item)
	s.bus.PublishApprovalResolved(eventbus.ApprovalResolvedPayload{WorkspaceID: workspaceID, Item: item})
}
