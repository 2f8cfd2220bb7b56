package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/rule"
)

// RuleService manages rule definitions. Firing lives in Engine.
type RuleService struct {
	store rule.Store
	modes *ModeService
	log   zerolog.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(store rule.Store, modes *ModeService, log zerolog.Logger) *RuleService {
	return &RuleService{
		store: store,
		modes: modes,
		log:   log.With().Str("component", "rule-service").Logger(),
	}
}

func (s *RuleService) validate(r rule.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if !s.modes.Catalog().Contains(r.ModuleID) {
		return apperr.Invalidf("module %q is not automatable", r.ModuleID)
	}
	return nil
}

// Create validates and stores a new rule. Run bookkeeping always starts empty.
func (s *RuleService) Create(ctx context.Context, workspaceID string, r *rule.Rule) error {
	if r.Status == "" {
		r.Status = rule.StatusActive
	}
	if err := s.validate(*r); err != nil {
		return err
	}

	r.ID = ""
	r.RunCount = 0
	r.LastTriggered = nil
	r.CreatedAt, r.UpdatedAt = time.Time{}, time.Time{}

	if err := s.store.Create(ctx, workspaceID, r); err != nil {
		return err
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("rule_id", r.ID).
		Str("module", r.ModuleID).
		Str("trigger", string(r.TriggerType)).
		Msg("rule created")
	return nil
}

// Get returns one rule.
func (s *RuleService) Get(ctx context.Context, workspaceID, id string) (rule.Rule, error) {
	return s.store.Get(ctx, workspaceID, id)
}

// List returns rules matching filter.
func (s *RuleService) List(ctx context.Context, workspaceID string, filter rule.ListFilter) ([]rule.Rule, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, apperr.Invalidf("status %q must be active or inactive", filter.Status)
	}
	if filter.TriggerType != "" && !filter.TriggerType.IsValid() {
		return nil, apperr.Invalidf("trigger type %q must be schedule, event or threshold", filter.TriggerType)
	}
	return s.store.List(ctx, workspaceID, filter)
}

// Update replaces the editable fields of an existing rule. Run bookkeeping is
// owned by the engine and cannot be edited.
func (s *RuleService) Update(ctx context.Context, workspaceID string, r rule.Rule) (rule.Rule, error) {
	existing, err := s.store.Get(ctx, workspaceID, r.ID)
	if err != nil {
		return rule.Rule{}, err
	}
	if r.Status == "" {
		r.Status = existing.Status
	}
	if err := s.validate(r); err != nil {
		return rule.Rule{}, err
	}

	r.RunCount = existing.RunCount
	r.LastTriggered = existing.LastTriggered
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Time{}

	return s.store.Update(ctx, workspaceID, r)
}

// Toggle flips a rule between active and inactive.
func (s *RuleService) Toggle(ctx context.Context, workspaceID, id string) (rule.Rule, error) {
	r, err := s.store.Get(ctx, workspaceID, id)
	if err != nil {
		return rule.Rule{}, err
	}
	if r.IsActive() {
		r.Status = rule.StatusInactive
	} else {
		r.Status = rule.StatusActive
	}
	r.UpdatedAt = time.Time{}

	updated, err := s.store.Update(ctx, workspaceID, r)
	if err != nil {
		return rule.Rule{}, err
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("rule_id", id).
		Str("status", string(updated.Status)).
		Msg("rule toggled")
	return updated, nil
}

// Delete removes a rule.
func (s *RuleService) Delete(ctx context.Context, workspaceID, id string) error {
	return s.store.Delete(ctx, workspaceID, id)
}
