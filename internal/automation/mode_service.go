package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
)

// ModeService owns per-module autonomy levels. Every transition is audited in the
// action log as a mode_change entry.
type ModeService struct {
	store   mode.Store
	actions actionlog.Store
	catalog *mode.Catalog
	bus     *eventbus.EventBus
	log     zerolog.Logger
}

// NewModeService creates a new ModeService.
func NewModeService(store mode.Store, actions actionlog.Store, catalog *mode.Catalog, bus *eventbus.EventBus, log zerolog.Logger) *ModeService {
	return &ModeService{
		store:   store,
		actions: actions,
		catalog: catalog,
		bus:     bus,
		log:     log.With().Str("component", "mode-service").Logger(),
	}
}

// Catalog returns the automatable module catalog.
func (s *ModeService) Catalog() *mode.Catalog {
	return s.catalog
}

// GetAll returns one entry per catalog module, defaulting unset modules to manual.
func (s *ModeService) GetAll(ctx context.Context, workspaceID string) ([]mode.ModuleMode, error) {
	stored, err := s.store.List(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]mode.ModuleMode, len(stored))
	for _, m := range stored {
		byID[m.ModuleID] = m
	}

	ids := s.catalog.IDs()
	out := make([]mode.ModuleMode, 0, len(ids))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, mode.Default(id))
	}
	return out, nil
}

// Snapshot returns the current mode of every catalog module.
func (s *ModeService) Snapshot(ctx context.Context, workspaceID string) (map[string]mode.Mode, error) {
	all, err := s.GetAll(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]mode.Mode, len(all))
	for _, m := range all {
		out[m.ModuleID] = m.Mode
	}
	return out, nil
}

// Get returns the module's configuration, or the manual default when never set.
func (s *ModeService) Get(ctx context.Context, workspaceID, moduleID string) (mode.ModuleMode, error) {
	if err := s.catalog.Validate(moduleID); err != nil {
		return mode.ModuleMode{}, err
	}

	m, err := s.store.Get(ctx, workspaceID, moduleID)
	if errors.Is(err, mode.ErrNotFound) {
		return mode.Default(moduleID), nil
	}
	return m, err
}

// SetRequest changes a module's mode. Nil Config and empty RiskLevel keep the
// stored values.
type SetRequest struct {
	ModuleID  string         `json:"moduleId"`
	Mode      mode.Mode      `json:"mode"`
	Config    map[string]any `json:"config,omitempty"`
	RiskLevel mode.RiskLevel `json:"riskLevel,omitempty"`
	// ChangedBy is recorded in the audit entry.
	ChangedBy string `json:"-"`
}

// Set upserts the module's mode and appends a mode_change audit entry.
func (s *ModeService) Set(ctx context.Context, workspaceID string, req SetRequest) (mode.ModuleMode, error) {
	if err := s.catalog.Validate(req.ModuleID); err != nil {
		return mode.ModuleMode{}, err
	}
	if _, err := mode.Parse(string(req.Mode)); err != nil {
		return mode.ModuleMode{}, err
	}
	if req.RiskLevel != "" && !req.RiskLevel.IsValid() {
		return mode.ModuleMode{}, apperr.Invalidf("risk level %q must be one of low, medium, high", req.RiskLevel)
	}

	current, err := s.Get(ctx, workspaceID, req.ModuleID)
	if err != nil {
		return mode.ModuleMode{}, err
	}

	next := current
	next.Mode = req.Mode
	next.UpdatedAt = time.Now()
	if req.Config != nil {
		next.Config = maps.Clone(req.Config)
	}
	if req.RiskLevel != "" {
		next.RiskLevel = req.RiskLevel
	}

	if err := s.store.Upsert(ctx, workspaceID, next); err != nil {
		return mode.ModuleMode{}, err
	}

	if err := s.audit(ctx, workspaceID, current.Mode, next, req.ChangedBy); err != nil {
		return mode.ModuleMode{}, err
	}

	if current.Mode != next.Mode {
		s.bus.PublishModeChanged(eventbus.ModeChangedPayload{
			WorkspaceID: workspaceID,
			ModuleID:    next.ModuleID,
			From:        current.Mode,
			To:          next.Mode,
		})
	}

	s.log.Info().
		Str("workspace_id", workspaceID).
		Str("module", next.ModuleID).
		Str("from", string(current.Mode)).
		Str("to", string(next.Mode)).
		Msg("module mode set")

	return next, nil
}

// SetMany applies Set to each module in modes, stopping at the first failure.
// All ids and modes are validated before anything is written.
func (s *ModeService) SetMany(ctx context.Context, workspaceID string, modes map[string]mode.Mode, changedBy string) ([]mode.ModuleMode, error) {
	for id, m := range modes {
		if err := s.catalog.Validate(id); err != nil {
			return nil, err
		}
		if _, err := mode.Parse(string(m)); err != nil {
			return nil, err
		}
	}

	out := make([]mode.ModuleMode, 0, len(modes))
	for _, id := range s.catalog.IDs() {
		m, ok := modes[id]
		if !ok {
			continue
		}
		updated, err := s.Set(ctx, workspaceID, SetRequest{ModuleID: id, Mode: m, ChangedBy: changedBy})
		if err != nil {
			return out, err
		}
		out = append(out, updated)
	}
	return out, nil
}

// SetAll puts every catalog module into m.
func (s *ModeService) SetAll(ctx context.Context, workspaceID string, m mode.Mode, changedBy string) ([]mode.ModuleMode, error) {
	modes := make(map[string]mode.Mode)
	for _, id := range s.catalog.IDs() {
		modes[id] = m
	}
	return s.SetMany(ctx, workspaceID, modes, changedBy)
}

func (s *ModeService) audit(ctx context.Context, workspaceID string, from mode.Mode, next mode.ModuleMode, changedBy string) error {
	input, err := json.Marshal(map[string]any{
		"from":      from,
		"to":        next.Mode,
		"riskLevel": next.RiskLevel,
		"changedBy": changedBy,
	})
	if err != nil {
		return err
	}

	entry := actionlog.Entry{
		ModuleID:    next.ModuleID,
		ActionType:  actionlog.ActionModeChange,
		Mode:        next.Mode,
		Description: fmt.Sprintf("mode changed from %s to %s", from, next.Mode),
		InputData:   input,
		Status:      actionlog.StatusCompleted,
		CreatedAt:   next.UpdatedAt,
	}
	if err := s.actions.Append(ctx, workspaceID, &entry); err != nil {
		return fmt.Errorf("audit mode change: %w", err)
	}
	return nil
}
