package automation

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/settings"
)

// SettingsService reads and updates workspace safety settings. Turning pauseAll
// on snapshots every module mode; turning it off restores that snapshot.
type SettingsService struct {
	store   settings.Store
	modes   *ModeService
	notices *NotificationService
	bus     *eventbus.EventBus
	log     zerolog.Logger

	// mu serializes updates so a pause and a resume cannot interleave.
	mu sync.Mutex
}

// NewSettingsService creates a new SettingsService.
func NewSettingsService(
	store settings.Store,
	modes *ModeService,
	notices *NotificationService,
	bus *eventbus.EventBus,
	log zerolog.Logger,
) *SettingsService {
	return &SettingsService{
		store:   store,
		modes:   modes,
		notices: notices,
		bus:     bus,
		log:     log.With().Str("component", "settings-service").Logger(),
	}
}

// Get returns an immutable snapshot of the workspace settings.
func (s *SettingsService) Get(ctx context.Context, workspaceID string) (settings.Settings, error) {
	values, err := s.store.Load(ctx, workspaceID)
	if err != nil {
		return settings.Settings{}, err
	}
	return settings.FromValues(values), nil
}

// Update applies a partial update. Unknown keys were already dropped by
// settings.DecodePatch.
func (s *SettingsService) Update(ctx context.Context, workspaceID string, patch settings.Patch) (settings.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(ctx, workspaceID)
	if err != nil {
		return settings.Settings{}, err
	}

	next, err := current.Apply(patch)
	if err != nil {
		return settings.Settings{}, err
	}

	pausing := !current.PauseAll && next.PauseAll
	resuming := current.PauseAll && !next.PauseAll

	if pausing {
		snapshot, err := s.modes.Snapshot(ctx, workspaceID)
		if err != nil {
			return settings.Settings{}, fmt.Errorf("snapshot modes: %w", err)
		}
		next.PreviousModes = snapshot
	}

	var restored []string
	if resuming {
		restored, err = s.restore(ctx, workspaceID, current.PreviousModes)
		if err != nil {
			return settings.Settings{}, err
		}
		next.PreviousModes = map[string]mode.Mode{}
	}

	if err := s.store.Save(ctx, workspaceID, next.Values()); err != nil {
		return settings.Settings{}, err
	}

	switch {
	case pausing:
		s.log.Warn().Str("workspace_id", workspaceID).Int("modules", len(next.PreviousModes)).Msg("automation paused")
		s.notices.Paused(ctx, workspaceID, len(next.PreviousModes))
		s.bus.PublishAutomationPaused(eventbus.AutomationPausedPayload{
			WorkspaceID: workspaceID,
			Snapshot:    next.PreviousModes,
		})
	case resuming:
		s.log.Info().Str("workspace_id", workspaceID).Strs("restored", restored).Msg("automation resumed")
		s.notices.Resumed(ctx, workspaceID, len(restored))
		s.bus.PublishAutomationResumed(eventbus.AutomationResumedPayload{
			WorkspaceID: workspaceID,
			Restored:    restored,
		})
	}

	return next, nil
}

// Pause is shorthand for setting pauseAll to true.
func (s *SettingsService) Pause(ctx context.Context, workspaceID string) (settings.Settings, error) {
	return s.Update(ctx, workspaceID, settings.Patch{settings.KeyPauseAll: []byte("true")})
}

// Resume is shorthand for setting pauseAll to false.
func (s *SettingsService) Resume(ctx context.Context, workspaceID string) (settings.Settings, error) {
	return s.Update(ctx, workspaceID, settings.Patch{settings.KeyPauseAll: []byte("false")})
}

// restore puts every snapshotted module back into its pre-pause mode and returns
// the ids that actually changed.
func (s *SettingsService) restore(ctx context.Context, workspaceID string, snapshot map[string]mode.Mode) ([]string, error) {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	restored := []string{}
	for _, id := range ids {
		want := snapshot[id]
		if !s.modes.Catalog().Contains(id) || !want.IsValid() {
			continue
		}

		current, err := s.modes.Get(ctx, workspaceID, id)
		if err != nil {
			return nil, err
		}
		if current.Mode == want {
			continue
		}

		if _, err := s.modes.Set(ctx, workspaceID, SetRequest{ModuleID: id, Mode: want, ChangedBy: "resume"}); err != nil {
			return nil, fmt.Errorf("restore mode of %s: %w", id, err)
		}
		restored = append(restored, id)
	}
	return restored, nil
}
