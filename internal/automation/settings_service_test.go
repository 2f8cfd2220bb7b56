package automation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/settings"
)

func TestSettingsService_Defaults(t *testing.T) {
	h := newHarness(t)

	got, err := h.Settings.Get(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, settings.Defaults(), got)
}

func TestSettingsService_Update(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	updated := h.updateSettings(t, map[string]any{
		settings.KeyMaxActionsPerHour:   5,
		settings.KeyConfidenceThreshold: 0.9,
		"unknownKey":                    "dropped",
	})
	assert.Equal(t, 5, updated.MaxActionsPerHour)
	assert.InDelta(t, 0.9, updated.ConfidenceThreshold, 1e-9)

	reloaded, err := h.Settings.Get(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded)

	_, err = h.Settings.Update(ctx, ws, settings.Patch{settings.KeyConfidenceThreshold: []byte("1.5")})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	_, err = h.Settings.Update(ctx, ws, settings.Patch{settings.KeyMaxActionsPerDay: []byte(`"many"`)})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)

	reloaded, err = h.Settings.Get(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, updated, reloaded, "rejected updates change nothing")
}

func TestSettingsService_PauseResumeRestoresModes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setMode(t, "ad_manager", mode.Autopilot)
	h.setMode(t, "social_poster", mode.Copilot)

	before, err := h.Modes.Snapshot(ctx, ws)
	require.NoError(t, err)

	paused, err := h.Settings.Pause(ctx, ws)
	require.NoError(t, err)
	assert.True(t, paused.PauseAll)
	assert.Equal(t, before, paused.PreviousModes)
	h.bus.AssertPublished(t, eventbus.EventAutomationPaused)

	// Operators may tighten modes while paused; resume puts them back.
	h.setMode(t, "ad_manager", mode.Manual)
	h.setMode(t, "seo_optimizer", mode.Autopilot)

	resumed, err := h.Settings.Resume(ctx, ws)
	require.NoError(t, err)
	assert.False(t, resumed.PauseAll)
	assert.Empty(t, resumed.PreviousModes)
	h.bus.AssertPublished(t, eventbus.EventAutomationResumed)

	after, err := h.Modes.Snapshot(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSettingsService_PauseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.setMode(t, "ad_manager", mode.Autopilot)
	_, err := h.Settings.Pause(ctx, ws)
	require.NoError(t, err)

	h.setMode(t, "ad_manager", mode.Manual)

	// A second pause keeps the first snapshot.
	again, err := h.Settings.Pause(ctx, ws)
	require.NoError(t, err)
	assert.Equal(t, mode.Autopilot, again.PreviousModes["ad_manager"])

	_, err = h.Settings.Resume(ctx, ws)
	require.NoError(t, err)

	got, err := h.Modes.Get(ctx, ws, "ad_manager")
	require.NoError(t, err)
	assert.Equal(t, mode.Autopilot, got.Mode)
}

func TestNotificationService_PrefsFallsBackToDefaults(t *testing.T) {
	h := newHarness(t)
	h.updateSettings(t, map[string]any{settings.KeyNotifyOnCompleted: false})

	ctx := context.Background()
	assert.False(t, h.Notifications.prefs(ctx, ws).NotifyOnCompleted)
	assert.True(t, h.Notifications.prefs(ctx, "other-workspace").NotifyOnCompleted)
}
