package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/mode"
)

func TestDecodePatch_DropsUnknownKeys(t *testing.T) {
	p, err := DecodePatch([]byte(`{"maxActionsPerHour":3,"legacyFlag":true,"previousModes":{"ad_manager":"autopilot"}}`))
	require.NoError(t, err)

	assert.Len(t, p, 1)
	assert.Contains(t, p, KeyMaxActionsPerHour)
}

func TestDecodePatch_NotObject(t *testing.T) {
	_, err := DecodePatch([]byte(`[1,2]`))
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestSettings_Apply(t *testing.T) {
	base := Defaults()

	t.Run("updates known keys", func(t *testing.T) {
		p, err := DecodePatch([]byte(`{"pauseAll":true,"confidenceThreshold":0.9}`))
		require.NoError(t, err)

		next, err := base.Apply(p)
		require.NoError(t, err)
		assert.True(t, next.PauseAll)
		assert.InDelta(t, 0.9, next.ConfidenceThreshold, 1e-9)
		assert.False(t, base.PauseAll, "original must not change")
	})

	t.Run("rejects bad types", func(t *testing.T) {
		p, err := DecodePatch([]byte(`{"maxActionsPerDay":"lots"}`))
		require.NoError(t, err)

		_, err = base.Apply(p)
		require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})

	t.Run("rejects out of range", func(t *testing.T) {
		p, err := DecodePatch([]byte(`{"confidenceThreshold":1.5}`))
		require.NoError(t, err)

		_, err = base.Apply(p)
		require.ErrorIs(t, err, apperr.ErrInvalidArgument)
	})
}

func TestValuesRoundTrip(t *testing.T) {
	s := Defaults()
	s.PauseAll = true
	s.MaxActionsPerHour = 3
	s.PreviousModes = map[string]mode.Mode{"ad_manager": mode.Autopilot}

	got := FromValues(s.Values())
	assert.Equal(t, s, got)
}

func TestFromValues_IgnoresBadValues(t *testing.T) {
	got := FromValues(map[string]json.RawMessage{
		KeyMaxActionsPerDay: json.RawMessage(`"nope"`),
		"unknown":           json.RawMessage(`1`),
	})
	assert.Equal(t, Defaults().MaxActionsPerDay, got.MaxActionsPerDay)
}
