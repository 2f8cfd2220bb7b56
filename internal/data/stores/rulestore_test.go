package stores

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/core/rule"
)

func newScheduleRule() *rule.Rule {
	return &rule.Rule{
		ModuleID:      "social_poster",
		Name:          "weekly digest",
		TriggerType:   rule.TriggerSchedule,
		TriggerConfig: json.RawMessage(`{"frequency":"weekly","day":"monday","time":"09:00"}`),
		ActionType:    "post_digest",
		ActionConfig:  json.RawMessage(`{"channel":"linkedin"}`),
	}
}

func TestRuleStore(t *testing.T) {
	ctx := context.Background()

	t.Run("create get update delete", func(t *testing.T) {
		store := NewRuleStore(openTestDB(t))

		r := newScheduleRule()
		require.NoError(t, store.Create(ctx, wsA, r))
		require.NotEmpty(t, r.ID)

		got, err := store.Get(ctx, wsA, r.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.StatusActive, got.Status)
		assert.Equal(t, rule.TriggerSchedule, got.TriggerType)
		assert.JSONEq(t, `{"channel":"linkedin"}`, string(got.ActionConfig))
		assert.Nil(t, got.LastTriggered)
		assert.Zero(t, got.RunCount)

		got.Status = rule.StatusInactive
		got.RequiresApproval = true
		updated, err := store.Update(ctx, wsA, got)
		require.NoError(t, err)
		assert.Equal(t, rule.StatusInactive, updated.Status)
		assert.True(t, updated.RequiresApproval)

		_, err = store.Update(ctx, wsB, got)
		require.ErrorIs(t, err, rule.ErrNotFound)

		require.NoError(t, store.Delete(ctx, wsA, r.ID))
		_, err = store.Get(ctx, wsA, r.ID)
		require.ErrorIs(t, err, rule.ErrNotFound)
		require.ErrorIs(t, store.Delete(ctx, wsA, r.ID), rule.ErrNotFound)
	})

	t.Run("list filters and active workspaces", func(t *testing.T) {
		store := NewRuleStore(openTestDB(t))

		require.NoError(t, store.Create(ctx, wsA, newScheduleRule()))
		inactive := newScheduleRule()
		inactive.Status = rule.StatusInactive
		require.NoError(t, store.Create(ctx, wsB, inactive))
		event := newScheduleRule()
		event.TriggerType = rule.TriggerEvent
		event.TriggerConfig = json.RawMessage(`{"event":"lead.created"}`)
		require.NoError(t, store.Create(ctx, wsA, event))

		all, err := store.List(ctx, wsA, rule.ListFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		events, err := store.List(ctx, wsA, rule.ListFilter{TriggerType: rule.TriggerEvent})
		require.NoError(t, err)
		assert.Len(t, events, 1)

		ws, err := store.ActiveWorkspaces(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{wsA}, ws)
	})

	t.Run("mark fired compares and swaps", func(t *testing.T) {
		store := NewRuleStore(openTestDB(t))
		r := newScheduleRule()
		require.NoError(t, store.Create(ctx, wsA, r))

		first := time.Now()
		fired, err := store.MarkFired(ctx, wsA, r.ID, nil, first)
		require.NoError(t, err)
		assert.Equal(t, int64(1), fired.RunCount)
		require.NotNil(t, fired.LastTriggered)
		assert.Equal(t, first.UnixNano(), fired.LastTriggered.UnixNano())

		_, err = store.MarkFired(ctx, wsA, r.ID, nil, first.Add(time.Second))
		require.ErrorIs(t, err, rule.ErrAlreadyFired)

		fired, err = store.MarkFired(ctx, wsA, r.ID, fired.LastTriggered, first.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), fired.RunCount)

		_, err = store.MarkFired(ctx, wsA, "missing", nil, first)
		require.ErrorIs(t, err, rule.ErrNotFound)
	})

	t.Run("mark fired rejects inactive", func(t *testing.T) {
		store := NewRuleStore(openTestDB(t))
		r := newScheduleRule()
		r.Status = rule.StatusInactive
		require.NoError(t, store.Create(ctx, wsA, r))

		_, err := store.MarkFired(ctx, wsA, r.ID, nil, time.Now())
		require.ErrorIs(t, err, rule.ErrInactive)
	})

	t.Run("concurrent mark fired has one winner", func(t *testing.T) {
		store := NewRuleStore(openTestDB(t))
		r := newScheduleRule()
		require.NoError(t, store.Create(ctx, wsA, r))

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		now := time.Now()
		for i := range 6 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.MarkFired(ctx, wsA, r.ID, nil, now.Add(time.Duration(i)))
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, rule.ErrAlreadyFired)
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		got, err := store.Get(ctx, wsA, r.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.RunCount)
	})
}
