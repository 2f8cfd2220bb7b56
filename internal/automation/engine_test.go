package automation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/config"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/internal/core/settings"
)

func (h *harness) createRule(t *testing.T, r rule.Rule) rule.Rule {
	t.Helper()
	require.NoError(t, h.Rules.Create(context.Background(), ws, &r))
	return r
}

func (h *harness) getRule(t *testing.T, id string) rule.Rule {
	t.Helper()
	r, err := h.Rules.Get(context.Background(), ws, id)
	require.NoError(t, err)
	return r
}

func roasRule(requiresApproval bool) rule.Rule {
	return rule.Rule{
		ModuleID:         "ad_manager",
		Name:             "Scale winning campaigns",
		TriggerType:      rule.TriggerThreshold,
		TriggerConfig:    json.RawMessage(`{"metric":"roas","operator":">","value":3.5}`),
		ActionType:       "increase_budget",
		ActionConfig:     json.RawMessage(`{"percent":20}`),
		RequiresApproval: requiresApproval,
	}
}

func dailyRule() rule.Rule {
	return rule.Rule{
		ModuleID:      "social_poster",
		Name:          "Morning post",
		TriggerType:   rule.TriggerSchedule,
		TriggerConfig: json.RawMessage(`{"frequency":"daily","time":"09:00"}`),
		ActionType:    "publish_post",
	}
}

func TestEngine_ThresholdAutopilotExecutes(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	r := h.createRule(t, roasRule(false))

	sum := h.Engine.Tick(context.Background())
	assert.Equal(t, 1, sum.Fired)
	assert.Equal(t, 0, sum.Errors)

	entries := h.actions(t, "increase_budget")
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, actionlog.StatusCompleted, e.Status)
	assert.Equal(t, mode.Autopilot, e.Mode)
	assert.Equal(t, r.ID, e.RuleID)

	var input map[string]any
	require.NoError(t, json.Unmarshal(e.InputData, &input))
	assert.EqualValues(t, 20, input["percent"])
	trigger, ok := input["trigger"].(map[string]any)
	require.True(t, ok, "payload carries the trigger context")
	assert.Equal(t, "threshold", trigger["type"])
	assert.EqualValues(t, 4, trigger["value"])

	fired := h.getRule(t, r.ID)
	assert.EqualValues(t, 1, fired.RunCount)
	assert.NotNil(t, fired.LastTriggered)

	h.bus.AssertPublished(t, eventbus.EventRuleFired)
}

func TestEngine_RejectedHintsLogFailedEntry(t *testing.T) {
	tests := []struct {
		name             string
		requiresApproval bool
	}{
		{"direct execute", false},
		{"approval queue", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			h.setMode(t, "ad_manager", mode.Autopilot)
			h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})

			r := roasRule(tt.requiresApproval)
			r.ActionConfig = json.RawMessage(`{"confidence":1.5}`)
			require.ErrorIs(t, h.Rules.Create(ctx, ws, &r), apperr.ErrInvalidArgument)

			// Rules stored before hint validation existed still reach the engine.
			require.NoError(t, h.Engine.rules.Create(ctx, ws, &r))

			sum := h.Engine.Tick(ctx)
			assert.Equal(t, 1, sum.Fired)
			assert.Equal(t, 1, sum.Errors)

			entries := h.actions(t, "increase_budget")
			require.Len(t, entries, 1)
			assert.Equal(t, actionlog.StatusFailed, entries[0].Status)
			assert.Equal(t, r.ID, entries[0].RuleID)
			assert.Contains(t, entries[0].Error, "confidence")
			assert.EqualValues(t, 1, h.getRule(t, r.ID).RunCount)
		})
	}
}

func TestEngine_MalformedHintsLogFailedEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMode(t, "ad_manager", mode.Autopilot)

	r := roasRule(false)
	r.ActionConfig = json.RawMessage(`{"priority":7}`)
	require.NoError(t, h.Engine.rules.Create(ctx, ws, &r))

	res, err := h.Engine.RunRule(ctx, ws, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.NotNil(t, res.Entry)
	assert.Equal(t, actionlog.StatusFailed, res.Entry.Status)
	assert.Equal(t, mode.Autopilot, res.Entry.Mode)
}

func TestEngine_ThresholdManualModeSuppressed(t *testing.T) {
	h := newHarness(t)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	h.createRule(t, roasRule(false))

	h.Engine.Tick(context.Background())

	entries := h.actions(t, "increase_budget")
	require.Len(t, entries, 1)
	assert.Equal(t, actionlog.StatusCancelled, entries[0].Status)
	assert.Equal(t, actionlog.ReasonManualMode, entries[0].Error)

	page, err := h.Activity.List(context.Background(), ws, ActivityQuery{Status: actionlog.StatusCompleted, ActionType: "increase_budget"})
	require.NoError(t, err)
	assert.Empty(t, page.Entries, "nothing executes in manual mode")
}

func TestEngine_ThresholdNotMet(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 2.1})
	r := h.createRule(t, roasRule(false))

	sum := h.Engine.Tick(context.Background())
	assert.Equal(t, 1, sum.Evaluated)
	assert.Equal(t, 0, sum.Fired)
	assert.EqualValues(t, 0, h.getRule(t, r.ID).RunCount)
}

func TestEngine_ThresholdCooldown(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	r := h.createRule(t, roasRule(false))

	now := time.Now()
	h.Engine.now = func() time.Time { return now }
	h.Engine.Tick(context.Background())
	h.Engine.Tick(context.Background())
	assert.EqualValues(t, 1, h.getRule(t, r.ID).RunCount, "one fire per window")

	h.Engine.now = func() time.Time { return now.Add(rule.DefaultWindow + time.Minute) }
	h.Engine.Tick(context.Background())
	assert.EqualValues(t, 2, h.getRule(t, r.ID).RunCount)
}

func TestEngine_RequiresApprovalQueues(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Copilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})

	r := roasRule(true)
	r.ActionConfig = json.RawMessage(`{"percent":20,"title":"Scale spring campaign","priority":"urgent","confidence":0.82}`)
	r = h.createRule(t, r)

	h.Engine.Tick(context.Background())

	items, _, err := h.Approvals.List(context.Background(), ws, approval.ListFilter{Status: approval.StatusPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, approval.SourceRule, item.Source)
	assert.Equal(t, r.ID, item.RuleID)
	assert.Equal(t, "Scale spring campaign", item.Title)
	assert.Equal(t, approval.PriorityUrgent, item.Priority)
	require.NotNil(t, item.AIConfidence)
	assert.InDelta(t, 0.82, *item.AIConfidence, 1e-9)

	assert.Empty(t, h.actions(t, "increase_budget"), "queued rules do not execute")
}

func TestEngine_ScheduleIdempotentWithinPeriod(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "social_poster", mode.Autopilot)
	r := h.createRule(t, dailyRule())

	later := r.CreatedAt.Add(25 * time.Hour)
	h.Engine.now = func() time.Time { return later }

	first := h.Engine.Tick(context.Background())
	assert.Equal(t, 1, first.Fired)

	second := h.Engine.Tick(context.Background())
	assert.Equal(t, 0, second.Fired)

	fired := h.getRule(t, r.ID)
	assert.EqualValues(t, 1, fired.RunCount)
	assert.Len(t, h.actions(t, "publish_post"), 1)

	h.Engine.now = func() time.Time { return later.Add(24 * time.Hour) }
	third := h.Engine.Tick(context.Background())
	assert.Equal(t, 1, third.Fired, "next period fires again")
}

func TestEngine_ScheduleNotDueBeforeFirstOccurrence(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "social_poster", mode.Autopilot)
	r := h.createRule(t, dailyRule())

	h.Engine.now = func() time.Time { return r.CreatedAt }
	sum := h.Engine.Tick(context.Background())
	assert.Equal(t, 0, sum.Fired)
}

func TestEngine_PauseSuppressesRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	r := h.createRule(t, roasRule(false))
	h.updateSettings(t, map[string]any{settings.KeyPauseAll: true})

	sum := h.Engine.Tick(ctx)
	assert.Equal(t, 0, sum.Fired)
	assert.EqualValues(t, 0, h.getRule(t, r.ID).RunCount)
	assert.Empty(t, h.actions(t, "increase_budget"))

	_, err := h.Engine.RunRule(ctx, ws, r.ID)
	require.ErrorIs(t, err, apperr.ErrRateLimited)
}

func TestEngine_InactiveRulesSkipped(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	r := h.createRule(t, roasRule(false))

	toggled, err := h.Rules.Toggle(context.Background(), ws, r.ID)
	require.NoError(t, err)
	require.Equal(t, rule.StatusInactive, toggled.Status)

	sum := h.Engine.Tick(context.Background())
	assert.Equal(t, 0, sum.Workspaces)

	_, err = h.Engine.RunRule(context.Background(), ws, r.ID)
	require.ErrorIs(t, err, rule.ErrInactive)
}

func TestEngine_FailingRuleDoesNotStopOthers(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "ad_manager", mode.Autopilot)
	h.setMode(t, "social_poster", mode.Autopilot)

	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	h.Engine.Metrics().Register("social_poster", MetricsFunc(func(context.Context, string, string, time.Duration) (float64, error) {
		return 0, errors.New("analytics unavailable")
	}))
	h.Executor.Registry().Register("ad_manager", HandlerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("ads api down")
	}))

	broken := rule.Rule{
		ModuleID:      "social_poster",
		Name:          "Engagement drop",
		TriggerType:   rule.TriggerThreshold,
		TriggerConfig: json.RawMessage(`{"metric":"engagement","operator":"<","value":0.1}`),
		ActionType:    "boost_post",
	}
	h.createRule(t, broken)
	failing := h.createRule(t, roasRule(false))
	healthy := h.createRule(t, dailyRule())

	h.Engine.now = func() time.Time { return healthy.CreatedAt.Add(25 * time.Hour) }
	sum := h.Engine.Tick(context.Background())

	assert.Equal(t, 3, sum.Evaluated)
	assert.Equal(t, 2, sum.Fired)
	assert.Equal(t, 2, sum.Errors, "metric error and handler failure")

	failed := h.actions(t, "increase_budget")
	require.Len(t, failed, 1)
	assert.Equal(t, actionlog.StatusFailed, failed[0].Status)
	assert.Equal(t, failing.ID, failed[0].RuleID)

	ok := h.actions(t, "publish_post")
	require.Len(t, ok, 1)
	assert.Equal(t, actionlog.StatusCompleted, ok[0].Status)
}

func TestEngine_BuiltinMetrics(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "social_poster", mode.Autopilot)
	h.Executor.Registry().Register("social_poster", HandlerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("rejected by platform")
	}))

	for range 2 {
		_, err := h.Executor.Execute(context.Background(), ws, publishRequest())
		require.ErrorIs(t, err, apperr.ErrHandlerFailure)
	}

	v, err := h.Engine.Metrics().Value(context.Background(), ws, "social_poster", MetricActionsFailed, time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, 2, v, 1e-9)

	_, err = h.Engine.Metrics().Value(context.Background(), ws, "social_poster", "bogus", time.Hour)
	require.ErrorIs(t, err, ErrUnknownMetric)
}

func TestEngine_HandleEvent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMode(t, "review_responder", mode.Autopilot)

	r := h.createRule(t, rule.Rule{
		ModuleID:      "review_responder",
		Name:          "Reply to bad reviews",
		TriggerType:   rule.TriggerEvent,
		TriggerConfig: json.RawMessage(`{"event":"review.*","max_rating":2}`),
		ActionType:    "draft_reply",
	})

	fired, err := h.Engine.HandleEvent(ctx, ws, rule.Event{Name: "review.created", Data: map[string]any{"rating": 5}})
	require.NoError(t, err)
	assert.Empty(t, fired, "criteria must match")

	fired, err = h.Engine.HandleEvent(ctx, ws, rule.Event{Name: "order.created", Data: map[string]any{"rating": 1}})
	require.NoError(t, err)
	assert.Empty(t, fired, "pattern must match")

	fired, err = h.Engine.HandleEvent(ctx, ws, rule.Event{Name: "review.created", Data: map[string]any{"rating": 1}})
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, OutcomeExecuted, fired[0].Outcome)
	assert.Equal(t, r.ID, fired[0].Rule.ID)

	_, err = h.Engine.HandleEvent(ctx, ws, rule.Event{})
	require.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestEngine_DomainEventsFromBus(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "review_responder", mode.Autopilot)
	r := h.createRule(t, rule.Rule{
		ModuleID:      "review_responder",
		Name:          "Thank reviewers",
		TriggerType:   rule.TriggerEvent,
		TriggerConfig: json.RawMessage(`{"event":"review.created"}`),
		ActionType:    "draft_reply",
	})

	h.Bus.PublishDomainEvent(eventbus.DomainEventPayload{
		WorkspaceID: ws,
		Event:       rule.Event{Name: "review.created", Data: map[string]any{"rating": 5}},
	})

	waitFor(t, func() bool {
		got, err := h.Rules.Get(context.Background(), ws, r.ID)
		return err == nil && got.RunCount == 1
	})
}

func TestEngine_RunRule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.setMode(t, "social_poster", mode.Autopilot)
	r := h.createRule(t, dailyRule())

	// Not due yet; a manual run ignores the schedule.
	res, err := h.Engine.RunRule(ctx, ws, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, res.Outcome)
	require.NotNil(t, res.Entry)
	assert.Equal(t, actionlog.StatusCompleted, res.Entry.Status)
	assert.EqualValues(t, 1, res.Rule.RunCount)

	_, err = h.Engine.RunRule(ctx, ws, "missing")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEngine_RunRuleRateLimited(t *testing.T) {
	h := newHarness(t)
	h.setMode(t, "social_poster", mode.Autopilot)
	h.updateSettings(t, map[string]any{settings.KeyMaxActionsPerHour: 1})
	r := h.createRule(t, dailyRule())

	first, err := h.Engine.RunRule(context.Background(), ws, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, first.Outcome)

	second, err := h.Engine.RunRule(context.Background(), ws, r.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRateLimited, second.Outcome)
	assert.Equal(t, actionlog.StatusCancelled, second.Entry.Status)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.Engine.TickInterval = 10 * time.Millisecond
	})
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	h.setMode(t, "ad_manager", mode.Autopilot)
	h.Engine.Metrics().Register("ad_manager", StaticMetrics{"roas": 4})
	r := h.createRule(t, roasRule(false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Engine.Run(ctx) }()

	waitFor(t, func() bool {
		got, err := h.Rules.Get(context.Background(), ws, r.ID)
		return err == nil && got.RunCount == 1
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestActionPayload(t *testing.T) {
	got, err := actionPayload(json.RawMessage(`{"percent":20}`), map[string]any{"type": "manual"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"percent":20,"trigger":{"type":"manual"}}`, string(got))

	got, err = actionPayload(nil, map[string]any{"type": "manual"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"trigger":{"type":"manual"}}`, string(got))

	_, err = actionPayload(json.RawMessage(`[1,2]`), nil)
	require.Error(t, err)
}
