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
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/internal/metrics"
)

// Fire outcomes reported in FireResult and the rule.fired event.
const (
	OutcomeExecuted    = "executed"
	OutcomeFailed      = "failed"
	OutcomeQueued      = "queued"
	OutcomeSuppressed  = "suppressed"
	OutcomeRateLimited = "rate_limited"
)

// DefaultTickInterval is the evaluation period used when none is configured.
const DefaultTickInterval = time.Minute

// FireResult describes what one rule fire produced.
type FireResult struct {
	Rule     rule.Rule        `json:"rule"`
	Outcome  string           `json:"outcome"`
	Entry    *actionlog.Entry `json:"entry,omitempty"`
	Approval *approval.Item   `json:"approval,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// TickSummary reports one evaluation cycle.
type TickSummary struct {
	Workspaces int `json:"workspaces"`
	Evaluated  int `json:"evaluated"`
	Fired      int `json:"fired"`
	Errors     int `json:"errors"`
}

// Engine evaluates schedule and threshold rules on a fixed tick and event rules
// as domain events arrive. A failing rule is logged and never stops the others.
type Engine struct {
	rules     rule.Store
	modes     *ModeService
	settings  *SettingsService
	approvals *ApprovalService
	executor  *Executor
	metrics   *MetricsRegistry
	bus       *eventbus.EventBus
	log       zerolog.Logger
	interval  time.Duration
	loc       *time.Location
	now       func() time.Time
}

// NewEngine creates a new Engine. A nil loc evaluates schedules in UTC.
func NewEngine(
	rules rule.Store,
	modes *ModeService,
	settingsSvc *SettingsService,
	approvals *ApprovalService,
	executor *Executor,
	metricsRegistry *MetricsRegistry,
	bus *eventbus.EventBus,
	log zerolog.Logger,
	interval time.Duration,
	loc *time.Location,
) *Engine {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		rules:     rules,
		modes:     modes,
		settings:  settingsSvc,
		approvals: approvals,
		executor:  executor,
		metrics:   metricsRegistry,
		bus:       bus,
		log:       log.With().Str("component", "engine").Logger(),
		interval:  interval,
		loc:       loc,
		now:       time.Now,
	}
}

// Metrics returns the threshold metrics registry.
func (e *Engine) Metrics() *MetricsRegistry {
	return e.metrics
}

// Register subscribes the engine to domain events published on the bus.
func (e *Engine) Register() {
	e.bus.SubscribeDomainEvent(func(p eventbus.DomainEventPayload) {
		if _, err := e.HandleEvent(context.Background(), p.WorkspaceID, p.Event); err != nil {
			e.log.Error().Err(err).Str("workspace_id", p.WorkspaceID).Str("event", p.Event.Name).Msg("handle domain event")
		}
	})
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info().Dur("interval", e.interval).Str("timezone", e.loc.String()).Msg("rule engine started")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info().Msg("rule engine stopped")
			return nil
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick runs one evaluation cycle over every workspace with active rules.
func (e *Engine) Tick(ctx context.Context) TickSummary {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	var sum TickSummary
	workspaces, err := e.rules.ActiveWorkspaces(ctx)
	if err != nil {
		e.log.Error().Err(err).Msg("list active workspaces")
		sum.Errors++
		return sum
	}

	for _, ws := range workspaces {
		if ctx.Err() != nil {
			break
		}
		sum.Workspaces++
		e.evaluateWorkspace(ctx, ws, &sum)
	}

	if sum.Fired > 0 || sum.Errors > 0 {
		e.log.Info().
			Int("workspaces", sum.Workspaces).
			Int("evaluated", sum.Evaluated).
			Int("fired", sum.Fired).
			Int("errors", sum.Errors).
			Msg("engine tick")
	}
	return sum
}

func (e *Engine) evaluateWorkspace(ctx context.Context, workspaceID string, sum *TickSummary) {
	snap, err := e.settings.Get(ctx, workspaceID)
	if err != nil {
		e.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("load settings")
		sum.Errors++
		return
	}
	if snap.PauseAll {
		e.log.Debug().Str("workspace_id", workspaceID).Msg("automation paused, skipping rules")
		return
	}

	rules, err := e.rules.List(ctx, workspaceID, rule.ListFilter{Status: rule.StatusActive})
	if err != nil {
		e.log.Error().Err(err).Str("workspace_id", workspaceID).Msg("list rules")
		sum.Errors++
		return
	}

	for _, r := range rules {
		if r.TriggerType == rule.TriggerEvent {
			continue
		}
		sum.Evaluated++

		due, input, err := e.due(ctx, workspaceID, r)
		if err != nil {
			e.log.Warn().Err(err).Str("workspace_id", workspaceID).Str("rule_id", r.ID).Msg("evaluate rule")
			sum.Errors++
			continue
		}
		if !due {
			continue
		}

		res, err := e.fire(ctx, workspaceID, r, input)
		switch {
		case errors.Is(err, rule.ErrAlreadyFired), errors.Is(err, rule.ErrInactive):
			continue
		case err != nil:
			e.log.Error().Err(err).Str("workspace_id", workspaceID).Str("rule_id", r.ID).Msg("fire rule")
			sum.Errors++
			continue
		}
		sum.Fired++
		if res.Outcome == OutcomeFailed {
			sum.Errors++
		}
	}
}

// due decides whether a schedule or threshold rule fires now and returns the
// trigger context attached to the action payload.
func (e *Engine) due(ctx context.Context, workspaceID string, r rule.Rule) (bool, map[string]any, error) {
	now := e.now()

	switch r.TriggerType {
	case rule.TriggerSchedule:
		cfg, err := r.Schedule()
		if err != nil {
			return false, nil, err
		}
		ok, err := cfg.Due(now, r.LastTriggered, r.CreatedAt, e.loc)
		if err != nil || !ok {
			return false, nil, err
		}
		return true, map[string]any{"type": "schedule", "frequency": cfg.Frequency, "firedAt": now}, nil

	case rule.TriggerThreshold:
		cfg, err := r.Threshold()
		if err != nil {
			return false, nil, err
		}
		window := cfg.WindowDuration()
		// One fire per window keeps a persistently true condition from firing every tick.
		if r.LastTriggered != nil && now.Sub(*r.LastTriggered) < window {
			return false, nil, nil
		}
		value, err := e.metrics.Value(ctx, workspaceID, r.ModuleID, cfg.Metric, window)
		if err != nil {
			return false, nil, fmt.Errorf("metric %s: %w", cfg.Metric, err)
		}
		if !cfg.Operator.Compare(value, cfg.Value) {
			return false, nil, nil
		}
		return true, map[string]any{
			"type":      "threshold",
			"metric":    cfg.Metric,
			"operator":  cfg.Operator,
			"threshold": cfg.Value,
			"value":     value,
		}, nil
	}

	return false, nil, nil
}

// HandleEvent fires every active event rule of the workspace whose pattern and
// criteria match ev. It returns the fires that happened.
func (e *Engine) HandleEvent(ctx context.Context, workspaceID string, ev rule.Event) ([]FireResult, error) {
	if ev.Name == "" {
		return nil, apperr.Invalidf("event name is required")
	}

	snap, err := e.settings.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if snap.PauseAll {
		e.log.Debug().Str("workspace_id", workspaceID).Str("event", ev.Name).Msg("automation paused, ignoring event")
		return nil, nil
	}

	rules, err := e.rules.List(ctx, workspaceID, rule.ListFilter{Status: rule.StatusActive, TriggerType: rule.TriggerEvent})
	if err != nil {
		return nil, err
	}

	var fired []FireResult
	for _, r := range rules {
		cfg, err := r.EventTrigger()
		if err != nil {
			e.log.Warn().Err(err).Str("rule_id", r.ID).Msg("decode event trigger")
			continue
		}
		if !cfg.Matches(ev) {
			continue
		}

		input := map[string]any{"type": "event", "event": ev.Name, "data": ev.Data}
		if ev.ModuleID != "" {
			input["moduleId"] = ev.ModuleID
		}

		res, err := e.fire(ctx, workspaceID, r, input)
		if err != nil {
			if !errors.Is(err, rule.ErrAlreadyFired) && !errors.Is(err, rule.ErrInactive) {
				e.log.Error().Err(err).Str("rule_id", r.ID).Msg("fire event rule")
			}
			continue
		}
		fired = append(fired, res)
	}
	return fired, nil
}

// RunRule fires a rule immediately, skipping its trigger condition. The pause
// switch and manual mode still apply.
func (e *Engine) RunRule(ctx context.Context, workspaceID, id string) (FireResult, error) {
	r, err := e.rules.Get(ctx, workspaceID, id)
	if err != nil {
		return FireResult{}, err
	}
	if !r.IsActive() {
		return FireResult{}, rule.ErrInactive
	}

	snap, err := e.settings.Get(ctx, workspaceID)
	if err != nil {
		return FireResult{}, err
	}
	if snap.PauseAll {
		return FireResult{}, fmt.Errorf("%w: %s", apperr.ErrRateLimited, actionlog.ReasonPaused)
	}

	return e.fire(ctx, workspaceID, r, map[string]any{"type": "manual"})
}

// fire bumps the rule's bookkeeping first, then routes the action by mode and
// requiresApproval. Only bookkeeping errors are returned; action outcomes are
// reported in FireResult. Every fire leaves exactly one log entry or approval item.
func (e *Engine) fire(ctx context.Context, workspaceID string, r rule.Rule, input map[string]any) (FireResult, error) {
	updated, err := e.rules.MarkFired(ctx, workspaceID, r.ID, r.LastTriggered, e.now())
	if err != nil {
		return FireResult{}, err
	}
	metrics.RecordRuleFire(string(r.TriggerType))

	res := FireResult{Rule: updated}
	defer func() {
		e.log.Info().
			Str("workspace_id", workspaceID).
			Str("rule_id", r.ID).
			Str("module", r.ModuleID).
			Str("outcome", res.Outcome).
			Int64("run_count", updated.RunCount).
			Msg("rule fired")
		e.bus.PublishRuleFired(eventbus.RuleFiredPayload{WorkspaceID: workspaceID, Rule: updated, Outcome: res.Outcome})
	}()

	req := ExecuteRequest{
		ModuleID:   r.ModuleID,
		ActionType: r.ActionType,
		Title:      r.Name,
		RuleID:     r.ID,
	}
	failed := func(m mode.Mode, cause error) (FireResult, error) {
		res.Outcome, res.Error = OutcomeFailed, cause.Error()
		entry, err := e.executor.fail(ctx, workspaceID, req, m, cause)
		if err != nil {
			e.log.Error().Err(err).Str("rule_id", r.ID).Msg("log failed rule action")
			return res, nil
		}
		res.Entry = entry
		return res, nil
	}

	current, err := e.modes.Get(ctx, workspaceID, r.ModuleID)
	if err != nil {
		return failed(mode.Default(r.ModuleID).Mode, err)
	}

	hints, err := r.Hints()
	if err != nil {
		return failed(current.Mode, err)
	}
	req.Title, req.Description = hints.Title, hints.Description

	payload, err := actionPayload(r.ActionConfig, input)
	if err != nil {
		return failed(current.Mode, err)
	}
	req.Payload = payload

	if current.Mode == mode.Manual {
		entry, err := e.executor.cancel(ctx, workspaceID, req, mode.Manual, actionlog.ReasonManualMode)
		if err != nil {
			res.Outcome, res.Error = OutcomeFailed, err.Error()
			return res, nil
		}
		res.Outcome, res.Entry = OutcomeSuppressed, entry
		return res, nil
	}

	priority := approval.Priority(hints.Priority)
	if !priority.IsValid() {
		priority = approval.PriorityMedium
	}

	if r.RequiresApproval {
		item := &approval.Item{
			ModuleID:     r.ModuleID,
			ActionType:   r.ActionType,
			Title:        hints.Title,
			Description:  hints.Description,
			Payload:      payload,
			AIConfidence: hints.Confidence,
			Priority:     priority,
			Source:       approval.SourceRule,
			RuleID:       r.ID,
		}
		if err := e.approvals.Create(ctx, workspaceID, item); err != nil {
			return failed(current.Mode, err)
		}
		res.Outcome, res.Approval = OutcomeQueued, item
		return res, nil
	}

	req.Mode = current.Mode
	req.Confidence = hints.Confidence
	req.Priority = priority
	result, err := e.executor.Execute(ctx, workspaceID, req)
	res.Entry, res.Approval = result.Entry, result.Approval

	switch {
	case err == nil && result.Redirected():
		res.Outcome = OutcomeQueued
	case err == nil:
		res.Outcome = OutcomeExecuted
	case IsRateLimited(err):
		res.Outcome, res.Error = OutcomeRateLimited, err.Error()
	case result.Entry != nil:
		res.Outcome, res.Error = OutcomeFailed, err.Error()
	default:
		return failed(current.Mode, err)
	}
	return res, nil
}

// actionPayload merges the trigger context into the rule's action config under
// the "trigger" key.
func actionPayload(actionConfig json.RawMessage, trigger map[string]any) (json.RawMessage, error) {
	cfg := map[string]any{}
	if len(actionConfig) > 0 {
		if err := json.Unmarshal(actionConfig, &cfg); err != nil {
			return nil, fmt.Errorf("decode action config: %w", err)
		}
	}
	if cfg == nil {
		cfg = map[string]any{}
	}
	if trigger != nil {
		cfg["trigger"] = trigger
	}
	out, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode action payload: %w", err)
	}
	return out, nil
}
