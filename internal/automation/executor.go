package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/eventbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/settings"
	"github.com/colonyops/autopilot/internal/metrics"
)

// DefaultHandlerTimeout bounds handler calls when the executor is built without one.
const DefaultHandlerTimeout = 30 * time.Second

// ErrManualMode is returned when a module in manual mode is asked to act on its own.
var ErrManualMode = fmt.Errorf("%w: %s", apperr.ErrStateConflict, actionlog.ReasonManualMode)

// ExecuteRequest describes one action attempt.
type ExecuteRequest struct {
	ModuleID    string          `json:"moduleId"`
	ActionType  string          `json:"actionType"`
	Description string          `json:"description,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	// Mode is the module mode the attempt runs under. Empty resolves the stored mode.
	Mode mode.Mode `json:"mode,omitempty"`
	// Confidence below the workspace threshold redirects the attempt to the approval queue.
	Confidence *float64 `json:"confidence,omitempty"`
	// ApprovalID marks an attempt a reviewer already approved.
	ApprovalID string `json:"approvalId,omitempty"`
	RuleID     string `json:"ruleId,omitempty"`

	// Title, Priority and Source shape the approval item created on redirect.
	Title    string            `json:"title,omitempty"`
	Priority approval.Priority `json:"priority,omitempty"`

	// beforeRun runs after the safety checks pass and before the queued entry is
	// written. An error aborts the attempt without logging.
	beforeRun func(ctx context.Context) error
}

// ExecuteResult reports what happened to an attempt. Exactly one of Entry or
// Approval is set on success.
type ExecuteResult struct {
	Entry    *actionlog.Entry `json:"entry,omitempty"`
	Approval *approval.Item   `json:"approval,omitempty"`
}

// Redirected reports whether the attempt was sent to the approval queue.
func (r ExecuteResult) Redirected() bool {
	return r.Approval != nil
}

// Executor is the dispatch boundary to module action handlers. It enforces the
// workspace safety limits and records every attempt in the action log.
type Executor struct {
	modes     *ModeService
	settings  *SettingsService
	approvals approval.Store
	actions   actionlog.Store
	registry  *Registry
	notices   *NotificationService
	bus       *eventbus.EventBus
	log       zerolog.Logger
	timeout   time.Duration
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewExecutor creates a new Executor. A non-positive timeout uses DefaultHandlerTimeout.
func NewExecutor(
	modes *ModeService,
	settingsSvc *SettingsService,
	approvals approval.Store,
	actions actionlog.Store,
	registry *Registry,
	notices *NotificationService,
	bus *eventbus.EventBus,
	log zerolog.Logger,
	timeout time.Duration,
) *Executor {
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Executor{
		modes:     modes,
		settings:  settingsSvc,
		approvals: approvals,
		actions:   actions,
		registry:  registry,
		notices:   notices,
		bus:       bus,
		log:       log.With().Str("component", "executor").Logger(),
		timeout:   timeout,
		now:       time.Now,
		locks:     map[string]*sync.Mutex{},
	}
}

// Registry returns the handler registry.
func (e *Executor) Registry() *Registry {
	return e.registry
}

func (e *Executor) workspaceLock(workspaceID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[workspaceID]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[workspaceID] = mu
	}
	return mu
}

// Execute runs one action attempt:
//  1. pause and rate caps cancel the attempt with apperr.ErrRateLimited
//  2. a confidence below the threshold redirects it to the approval queue
//  3. manual mode cancels it with ErrManualMode unless a reviewer approved it
//  4. otherwise the module handler runs under a timeout and the outcome is logged
//
// Handler failures are returned wrapping apperr.ErrHandlerFailure together with
// the failed entry.
func (e *Executor) Execute(ctx context.Context, workspaceID string, req ExecuteRequest) (ExecuteResult, error) {
	if err := e.modes.Catalog().Validate(req.ModuleID); err != nil {
		return ExecuteResult{}, err
	}
	if req.ActionType == "" {
		return ExecuteResult{}, apperr.Invalidf("action type is required")
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return ExecuteResult{}, apperr.Invalidf("payload must be valid JSON")
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return ExecuteResult{}, apperr.Invalidf("confidence must be between 0 and 1")
	}

	entry, result, err := e.admit(ctx, workspaceID, req)
	if entry == nil {
		return result, err
	}

	return e.run(ctx, workspaceID, req, entry)
}

// admit performs every check under the workspace lock and, when the attempt may
// run, writes the queued entry. The lock makes count-then-insert atomic so two
// concurrent attempts cannot both pass a cap.
func (e *Executor) admit(ctx context.Context, workspaceID string, req ExecuteRequest) (*actionlog.Entry, ExecuteResult, error) {
	mu := e.workspaceLock(workspaceID)
	mu.Lock()
	defer mu.Unlock()

	snap, err := e.settings.Get(ctx, workspaceID)
	if err != nil {
		return nil, ExecuteResult{}, err
	}

	m := req.Mode
	if m == "" {
		current, err := e.modes.Get(ctx, workspaceID, req.ModuleID)
		if err != nil {
			return nil, ExecuteResult{}, err
		}
		m = current.Mode
	}

	reason, err := e.limitReason(ctx, workspaceID, snap)
	if err != nil {
		return nil, ExecuteResult{}, err
	}
	if reason != "" {
		cancelled, err := e.cancel(ctx, workspaceID, req, m, reason)
		if err != nil {
			return nil, ExecuteResult{}, err
		}
		return nil, ExecuteResult{Entry: cancelled}, fmt.Errorf("%w: %s", apperr.ErrRateLimited, reason)
	}

	if req.ApprovalID == "" && req.Confidence != nil && *req.Confidence < snap.ConfidenceThreshold {
		item, err := e.redirect(ctx, workspaceID, req)
		if err != nil {
			return nil, ExecuteResult{}, err
		}
		return nil, ExecuteResult{Approval: item}, nil
	}

	if req.beforeRun != nil {
		if err := req.beforeRun(ctx); err != nil {
			return nil, ExecuteResult{}, err
		}
	}

	if m == mode.Manual && req.ApprovalID == "" {
		cancelled, err := e.cancel(ctx, workspaceID, req, m, actionlog.ReasonManualMode)
		if err != nil {
			return nil, ExecuteResult{}, err
		}
		return nil, ExecuteResult{Entry: cancelled}, ErrManualMode
	}

	entry := &actionlog.Entry{
		ModuleID:    req.ModuleID,
		ActionType:  req.ActionType,
		Mode:        m,
		Description: req.description(),
		InputData:   req.Payload,
		Status:      actionlog.StatusQueued,
		ApprovalID:  req.ApprovalID,
		RuleID:      req.RuleID,
		CreatedAt:   e.now(),
	}
	if err := e.actions.Append(ctx, workspaceID, entry); err != nil {
		return nil, ExecuteResult{}, err
	}
	return entry, ExecuteResult{}, nil
}

// limitReason returns the cancellation reason when a safety limit blocks new
// attempts, or "" when the attempt may proceed.
func (e *Executor) limitReason(ctx context.Context, workspaceID string, snap settings.Settings) (string, error) {
	if snap.PauseAll {
		return actionlog.ReasonPaused, nil
	}

	now := e.now()
	if snap.MaxActionsPerHour > 0 {
		n, err := e.actions.CountExecutedSince(ctx, workspaceID, now.Add(-time.Hour))
		if err != nil {
			return "", err
		}
		if n >= int64(snap.MaxActionsPerHour) {
			return actionlog.ReasonHourlyLimit, nil
		}
	}
	if snap.MaxActionsPerDay > 0 {
		n, err := e.actions.CountExecutedSince(ctx, workspaceID, now.Add(-24*time.Hour))
		if err != nil {
			return "", err
		}
		if n >= int64(snap.MaxActionsPerDay) {
			return actionlog.ReasonDailyLimit, nil
		}
	}
	return "", nil
}

func (e *Executor) cancel(ctx context.Context, workspaceID string, req ExecuteRequest, m mode.Mode, reason string) (*actionlog.Entry, error) {
	entry, err := e.record(ctx, workspaceID, req, m, actionlog.StatusCancelled, reason)
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("workspace_id", workspaceID).
		Str("module", req.ModuleID).
		Str("action", req.ActionType).
		Str("reason", reason).
		Msg("action cancelled")
	return entry, nil
}

// fail logs an attempt that could not be dispatched at all as failed.
func (e *Executor) fail(ctx context.Context, workspaceID string, req ExecuteRequest, m mode.Mode, cause error) (*actionlog.Entry, error) {
	entry, err := e.record(ctx, workspaceID, req, m, actionlog.StatusFailed, cause.Error())
	if err != nil {
		return nil, err
	}

	e.log.Warn().
		Err(cause).
		Str("workspace_id", workspaceID).
		Str("module", req.ModuleID).
		Str("action", req.ActionType).
		Msg("action failed before dispatch")
	return entry, nil
}

// record appends a final entry for an attempt that never reached a handler.
func (e *Executor) record(ctx context.Context, workspaceID string, req ExecuteRequest, m mode.Mode, status actionlog.Status, reason string) (*actionlog.Entry, error) {
	entry := &actionlog.Entry{
		ModuleID:    req.ModuleID,
		ActionType:  req.ActionType,
		Mode:        m,
		Description: req.description(),
		InputData:   req.Payload,
		Status:      status,
		Error:       reason,
		ApprovalID:  req.ApprovalID,
		RuleID:      req.RuleID,
		CreatedAt:   e.now(),
	}
	if err := e.actions.Append(ctx, workspaceID, entry); err != nil {
		return nil, err
	}

	metrics.RecordAction(entry.ModuleID, string(entry.Status), 0)
	e.recorded(ctx, workspaceID, *entry)
	return entry, nil
}

func (e *Executor) redirect(ctx context.Context, workspaceID string, req ExecuteRequest) (*approval.Item, error) {
	priority := req.Priority
	if !priority.IsValid() {
		priority = approval.PriorityMedium
	}
	item := &approval.Item{
		ModuleID:     req.ModuleID,
		ActionType:   req.ActionType,
		Title:        req.title(),
		Description:  req.Description,
		Payload:      req.Payload,
		AIConfidence: req.Confidence,
		Priority:     priority,
		Source:       approval.SourceConfidence,
		RuleID:       req.RuleID,
	}
	if err := e.approvals.Create(ctx, workspaceID, item); err != nil {
		return nil, err
	}

	e.log.Info().
		Str("workspace_id", workspaceID).
		Str("module", req.ModuleID).
		Str("approval_id", item.ID).
		Float64("confidence", *req.Confidence).
		Msg("low confidence action sent for review")

	e.notices.ApprovalCreated(ctx, workspaceID, *item)
	e.bus.PublishApprovalCreated(eventbus.ApprovalCreatedPayload{WorkspaceID: workspaceID, Item: *item})
	return item, nil
}

type handlerResult struct {
	output json.RawMessage
	err    error
}

// run invokes the handler outside the workspace lock and finalizes the queued entry.
func (e *Executor) run(ctx context.Context, workspaceID string, req ExecuteRequest, entry *actionlog.Entry) (ExecuteResult, error) {
	handler, _ := e.registry.Lookup(req.ModuleID)

	// The attempt is already logged as queued; it must reach a final status even
	// if the caller goes away.
	base := context.WithoutCancel(ctx)
	hctx, cancel := context.WithTimeout(base, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := handler.Handle(hctx, req.ActionType, req.Payload)
		done <- handlerResult{output: out, err: err}
	}()

	var res handlerResult
	select {
	case res = <-done:
	case <-hctx.Done():
		res = handlerResult{err: fmt.Errorf("handler timed out after %s", e.timeout)}
	}
	elapsed := time.Since(start)

	out := actionlog.Outcome{
		Status:      actionlog.StatusCompleted,
		DurationMS:  elapsed.Milliseconds(),
		CompletedAt: e.now(),
	}
	if res.err != nil {
		out.Status = actionlog.StatusFailed
		out.Error = res.err.Error()
	} else if len(res.output) > 0 && json.Valid(res.output) {
		out.OutputData = res.output
	}

	final, err := e.actions.Complete(base, workspaceID, entry.ID, out)
	if err != nil {
		return ExecuteResult{}, fmt.Errorf("finalize action %s: %w", entry.ID, err)
	}

	metrics.RecordAction(final.ModuleID, string(final.Status), elapsed)
	e.recorded(base, workspaceID, final)

	evt := e.log.Info()
	if final.Status == actionlog.StatusFailed {
		evt = e.log.Warn().Str("error", final.Error)
	}
	evt.Str("workspace_id", workspaceID).
		Str("module", final.ModuleID).
		Str("action", final.ActionType).
		Str("status", string(final.Status)).
		Int64("duration_ms", final.DurationMS).
		Msg("action finished")

	if res.err != nil {
		return ExecuteResult{Entry: &final}, fmt.Errorf("%w: %s", apperr.ErrHandlerFailure, res.err.Error())
	}
	return ExecuteResult{Entry: &final}, nil
}

func (e *Executor) recorded(ctx context.Context, workspaceID string, entry actionlog.Entry) {
	e.notices.ActionRecorded(ctx, workspaceID, entry)
	e.bus.PublishActionRecorded(eventbus.ActionRecordedPayload{WorkspaceID: workspaceID, Entry: entry})
}

func (r ExecuteRequest) description() string {
	if r.Description != "" {
		return r.Description
	}
	if r.Title != "" {
		return r.Title
	}
	return r.ActionType
}

func (r ExecuteRequest) title() string {
	if r.Title != "" {
		return r.Title
	}
	return r.ActionType
}

// IsRateLimited reports whether err came from a safety limit.
func IsRateLimited(err error) bool {
	return errors.Is(err, apperr.ErrRateLimited)
}
