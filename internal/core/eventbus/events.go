// Package eventbus provides a typed publish/subscribe event bus for
// cross-component communication within the automation engine.
package eventbus

import (
	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/notify"
	"github.com/colonyops/autopilot/internal/core/rule"
)

// Event names a bus topic.
type Event string

// Keep list sorted A-Z
const (
	EventActionRecorded        Event = "action.recorded"
	EventApprovalCreated       Event = "approval.created"
	EventApprovalResolved      Event = "approval.resolved"
	EventAutomationPaused      Event = "automation.paused"
	EventAutomationResumed     Event = "automation.resumed"
	EventDomainEvent           Event = "domain.event"
	EventModeChanged           Event = "mode.changed"
	EventNotificationPublished Event = "notification.published"
	EventRuleFired             Event = "rule.fired"
)

// ActionRecordedPayload is emitted when an action log entry reaches a final status.
type ActionRecordedPayload struct {
	WorkspaceID string
	Entry       actionlog.Entry
}

// ApprovalCreatedPayload is emitted when an item enters the approval queue.
type ApprovalCreatedPayload struct {
	WorkspaceID string
	Item        approval.Item
}

// ApprovalResolvedPayload is emitted when an item leaves pending.
type ApprovalResolvedPayload struct {
	WorkspaceID string
	Item        approval.Item
}

// AutomationPausedPayload is emitted when pauseAll turns on.
type AutomationPausedPayload struct {
	WorkspaceID string
	Snapshot    map[string]mode.Mode
}

// AutomationResumedPayload is emitted when pauseAll turns off.
type AutomationResumedPayload struct {
	WorkspaceID string
	Restored    []string
}

// DomainEventPayload carries an event produced by a marketing module. Event rules
// subscribe to it.
type DomainEventPayload struct {
	WorkspaceID string
	Event       rule.Event
}

// ModeChangedPayload is emitted when a module's mode changes.
type ModeChangedPayload struct {
	WorkspaceID string
	ModuleID    string
	From        mode.Mode
	To          mode.Mode
}

// NotificationPublishedPayload is emitted after a notice was stored for a workspace.
type NotificationPublishedPayload struct {
	WorkspaceID  string
	Notification notify.Notification
}

// RuleFiredPayload is emitted after a rule's trigger fired and its action was routed.
type RuleFiredPayload struct {
	WorkspaceID string
	Rule        rule.Rule
	// Outcome is one of "executed", "failed", "queued", "suppressed", "rate_limited".
	Outcome string
}
