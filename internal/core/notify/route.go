package notify

import (
	"fmt"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/settings"
)

// ForApprovalCreated returns the "approval needed" notice for item, or false
// when the workspace turned those off.
func ForApprovalCreated(item approval.Item, prefs settings.Settings) (Notification, bool) {
	if !prefs.NotifyOnApproval {
		return Notification{}, false
	}
	return Notification{
		Type:     TypeApprovalNeeded,
		Title:    "Approval needed",
		Message:  fmt.Sprintf("%s (%s priority)", item.Title, item.Priority),
		ModuleID: item.ModuleID,
	}, true
}

// ForApprovalResolved returns the notice for an approve or reject. Resolutions
// are never filtered by preferences.
func ForApprovalResolved(item approval.Item) Notification {
	title := "Approved"
	if item.Status == approval.StatusRejected {
		title = "Rejected"
	}
	msg := item.Title
	if item.ReviewedBy != "" {
		msg = fmt.Sprintf("%s by %s", msg, item.ReviewedBy)
	}
	return Notification{
		Type:     TypeApprovalHandled,
		Title:    title,
		Message:  msg,
		ModuleID: item.ModuleID,
	}
}

// ForAction returns the notice for a finished log entry. Mode audits, manual-mode
// and rejection cancels produce none.
func ForAction(e actionlog.Entry, prefs settings.Settings) (Notification, bool) {
	if e.ActionType == actionlog.ActionModeChange {
		return Notification{}, false
	}

	n := Notification{ModuleID: e.ModuleID}
	switch {
	case e.Status == actionlog.StatusCompleted && prefs.NotifyOnCompleted:
		n.Type, n.Title = TypeActionCompleted, "Action completed"
		n.Message = fmt.Sprintf("%s: %s", e.ActionType, e.Description)
	case e.Status == actionlog.StatusFailed && prefs.NotifyOnFailure:
		n.Type, n.Title = TypeActionFailed, "Action failed"
		n.Message = fmt.Sprintf("%s: %s", e.ActionType, e.Error)
	case e.Status == actionlog.StatusCancelled && actionlog.IsRateLimitReason(e.Error) && prefs.NotifyOnRateLimit:
		n.Type, n.Title = TypeRateLimited, "Action blocked"
		n.Message = fmt.Sprintf("%s: %s", e.ActionType, e.Error)
	default:
		return Notification{}, false
	}
	return n, true
}

// ForPaused returns the notice for pauseAll turning on.
func ForPaused(snapshotted int) Notification {
	return Notification{
		Type:    TypePaused,
		Title:   "Automation paused",
		Message: fmt.Sprintf("all automated actions are suspended (%d modules snapshotted)", snapshotted),
	}
}

// ForResumed returns the notice for pauseAll turning off.
func ForResumed(restored int) Notification {
	return Notification{
		Type:    TypeResumed,
		Title:   "Automation resumed",
		Message: fmt.Sprintf("%d module modes restored", restored),
	}
}
