package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/settings"
)

func TestForApprovalCreated(t *testing.T) {
	item := approval.Item{ModuleID: "ad_manager", Title: "Raise budget", Priority: approval.PriorityHigh}

	n, ok := ForApprovalCreated(item, settings.Defaults())
	assert.True(t, ok)
	assert.Equal(t, TypeApprovalNeeded, n.Type)
	assert.Equal(t, "ad_manager", n.ModuleID)
	assert.Contains(t, n.Message, "Raise budget")

	prefs := settings.Defaults()
	prefs.NotifyOnApproval = false
	_, ok = ForApprovalCreated(item, prefs)
	assert.False(t, ok)
}

func TestForApprovalResolved(t *testing.T) {
	n := ForApprovalResolved(approval.Item{Title: "Send newsletter", Status: approval.StatusRejected, ReviewedBy: "dana"})
	assert.Equal(t, TypeApprovalHandled, n.Type)
	assert.Equal(t, "Rejected", n.Title)
	assert.Contains(t, n.Message, "dana")

	n = ForApprovalResolved(approval.Item{Title: "Send newsletter", Status: approval.StatusApproved})
	assert.Equal(t, "Approved", n.Title)
	assert.Equal(t, "Send newsletter", n.Message)
}

func TestForAction(t *testing.T) {
	tests := []struct {
		name   string
		entry  actionlog.Entry
		want   Type
		wantOK bool
	}{
		{"completed", actionlog.Entry{ActionType: "post", Status: actionlog.StatusCompleted}, TypeActionCompleted, true},
		{"failed", actionlog.Entry{ActionType: "post", Status: actionlog.StatusFailed, Error: "boom"}, TypeActionFailed, true},
		{"rate limited", actionlog.Entry{ActionType: "post", Status: actionlog.StatusCancelled, Error: actionlog.ReasonHourlyLimit}, TypeRateLimited, true},
		{"paused", actionlog.Entry{ActionType: "post", Status: actionlog.StatusCancelled, Error: actionlog.ReasonPaused}, TypeRateLimited, true},
		{"manual mode", actionlog.Entry{Status: actionlog.StatusCancelled, Error: actionlog.ReasonManualMode}, "", false},
		{"queued", actionlog.Entry{Status: actionlog.StatusQueued}, "", false},
		{"mode change", actionlog.Entry{ActionType: actionlog.ActionModeChange, Status: actionlog.StatusCompleted}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok := ForAction(tt.entry, settings.Defaults())
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, n.Type)
		})
	}
}

func TestForAction_respectsToggles(t *testing.T) {
	prefs := settings.Defaults()
	prefs.NotifyOnCompleted = false
	prefs.NotifyOnFailure = false
	prefs.NotifyOnRateLimit = false

	for _, e := range []actionlog.Entry{
		{Status: actionlog.StatusCompleted},
		{Status: actionlog.StatusFailed},
		{Status: actionlog.StatusCancelled, Error: actionlog.ReasonDailyLimit},
	} {
		_, ok := ForAction(e, prefs)
		assert.False(t, ok, e.Status)
	}
}

func TestForPausedResumed(t *testing.T) {
	assert.Equal(t, TypePaused, ForPaused(3).Type)

	n := ForResumed(1)
	assert.Equal(t, TypeResumed, n.Type)
	assert.Contains(t, n.Message, "1 module")
}
