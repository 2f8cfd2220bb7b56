package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/config"
	"github.com/colonyops/autopilot/internal/core/eventbus/testbus"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/rule"
	"github.com/colonyops/autopilot/internal/core/settings"
	"github.com/colonyops/autopilot/internal/data/db"
)

const testWorkspace = "ws-api"

type apiHarness struct {
	app     *automation.App
	handler http.Handler
}

func newAPI(t *testing.T) *apiHarness {
	t.Helper()

	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err, "Open")
	t.Cleanup(func() { _ = database.Close() })

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.DefaultWorkspace = "default"

	tb := testbus.New(t)
	app := automation.NewApp(&cfg, database, tb.EventBus, zerolog.Nop())
	return &apiHarness{app: app, handler: New(app, cfg.Server, zerolog.Nop()).Handler()}
}

// do sends a request in testWorkspace as user "alice" and returns the recorder.
func (a *apiHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, APIPrefix+path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerWorkspace, testWorkspace)
	req.Header.Set(headerUser, "alice")

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (a *apiHarness) setMode(t *testing.T, moduleID string, m mode.Mode) {
	t.Helper()
	rec := a.do(t, http.MethodPut, "/modes/"+moduleID, map[string]any{"mode": m})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	// Hit one API route so the request collectors have a series.
	a.do(t, http.MethodGet, "/modes", nil)

	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `autopilot_http_requests_total{endpoint="/api/v1/modes",method="GET",status="2xx"}`)
}

func TestModes(t *testing.T) {
	a := newAPI(t)

	rec := a.do(t, http.MethodGet, "/modes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Modes []mode.ModuleMode `json:"modes"`
	}](t, rec)
	assert.Len(t, list.Modes, len(mode.DefaultModules))

	rec = a.do(t, http.MethodPut, "/modes/ad_manager", map[string]any{"mode": "copilot", "riskLevel": "high"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[mode.ModuleMode](t, rec)
	assert.Equal(t, mode.Copilot, got.Mode)

	rec = a.do(t, http.MethodPut, "/modes/ad_manager", map[string]any{"mode": "yolo"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_ARGUMENT", env.Code)
	assert.NotEmpty(t, env.RequestID)

	rec = a.do(t, http.MethodGet, "/modes/not_a_module", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPut, "/modes", map[string]any{"mode": "autopilot"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/modes", map[string]any{"modes": map[string]string{"seo_optimizer": "manual", "crm_followup": "copilot"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = a.do(t, http.MethodPut, "/modes", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Every change above was audited.
	entries, err := a.app.Activity.List(context.Background(), testWorkspace, automation.ActivityQuery{ActionType: actionlog.ActionModeChange})
	require.NoError(t, err)
	require.NotEmpty(t, entries.Entries)
}

func TestWorkspaceIsolation(t *testing.T) {
	a := newAPI(t)
	a.setMode(t, "social_poster", mode.Autopilot)

	req := httptest.NewRequest(http.MethodGet, APIPrefix+"/modes/social_poster", nil)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mode.Manual, decodeBody[mode.ModuleMode](t, rec).Mode, "default workspace is untouched")
}

func TestActions(t *testing.T) {
	a := newAPI(t)
	body := map[string]any{
		"moduleId":    "social_poster",
		"actionType":  "publish_post",
		"description": "spring post",
		"payload":     map[string]any{"postId": "p-1"},
	}

	rec := a.do(t, http.MethodPost, "/actions", body)
	require.Equal(t, http.StatusConflict, rec.Code, "manual mode refuses")
	env := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "STATE_CONFLICT", env.Code)
	assert.Contains(t, env.Details, "entry", "the cancelled entry is reported")

	a.setMode(t, "social_poster", mode.Autopilot)
	rec = a.do(t, http.MethodPost, "/actions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decodeBody[automation.ExecuteResult](t, rec)
	require.NotNil(t, res.Entry)
	assert.Equal(t, actionlog.StatusCompleted, res.Entry.Status)

	rec = a.do(t, http.MethodGet, "/actions/"+res.Entry.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body["confidence"] = 0.2
	rec = a.do(t, http.MethodPost, "/actions", body)
	require.Equal(t, http.StatusAccepted, rec.Code, "low confidence goes to the queue")
	assert.NotNil(t, decodeBody[automation.ExecuteResult](t, rec).Approval)

	rec = a.do(t, http.MethodGet, "/actions?module=social_poster&status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decodeBody[automation.ActivityPage](t, rec)
	assert.EqualValues(t, 1, page.Total)

	rec = a.do(t, http.MethodGet, "/activity-log?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/activity-log/stats?days=7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[automation.ActivityStats](t, rec)
	assert.EqualValues(t, 2, stats.Total)

	rec = a.do(t, http.MethodGet, "/actions/stats?days=365", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActions_RateLimited(t *testing.T) {
	a := newAPI(t)
	a.setMode(t, "social_poster", mode.Autopilot)
	rec := a.do(t, http.MethodPut, "/settings", map[string]any{settings.KeyMaxActionsPerHour: 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := map[string]any{"moduleId": "social_poster", "actionType": "publish_post"}
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/actions", body).Code)

	rec = a.do(t, http.MethodPost, "/actions", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", decodeBody[ErrorResponse](t, rec).Code)
}

func TestApprovals(t *testing.T) {
	a := newAPI(t)
	a.setMode(t, "ad_manager", mode.Copilot)

	submit := func(title, priority string) automation.ProposalResult {
		rec := a.do(t, http.MethodPost, "/proposals", map[string]any{
			"moduleId":   "ad_manager",
			"actionType": "adjust_budget",
			"title":      title,
			"payload":    map[string]any{"budget": 100},
			"confidence": 0.9,
			"priority":   priority,
		})
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
		return decodeBody[automation.ProposalResult](t, rec)
	}
	low := submit("low", "low")
	urgent := submit("urgent", "urgent")
	other := submit("other", "medium")

	rec := a.do(t, http.MethodGet, "/approvals?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[struct {
		Items []approval.Item `json:"items"`
		Total int64           `json:"total"`
	}](t, rec)
	assert.EqualValues(t, 3, list.Total)
	assert.Equal(t, urgent.Approval.ID, list.Items[0].ID, "urgent first")

	rec = a.do(t, http.MethodGet, "/approvals/count", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 3, decodeBody[automation.PendingCount](t, rec).Total)

	rec = a.do(t, http.MethodPost, "/approvals/"+urgent.Approval.ID+"/approve", map[string]any{"notes": "ship it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decodeBody[automation.Decision](t, rec)
	assert.Equal(t, approval.StatusApproved, d.Item.Status)
	assert.Equal(t, "alice", d.Item.ReviewedBy)
	require.NotNil(t, d.Entry)

	rec = a.do(t, http.MethodPost, "/approvals/"+urgent.Approval.ID+"/reject", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "already resolved")

	rec = a.do(t, http.MethodPost, "/approvals/"+low.Approval.ID+"/edit", map[string]any{"payload": map[string]any{"budget": 50}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"budget":50}`, string(decodeBody[automation.Decision](t, rec).Item.Payload))

	rec = a.do(t, http.MethodPost, "/approvals/batch", map[string]any{"ids": []string{other.Approval.ID, low.Approval.ID}, "action": "reject"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decodeBody[approval.BatchResult](t, rec)
	assert.Equal(t, 1, batch.Changed)

	rec = a.do(t, http.MethodGet, "/approvals/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProposals_ManualRefused(t *testing.T) {
	a := newAPI(t)
	rec := a.do(t, http.MethodPost, "/proposals", map[string]any{"moduleId": "ad_manager", "actionType": "adjust_budget"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRules(t *testing.T) {
	a := newAPI(t)
	a.setMode(t, "review_responder", mode.Autopilot)

	rec := a.do(t, http.MethodPost, "/rules", rule.Rule{
		ModuleID:      "review_responder",
		Name:          "Reply to bad reviews",
		TriggerType:   rule.TriggerEvent,
		TriggerConfig: json.RawMessage(`{"event":"review.*","max_rating":2}`),
		ActionType:    "draft_reply",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[rule.Rule](t, rec)
	assert.Equal(t, rule.StatusActive, created.Status)

	rec = a.do(t, http.MethodPost, "/rules", map[string]any{"moduleId": "review_responder", "triggerType": "cron"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/events", map[string]any{"event": "review.created", "data": map[string]any{"rating": 1}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	fired := decodeBody[struct {
		Fired []automation.FireResult `json:"fired"`
	}](t, rec)
	require.Len(t, fired.Fired, 1)
	assert.Equal(t, automation.OutcomeExecuted, fired.Fired[0].Outcome)

	rec = a.do(t, http.MethodPost, "/events", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/rules/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody[automation.FireResult](t, rec).Rule.RunCount)

	rec = a.do(t, http.MethodPost, "/rules/"+created.ID+"/toggle", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rule.StatusInactive, decodeBody[rule.Rule](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/rules/"+created.ID+"/run", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "inactive rules cannot run")

	updated := created
	updated.Name = "Reply to 1-2 star reviews"
	rec = a.do(t, http.MethodPut, "/rules/"+created.ID, updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Reply to 1-2 star reviews", decodeBody[rule.Rule](t, rec).Name)

	rec = a.do(t, http.MethodGet, "/rules?triggerType=event", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[struct {
		Rules []rule.Rule `json:"rules"`
	}](t, rec).Rules, 1)

	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/rules/"+created.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/rules/"+created.ID, nil).Code)
}

func TestSettingsPauseResume(t *testing.T) {
	a := newAPI(t)
	a.setMode(t, "email_campaigns", mode.Autopilot)

	rec := a.do(t, http.MethodPut, "/settings", map[string]any{settings.KeyConfidenceThreshold: 1.5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/settings/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[settings.Settings](t, rec).PauseAll)

	rec = a.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d := decodeBody[automation.Dashboard](t, rec)
	assert.True(t, d.Paused)
	assert.Equal(t, 1, d.ModeDistribution[mode.Autopilot], "pause keeps stored modes")

	rec = a.do(t, http.MethodPost, "/settings/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodGet, "/modes/email_campaigns", nil)
	assert.Equal(t, mode.Autopilot, decodeBody[mode.ModuleMode](t, rec).Mode)
}

func TestNotifications(t *testing.T) {
	a := newAPI(t)
	ctx := context.Background()
	_, err := a.app.Settings.Pause(ctx, testWorkspace)
	require.NoError(t, err)

	var inbox automation.Inbox
	require.Eventually(t, func() bool {
		rec := a.do(t, http.MethodGet, "/notifications?unread=true", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		inbox = decodeBody[automation.Inbox](t, rec)
		return len(inbox.Notifications) == 1
	}, 2*time.Second, 10*time.Millisecond)

	id := inbox.Notifications[0].ID
	rec := a.do(t, http.MethodPost, "/notifications/"+strconv.FormatInt(id, 10)+"/read", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(t, http.MethodPost, "/notifications/abc/read", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/notifications/read-all", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"marked":0}`, strings.TrimSpace(rec.Body.String()))
}

func TestRecoveryAndMalformedBody(t *testing.T) {
	a := newAPI(t)

	req := httptest.NewRequest(http.MethodPut, APIPrefix+"/settings", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h := recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(rec, r.WithContext(zerolog.Nop().WithContext(r.Context())))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL", decodeBody[ErrorResponse](t, rec).Code)
}
