package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/actionlog"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
	"github.com/colonyops/autopilot/internal/core/rule"
)

// activityQuery parses the shared filters of /actions and /activity-log.
func activityQuery(r *http.Request) (automation.ActivityQuery, error) {
	q := r.URL.Query()
	out := automation.ActivityQuery{
		ModuleID:   q.Get("module"),
		Status:     actionlog.Status(q.Get("status")),
		ActionType: q.Get("actionType"),
		Query:      q.Get("q"),
	}

	var err error
	if out.Page, err = queryInt(r, "page"); err != nil {
		return out, err
	}
	if out.PageSize, err = queryInt(r, "pageSize"); err != nil {
		return out, err
	}
	if out.Since, err = queryTime(r, "since"); err != nil {
		return out, err
	}
	if out.Until, err = queryTime(r, "until"); err != nil {
		return out, err
	}
	return out, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperr.Invalidf("%s must be an RFC 3339 timestamp", key)
	}
	return t, nil
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	q, err := activityQuery(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	page, err := s.app.Activity.List(r.Context(), workspaceID(r), q)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) activityStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	stats, err := s.app.Activity.Stats(r.Context(), workspaceID(r), days)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	e, err := s.app.Activity.Get(r.Context(), workspaceID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// executeRequest is the client-writable subset of an ExecuteRequest. Mode and
// approval linkage are resolved server side.
type executeRequest struct {
	ModuleID    string            `json:"moduleId"`
	ActionType  string            `json:"actionType"`
	Description string            `json:"description"`
	Payload     json.RawMessage   `json:"payload"`
	Confidence  *float64          `json:"confidence"`
	Title       string            `json:"title"`
	Priority    approval.Priority `json:"priority"`
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}

	res, err := s.app.Executor.Execute(r.Context(), workspaceID(r), automation.ExecuteRequest{
		ModuleID:    req.ModuleID,
		ActionType:  req.ActionType,
		Description: req.Description,
		Payload:     req.Payload,
		Confidence:  req.Confidence,
		Title:       req.Title,
		Priority:    req.Priority,
	})
	switch {
	case err != nil:
		var details map[string]any
		if res.Entry != nil {
			details = map[string]any{"entry": res.Entry}
		}
		writeError(w, r, err, details)
	case res.Redirected():
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (s *Server) submitProposal(w http.ResponseWriter, r *http.Request) {
	var p automation.Proposal
	if err := decode(r, &p); err != nil {
		writeError(w, r, err, nil)
		return
	}

	res, err := s.app.Proposals.Submit(r.Context(), workspaceID(r), p)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	status := http.StatusCreated
	if res.Outcome == automation.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev rule.Event
	if err := decode(r, &ev); err != nil {
		writeError(w, r, err, nil)
		return
	}

	fired, err := s.app.Engine.HandleEvent(r.Context(), workspaceID(r), ev)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if fired == nil {
		fired = []automation.FireResult{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"event": ev.Name, "fired": fired})
}
