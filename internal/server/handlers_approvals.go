package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/approval"
)

func (s *Server) listApprovals(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	filter := approval.ListFilter{
		ModuleID: q.Get("module"),
		Status:   approval.Status(q.Get("status")),
		Priority: approval.Priority(q.Get("priority")),
		Limit:    limit,
		Offset:   offset,
	}
	items, total, err := s.app.Approvals.List(r.Context(), workspaceID(r), filter)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if items == nil {
		items = []approval.Item{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) countApprovals(w http.ResponseWriter, r *http.Request) {
	c, err := s.app.Approvals.Count(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	item, err := s.app.Approvals.Get(r.Context(), workspaceID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type reviewRequest struct {
	Notes   string          `json:"notes"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) review(r *http.Request) (reviewRequest, automation.Review, error) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		return req, automation.Review{}, err
	}
	return req, automation.Review{ReviewedBy: actor(r), Notes: req.Notes}, nil
}

// writeDecision answers an approve/reject/edit. A paused or capped workspace
// leaves the item pending and the cancelled entry is returned in details.
func writeDecision(w http.ResponseWriter, r *http.Request, d automation.Decision, err error) {
	if err != nil {
		var details map[string]any
		if d.Entry != nil {
			details = map[string]any{"entry": d.Entry}
		}
		writeError(w, r, err, details)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	_, rev, err := s.review(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	d, err := s.app.Approvals.Approve(r.Context(), workspaceID(r), mux.Vars(r)["id"], rev)
	writeDecision(w, r, d, err)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	_, rev, err := s.review(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	d, err := s.app.Approvals.Reject(r.Context(), workspaceID(r), mux.Vars(r)["id"], rev)
	writeDecision(w, r, d, err)
}

func (s *Server) editApproval(w http.ResponseWriter, r *http.Request) {
	req, rev, err := s.review(r)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if len(req.Payload) == 0 {
		writeError(w, r, apperr.Invalidf("payload is required"), nil)
		return
	}
	d, err := s.app.Approvals.Edit(r.Context(), workspaceID(r), mux.Vars(r)["id"], req.Payload, rev)
	writeDecision(w, r, d, err)
}

type batchRequest struct {
	IDs    []string             `json:"ids"`
	Action approval.BatchAction `json:"action"`
	Notes  string               `json:"notes"`
}

func (s *Server) batchApprovals(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	res, err := s.app.Approvals.Batch(r.Context(), workspaceID(r), req.IDs, req.Action,
		automation.Review{ReviewedBy: actor(r), Notes: req.Notes})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
