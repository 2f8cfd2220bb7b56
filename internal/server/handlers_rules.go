package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colonyops/autopilot/internal/core/rule"
)

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rules, err := s.app.Rules.List(r.Context(), workspaceID(r), rule.ListFilter{
		ModuleID:    q.Get("module"),
		Status:      rule.Status(q.Get("status")),
		TriggerType: rule.TriggerType(q.Get("triggerType")),
	})
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if rules == nil {
		rules = []rule.Rule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var in rule.Rule
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, nil)
		return
	}
	in.ID = ""
	if err := s.app.Rules.Create(r.Context(), workspaceID(r), &in); err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Rules.Get(r.Context(), workspaceID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	var in rule.Rule
	if err := decode(r, &in); err != nil {
		writeError(w, r, err, nil)
		return
	}
	in.ID = mux.Vars(r)["id"]

	out, err := s.app.Rules.Update(r.Context(), workspaceID(r), in)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Rules.Delete(r.Context(), workspaceID(r), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleRule(w http.ResponseWriter, r *http.Request) {
	out, err := s.app.Rules.Toggle(r.Context(), workspaceID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) runRule(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Engine.RunRule(r.Context(), workspaceID(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
