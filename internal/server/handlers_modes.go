package server

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/mode"
	"github.com/colonyops/autopilot/internal/core/settings"
)

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	d, err := s.app.Status(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) listModes(w http.ResponseWriter, r *http.Request) {
	modes, err := s.app.Modes.GetAll(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": modes})
}

// bulkModesRequest sets every catalog module to Mode, or each listed module to
// its entry in Modes. Exactly one must be given.
type bulkModesRequest struct {
	Mode  mode.Mode            `json:"mode"`
	Modes map[string]mode.Mode `json:"modes"`
}

func (s *Server) bulkSetModes(w http.ResponseWriter, r *http.Request) {
	var req bulkModesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}

	var (
		changed []mode.ModuleMode
		err     error
	)
	switch {
	case req.Mode != "" && len(req.Modes) > 0:
		err = apperr.Invalidf("send either mode or modes, not both")
	case req.Mode != "":
		changed, err = s.app.Modes.SetAll(r.Context(), workspaceID(r), req.Mode, actor(r))
	case len(req.Modes) > 0:
		changed, err = s.app.Modes.SetMany(r.Context(), workspaceID(r), req.Modes, actor(r))
	default:
		err = apperr.Invalidf("mode or modes is required")
	}
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"modes": changed})
}

func (s *Server) getMode(w http.ResponseWriter, r *http.Request) {
	m, err := s.app.Modes.Get(r.Context(), workspaceID(r), mux.Vars(r)["moduleId"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) setMode(w http.ResponseWriter, r *http.Request) {
	var req automation.SetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err, nil)
		return
	}
	req.ModuleID = mux.Vars(r)["moduleId"]
	req.ChangedBy = actor(r)

	m, err := s.app.Modes.Set(r.Context(), workspaceID(r), req)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Settings.Get(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, apperr.Invalidf("read body: %v", err), nil)
		return
	}
	patch, err := settings.DecodePatch(data)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	st, err := s.app.Settings.Update(r.Context(), workspaceID(r), patch)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Settings.Pause(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Settings.Resume(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
