package server

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	unread, err := queryBool(r, "unread")
	if err != nil {
		writeError(w, r, err, nil)
		return
	}

	inbox, err := s.app.Notifications.List(r.Context(), workspaceID(r), limit, unread)
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, inbox)
}

func (s *Server) readNotification(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	if err := s.app.Notifications.MarkRead(r.Context(), workspaceID(r), id); err != nil {
		writeError(w, r, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) readAllNotifications(w http.ResponseWriter, r *http.Request) {
	n, err := s.app.Notifications.MarkAllRead(r.Context(), workspaceID(r))
	if err != nil {
		writeError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"marked": n})
}
