// Package server exposes the automation engine over a JSON REST API.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/automation"
	"github.com/colonyops/autopilot/internal/core/config"
	"github.com/colonyops/autopilot/internal/metrics"
)

// APIPrefix is the mount point of every REST route.
const APIPrefix = "/api/v1"

// shutdownTimeout bounds graceful shutdown once the serve context is cancelled.
const shutdownTimeout = 10 * time.Second

// Server serves the REST surface of an App.
type Server struct {
	app    *automation.App
	cfg    config.ServerConfig
	log    zerolog.Logger
	router *mux.Router
}

// New builds the router for app.
func New(app *automation.App, cfg config.ServerConfig, log zerolog.Logger) *Server {
	s := &Server{
		app: app,
		cfg: cfg,
		log: log.With().Str("component", "http").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(requestID, withLogger(s.log), recovery, accessLog)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.Use(workspace(s.cfg.DefaultWorkspace))

	api.HandleFunc("/status", s.status).Methods(http.MethodGet)

	api.HandleFunc("/modes", s.listModes).Methods(http.MethodGet)
	api.HandleFunc("/modes", s.bulkSetModes).Methods(http.MethodPut)
	api.HandleFunc("/modes/{moduleId}", s.getMode).Methods(http.MethodGet)
	api.HandleFunc("/modes/{moduleId}", s.setMode).Methods(http.MethodPut)

	// Static segments are registered before /{id} so they are not captured as ids.
	api.HandleFunc("/approvals", s.listApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/count", s.countApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/batch", s.batchApprovals).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}", s.getApproval).Methods(http.MethodGet)
	api.HandleFunc("/approvals/{id}/approve", s.approve).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}/reject", s.reject).Methods(http.MethodPost)
	api.HandleFunc("/approvals/{id}/edit", s.editApproval).Methods(http.MethodPost)

	api.HandleFunc("/actions", s.listActivity).Methods(http.MethodGet)
	api.HandleFunc("/actions", s.executeAction).Methods(http.MethodPost)
	api.HandleFunc("/actions/stats", s.activityStats).Methods(http.MethodGet)
	api.HandleFunc("/actions/{id}", s.getAction).Methods(http.MethodGet)

	api.HandleFunc("/proposals", s.submitProposal).Methods(http.MethodPost)
	api.HandleFunc("/events", s.ingestEvent).Methods(http.MethodPost)

	api.HandleFunc("/rules", s.listRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.createRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", s.getRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", s.updateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", s.deleteRule).Methods(http.MethodDelete)
	api.HandleFunc("/rules/{id}/toggle", s.toggleRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}/run", s.runRule).Methods(http.MethodPost)

	api.HandleFunc("/notifications", s.listNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", s.readAllNotifications).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.readNotification).Methods(http.MethodPost)

	api.HandleFunc("/settings", s.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", s.updateSettings).Methods(http.MethodPut)
	api.HandleFunc("/settings/pause", s.pause).Methods(http.MethodPost)
	api.HandleFunc("/settings/resume", s.resume).Methods(http.MethodPost)

	api.HandleFunc("/activity-log", s.listActivity).Methods(http.MethodGet)
	api.HandleFunc("/activity-log/stats", s.activityStats).Methods(http.MethodGet)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DB.Conn().PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.log.Info().Msg("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
