package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/colonyops/autopilot/internal/core/logging"
	"github.com/colonyops/autopilot/internal/metrics"
)

const (
	headerRequestID = "X-Request-Id"
	headerWorkspace = "X-Workspace-ID"
	headerUser      = "X-User-ID"
)

type userKey struct{}

// requestID tags each request with an id, reusing the caller's when present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// withLogger attaches the server logger to the request context.
func withLogger(log zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
		})
	}
}

func loggerFrom(r *http.Request) *zerolog.Logger {
	return zerolog.Ctx(r.Context())
}

// recovery converts handler panics into a 500 envelope.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				loggerFrom(r).Error().Ctx(r.Context()).
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				writeJSON(w, http.StatusInternalServerError, ErrorResponse{
					Error:     http.StatusText(http.StatusInternalServerError),
					Message:   "internal server error",
					Code:      "INTERNAL",
					RequestID: logging.GetRequestID(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// accessLog logs one line per request and records request metrics by route template.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.RecordHTTPRequest(r.Method, endpoint, rec.status, elapsed)

		level := zerolog.DebugLevel
		if rec.status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		loggerFrom(r).WithLevel(level).Ctx(r.Context()).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("http request")
	})
}

// workspace resolves the tenant from X-Workspace-ID, falling back to def.
func workspace(def string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ws := r.Header.Get(headerWorkspace)
			if ws == "" {
				ws = def
			}
			ctx := logging.WithWorkspaceID(r.Context(), ws)
			if user := r.Header.Get(headerUser); user != "" {
				ctx = contextWithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func workspaceID(r *http.Request) string {
	return logging.GetWorkspaceID(r.Context())
}

func contextWithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// actor names who performed a request, for audit fields.
func actor(r *http.Request) string {
	if user, ok := r.Context().Value(userKey{}).(string); ok {
		return user
	}
	return "api"
}
