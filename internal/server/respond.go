package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/hay-kot/criterio"

	"github.com/colonyops/autopilot/internal/core/apperr"
	"github.com/colonyops/autopilot/internal/core/logging"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON envelope for every failed request.
type ErrorResponse struct {
	Error     string         `json:"error"`
	Message   string         `json:"message,omitempty"`
	Code      string         `json:"code,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// StatusCode maps the error taxonomy onto HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, apperr.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrStateConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, apperr.ErrHandlerFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the error envelope. details is merged with field errors
// extracted from criterio validation failures.
func writeError(w http.ResponseWriter, r *http.Request, err error, details map[string]any) {
	status := StatusCode(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r).Error().Ctx(r.Context()).Err(err).Msg("request failed")
		msg = "internal server error"
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		if details == nil {
			details = map[string]any{}
		}
		fields := make(map[string]string, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields[fe.Field] = fe.Err.Error()
		}
		details["fields"] = fields
	}

	writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   msg,
		Code:      apperr.Code(err),
		Details:   details,
		RequestID: logging.GetRequestID(r.Context()),
	})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Invalidf("malformed JSON body: %v", err)
	}
	return nil
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalidf("%s must be an integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Invalidf("%s must be a boolean", key)
	}
	return b, nil
}

func pathInt64(raw string) (int64, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: id %q must be numeric", apperr.ErrInvalidArgument, raw)
	}
	return n, nil
}
