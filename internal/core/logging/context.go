package logging

import "context"

type contextKey string

const (
	workspaceIDKey contextKey = "workspace_id"
	requestIDKey   contextKey = "request_id"
)

// WithWorkspaceID adds a workspace ID to the context.
func WithWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey, workspaceID)
}

// WithRequestID adds an HTTP request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetWorkspaceID retrieves the workspace ID from the context.
// Returns empty string if not present.
func GetWorkspaceID(ctx context.Context) string {
	if id, ok := ctx.Value(workspaceIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves the request ID from the context.
// Returns empty string if not present.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
