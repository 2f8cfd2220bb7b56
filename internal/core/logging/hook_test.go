package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestContextHook_Run(t *testing.T) {
	tests := []struct {
		name      string
		setupCtx  func() context.Context
		wantKeys  []string
		wantEmpty []string
	}{
		{
			name: "both workspace_id and request_id",
			setupCtx: func() context.Context {
				ctx := context.Background()
				ctx = WithWorkspaceID(ctx, "ws-123")
				ctx = WithRequestID(ctx, "req-456")
				return ctx
			},
			wantKeys: []string{"workspace_id", "request_id"},
		},
		{
			name: "only workspace_id",
			setupCtx: func() context.Context {
				return WithWorkspaceID(context.Background(), "ws-123")
			},
			wantKeys:  []string{"workspace_id"},
			wantEmpty: []string{"request_id"},
		},
		{
			name: "only request_id",
			setupCtx: func() context.Context {
				return WithRequestID(context.Background(), "req-456")
			},
			wantKeys:  []string{"request_id"},
			wantEmpty: []string{"workspace_id"},
		},
		{
			name:      "no context values",
			setupCtx:  context.Background,
			wantEmpty: []string{"workspace_id", "request_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ctx := tt.setupCtx()

			logger := zerolog.New(&buf).Hook(ContextHook{})
			logger.Info().Ctx(ctx).Msg("test")

			var logEntry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &logEntry); err != nil {
				t.Fatalf("failed to parse log: %v", err)
			}

			for _, key := range tt.wantKeys {
				if _, ok := logEntry[key]; !ok {
					t.Errorf("expected %s to be present in log", key)
				}
			}

			for _, key := range tt.wantEmpty {
				if _, ok := logEntry[key]; ok {
					t.Errorf("expected %s to be absent from log", key)
				}
			}
		})
	}
}
