package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	log.Logger = zerolog.New(&buf)

	logger := Component("test-component")
	logger.Info().Msg("test message")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "test-component", entry["component"])
	assert.Equal(t, "test message", entry["message"])
}

func TestContextual(t *testing.T) {
	var buf bytes.Buffer
	logger := Contextual(zerolog.New(&buf))

	ctx := WithRequestID(WithWorkspaceID(context.Background(), "ws-1"), "req-9")
	logger.Info().Ctx(ctx).Msg("scoped")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ws-1", entry["workspace_id"])
	assert.Equal(t, "req-9", entry["request_id"])
}
