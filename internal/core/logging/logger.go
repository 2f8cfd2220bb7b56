package logging

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component creates a logger from the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// Contextual attaches ContextHook so events logged with Ctx(ctx) carry the
// workspace and request ids stored on ctx.
func Contextual(l zerolog.Logger) zerolog.Logger {
	return l.Hook(ContextHook{})
}
