package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// LoggerFromContext returns base with the trace, connection, channel and
// handle ids found in ctx. Empty ids are left out.
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := base.With()
	for _, f := range []struct{ key, value string }{
		{"trace_id", tc.TraceID},
		{"connection_id", tc.ConnectionID},
		{"channel", tc.Channel},
		{"handle", tc.Handle},
	} {
		if f.value != "" {
			lc = lc.Str(f.key, f.value)
		}
	}
	return lc.Logger()
}
