package observability

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/config"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

const redacted = "[REDACTED]"

// Attribute keys whose values never reach the log: connection passwords,
// AI provider keys and storage credentials.
var sensitiveKeys = []string{"password", "api_key", "apikey", "secret", "access_key", "authorization"}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:       cfg.Observability.LogLevel,
		ReplaceAttr: redactSensitive,
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func redactSensitive(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindGroup {
		return attr
	}
	key := strings.ToLower(attr.Key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(key, sensitive) {
			return slog.String(attr.Key, redacted)
		}
	}
	return attr
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}
