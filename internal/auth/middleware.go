package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sqlstudio/sqlstudio/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

// authScheme is advertised on 401 responses; both it and "ApiKey" are
// accepted in the Authorization header.
const authScheme = "Bearer"

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// SubjectFromContext names the caller for run logs, or "" for anonymous
// requests.
func SubjectFromContext(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.Subject
}

func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, scheme := extractAPIKey(r)
			if apiKey == "" {
				reason := "missing API key"
				if scheme != "" {
					reason = "unsupported authorization scheme " + scheme
				}
				writeUnauthorized(w, r, reason)
				return
			}

			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				logger.WarnContext(r.Context(), "authentication failed",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				writeUnauthorized(w, r, "invalid API key")
				return
			}
			logger.DebugContext(r.Context(), "request authenticated",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("subject", identity.Subject),
				slog.Any("roles", identity.Roles),
			)

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// extractAPIKey reads X-API-Key first, then an Authorization header with the
// Bearer or ApiKey scheme. An unknown scheme is returned so the 401 can say
// why.
func extractAPIKey(r *http.Request) (key, scheme string) {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key, ""
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", ""
	}
	scheme, credentials, ok := strings.Cut(authorization, " ")
	if !ok {
		return "", scheme
	}
	if !strings.EqualFold(scheme, authScheme) && !strings.EqualFold(scheme, "ApiKey") {
		return "", scheme
	}
	return strings.TrimSpace(credentials), scheme
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", authScheme+` realm="sqlstudio"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
