package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tablechat/tablechat/internal/observability"
)

type contextKey string

const identityKey contextKey = "auth_identity"

const (
	apiKeyHeader = "X-API-Key"
	bearerPrefix = "bearer "
)

const (
	reasonMissing   = "missing_key"
	reasonMalformed = "malformed_authorization"
	reasonUnknown   = "unknown_key"
)

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey).(Identity)
	return identity, ok
}

// Middleware rejects requests without a valid key and stores the resolved
// identity on the request context for the handlers behind it.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			apiKey, reason := extractAPIKey(r)
			if reason == "" {
				identity, ok := validator.Validate(ctx, apiKey)
				if ok {
					logger.DebugContext(ctx, "request authenticated",
						slog.String("trace_id", observability.TraceIDFromContext(ctx)),
						slog.String("owner", identity.Owner),
						slog.Any("roles", identity.Roles),
					)
					next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
					return
				}
				reason = reasonUnknown
			}

			logger.WarnContext(ctx, "authentication failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("reason", reason),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)
			writeUnauthorized(w, r, reason)
		})
	}
}

func extractAPIKey(r *http.Request) (string, string) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, ""
	}
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if authorization == "" {
		return "", reasonMissing
	}
	if len(authorization) <= len(bearerPrefix) || !strings.EqualFold(authorization[:len(bearerPrefix)], bearerPrefix) {
		return "", reasonMalformed
	}
	key := strings.TrimSpace(authorization[len(bearerPrefix):])
	if key == "" {
		return "", reasonMalformed
	}
	return key, ""
}

var unauthorizedMessages = map[string]string{
	reasonMissing:   "missing API key",
	reasonMalformed: "authorization header must be a bearer token",
	reasonUnknown:   "invalid API key",
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="tablechat"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    unauthorizedMessages[reason],
		"reason":     reason,
		"retryable":  false,
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
