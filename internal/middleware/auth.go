package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/feedrank/internal/auth"
)

// ErrCodeAuthFailed is the error code written for rejected bearer tokens.
const ErrCodeAuthFailed = "auth_failed"

// ViewerResolver maps a bearer token to a viewer ID.
// *auth.JWTService satisfies this interface.
type ViewerResolver interface {
	ViewerID(token string) (string, error)
}

// Auth is a middleware that identifies the viewer from an optional
// "Authorization: Bearer <token>" header.
//
// Requests without the header pass through anonymously. A header that is
// present but malformed, expired, or signed with an unknown key is rejected
// with 401 so that clients do not silently receive the anonymous feed.
func Auth(resolver ViewerResolver, metrics *Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				metrics.IncAuthFailures("malformed")
				writeAuthError(w, r, "Authorization header must use the Bearer scheme")
				return
			}

			viewerID, err := resolver.ViewerID(strings.TrimSpace(token))
			if err != nil {
				reason := "invalid"
				msg := "Invalid bearer token"
				if errors.Is(err, auth.ErrExpiredToken) {
					reason = "expired"
					msg = "Bearer token has expired"
				}
				metrics.IncAuthFailures(reason)
				logger.DebugContext(r.Context(), "bearer token rejected",
					slog.String("reason", reason),
					slog.String("request_id", GetRequestID(r.Context())))
				writeAuthError(w, r, msg)
				return
			}

			ctx := SetViewerID(r.Context(), viewerID)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// writeAuthError writes the JSON error envelope used by the api package.
func writeAuthError(w http.ResponseWriter, r *http.Request, msg string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), ErrCodeAuthFailed))

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="feedrank"`)
	w.WriteHeader(http.StatusUnauthorized)

	body := map[string]map[string]string{
		"error": {"code": ErrCodeAuthFailed, "message": msg},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode auth error", "error", err)
	}
}
