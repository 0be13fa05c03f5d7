package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/observability"
	"github.com/rhuss/quelle/pkg/transport"
)

// DefaultBypassEndpoints lists endpoints that skip authentication.
var DefaultBypassEndpoints = []string{"/healthz", "/readyz", "/metrics"}

// MiddlewareConfig configures Middleware.
type MiddlewareConfig struct {
	Chain *AuthChain
	// Limiter is optional.
	Limiter RateLimiter
	// Bypass lists exact paths served without authentication.
	Bypass []string
	// WriteScope, when set, is required for requests that change data:
	// uploads and deletes.
	WriteScope string
}

// Middleware authenticates requests, enforces rate limits and the write
// scope, and stores the identity and tenant in the request context.
func Middleware(cfg MiddlewareConfig) transport.Middleware {
	bypass := make(map[string]bool, len(cfg.Bypass))
	for _, ep := range cfg.Bypass {
		bypass[ep] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bypass[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			result := cfg.Chain.Authenticate(r.Context(), r)
			if result.Decision != Yes || result.Identity == nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", result.Err,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="quelle"`)
				transport.WriteAPIError(w, &api.APIError{
					Type:    api.ErrorTypeAuthentication,
					Message: "authentication required",
				})
				return
			}
			id := result.Identity
			if id.Subject == "" {
				slog.Error("authenticator returned identity with empty subject")
				transport.WriteAPIError(w, api.NewServerError("internal authentication error"))
				return
			}

			if cfg.Limiter != nil {
				if err := cfg.Limiter.Allow(r.Context(), id); err != nil {
					slog.Warn("rate limit exceeded", "subject", id.Subject, "tier", id.ServiceTier)
					observability.RateLimitRejectedTotal.WithLabelValues(tierLabel(id)).Inc()
					w.Header().Set("Retry-After", "60")
					transport.WriteAPIError(w, api.NewTooManyRequestsError("rate limit exceeded"))
					return
				}
			}

			if cfg.WriteScope != "" && isWrite(r) && !id.HasScope(cfg.WriteScope) {
				slog.Warn("missing write scope", "subject", id.Subject, "scope", cfg.WriteScope, "path", r.URL.Path)
				transport.WriteErrorResponse(w, &api.APIError{
					Type:    api.ErrorTypeAuthentication,
					Code:    "forbidden",
					Message: "scope " + cfg.WriteScope + " is required",
				}, http.StatusForbidden)
				return
			}

			slog.Debug("authentication succeeded", "subject", id.Subject, "tenant", id.TenantID(), "path", r.URL.Path)

			ctx := SetIdentity(r.Context(), id)
			if tenant := id.TenantID(); tenant != "" {
				ctx = api.WithTenant(ctx, tenant)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// isWrite reports whether the request changes stored data.
func isWrite(r *http.Request) bool {
	switch r.Method {
	case http.MethodDelete:
		return !strings.HasPrefix(r.URL.Path, "/v1/streams/")
	case http.MethodPost:
		return strings.HasSuffix(strings.TrimSuffix(r.URL.Path, "/"), "/documents")
	}
	return false
}

func tierLabel(id *Identity) string {
	if id.ServiceTier == "" {
		return "default"
	}
	return id.ServiceTier
}
