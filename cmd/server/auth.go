package main

import (
	"fmt"

	"github.com/rhuss/quelle/pkg/auth"
	"github.com/rhuss/quelle/pkg/auth/apikey"
	"github.com/rhuss/quelle/pkg/auth/jwt"
	"github.com/rhuss/quelle/pkg/auth/noop"
	"github.com/rhuss/quelle/pkg/config"
	"github.com/rhuss/quelle/pkg/transport"
)

// buildAuthMiddleware returns the authentication middleware for cfg.
func buildAuthMiddleware(cfg *config.Config) (transport.Middleware, error) {
	var authn auth.Authenticator
	switch cfg.Auth.Type {
	case "", "none":
		authn = &noop.Authenticator{Tenant: cfg.Auth.Tenant}
	case "api_key":
		entries := make([]apikey.RawKeyEntry, 0, len(cfg.Auth.APIKeys))
		for _, k := range cfg.Auth.APIKeys {
			entries = append(entries, apikey.RawKeyEntry{
				Key: k.Key,
				Identity: auth.Identity{
					Subject:     k.Subject,
					Tenant:      k.TenantID,
					ServiceTier: k.ServiceTier,
					Scopes:      k.Scopes,
				},
			})
		}
		authn = apikey.New(entries)
	case "jwt":
		j := cfg.Auth.JWT
		authn = jwt.New(jwt.Config{
			Issuer:      j.Issuer,
			Audience:    j.Audience,
			JWKSURL:     j.JWKSURL,
			UserClaim:   j.UserClaim,
			TenantClaim: j.TenantClaim,
			TierClaim:   j.TierClaim,
			ScopesClaim: j.ScopesClaim,
			CacheTTL:    j.CacheTTL,
		})
	default:
		return nil, fmt.Errorf("unknown auth type %q", cfg.Auth.Type)
	}

	mw := auth.MiddlewareConfig{
		Chain:      &auth.AuthChain{Authenticators: []auth.Authenticator{authn}, DefaultDecision: auth.No},
		Bypass:     auth.DefaultBypassEndpoints,
		WriteScope: cfg.Auth.WriteScope,
	}
	if metrics := cfg.Observability.Metrics.Path; metrics != "" && metrics != "/metrics" {
		mw.Bypass = append(append([]string(nil), mw.Bypass...), metrics)
	}

	rl := cfg.Auth.RateLimit
	if rl.RequestsPerMinute > 0 || len(rl.Tiers) > 0 {
		tiers := make(map[string]auth.TierConfig, len(rl.Tiers))
		for name, t := range rl.Tiers {
			tiers[name] = auth.TierConfig{RequestsPerMinute: t.RequestsPerMinute, Burst: t.Burst}
		}
		mw.Limiter = auth.NewInProcessLimiter(tiers, rl.RequestsPerMinute)
	}
	return auth.Middleware(mw), nil
}
