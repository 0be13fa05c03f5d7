// Package jwt authenticates OIDC bearer tokens. Signatures are verified
// against RSA keys published at a JWKS endpoint, and claims map onto the
// caller's subject, tenant, service tier and scopes.
package jwt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/quelle/pkg/auth"
)

// Config holds the JWT authenticator configuration.
type Config struct {
	// Issuer is the expected iss claim. Empty disables the check.
	Issuer string
	// Audience is the expected aud claim. Empty disables the check.
	Audience string
	// JWKSURL serves the signing keys.
	JWKSURL string

	// UserClaim names the subject claim. Default "sub".
	UserClaim string
	// TenantClaim names the tenant claim. Default "tenant_id".
	TenantClaim string
	// TierClaim names the service tier claim. Default "tier".
	TierClaim string
	// ScopesClaim names the scopes claim, either a space separated string
	// or an array. Default "scope".
	ScopesClaim string

	// CacheTTL bounds how long fetched keys are trusted. Default 1h.
	CacheTTL time.Duration
	// HTTPClient fetches the key set. Default http.DefaultClient.
	HTTPClient *http.Client
}

func (c *Config) applyDefaults() {
	def := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	def(&c.UserClaim, "sub")
	def(&c.TenantClaim, "tenant_id")
	def(&c.TierClaim, "tier")
	def(&c.ScopesClaim, "scope")
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
}

// Authenticator validates JWT bearer tokens.
type Authenticator struct {
	config Config
	keys   *keySet
	parser *jwtlib.Parser
}

// New creates a JWT authenticator.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()

	opts := []jwtlib.ParserOption{
		jwtlib.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwtlib.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwtlib.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwtlib.WithAudience(cfg.Audience))
	}

	return &Authenticator{
		config: cfg,
		keys:   newKeySet(cfg.JWKSURL, cfg.HTTPClient, cfg.CacheTTL),
		parser: jwtlib.NewParser(opts...),
	}
}

// Authenticate abstains without a bearer token, votes No for a token that
// fails validation, and votes Yes otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	raw, ok := auth.BearerToken(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	if raw == "" {
		return reject(errors.New("empty bearer token"))
	}

	claims := jwtlib.MapClaims{}
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwtlib.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return a.keys.key(ctx, kid)
	})
	if err != nil {
		slog.Debug("JWT validation failed", "error", err)
		return reject(fmt.Errorf("invalid JWT: %w", err))
	}

	subject := stringClaim(claims, a.config.UserClaim)
	if subject == "" {
		return reject(fmt.Errorf("JWT missing %q claim", a.config.UserClaim))
	}

	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     subject,
			Tenant:      stringClaim(claims, a.config.TenantClaim),
			ServiceTier: stringClaim(claims, a.config.TierClaim),
			Scopes:      scopesClaim(claims, a.config.ScopesClaim),
		},
	}
}

func reject(err error) auth.AuthResult {
	return auth.AuthResult{Decision: auth.No, Err: err}
}

func stringClaim(claims jwtlib.MapClaims, name string) string {
	s, _ := claims[name].(string)
	return s
}

func scopesClaim(claims jwtlib.MapClaims, name string) []string {
	var scopes []string
	switch v := claims[name].(type) {
	case string:
		scopes = strings.Fields(v)
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				scopes = append(scopes, s)
			}
		}
	}
	if len(scopes) == 0 {
		return nil
	}
	return scopes
}
