package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rhuss/quelle/pkg/auth"
)

const (
	testKID    = "signing-1"
	testIssuer = "https://idp.example.com"
	testAud    = "quelle"
)

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func signingKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	keyOnce.Do(func() {
		k, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	return testKey
}

// jwksServer publishes the test key and counts fetches.
func jwksServer(t *testing.T, fetches *atomic.Int32) *httptest.Server {
	t.Helper()
	pub := signingKey(t).PublicKey
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{
			{"kty": "EC", "kid": "ignored"},
			{
				"kty": "RSA",
				"kid": testKID,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func sign(t *testing.T, claims jwtlib.MapClaims, kid string) string {
	t.Helper()
	tok := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims)
	if kid != "" {
		tok.Header["kid"] = kid
	}
	s, err := tok.SignedString(signingKey(t))
	if err != nil {
		t.Fatalf("signing token: %v", err)
	}
	return s
}

func baseClaims() jwtlib.MapClaims {
	return jwtlib.MapClaims{
		"sub": "user-123",
		"iss": testIssuer,
		"aud": testAud,
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
}

func with(c jwtlib.MapClaims, kv ...any) jwtlib.MapClaims {
	for i := 0; i+1 < len(kv); i += 2 {
		k := kv[i].(string)
		if kv[i+1] == nil {
			delete(c, k)
			continue
		}
		c[k] = kv[i+1]
	}
	return c
}

func newAuthenticator(t *testing.T, mutate func(*Config)) (*Authenticator, *atomic.Int32) {
	t.Helper()
	fetches := &atomic.Int32{}
	srv := jwksServer(t, fetches)
	cfg := Config{Issuer: testIssuer, Audience: testAud, JWKSURL: srv.URL}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), fetches
}

func authenticate(a *Authenticator, header string) auth.AuthResult {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		r.Header.Set("Authorization", header)
	}
	return a.Authenticate(context.Background(), r)
}

func TestAuthenticateDecisions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		header func(t *testing.T) string
		want   auth.AuthDecision
	}{
		{"valid", nil, func(t *testing.T) string { return "Bearer " + sign(t, baseClaims(), testKID) }, auth.Yes},
		{"no header", nil, func(*testing.T) string { return "" }, auth.Abstain},
		{"basic scheme", nil, func(*testing.T) string { return "Basic dXNlcjpwYXNz" }, auth.Abstain},
		{"empty token", nil, func(*testing.T) string { return "Bearer " }, auth.No},
		{"garbage", nil, func(*testing.T) string { return "Bearer not-a-jwt" }, auth.No},
		{"expired", nil, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "exp", time.Now().Add(-time.Hour).Unix()), testKID)
		}, auth.No},
		{"missing exp", nil, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "exp", nil), testKID)
		}, auth.No},
		{"wrong audience", nil, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "aud", "other"), testKID)
		}, auth.No},
		{"wrong issuer", nil, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "iss", "https://evil.example.com"), testKID)
		}, auth.No},
		{"missing kid", nil, func(t *testing.T) string { return "Bearer " + sign(t, baseClaims(), "") }, auth.No},
		{"unknown kid", nil, func(t *testing.T) string { return "Bearer " + sign(t, baseClaims(), "rotated") }, auth.No},
		{"missing subject", nil, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "sub", nil), testKID)
		}, auth.No},
		{"issuer unchecked", func(c *Config) { c.Issuer = "" }, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "iss", "https://any.example.com"), testKID)
		}, auth.Yes},
		{"audience unchecked", func(c *Config) { c.Audience = "" }, func(t *testing.T) string {
			return "Bearer " + sign(t, with(baseClaims(), "aud", "any"), testKID)
		}, auth.Yes},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newAuthenticator(t, tt.mutate)
			got := authenticate(a, tt.header(t))
			if got.Decision != tt.want {
				t.Fatalf("Decision = %d, want %d (err=%v)", got.Decision, tt.want, got.Err)
			}
			if tt.want == auth.No && got.Err == nil {
				t.Error("No decision without an error")
			}
		})
	}
}

func TestIdentityClaims(t *testing.T) {
	a, _ := newAuthenticator(t, nil)
	claims := with(baseClaims(), "tenant_id", "acme", "tier", "gold", "scope", "read write")

	got := authenticate(a, "Bearer "+sign(t, claims, testKID))
	if got.Decision != auth.Yes {
		t.Fatalf("Decision = %d, err=%v", got.Decision, got.Err)
	}
	id := got.Identity
	if id.Subject != "user-123" || id.TenantID() != "acme" || id.ServiceTier != "gold" {
		t.Errorf("identity = %+v", id)
	}
	if !slices.Equal(id.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v", id.Scopes)
	}
}

func TestCustomClaimNames(t *testing.T) {
	a, _ := newAuthenticator(t, func(c *Config) {
		c.UserClaim = "email"
		c.TenantClaim = "org"
		c.TierClaim = "plan"
		c.ScopesClaim = "permissions"
	})
	claims := with(baseClaims(),
		"email", "alice@example.com",
		"org", "org-7",
		"plan", "basic",
		"permissions", []any{"read", "", "write"},
	)

	got := authenticate(a, "Bearer "+sign(t, claims, testKID))
	if got.Decision != auth.Yes {
		t.Fatalf("Decision = %d, err=%v", got.Decision, got.Err)
	}
	id := got.Identity
	if id.Subject != "alice@example.com" || id.TenantID() != "org-7" || id.ServiceTier != "basic" {
		t.Errorf("identity = %+v", id)
	}
	if !slices.Equal(id.Scopes, []string{"read", "write"}) {
		t.Errorf("Scopes = %v", id.Scopes)
	}
}

func TestKeySetCaching(t *testing.T) {
	a, fetches := newAuthenticator(t, nil)
	header := "Bearer " + sign(t, baseClaims(), testKID)

	for i := range 5 {
		if got := authenticate(a, header); got.Decision != auth.Yes {
			t.Fatalf("request %d: Decision = %d, err=%v", i, got.Decision, got.Err)
		}
	}
	if n := fetches.Load(); n != 1 {
		t.Errorf("JWKS fetched %d times, want 1", n)
	}

	// An unknown kid forces a refetch.
	authenticate(a, "Bearer "+sign(t, baseClaims(), "rotated"))
	if n := fetches.Load(); n != 2 {
		t.Errorf("JWKS fetched %d times after unknown kid, want 2", n)
	}
}

func TestKeySetExpiry(t *testing.T) {
	a, fetches := newAuthenticator(t, func(c *Config) { c.CacheTTL = time.Nanosecond })
	header := "Bearer " + sign(t, baseClaims(), testKID)

	authenticate(a, header)
	time.Sleep(time.Millisecond)
	authenticate(a, header)
	if n := fetches.Load(); n != 2 {
		t.Errorf("JWKS fetched %d times, want 2", n)
	}
}
