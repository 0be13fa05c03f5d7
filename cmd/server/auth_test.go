package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/config"
)

func tenantProbe() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Tenant", api.TenantFromContext(r.Context()))
	})
}

func TestBuildAuthMiddlewareNone(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.Tenant = "solo"

	mw, err := buildAuthMiddleware(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	mw(tenantProbe()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/datasets/kb/query", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("X-Tenant") != "solo" {
		t.Errorf("status = %d tenant = %q", rec.Code, rec.Header().Get("X-Tenant"))
	}
}

func TestBuildAuthMiddlewareAPIKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.Type = "api_key"
	cfg.Auth.WriteScope = "write"
	cfg.Auth.APIKeys = []config.APIKeyConfig{
		{Key: "sk-reader", Subject: "r", TenantID: "acme"},
		{Key: "sk-writer", Subject: "w", TenantID: "acme", Scopes: []string{"write"}},
	}
	cfg.Auth.RateLimit = config.RateLimitConfig{Tiers: map[string]config.TierConfig{"default": {RequestsPerMinute: 60, Burst: 1}}}

	mw, err := buildAuthMiddleware(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	h := mw(tenantProbe())

	do := func(method, path, key string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(method, path, nil)
		if key != "" {
			r.Header.Set("Authorization", "Bearer "+key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec
	}

	if rec := do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", rec.Code)
	}
	if rec := do(http.MethodPost, "/v1/datasets/kb/query", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no key = %d, want 401", rec.Code)
	}
	if rec := do(http.MethodPost, "/v1/datasets/kb/documents", "sk-reader"); rec.Code != http.StatusForbidden {
		t.Errorf("reader upload = %d, want 403", rec.Code)
	}
	rec := do(http.MethodPost, "/v1/datasets/kb/documents", "sk-writer")
	if rec.Code != http.StatusOK || rec.Header().Get("X-Tenant") != "acme" {
		t.Errorf("writer upload = %d tenant %q", rec.Code, rec.Header().Get("X-Tenant"))
	}
	if rec := do(http.MethodPost, "/v1/datasets/kb/query", "sk-writer"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second writer request = %d, want 429", rec.Code)
	}
}

func TestBuildAuthMiddlewareUnknown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Auth.Type = "basic"
	if _, err := buildAuthMiddleware(&cfg); err == nil {
		t.Error("expected error for unknown auth type")
	}
}
