package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rhuss/quelle/pkg/auth"
)

func newTestAuth() *Authenticator {
	return New([]RawKeyEntry{
		{Key: "sk-test-key-1", Identity: auth.Identity{Subject: "alice", Tenant: "acme", ServiceTier: "standard", Scopes: []string{"write"}}},
		{Key: "sk-test-key-2", Identity: auth.Identity{Subject: "bob", ServiceTier: "premium", Metadata: map[string]string{"tenant_id": "org-2"}}},
	})
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		value      string
		want       auth.AuthDecision
		wantSubj   string
		wantTenant string
	}{
		{"bearer key", "Authorization", "Bearer sk-test-key-1", auth.Yes, "alice", "acme"},
		{"second key", "Authorization", "Bearer sk-test-key-2", auth.Yes, "bob", "org-2"},
		{"x-api-key header", HeaderName, "sk-test-key-1", auth.Yes, "alice", "acme"},
		{"unknown key", "Authorization", "Bearer sk-wrong", auth.No, "", ""},
		{"unknown x-api-key", HeaderName, "sk-wrong", auth.No, "", ""},
		{"empty bearer", "Authorization", "Bearer ", auth.No, "", ""},
		{"basic scheme", "Authorization", "Basic dXNlcjpwYXNz", auth.Abstain, "", ""},
		{"no credentials", "", "", auth.Abstain, "", ""},
	}

	a := newTestAuth()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			got := a.Authenticate(context.Background(), r)
			if got.Decision != tt.want {
				t.Fatalf("Decision = %d, want %d", got.Decision, tt.want)
			}
			if tt.want != auth.Yes {
				return
			}
			if got.Identity.Subject != tt.wantSubj {
				t.Errorf("Subject = %q, want %q", got.Identity.Subject, tt.wantSubj)
			}
			if got.Identity.TenantID() != tt.wantTenant {
				t.Errorf("TenantID = %q, want %q", got.Identity.TenantID(), tt.wantTenant)
			}
		})
	}
}

func TestIdentityIsCopied(t *testing.T) {
	a := newTestAuth()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer sk-test-key-1")

	first := a.Authenticate(context.Background(), r).Identity
	first.Subject = "mallory"
	first.Scopes[0] = "admin"

	second := a.Authenticate(context.Background(), r).Identity
	if second.Subject != "alice" || second.Scopes[0] != "write" {
		t.Errorf("stored identity was mutated: %+v", second)
	}
}
