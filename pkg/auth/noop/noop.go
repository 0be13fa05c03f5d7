// Package noop provides an authenticator that admits every request. It
// serves development setups and single-user deployments.
package noop

import (
	"context"
	"net/http"

	"github.com/rhuss/quelle/pkg/auth"
)

// Authenticator always votes Yes with an anonymous identity bound to
// Tenant.
type Authenticator struct {
	Tenant string
}

// Authenticate implements auth.Authenticator.
func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.AuthResult {
	return auth.AuthResult{
		Decision: auth.Yes,
		Identity: &auth.Identity{
			Subject:     "anonymous",
			Tenant:      a.Tenant,
			ServiceTier: "default",
			Scopes:      []string{"read", "write"},
		},
	}
}
