// Package transport holds the HTTP plumbing shared by quelle's servers:
// the service contract the adapter dispatches to, error mapping from
// pipeline error kinds to status codes, the in-flight stream registry and
// the request ID, logging and recovery middleware.
//
// Handlers are plain net/http handlers routed with Go 1.22 ServeMux
// patterns. Middleware composes with Chain, outermost first.
package transport
