// Package mcp exposes the retrieval pipeline as Model Context Protocol
// tools, so agents can search, add and remove documents in a dataset.
package mcp

import (
	"context"
	"net/http"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/rag"
)

// Version is reported in the MCP implementation info.
const Version = "0.1.0"

// Service is the subset of the pipeline the tools call.
type Service interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
	Retrieve(ctx context.Context, req rag.QueryRequest) ([]api.QueryResult, error)
	DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) (int, error)
}

var _ Service = (*rag.Pipeline)(nil)

// Server builds one MCP server per tenant. Tools close over the tenant,
// so a session can only reach the datasets of the caller that opened it.
type Server struct {
	svc Service

	mu      sync.Mutex
	servers map[string]*mcp.Server
}

// NewServer creates the MCP front end for svc.
func NewServer(svc Service) *Server {
	return &Server{svc: svc, servers: make(map[string]*mcp.Server)}
}

// ForTenant returns the MCP server bound to tenant.
func (s *Server) ForTenant(tenant string) *mcp.Server {
	s.mu.Lock()
	defer s.mu.Unlock()

	if srv, ok := s.servers[tenant]; ok {
		return srv
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "quelle", Version: Version}, nil)
	t := &tools{svc: s.svc, tenant: tenant}
	t.register(srv)
	s.servers[tenant] = srv
	return srv
}

// Handler serves MCP over Streamable HTTP. The tenant is taken from the
// request context, as placed there by the auth middleware.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(r *http.Request) *mcp.Server {
		return s.ForTenant(api.TenantFromContext(r.Context()))
	}, nil)
}
