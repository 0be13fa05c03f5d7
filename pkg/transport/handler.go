package transport

import (
	"context"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/rag"
)

// Service is the pipeline surface served over HTTP and MCP.
// *rag.Pipeline implements it.
type Service interface {
	Ingest(ctx context.Context, req rag.IngestRequest) (*rag.IngestResult, error)
	IngestBatch(ctx context.Context, reqs []rag.IngestRequest) []rag.IngestOutcome
	Retrieve(ctx context.Context, req rag.QueryRequest) ([]api.QueryResult, error)
	Answer(ctx context.Context, req rag.QueryRequest) (*rag.AnswerStream, error)
	DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) (int, error)
	DeleteDataset(ctx context.Context, tenantID, datasetID string) error
	Ready(ctx context.Context) error
}

var _ Service = (*rag.Pipeline)(nil)
