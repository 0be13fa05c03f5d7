package http

import (
	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/provider"
)

// ingestResponse is returned for a single stored document.
type ingestResponse struct {
	DocumentID string `json:"document_id"`
	Collection string `json:"collection"`
	Segments   int    `json:"segments"`
	Replaced   int    `json:"replaced,omitempty"`
}

// batchIngestResponse is returned when an upload carries several files.
type batchIngestResponse struct {
	Documents []batchIngestItem `json:"documents"`
}

type batchIngestItem struct {
	Filename   string        `json:"filename"`
	DocumentID string        `json:"document_id,omitempty"`
	Segments   int           `json:"segments"`
	Error      *api.APIError `json:"error,omitempty"`
}

// queryRequest is the body of the query and answer endpoints.
type queryRequest struct {
	Query          string         `json:"query"`
	Vector         []float32      `json:"vector,omitempty"`
	TopK           int            `json:"top_k,omitempty"`
	MinScore       *float32       `json:"min_score,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
	IncludeVectors bool           `json:"include_vectors,omitempty"`
	Model          string         `json:"model,omitempty"`
	Temperature    *float64       `json:"temperature,omitempty"`
}

type deleteDocumentResponse struct {
	DocumentID string `json:"document_id"`
	Deleted    int    `json:"deleted"`
}

// Answer stream payloads.
type sourcesPayload struct {
	StreamID string            `json:"stream_id"`
	Model    string            `json:"model,omitempty"`
	Sources  []api.QueryResult `json:"sources"`
}

type deltaPayload struct {
	Delta string `json:"delta"`
}

type donePayload struct {
	StreamID     string          `json:"stream_id"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Usage        *provider.Usage `json:"usage,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}
