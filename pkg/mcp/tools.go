package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/rag"
)

// SearchInput is the input schema of the search tool.
type SearchInput struct {
	Dataset  string         `json:"dataset" jsonschema:"the dataset to search"`
	Query    string         `json:"query" jsonschema:"natural language search text"`
	TopK     int            `json:"top_k,omitempty" jsonschema:"maximum number of results (default 4)"`
	MinScore *float32       `json:"min_score,omitempty" jsonschema:"drop results scoring below this similarity"`
	Filter   map[string]any `json:"filter,omitempty" jsonschema:"exact-match metadata conditions"`
}

// SearchOutput is the output schema of the search tool.
type SearchOutput struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// SearchResult is one matching segment.
type SearchResult struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Source     string  `json:"source,omitempty"`
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
}

// IngestTextInput is the input schema of the ingest_text tool.
type IngestTextInput struct {
	Dataset  string `json:"dataset" jsonschema:"the dataset to add the document to"`
	Filename string `json:"filename" jsonschema:"document name; its extension selects the format, e.g. notes.md"`
	Content  string `json:"content" jsonschema:"the document text"`
}

// IngestTextOutput reports the stored document.
type IngestTextOutput struct {
	DocumentID string `json:"document_id"`
	Segments   int    `json:"segments"`
	Replaced   int    `json:"replaced"`
}

// DeleteDocumentInput is the input schema of the delete_document tool.
type DeleteDocumentInput struct {
	Dataset    string `json:"dataset" jsonschema:"the dataset holding the document"`
	DocumentID string `json:"document_id" jsonschema:"the document to remove"`
}

// DeleteDocumentOutput reports how many segments were removed.
type DeleteDocumentOutput struct {
	Deleted int `json:"deleted"`
}

type tools struct {
	svc    Service
	tenant string
}

func (t *tools) register(srv *mcp.Server) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search",
		Description: "Find the passages of a dataset most similar to a query",
	}, t.search)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "ingest_text",
		Description: "Split, embed and store a text document in a dataset, replacing an earlier version with the same filename",
	}, t.ingestText)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_document",
		Description: "Remove every stored passage of a document from a dataset",
	}, t.deleteDocument)
}

func (t *tools) search(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	results, err := t.svc.Retrieve(ctx, rag.QueryRequest{
		TenantID:  t.tenant,
		DatasetID: in.Dataset,
		Query:     in.Query,
		TopK:      in.TopK,
		MinScore:  in.MinScore,
		Filter:    api.Filter(in.Filter),
	})
	if err != nil {
		return nil, SearchOutput{}, toolError(err)
	}

	out := SearchOutput{Results: make([]SearchResult, len(results)), Count: len(results)}
	for i, r := range results {
		out.Results[i] = SearchResult{
			ID:         r.ID,
			DocumentID: api.MetadataString(r.Metadata[api.MetaDocumentID]),
			Title:      api.MetadataString(r.Metadata[api.MetaTitle]),
			Source:     api.MetadataString(r.Metadata[api.MetaSource]),
			Score:      r.Score,
			Text:       r.Text,
		}
	}
	return nil, out, nil
}

func (t *tools) ingestText(ctx context.Context, _ *mcp.CallToolRequest, in IngestTextInput) (*mcp.CallToolResult, IngestTextOutput, error) {
	res, err := t.svc.Ingest(ctx, rag.IngestRequest{
		TenantID:  t.tenant,
		DatasetID: in.Dataset,
		Filename:  in.Filename,
		Data:      []byte(in.Content),
	})
	if err != nil {
		return nil, IngestTextOutput{}, toolError(err)
	}
	return nil, IngestTextOutput{
		DocumentID: res.DocumentID,
		Segments:   len(res.Segments),
		Replaced:   res.Replaced,
	}, nil
}

func (t *tools) deleteDocument(ctx context.Context, _ *mcp.CallToolRequest, in DeleteDocumentInput) (*mcp.CallToolResult, DeleteDocumentOutput, error) {
	n, err := t.svc.DeleteDocument(ctx, t.tenant, in.Dataset, in.DocumentID)
	if err != nil {
		return nil, DeleteDocumentOutput{}, toolError(err)
	}
	return nil, DeleteDocumentOutput{Deleted: n}, nil
}

// toolError prefixes err with its stage and error code so an agent can
// tell a bad argument from an upstream failure.
func toolError(err error) error {
	apiErr := api.ToAPIError(err)
	var tags []string
	for _, tag := range []string{apiErr.Param, apiErr.Code} {
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	if len(tags) == 0 {
		return err
	}
	return fmt.Errorf("%s: %w", strings.Join(tags, "/"), err)
}
