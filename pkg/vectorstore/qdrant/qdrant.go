// Package qdrant implements vectorstore.Backend on the Qdrant REST API.
//
// Record IDs are arbitrary strings while Qdrant point IDs must be UUIDs or
// integers, so every ID is mapped to a deterministic UUIDv5 and the original
// ID is kept in the payload.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/vectorstore"
)

// Payload keys.
const (
	payloadText     = "text"
	payloadRecordID = "record_id"
	payloadMetadata = "metadata"
)

// pointNamespace scopes the UUIDs derived from record IDs.
var pointNamespace = uuid.MustParse("0b8e5a52-8d4e-5f0e-a3f6-3c1f2f7d9e40")

// Config holds the Qdrant connection settings.
type Config struct {
	// URL overrides Host, Port and TLS when set (e.g. "http://qdrant:6333").
	URL     string
	Host    string
	Port    int
	TLS     bool
	APIKey  string
	Timeout time.Duration
}

// Backend talks to Qdrant over HTTP.
type Backend struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Ensure Backend implements vectorstore.Backend at compile time.
var _ vectorstore.Backend = (*Backend)(nil)

// New creates a Qdrant backend from cfg. Host defaults to localhost and
// Port to 6333.
func New(cfg Config) *Backend {
	base := cfg.URL
	if base == "" {
		host := cfg.Host
		if host == "" {
			host = "localhost"
		}
		port := cfg.Port
		if port == 0 {
			port = 6333
		}
		scheme := "http"
		if cfg.TLS {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s:%d", scheme, host, port)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Backend{
		BaseURL:    strings.TrimRight(base, "/"),
		APIKey:     cfg.APIKey,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Name implements vectorstore.Backend.
func (q *Backend) Name() string { return "qdrant" }

// PointID maps a record ID to the Qdrant point ID. UUIDs pass through in
// canonical form.
func PointID(id string) string {
	if u, err := uuid.Parse(id); err == nil {
		return u.String()
	}
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

type collectionInfo struct {
	Result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size int `json:"size"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

// CollectionDimension implements vectorstore.Backend.
// GET /collections/{name}
func (q *Backend) CollectionDimension(ctx context.Context, name string) (int, error) {
	var info collectionInfo
	status, err := q.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(name), nil, &info, http.StatusNotFound)
	if err != nil {
		return 0, fmt.Errorf("qdrant get collection: %w", err)
	}
	if status == http.StatusNotFound {
		return 0, nil
	}
	return info.Result.Config.Params.Vectors.Size, nil
}

// EnsureCollection implements vectorstore.Backend.
// PUT /collections/{name} with {"vectors": {"size": dims, "distance": "Cosine"}}
func (q *Backend) EnsureCollection(ctx context.Context, name string, dimension int) error {
	have, err := q.CollectionDimension(ctx, name)
	if err != nil {
		return err
	}
	if have != 0 {
		if have != dimension {
			return vectorstore.Conflict(name, have, dimension)
		}
		return nil
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	// A concurrent creator may win the race; 409 is re-checked below.
	status, err := q.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(name), body, nil, http.StatusConflict)
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}
	if status == http.StatusConflict {
		have, err := q.CollectionDimension(ctx, name)
		if err != nil {
			return err
		}
		if have != dimension {
			return vectorstore.Conflict(name, have, dimension)
		}
	}
	return nil
}

// DeleteCollection implements vectorstore.Backend.
// DELETE /collections/{name}
func (q *Backend) DeleteCollection(ctx context.Context, name string) error {
	if _, err := q.do(ctx, http.MethodDelete, "/collections/"+url.PathEscape(name), nil, nil, http.StatusNotFound); err != nil {
		return fmt.Errorf("qdrant delete collection: %w", err)
	}
	return nil
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert implements vectorstore.Backend.
// PUT /collections/{name}/points?wait=true
func (q *Backend) Upsert(ctx context.Context, name string, records []api.VectorRecord) error {
	points := make([]point, len(records))
	for i, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		points[i] = point{
			ID:     PointID(r.ID),
			Vector: r.Vector,
			Payload: map[string]any{
				payloadText:     r.Text,
				payloadRecordID: r.ID,
				payloadMetadata: meta,
			},
		}
	}

	path := "/collections/" + url.PathEscape(name) + "/points?wait=true"
	if _, err := q.do(ctx, http.MethodPut, path, map[string]any{"points": points}, nil); err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

type retrieveResponse struct {
	Result []struct {
		ID any `json:"id"`
	} `json:"result"`
}

// Delete implements vectorstore.Backend. Existing points are counted first
// because the delete endpoint does not report how many were removed.
func (q *Backend) Delete(ctx context.Context, name string, ids []string) (int, error) {
	pointIDs := make([]string, len(ids))
	for i, id := range ids {
		pointIDs[i] = PointID(id)
	}

	var existing retrieveResponse
	status, err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(name)+"/points",
		map[string]any{"ids": pointIDs, "with_payload": false, "with_vector": false}, &existing, http.StatusNotFound)
	if err != nil {
		return 0, fmt.Errorf("qdrant retrieve points: %w", err)
	}
	if status == http.StatusNotFound || len(existing.Result) == 0 {
		return 0, nil
	}

	path := "/collections/" + url.PathEscape(name) + "/points/delete?wait=true"
	if _, err := q.do(ctx, http.MethodPost, path, map[string]any{"points": pointIDs}, nil); err != nil {
		return 0, fmt.Errorf("qdrant delete points: %w", err)
	}
	return len(existing.Result), nil
}

type countResponse struct {
	Result struct {
		Count int `json:"count"`
	} `json:"result"`
}

// DeleteByFilter implements vectorstore.Backend.
// POST /collections/{name}/points/count then /points/delete?wait=true
func (q *Backend) DeleteByFilter(ctx context.Context, name string, filter api.Filter) (int, error) {
	f := buildFilter(filter)

	var count countResponse
	status, err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(name)+"/points/count",
		map[string]any{"filter": f, "exact": true}, &count, http.StatusNotFound)
	if err != nil {
		return 0, fmt.Errorf("qdrant count points: %w", err)
	}
	if status == http.StatusNotFound || count.Result.Count == 0 {
		return 0, nil
	}

	path := "/collections/" + url.PathEscape(name) + "/points/delete?wait=true"
	if _, err := q.do(ctx, http.MethodPost, path, map[string]any{"filter": f}, nil); err != nil {
		return 0, fmt.Errorf("qdrant delete by filter: %w", err)
	}
	return count.Result.Count, nil
}

// searchRequest is the JSON body for Qdrant's search endpoint.
type searchRequest struct {
	Vector         []float32      `json:"vector"`
	Limit          int            `json:"limit"`
	WithPayload    bool           `json:"with_payload"`
	WithVector     bool           `json:"with_vector"`
	ScoreThreshold *float32       `json:"score_threshold,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type searchResponse struct {
	Result []searchResult `json:"result"`
}

type searchResult struct {
	ID      any            `json:"id"`
	Score   float32        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float32      `json:"vector"`
}

// Search implements vectorstore.Backend. Qdrant orders equal scores by
// point ID.
// POST /collections/{name}/points/search
func (q *Backend) Search(ctx context.Context, name string, p vectorstore.SearchParams) ([]api.QueryResult, error) {
	req := searchRequest{
		Vector:      p.Vector,
		Limit:       p.Limit,
		WithPayload: true,
		WithVector:  p.WithVectors,
	}
	if p.MinScore > -1 {
		threshold := p.MinScore
		req.ScoreThreshold = &threshold
	}
	if len(p.Filter) > 0 {
		req.Filter = buildFilter(p.Filter)
	}

	var resp searchResponse
	status, err := q.do(ctx, http.MethodPost, "/collections/"+url.PathEscape(name)+"/points/search", req, &resp, http.StatusNotFound)
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	if status == http.StatusNotFound {
		return []api.QueryResult{}, nil
	}

	results := make([]api.QueryResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := api.QueryResult{Score: r.Score}
		if id, ok := r.Payload[payloadRecordID].(string); ok {
			res.ID = id
		} else {
			res.ID = fmt.Sprintf("%v", r.ID)
		}
		if text, ok := r.Payload[payloadText].(string); ok {
			res.Text = text
		}
		if meta, ok := r.Payload[payloadMetadata].(map[string]any); ok {
			res.Metadata = meta
		}
		if p.WithVectors {
			res.Vector = r.Vector
		}
		results = append(results, res)
	}
	return results, nil
}

// Ping implements vectorstore.Backend.
// GET /collections
func (q *Backend) Ping(ctx context.Context) error {
	if _, err := q.do(ctx, http.MethodGet, "/collections", nil, nil); err != nil {
		return fmt.Errorf("qdrant ping: %w", err)
	}
	return nil
}

// Close implements vectorstore.Backend.
func (q *Backend) Close() error {
	q.HTTPClient.CloseIdleConnections()
	return nil
}

// buildFilter renders a conjunction of exact matches on payload metadata.
func buildFilter(filter api.Filter) map[string]any {
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		must = append(must, map[string]any{
			"key":   payloadMetadata + "." + k,
			"match": map[string]any{"value": matchValue(v)},
		})
	}
	return map[string]any{"must": must}
}

// matchValue converts whole floats to integers, since Qdrant matches
// keywords, integers and booleans only.
func matchValue(v any) any {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) {
			return int64(n)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return matchValue(float64(n))
	default:
		return v
	}
}

type errorResponse struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

// do sends a JSON request and decodes the response into out. Statuses
// listed in allowed are returned without error and without decoding.
func (q *Backend) do(ctx context.Context, method, path string, body, out any, allowed ...int) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.APIKey != "" {
		req.Header.Set("api-key", q.APIKey)
	}

	resp, err := q.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	for _, s := range allowed {
		if resp.StatusCode == s {
			return resp.StatusCode, nil
		}
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(respBody))
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Status.Error != "" {
			msg = errResp.Status.Error
		}
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parsing response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
