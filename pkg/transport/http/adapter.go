package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/observability"
	"github.com/rhuss/quelle/pkg/rag"
	"github.com/rhuss/quelle/pkg/splitter"
	"github.com/rhuss/quelle/pkg/transport"
)

// FilenameHeader names the file of a raw (non-multipart) upload.
const FilenameHeader = "X-Filename"

// StreamIDHeader carries the answer stream ID so clients can cancel it.
const StreamIDHeader = "X-Stream-ID"

// Adapter serves the dataset API over HTTP.
type Adapter struct {
	svc      transport.Service
	inflight *transport.InFlightRegistry
	mux      *http.ServeMux
	config   Config
}

// Config holds configuration for the HTTP adapter.
type Config struct {
	// MaxBodySize bounds JSON bodies and uploads alike.
	MaxBodySize int64
}

// DefaultConfig returns the default adapter configuration.
func DefaultConfig() Config {
	return Config{
		MaxBodySize: 32 << 20, // 32 MB
	}
}

// NewAdapter creates an adapter dispatching to svc.
func NewAdapter(svc transport.Service, cfg Config) *Adapter {
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultConfig().MaxBodySize
	}
	a := &Adapter{
		svc:      svc,
		inflight: transport.NewInFlightRegistry(),
		mux:      http.NewServeMux(),
		config:   cfg,
	}

	a.mux.HandleFunc("POST /v1/datasets/{dataset}/documents", a.handleIngest)
	a.mux.HandleFunc("DELETE /v1/datasets/{dataset}/documents/{document...}", a.handleDeleteDocument)
	a.mux.HandleFunc("DELETE /v1/datasets/{dataset}", a.handleDeleteDataset)
	a.mux.HandleFunc("POST /v1/datasets/{dataset}/query", a.handleQuery)
	a.mux.HandleFunc("POST /v1/datasets/{dataset}/answer", a.handleAnswer)
	a.mux.HandleFunc("DELETE /v1/streams/{id}", a.handleCancelStream)
	a.mux.HandleFunc("GET /healthz", a.handleHealth)
	a.mux.HandleFunc("GET /readyz", a.handleReady)

	return a
}

// Handle registers an additional route, such as /metrics or /mcp.
func (a *Adapter) Handle(pattern string, h http.Handler) {
	a.mux.Handle(pattern, h)
}

// Handler returns the routed handler. Request metrics wrap the mux
// directly so the matched pattern is known when they are recorded.
func (a *Adapter) Handler() http.Handler {
	return observability.MetricsMiddleware(a.mux)
}

// InFlight returns the registry of running answer streams.
func (a *Adapter) InFlight() *transport.InFlightRegistry {
	return a.inflight
}

// handleIngest handles POST /v1/datasets/{dataset}/documents. The body is
// either multipart/form-data with one or more "file" parts, or the raw
// file with its name in X-Filename.
func (a *Adapter) handleIngest(w http.ResponseWriter, r *http.Request) {
	dataset := r.PathValue("dataset")
	tenant := api.TenantFromContext(r.Context())

	var strategy splitter.Strategy
	if s := r.URL.Query().Get("strategy"); s != "" {
		st, err := splitter.ParseStrategy(s)
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		strategy = st
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	reqs, apiErr, status := a.readUploads(r)
	if apiErr != nil {
		transport.WriteErrorResponse(w, apiErr, status)
		return
	}
	for i := range reqs {
		reqs[i].TenantID = tenant
		reqs[i].DatasetID = dataset
		reqs[i].Strategy = strategy
	}

	if len(reqs) == 1 {
		res, err := a.svc.Ingest(r.Context(), reqs[0])
		if err != nil {
			transport.WriteError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ingestResponse{
			DocumentID: res.DocumentID,
			Collection: res.Collection,
			Segments:   len(res.Segments),
			Replaced:   res.Replaced,
		})
		return
	}

	outcomes := a.svc.IngestBatch(r.Context(), reqs)
	resp := batchIngestResponse{Documents: make([]batchIngestItem, len(outcomes))}
	status = http.StatusCreated
	for i, o := range outcomes {
		item := batchIngestItem{Filename: o.Filename}
		if o.Err != nil {
			item.Error = api.ToAPIError(o.Err)
			status = http.StatusMultiStatus
		} else {
			item.DocumentID = o.Result.DocumentID
			item.Segments = len(o.Result.Segments)
		}
		resp.Documents[i] = item
	}
	writeJSON(w, status, resp)
}

// readUploads extracts the files of an ingest request.
func (a *Adapter) readUploads(r *http.Request) ([]rag.IngestRequest, *api.APIError, int) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType != "multipart/form-data" {
		name := strings.TrimSpace(r.Header.Get(FilenameHeader))
		if name == "" {
			return nil, api.NewInvalidRequestError("X-Filename", "raw uploads need an X-Filename header"), http.StatusBadRequest
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			apiErr, status := a.bodyError(err)
			return nil, apiErr, status
		}
		if len(data) == 0 {
			return nil, api.NewInvalidRequestError("body", "upload is empty"), http.StatusBadRequest
		}
		return []rag.IngestRequest{{Filename: name, ContentType: r.Header.Get("Content-Type"), Data: data}}, nil, 0
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, api.NewInvalidRequestError("body", "invalid multipart body: "+err.Error()), http.StatusBadRequest
	}
	var reqs []rag.IngestRequest
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			apiErr, status := a.bodyError(err)
			return nil, apiErr, status
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}
		name := part.FileName()
		if name == "" {
			part.Close()
			return nil, api.NewInvalidRequestError("file", "file part has no filename"), http.StatusBadRequest
		}
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			apiErr, status := a.bodyError(err)
			return nil, apiErr, status
		}
		reqs = append(reqs, rag.IngestRequest{Filename: name, ContentType: part.Header.Get("Content-Type"), Data: data})
	}
	if len(reqs) == 0 {
		return nil, api.NewInvalidRequestError("file", "multipart body has no file part"), http.StatusBadRequest
	}
	return reqs, nil, 0
}

func (a *Adapter) bodyError(err error) (*api.APIError, int) {
	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		return api.NewInvalidRequestError("body", fmt.Sprintf("request body too large (max %d bytes)", a.config.MaxBodySize)),
			http.StatusRequestEntityTooLarge
	}
	return api.NewInvalidRequestError("body", "reading body: "+err.Error()), http.StatusBadRequest
}

// decodeQuery reads and validates a query body. It writes the error
// response itself and reports false on failure.
func (a *Adapter) decodeQuery(w http.ResponseWriter, r *http.Request) (rag.QueryRequest, bool) {
	ct := r.Header.Get("Content-Type")
	if mt, _, _ := mime.ParseMediaType(ct); ct != "" && mt != "application/json" {
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("content_type", "Content-Type must be application/json"),
			http.StatusUnsupportedMediaType,
		)
		return rag.QueryRequest{}, false
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.config.MaxBodySize)
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apiErr, status := a.bodyError(err)
			transport.WriteErrorResponse(w, apiErr, status)
			return rag.QueryRequest{}, false
		}
		transport.WriteErrorResponse(w,
			api.NewInvalidRequestError("body", "invalid JSON: "+err.Error()),
			http.StatusBadRequest,
		)
		return rag.QueryRequest{}, false
	}
	if body.TopK < 0 {
		transport.WriteAPIError(w, api.NewInvalidRequestError("top_k", "top_k must not be negative"))
		return rag.QueryRequest{}, false
	}

	return rag.QueryRequest{
		TenantID:       api.TenantFromContext(r.Context()),
		DatasetID:      r.PathValue("dataset"),
		Query:          body.Query,
		Vector:         body.Vector,
		TopK:           body.TopK,
		MinScore:       body.MinScore,
		Filter:         api.Filter(body.Filter),
		IncludeVectors: body.IncludeVectors,
		Model:          body.Model,
		Temperature:    body.Temperature,
	}, true
}

// handleQuery handles POST /v1/datasets/{dataset}/query.
func (a *Adapter) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeQuery(w, r)
	if !ok {
		return
	}
	results, err := a.svc.Retrieve(r.Context(), req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if results == nil {
		results = []api.QueryResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// handleAnswer handles POST /v1/datasets/{dataset}/answer. Errors before
// generation starts are plain JSON responses; later errors arrive as an
// error event.
func (a *Adapter) handleAnswer(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeQuery(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := a.svc.Answer(ctx, req)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	defer stream.Cancel()

	a.inflight.Register(stream.ID, stream.Cancel)
	defer a.inflight.Remove(stream.ID)

	w.Header().Set(StreamIDHeader, stream.ID)
	sw := newSSEWriter(w)

	sources := stream.Sources
	if sources == nil {
		sources = []api.QueryResult{}
	}
	if err := sw.WriteEvent(EventSources, sourcesPayload{StreamID: stream.ID, Model: stream.Model, Sources: sources}); err != nil {
		slog.Debug("answer stream write failed", "stream_id", stream.ID, "error", err)
		return
	}

	for ev := range stream.Events {
		var werr error
		switch ev.Type {
		case rag.StreamEventDelta:
			werr = sw.WriteEvent(EventDelta, deltaPayload{Delta: ev.Delta})
		case rag.StreamEventDone:
			werr = sw.WriteEvent(EventDone, donePayload{StreamID: stream.ID, FinishReason: ev.FinishReason, Usage: ev.Usage})
		}
		if werr != nil {
			// Client went away. Cancelling stops the provider read loop.
			slog.Debug("answer stream write failed", "stream_id", stream.ID, "error", werr)
			return
		}
	}

	if err := <-stream.Errors; err != nil {
		slog.Warn("answer stream failed", "stream_id", stream.ID, "error", err)
		sw.WriteEvent(EventError, api.ErrorResponse{Error: api.ToAPIError(err)})
	}
	if r.Context().Err() == nil {
		sw.Done()
	}
}

// handleCancelStream handles DELETE /v1/streams/{id}.
func (a *Adapter) handleCancelStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !a.inflight.Cancel(id) {
		transport.WriteAPIError(w, api.NewNotFoundError("stream "+id+" is not running"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeleteDocument handles DELETE /v1/datasets/{dataset}/documents/{document}.
func (a *Adapter) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	dataset, document := r.PathValue("dataset"), r.PathValue("document")
	n, err := a.svc.DeleteDocument(r.Context(), api.TenantFromContext(r.Context()), dataset, document)
	if err != nil {
		transport.WriteError(w, err)
		return
	}
	if n == 0 {
		transport.WriteAPIError(w, api.NewNotFoundError("document "+document+" not found in dataset "+dataset))
		return
	}
	writeJSON(w, http.StatusOK, deleteDocumentResponse{DocumentID: document, Deleted: n})
}

// handleDeleteDataset handles DELETE /v1/datasets/{dataset}.
func (a *Adapter) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteDataset(r.Context(), api.TenantFromContext(r.Context()), r.PathValue("dataset")); err != nil {
		transport.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Adapter) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (a *Adapter) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Ready(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
