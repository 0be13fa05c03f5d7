package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/embedding"
	"github.com/rhuss/quelle/pkg/loader"
	"github.com/rhuss/quelle/pkg/observability"
	"github.com/rhuss/quelle/pkg/provider"
	"github.com/rhuss/quelle/pkg/splitter"
	"github.com/rhuss/quelle/pkg/vectorstore"
	"github.com/rhuss/quelle/pkg/workerpool"
)

// Deps are the collaborators of a Pipeline. Loader defaults to
// loader.Default(). Provider may be nil when answers are not served, and
// Pool may be nil, in which case IngestBatch runs requests sequentially.
type Deps struct {
	Loader   *loader.Registry
	Embedder embedding.Client
	Store    *vectorstore.Store
	Provider provider.Provider
	Pool     *workerpool.Pool
}

// Pipeline wires loading, splitting, embedding, storage and generation.
// It is safe for concurrent use.
type Pipeline struct {
	loader   *loader.Registry
	embedder embedding.Client
	store    *vectorstore.Store
	provider provider.Provider
	pool     *workerpool.Pool
	opts     Options
	prompt   *template.Template
}

// New validates opts and creates a Pipeline.
func New(deps Deps, opts Options) (*Pipeline, error) {
	if deps.Embedder == nil {
		return nil, api.NewError(api.ErrInvalidConfiguration, "rag.New", "an embedding client is required", nil)
	}
	if deps.Store == nil {
		return nil, api.NewError(api.ErrInvalidConfiguration, "rag.New", "a vector store is required", nil)
	}
	if deps.Loader == nil {
		deps.Loader = loader.Default()
	}
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	tmpl, err := parsePrompt(opts.SystemPrompt)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		loader:   deps.Loader,
		embedder: deps.Embedder,
		store:    deps.Store,
		provider: deps.Provider,
		pool:     deps.Pool,
		opts:     opts,
		prompt:   tmpl,
	}, nil
}

// Options returns the effective options.
func (p *Pipeline) Options() Options {
	return p.opts
}

// IngestRequest is one file to ingest into a dataset.
type IngestRequest struct {
	TenantID    string
	DatasetID   string
	Filename    string
	ContentType string
	Data        []byte
	// Strategy overrides the configured splitting strategy.
	Strategy splitter.Strategy
	// Metadata is merged into every segment's metadata.
	Metadata map[string]string
}

// IngestResult reports a stored document.
type IngestResult struct {
	DocumentID string
	Collection string
	Segments   []api.Segment
	// Replaced counts surplus vectors of a longer earlier version that
	// were removed after the new segments were written.
	Replaced int
	State    api.IngestState
}

// IngestOutcome pairs a batch request with its result or error.
type IngestOutcome struct {
	Filename string
	Result   *IngestResult
	Err      error
}

// Ingest loads, splits, embeds and stores one file. Re-ingesting a filename
// overwrites its segments in place and then removes any surplus ones, so a
// failed write never drops the stored version.
func (p *Pipeline) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	collection, collErr := p.opts.CollectionFor(req.TenantID, req.DatasetID)
	ctx, m := startIngestSpan(ctx, &req, collection)
	defer m.span.End()

	stage := api.IngestStateLoaded
	fail := func(err error) (*IngestResult, error) {
		m.fail(err)
		observability.IngestTotal.WithLabelValues(string(stage)).Inc()
		slog.Warn("ingest failed", "filename", req.Filename, "dataset", req.DatasetID, "stage", stage, "error", err)
		return nil, &api.StageError{Filename: req.Filename, Stage: stage, Err: err}
	}
	observe := func(next api.IngestState) error {
		elapsed, err := m.advance(next)
		if err != nil {
			return err
		}
		observability.IngestDuration.WithLabelValues(string(next)).Observe(elapsed.Seconds())
		return nil
	}

	if req.Filename == "" {
		return fail(api.NewError(api.ErrInvalidArgument, "rag.Ingest", "filename is required", nil))
	}
	if collErr != nil {
		return fail(collErr)
	}

	doc, err := p.loader.LoadWithType(req.Data, req.Filename, req.ContentType)
	if err != nil {
		return fail(err)
	}
	for k, v := range req.Metadata {
		doc.Metadata[k] = v
	}
	if err := observe(api.IngestStateLoaded); err != nil {
		return fail(err)
	}

	stage = api.IngestStateSplit
	segments, err := p.split(doc, req)
	if err != nil {
		return fail(err)
	}
	if err := observe(api.IngestStateSplit); err != nil {
		return fail(err)
	}

	stage = api.IngestStateEmbedded
	texts := make([]string, len(segments))
	for i := range segments {
		texts[i] = segments[i].SearchText()
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fail(err)
	}
	if err := observe(api.IngestStateEmbedded); err != nil {
		return fail(err)
	}

	stage = api.IngestStateStored
	n, err := p.store.AddSegments(ctx, collection, segments, vectors)
	if err != nil {
		return fail(err)
	}
	replaced, err := p.trimTail(ctx, collection, req.TenantID, req.DatasetID, doc.ID, len(segments))
	if err != nil {
		return fail(err)
	}
	if err := observe(api.IngestStateStored); err != nil {
		return fail(err)
	}

	observability.IngestTotal.WithLabelValues("success").Inc()
	observability.SegmentsStoredTotal.Add(float64(n))
	slog.Info("document ingested",
		"filename", req.Filename,
		"dataset", req.DatasetID,
		"collection", collection,
		"segments", n,
		"replaced", replaced,
	)

	return &IngestResult{
		DocumentID: doc.ID,
		Collection: collection,
		Segments:   segments,
		Replaced:   replaced,
		State:      api.IngestStateStored,
	}, nil
}

// trimTailBatch is how many trailing segment IDs are deleted per call.
const trimTailBatch = 64

// trimTail deletes the segments a previous, longer version of the document
// left behind at positions from onwards. Positions are contiguous, so the
// first batch that is not fully present ends the tail.
func (p *Pipeline) trimTail(ctx context.Context, collection, tenantID, datasetID, documentID string, from int) (int, error) {
	total := 0
	for pos := from; ; pos += trimTailBatch {
		ids := make([]string, trimTailBatch)
		for i := range ids {
			ids[i] = api.SegmentID(tenantID, datasetID, documentID, pos+i)
		}
		n, err := p.store.DeleteVectors(ctx, collection, ids)
		if err != nil {
			return total, err
		}
		total += n
		if n < trimTailBatch {
			return total, nil
		}
	}
}

// split cuts doc into segments and tags them with their owners. Segment
// IDs are derived from tenant, dataset, document and position so that a
// re-ingested document overwrites its own records.
func (p *Pipeline) split(doc *api.Document, req IngestRequest) ([]api.Segment, error) {
	strategy := p.opts.Strategy
	if req.Strategy != "" {
		strategy = req.Strategy
	}
	sp, err := splitter.New(strategy, p.opts.MaxChunkSize, p.opts.OverlapSize)
	if err != nil {
		return nil, err
	}
	segments, err := sp.Split(doc)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, api.NewError(api.ErrLoadError, "rag.Ingest",
			fmt.Sprintf("%q contains no text", req.Filename), nil)
	}
	for i := range segments {
		seg := &segments[i]
		seg.TenantID = req.TenantID
		seg.DatasetID = req.DatasetID
		seg.ID = api.SegmentID(req.TenantID, req.DatasetID, seg.DocumentID, seg.Position)
	}
	return segments, nil
}

// IngestBatch ingests every request on the worker pool. A failing request
// does not stop its siblings. Outcomes are returned in request order.
func (p *Pipeline) IngestBatch(ctx context.Context, reqs []IngestRequest) []IngestOutcome {
	out := make([]IngestOutcome, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		out[i].Filename = reqs[i].Filename
		wg.Add(1)
		task := func(ctx context.Context) {
			defer wg.Done()
			out[i].Result, out[i].Err = p.Ingest(ctx, reqs[i])
		}
		if p.pool == nil {
			task(ctx)
			continue
		}
		p.pool.Submit(ctx, task)
	}
	wg.Wait()
	return out
}

// DeleteDocument removes every segment of one document and returns the
// number of vectors deleted.
func (p *Pipeline) DeleteDocument(ctx context.Context, tenantID, datasetID, documentID string) (int, error) {
	if documentID == "" {
		return 0, api.NewError(api.ErrInvalidArgument, "rag.DeleteDocument", "document id is required", nil)
	}
	collection, err := p.opts.CollectionFor(tenantID, datasetID)
	if err != nil {
		return 0, err
	}
	n, err := p.store.DeleteVectorsByFilter(ctx, collection, tenantFilter(tenantID, api.Filter{api.MetaDocumentID: documentID}))
	if err != nil {
		return 0, err
	}
	slog.Info("document deleted", "dataset", datasetID, "document", documentID, "vectors", n)
	return n, nil
}

// DeleteDataset drops the dataset's collection.
func (p *Pipeline) DeleteDataset(ctx context.Context, tenantID, datasetID string) error {
	collection, err := p.opts.CollectionFor(tenantID, datasetID)
	if err != nil {
		return err
	}
	if err := p.store.DropCollection(ctx, collection); err != nil {
		return err
	}
	slog.Info("dataset deleted", "dataset", datasetID, "collection", collection)
	return nil
}

// tenantFilter adds the tenant condition to f when a tenant is set, so a
// search or delete only ever touches the caller's own records.
func tenantFilter(tenantID string, f api.Filter) api.Filter {
	if tenantID == "" {
		return f
	}
	out := make(api.Filter, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	out[api.MetaTenantID] = tenantID
	return out
}

// Ready checks that the vector store answers.
func (p *Pipeline) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.store.Ping(ctx); err != nil {
		return err
	}
	return nil
}

// Close releases the pool, the provider and the store.
func (p *Pipeline) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	var errs []error
	if p.provider != nil {
		errs = append(errs, p.provider.Close())
	}
	errs = append(errs, p.store.Close())
	return errors.Join(errs...)
}
