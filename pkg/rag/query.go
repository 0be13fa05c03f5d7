package rag

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/observability"
	"github.com/rhuss/quelle/pkg/provider"
)

// eventBuffer bounds how far the provider reader may run ahead of the
// consumer.
const eventBuffer = 4

// QueryRequest is a retrieval or answer request against one dataset.
type QueryRequest struct {
	TenantID  string
	DatasetID string
	Query     string
	// Vector skips query embedding when set.
	Vector []float32
	// TopK and MinScore override the configured defaults when non-zero.
	TopK           int
	MinScore       *float32
	Filter         api.Filter
	IncludeVectors bool

	// Model and Temperature override the completion defaults for answers.
	Model       string
	Temperature *float64
}

// Retrieve returns the segments most similar to the query.
func (p *Pipeline) Retrieve(ctx context.Context, req QueryRequest) ([]api.QueryResult, error) {
	collection, err := p.opts.CollectionFor(req.TenantID, req.DatasetID)
	ctx, m := startQuerySpan(ctx, "rag.retrieve", &req, collection)
	defer m.span.End()
	if err != nil {
		m.fail(err)
		return nil, err
	}

	results, err := p.retrieve(ctx, m, &req, collection)
	if err != nil {
		m.fail(err)
		return nil, err
	}
	if _, err := m.advance(api.QueryStateCompleted); err != nil {
		m.fail(err)
		return nil, err
	}
	return results, nil
}

func (p *Pipeline) retrieve(ctx context.Context, m *machine[api.QueryState], req *QueryRequest, collection string) ([]api.QueryResult, error) {
	vector := req.Vector
	if vector == nil {
		if strings.TrimSpace(req.Query) == "" {
			return nil, api.NewError(api.ErrInvalidArgument, "rag.Retrieve", "query text is required", nil)
		}
		if _, err := m.advance(api.QueryStateEmbedQuery); err != nil {
			return nil, err
		}
		v, err := p.embedder.Embed(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		vector = v
	}

	if _, err := m.advance(api.QueryStateSearch); err != nil {
		return nil, err
	}
	limit := req.TopK
	if limit <= 0 {
		limit = p.opts.TopK
	}
	minScore := p.opts.MinScore
	if req.MinScore != nil {
		minScore = *req.MinScore
	}
	return p.store.SimilaritySearch(ctx, api.VectorQuery{
		Vector:         vector,
		Collection:     collection,
		Limit:          limit,
		MinScore:       minScore,
		Filter:         tenantFilter(req.TenantID, req.Filter),
		IncludeVectors: req.IncludeVectors,
	})
}

// StreamEventType distinguishes answer stream events.
type StreamEventType int

const (
	// StreamEventDelta carries a text fragment.
	StreamEventDelta StreamEventType = iota
	// StreamEventDone ends a complete answer.
	StreamEventDone
)

// StreamEvent is one event of an answer stream.
type StreamEvent struct {
	Type         StreamEventType
	Delta        string
	FinishReason string
	Usage        *provider.Usage
}

// AnswerStream delivers a generated answer incrementally. Read Events until
// it is closed, then read Errors: it yields the stream error, if any, and is
// closed afterwards. A stream that ends without a done event was cancelled
// or failed.
type AnswerStream struct {
	ID      string
	Model   string
	Sources []api.QueryResult
	Events  <-chan StreamEvent
	Errors  <-chan error

	cancel context.CancelFunc
}

// Cancel stops generation and closes the upstream connection.
func (s *AnswerStream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewAnswerStream assembles a stream from its parts. It serves
// implementations of the answer surface other than Pipeline.
func NewAnswerStream(id string, sources []api.QueryResult, events <-chan StreamEvent, errs <-chan error, cancel context.CancelFunc) *AnswerStream {
	return &AnswerStream{ID: id, Sources: sources, Events: events, Errors: errs, cancel: cancel}
}

// Collect drains the stream and returns the full answer text.
func (s *AnswerStream) Collect() (string, error) {
	var sb strings.Builder
	for ev := range s.Events {
		if ev.Type == StreamEventDelta {
			sb.WriteString(ev.Delta)
		}
	}
	if err := <-s.Errors; err != nil {
		return sb.String(), err
	}
	return sb.String(), nil
}

// Answer retrieves context for the question and streams a grounded answer.
// The returned stream owns a goroutine until it ends or is cancelled.
func (p *Pipeline) Answer(ctx context.Context, req QueryRequest) (*AnswerStream, error) {
	collection, collErr := p.opts.CollectionFor(req.TenantID, req.DatasetID)
	spanCtx, m := startQuerySpan(ctx, "rag.answer", &req, collection)

	fail := func(err error) (*AnswerStream, error) {
		m.fail(err)
		m.span.End()
		return nil, err
	}

	if collErr != nil {
		return fail(collErr)
	}
	if p.provider == nil {
		return fail(api.NewError(api.ErrInvalidConfiguration, "rag.Answer", "no completion provider configured", nil))
	}
	if strings.TrimSpace(req.Query) == "" {
		return fail(api.NewError(api.ErrInvalidArgument, "rag.Answer", "question is required", nil))
	}

	sources, err := p.retrieve(spanCtx, m, &req, collection)
	if err != nil {
		return fail(err)
	}

	if _, err := m.advance(api.QueryStatePromptAssemble); err != nil {
		return fail(err)
	}
	system, err := renderPrompt(p.prompt, promptData(req.Query, sources))
	if err != nil {
		return fail(api.NewError(api.ErrInvalidConfiguration, "rag.Answer", "assembling prompt", err))
	}
	creq := &provider.Request{
		Model: p.opts.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: system},
			{Role: provider.RoleUser, Content: req.Query},
		},
		Temperature: p.opts.Temperature,
		MaxTokens:   p.opts.MaxTokens,
		User:        req.TenantID,
	}
	if req.Model != "" {
		creq.Model = req.Model
	}
	if req.Temperature != nil {
		creq.Temperature = req.Temperature
	}

	if _, err := m.advance(api.QueryStateStreamGenerate); err != nil {
		return fail(err)
	}
	streamCtx, cancel := context.WithCancel(spanCtx)
	upstream, err := p.provider.Stream(streamCtx, creq)
	if err != nil {
		cancel()
		return fail(err)
	}

	events := make(chan StreamEvent, eventBuffer)
	errs := make(chan error, 1)
	s := &AnswerStream{
		ID:      api.NewStreamID(),
		Model:   creq.Model,
		Sources: sources,
		Events:  events,
		Errors:  errs,
		cancel:  cancel,
	}
	go p.forward(streamCtx, cancel, m, s.ID, upstream, events, errs)
	return s, nil
}

// forward copies provider events to the consumer. Sends block on the
// consumer, so a slow reader slows the provider read loop.
func (p *Pipeline) forward(ctx context.Context, cancel context.CancelFunc, m *machine[api.QueryState], id string,
	upstream <-chan provider.Event, events chan<- StreamEvent, errs chan<- error) {
	start := time.Now()
	status := "cancelled"
	var deltas int
	defer func() {
		close(events)
		close(errs)
		cancel()
		observability.StreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		m.span.End()
		slog.Debug("answer stream ended", "stream_id", id, "status", status, "deltas", deltas)
	}()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for {
		var (
			ev provider.Event
			ok bool
		)
		select {
		case ev, ok = <-upstream:
		case <-ctx.Done():
			m.fail(ctx.Err())
			return
		}
		if !ok {
			if ctx.Err() != nil {
				m.fail(ctx.Err())
				return
			}
			err := api.NewError(api.ErrGenerationStream, "rag.Answer", "provider stream closed without completion", nil)
			status = "error"
			m.fail(err)
			errs <- err
			return
		}

		switch ev.Type {
		case provider.EventTextDelta:
			if ev.Delta == "" {
				continue
			}
			if !send(StreamEvent{Type: StreamEventDelta, Delta: ev.Delta}) {
				m.fail(ctx.Err())
				return
			}
			deltas++
			observability.StreamTokensTotal.Inc()
		case provider.EventDone:
			if !send(StreamEvent{Type: StreamEventDone, FinishReason: ev.FinishReason, Usage: ev.Usage}) {
				m.fail(ctx.Err())
				return
			}
			if _, err := m.advance(api.QueryStateCompleted); err != nil {
				slog.Error("answer stream", "stream_id", id, "error", err)
			}
			status = "success"
			return
		case provider.EventError:
			err := ev.Err
			if api.KindOf(err) == nil {
				err = api.NewError(api.ErrGenerationStream, "rag.Answer", "generation failed", err)
			}
			status = "error"
			m.fail(err)
			errs <- err
			return
		}
	}
}
