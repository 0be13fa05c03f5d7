package rag

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/debug"
)

var tracer = otel.Tracer("quelle/rag")

// machine tracks the state of one request, validates each transition and
// records it as a span event.
type machine[S ~string] struct {
	span     trace.Span
	state    S
	failed   S
	validate func(from, to S) error
	entered  time.Time
}

func newMachine[S ~string](span trace.Span, failed S, validate func(from, to S) error) *machine[S] {
	return &machine[S]{span: span, failed: failed, validate: validate, entered: time.Now()}
}

// advance moves to next and returns the time spent in the previous state.
func (m *machine[S]) advance(next S) (time.Duration, error) {
	if err := m.validate(m.state, next); err != nil {
		return 0, err
	}
	now := time.Now()
	elapsed := now.Sub(m.entered)
	m.state, m.entered = next, now
	m.span.AddEvent(string(next))
	debug.Log("rag", "state", "state", string(next))
	return elapsed, nil
}

// fail moves to the failed state and marks the span as errored.
func (m *machine[S]) fail(err error) {
	if m.state == m.failed {
		return
	}
	if verr := m.validate(m.state, m.failed); verr != nil {
		slog.Error("state machine", "from", string(m.state), "error", verr)
	}
	m.state = m.failed
	m.span.RecordError(err)
	m.span.SetStatus(codes.Error, err.Error())
	m.span.AddEvent(string(m.failed))
}

func startIngestSpan(ctx context.Context, req *IngestRequest, collection string) (context.Context, *machine[api.IngestState]) {
	ctx, span := tracer.Start(ctx, "rag.ingest", trace.WithAttributes(
		attribute.String("quelle.filename", req.Filename),
		attribute.String("quelle.dataset", req.DatasetID),
		attribute.String("quelle.collection", collection),
	))
	return ctx, newMachine(span, api.IngestStateFailed, api.ValidateIngestTransition)
}

func startQuerySpan(ctx context.Context, name string, req *QueryRequest, collection string) (context.Context, *machine[api.QueryState]) {
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("quelle.dataset", req.DatasetID),
		attribute.String("quelle.collection", collection),
		attribute.Int("quelle.top_k", req.TopK),
	))
	return ctx, newMachine(span, api.QueryStateFailed, api.ValidateQueryTransition)
}
