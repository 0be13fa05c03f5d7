package embedding

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/debug"
	"github.com/rhuss/quelle/pkg/observability"
)

// DefaultBatchSize is used when Options.BatchSize is unset.
const DefaultBatchSize = 32

// Client embeds single texts and batches of texts.
type Client interface {
	// Embed returns the vector for one text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the vector size, or 0 while still unknown.
	Dimensions() int
	// Model returns the configured model identifier.
	Model() string
}

// Provider performs a single embedding request.
type Provider interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// Options configures a Batcher.
type Options struct {
	// BatchSize is the most texts sent in one upstream request.
	BatchSize int
	// Dimensions is the expected vector size. When 0 it is learned from
	// the first response.
	Dimensions int
	// Parallelism bounds concurrent sub-batches. Values below 2 issue
	// sub-batches sequentially.
	Parallelism int
	// RateLimit caps upstream requests per second. 0 disables limiting.
	RateLimit float64
	// Normalize scales every vector to unit length.
	Normalize bool
}

// Batcher implements Client on top of a Provider.
type Batcher struct {
	provider Provider
	opts     Options
	limiter  *rate.Limiter

	mu   sync.RWMutex
	dims int
}

var _ Client = (*Batcher)(nil)

// NewBatcher wraps p with batching, dimension checks and optional rate
// limiting.
func NewBatcher(p Provider, opts Options) *Batcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	b := &Batcher{provider: p, opts: opts, dims: opts.Dimensions}
	if opts.RateLimit > 0 {
		burst := int(math.Ceil(opts.RateLimit))
		b.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return b
}

// Model returns the provider's model identifier.
func (b *Batcher) Model() string {
	return b.provider.Model()
}

// Dimensions returns the configured or learned vector size.
func (b *Batcher) Dimensions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dims
}

// Embed implements Client.
func (b *Batcher) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Client.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	batches := partition(texts, b.opts.BatchSize)
	results := make([][][]float32, len(batches))

	if b.opts.Parallelism < 2 || len(batches) == 1 {
		for i, batch := range batches {
			vecs, err := b.embedOne(ctx, i, len(batches), batch)
			if err != nil {
				return nil, err
			}
			results[i] = vecs
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.opts.Parallelism)
		for i, batch := range batches {
			g.Go(func() error {
				vecs, err := b.embedOne(gctx, i, len(batches), batch)
				if err != nil {
					return err
				}
				results[i] = vecs
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, r := range results {
		out = append(out, r...)
	}
	if err := b.checkDimensions(out); err != nil {
		return nil, err
	}
	if b.opts.Normalize {
		for _, v := range out {
			l2normalize(v)
		}
	}
	return out, nil
}

func (b *Batcher) embedOne(ctx context.Context, idx, total int, batch []string) ([][]float32, error) {
	op := fmt.Sprintf("sub-batch %d of %d", idx+1, total)
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, api.NewError(api.ErrEmbeddingProvider, "embedding.EmbedBatch", op, err)
		}
	}

	start := time.Now()
	vecs, err := b.provider.EmbedTexts(ctx, batch)
	observability.EmbeddingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		return nil, api.NewError(api.ErrEmbeddingProvider, "embedding.EmbedBatch", op, err)
	}
	if len(vecs) != len(batch) {
		observability.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		return nil, api.NewError(api.ErrEmbeddingProvider, "embedding.EmbedBatch",
			fmt.Sprintf("%s: got %d vectors for %d inputs", op, len(vecs), len(batch)), nil)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			observability.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
			return nil, api.NewError(api.ErrEmbeddingProvider, "embedding.EmbedBatch",
				fmt.Sprintf("%s: empty vector at index %d", op, i), nil)
		}
	}
	observability.EmbeddingRequestsTotal.WithLabelValues("success").Inc()
	debug.Log("embedding", "sub-batch embedded", "batch", idx+1, "of", total, "texts", len(batch),
		"model", b.provider.Model(), "duration", time.Since(start))
	return vecs, nil
}

// checkDimensions verifies that every vector has the expected size and
// learns the size from the first response when none is configured.
func (b *Batcher) checkDimensions(vecs [][]float32) error {
	b.mu.Lock()
	if b.dims == 0 {
		b.dims = len(vecs[0])
	}
	want := b.dims
	b.mu.Unlock()

	for i, v := range vecs {
		if len(v) != want {
			return api.NewError(api.ErrDimensionMismatch, "embedding.EmbedBatch",
				fmt.Sprintf("vector %d has dimension %d, want %d", i, len(v), want), nil)
		}
	}
	return nil
}

func partition(texts []string, size int) [][]string {
	out := make([][]string, 0, (len(texts)+size-1)/size)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		out = append(out, texts[start:end])
	}
	return out
}

// l2normalize scales v to unit length in place.
func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
