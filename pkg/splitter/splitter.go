// Package splitter divides a Document into ordered, bounded Segments.
//
// Two strategies are available. The character splitter cuts fixed rune
// windows with overlap. The structural splitter cuts on blank lines and
// Markdown headings first and falls back to character windows for any unit
// that is still too long. Both are deterministic: the same document and
// parameters always produce identical segments.
package splitter

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/quelle/pkg/api"
)

// Defaults used when configuration leaves sizes unset.
const (
	DefaultMaxChunkSize = 1000
	DefaultOverlapSize  = 100
)

// Strategy names a splitting algorithm.
type Strategy string

const (
	StrategyCharacter  Strategy = "character"
	StrategyStructural Strategy = "structural"
)

// Splitter turns a document into segments with positions 0..n-1.
type Splitter interface {
	Split(doc *api.Document) ([]api.Segment, error)
}

// New returns the splitter for strategy. An empty strategy selects the
// character splitter.
func New(strategy Strategy, maxChunkSize, overlapSize int) (Splitter, error) {
	switch strategy {
	case StrategyCharacter, "":
		return NewCharacter(maxChunkSize, overlapSize)
	case StrategyStructural:
		return NewStructural(maxChunkSize, overlapSize)
	default:
		return nil, api.NewError(api.ErrInvalidConfiguration, "splitter.New",
			fmt.Sprintf("unknown strategy %q", strategy), nil)
	}
}

// ParseStrategy validates a strategy name from configuration or a request.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "", StrategyCharacter:
		return StrategyCharacter, nil
	case StrategyStructural:
		return st, nil
	default:
		return "", api.NewError(api.ErrInvalidConfiguration, "splitter.ParseStrategy",
			fmt.Sprintf("unknown strategy %q", s), nil)
	}
}

// Validate checks chunk parameters: the maximum must be positive and the
// overlap non-negative and strictly smaller than the maximum.
func Validate(maxChunkSize, overlapSize int) error {
	switch {
	case maxChunkSize <= 0:
		return api.NewError(api.ErrInvalidConfiguration, "splitter",
			fmt.Sprintf("maxChunkSize must be positive, got %d", maxChunkSize), nil)
	case overlapSize < 0:
		return api.NewError(api.ErrInvalidConfiguration, "splitter",
			fmt.Sprintf("overlapSize must not be negative, got %d", overlapSize), nil)
	case overlapSize >= maxChunkSize:
		return api.NewError(api.ErrInvalidConfiguration, "splitter",
			fmt.Sprintf("overlapSize (%d) must be smaller than maxChunkSize (%d)", overlapSize, maxChunkSize), nil)
	}
	return nil
}

// segmentBuilder assigns contiguous positions and shared fields.
type segmentBuilder struct {
	doc  *api.Document
	segs []api.Segment
}

func (b *segmentBuilder) add(title, content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	b.segs = append(b.segs, api.Segment{
		Position:      len(b.segs),
		Title:         title,
		Content:       content,
		ContentLength: utf8.RuneCountInString(content),
		DocumentID:    b.doc.ID,
		Metadata:      copyMetadata(b.doc.Metadata),
	})
}

func copyMetadata(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
