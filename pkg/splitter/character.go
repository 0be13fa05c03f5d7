package splitter

import (
	"strings"

	"github.com/rhuss/quelle/pkg/api"
)

// Character cuts a document into windows of at most MaxChunkSize runes.
// Each window after the first starts OverlapSize runes before the previous
// window ended.
type Character struct {
	MaxChunkSize int
	OverlapSize  int
}

var _ Splitter = (*Character)(nil)

// NewCharacter validates the parameters and returns a character splitter.
func NewCharacter(maxChunkSize, overlapSize int) (*Character, error) {
	if err := Validate(maxChunkSize, overlapSize); err != nil {
		return nil, err
	}
	return &Character{MaxChunkSize: maxChunkSize, OverlapSize: overlapSize}, nil
}

// Split implements Splitter. Whitespace-only windows are dropped.
func (c *Character) Split(doc *api.Document) ([]api.Segment, error) {
	if err := Validate(c.MaxChunkSize, c.OverlapSize); err != nil {
		return nil, err
	}
	b := &segmentBuilder{doc: doc}
	for _, piece := range windows(doc.Text, c.MaxChunkSize, c.OverlapSize) {
		b.add(doc.Title(), piece)
	}
	return b.segs, nil
}

// windows returns the overlapping rune spans of s. The final window ends at
// the end of s; no window lies entirely inside its predecessor. A final window
// that adds only whitespace past its predecessor is left out.
func windows(s string, size, overlap int) []string {
	runes := []rune(s)
	n := len(runes)
	if n == 0 {
		return nil
	}
	step := size - overlap
	var out []string
	for start := 0; start < n; start += step {
		end := start + size
		if end > n {
			end = n
		}
		if start > 0 && end == n && strings.TrimSpace(string(runes[start+overlap:end])) == "" {
			break
		}
		out = append(out, string(runes[start:end]))
		if end == n {
			break
		}
	}
	return out
}
