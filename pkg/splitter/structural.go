package splitter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/rhuss/quelle/pkg/api"
)

var headingLine = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// Structural splits on blank lines and Markdown headings. Consecutive
// paragraphs under the same heading are packed up to MaxChunkSize runes;
// a paragraph longer than that is cut into character windows.
type Structural struct {
	MaxChunkSize int
	OverlapSize  int
}

var _ Splitter = (*Structural)(nil)

// NewStructural validates the parameters and returns a structural splitter.
func NewStructural(maxChunkSize, overlapSize int) (*Structural, error) {
	if err := Validate(maxChunkSize, overlapSize); err != nil {
		return nil, err
	}
	return &Structural{MaxChunkSize: maxChunkSize, OverlapSize: overlapSize}, nil
}

// block is a paragraph or a heading.
type block struct {
	heading string
	text    string
}

// Split implements Splitter. Heading text becomes the Title of the
// segments that follow it; the document title is used before the first
// heading.
func (s *Structural) Split(doc *api.Document) ([]api.Segment, error) {
	if err := Validate(s.MaxChunkSize, s.OverlapSize); err != nil {
		return nil, err
	}

	b := &segmentBuilder{doc: doc}
	title := doc.Title()
	var buf []string
	bufLen := 0

	flush := func() {
		if len(buf) > 0 {
			b.add(title, strings.Join(buf, "\n\n"))
		}
		buf, bufLen = nil, 0
	}

	for _, blk := range parseBlocks(doc.Text) {
		if blk.heading != "" {
			flush()
			title = blk.heading
			continue
		}

		n := utf8.RuneCountInString(blk.text)
		if n > s.MaxChunkSize {
			flush()
			for _, piece := range windows(blk.text, s.MaxChunkSize, s.OverlapSize) {
				b.add(title, piece)
			}
			continue
		}

		sep := 0
		if len(buf) > 0 {
			sep = 2
		}
		if bufLen+sep+n > s.MaxChunkSize {
			flush()
			sep = 0
		}
		buf = append(buf, blk.text)
		bufLen += sep + n
	}
	flush()
	return b.segs, nil
}

// parseBlocks separates text into paragraphs at blank lines. A heading
// line is always its own block. Lines inside fenced code are never headings.
func parseBlocks(text string) []block {
	var blocks []block
	var para []string
	inFence := false

	end := func() {
		if len(para) > 0 {
			p := strings.TrimSpace(strings.Join(para, "\n"))
			if p != "" {
				blocks = append(blocks, block{text: p})
			}
			para = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			end()
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if m := headingLine.FindStringSubmatch(trimmed); m != nil && !inFence {
			end()
			blocks = append(blocks, block{heading: m[2]})
			continue
		}
		para = append(para, strings.TrimRight(line, " \t"))
	}
	end()
	return blocks
}
