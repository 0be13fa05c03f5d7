package api

import (
	"fmt"
	"math"
	"strconv"
)

// Well-known metadata keys set by the loader and the write path.
const (
	MetaSource     = "source"
	MetaFormat     = "format"
	MetaMIMEType   = "mime_type"
	MetaTitle      = "title"
	MetaDocumentID = "documentId"
	MetaDatasetID  = "datasetId"
	MetaTenantID   = "tenantId"
	MetaPosition   = "position"
)

// Document is the text extracted from one source file. It is immutable once
// loaded and lives only for the duration of the ingestion call.
type Document struct {
	// ID is the source filename.
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Title returns the detected title, if any.
func (d *Document) Title() string {
	return d.Metadata[MetaTitle]
}

// Segment is a bounded span of a Document and the unit of embedding and
// retrieval. Positions within one document are contiguous from zero.
type Segment struct {
	ID            string            `json:"id,omitempty"`
	Position      int               `json:"position"`
	Title         string            `json:"title,omitempty"`
	Content       string            `json:"content"`
	ContentLength int               `json:"content_length"`
	DocumentID    string            `json:"document_id"`
	DatasetID     string            `json:"dataset_id,omitempty"`
	TenantID      string            `json:"tenant_id,omitempty"`
	VectorID      string            `json:"vector_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SearchText is the text stored alongside the segment's vector: the title
// and content joined by a newline, or the content alone.
func (s *Segment) SearchText() string {
	if s.Title == "" {
		return s.Content
	}
	return s.Title + "\n" + s.Content
}

// VectorRecord is the persisted form of a segment inside a collection.
type VectorRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorQuery describes a similarity search. When Vector is nil the Text is
// embedded first. An empty Collection selects the configured default.
type VectorQuery struct {
	Vector         []float32 `json:"vector,omitempty"`
	Text           string    `json:"text,omitempty"`
	Collection     string    `json:"collection,omitempty"`
	Limit          int       `json:"limit"`
	MinScore       float32   `json:"min_score"`
	Filter         Filter    `json:"filter,omitempty"`
	IncludeVectors bool      `json:"include_vectors,omitempty"`
}

// QueryResult is one matched record. Results are ordered by descending Score.
type QueryResult struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Score    float32        `json:"score"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Filter is a conjunction of exact-match conditions over metadata keys.
type Filter map[string]any

// Matches reports whether every condition in f holds for meta. Numeric values
// compare by value regardless of their Go type, since metadata read back from
// JSON backends decodes integers as float64.
func (f Filter) Matches(meta map[string]any) bool {
	for k, want := range f {
		got, ok := meta[k]
		if !ok || !ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// ValuesEqual compares two scalar metadata values.
func ValuesEqual(a, b any) bool {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		return af == bf
	}
	if aNum != bNum {
		return false
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// MetadataString renders a metadata value as a string, formatting whole
// numbers without a fractional part.
func MetadataString(v any) string {
	if f, ok := toFloat(v); ok {
		if f == math.Trunc(f) {
			return strconv.FormatInt(int64(f), 10)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
