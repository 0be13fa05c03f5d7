package loader

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// CSV renders each data row as "column: value" lines, one paragraph per row,
// so every row can become its own segment.
type CSV struct{}

var _ Format = CSV{}

func (CSV) Name() string         { return "csv" }
func (CSV) Extensions() []string { return []string{".csv"} }
func (CSV) MIMETypes() []string  { return []string{"text/csv"} }

// Parse treats the first record as the header.
func (CSV) Parse(data []byte, _ string) (string, map[string]string, error) {
	s, err := decodeText(data)
	if err != nil {
		return "", nil, err
	}
	r := csv.NewReader(strings.NewReader(s))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "", map[string]string{"rows": "0"}, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("reading header: %w", err)
	}

	var rows []string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading row %d: %w", len(rows)+1, err)
		}
		var b strings.Builder
		for i, v := range rec {
			col := "column" + strconv.Itoa(i+1)
			if i < len(header) && strings.TrimSpace(header[i]) != "" {
				col = strings.TrimSpace(header[i])
			}
			if b.Len() > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(col + ": " + strings.TrimSpace(v))
		}
		rows = append(rows, b.String())
	}
	return strings.Join(rows, "\n\n"), map[string]string{"rows": strconv.Itoa(len(rows))}, nil
}

// JSON pretty-prints a JSON document so nested structure survives splitting.
type JSON struct{}

var _ Format = JSON{}

func (JSON) Name() string         { return "json" }
func (JSON) Extensions() []string { return []string{".json"} }
func (JSON) MIMETypes() []string  { return []string{"application/json"} }

// Parse rejects malformed JSON.
func (JSON) Parse(data []byte, _ string) (string, map[string]string, error) {
	var out bytes.Buffer
	if err := json.Indent(&out, bytes.TrimSpace(data), "", "  "); err != nil {
		return "", nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return out.String(), nil, nil
}
