package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/debug"
)

// Format parses one family of file types into plain text.
type Format interface {
	// Name is the short format identifier stored in document metadata.
	Name() string
	// Extensions lists lower-case filename extensions including the dot.
	Extensions() []string
	// MIMETypes lists the media types this format accepts.
	MIMETypes() []string
	// Parse extracts text and format-specific metadata (such as the title).
	Parse(data []byte, filename string) (string, map[string]string, error)
}

// Registry resolves files to formats. It is immutable after construction.
type Registry struct {
	byExt   map[string]Format
	byMIME  map[string]Format
	formats []Format
}

// NewRegistry builds a registry from formats. When two formats claim the
// same extension or MIME type, the one listed first wins.
func NewRegistry(formats ...Format) *Registry {
	r := &Registry{
		byExt:   make(map[string]Format),
		byMIME:  make(map[string]Format),
		formats: formats,
	}
	for _, f := range formats {
		for _, ext := range f.Extensions() {
			ext = strings.ToLower(ext)
			if _, taken := r.byExt[ext]; !taken {
				r.byExt[ext] = f
			}
		}
		for _, mt := range f.MIMETypes() {
			if _, taken := r.byMIME[mt]; !taken {
				r.byMIME[mt] = f
			}
		}
	}
	return r
}

// Default returns the shared registry holding every built-in format.
var Default = sync.OnceValue(func() *Registry {
	return NewRegistry(
		Markdown{},
		HTML{},
		DOCX{},
		CSV{},
		JSON{},
		NewPDF(nil),
		Text{},
	)
})

// Load parses data, resolving its format from filename or its content.
func (r *Registry) Load(data []byte, filename string) (*api.Document, error) {
	return r.LoadWithType(data, filename, "")
}

// LoadWithType parses data like Load. A declared content type is consulted
// after the extension and before sniffing.
func (r *Registry) LoadWithType(data []byte, filename, contentType string) (*api.Document, error) {
	f, mimeType, ok := r.Resolve(filename, contentType, data)
	if !ok {
		return nil, api.NewError(api.ErrUnsupportedFormat, "loader.Load",
			fmt.Sprintf("no loader for %q", filename), nil)
	}
	debug.Log("loader", "resolved format", "filename", filename, "format", f.Name(), "mime_type", mimeType)

	text, meta, err := f.Parse(data, filename)
	if err != nil {
		if api.KindOf(err) != nil {
			return nil, err
		}
		return nil, api.NewError(api.ErrLoadError, "loader.Load",
			fmt.Sprintf("parsing %q as %s", filename, f.Name()), err)
	}

	md := map[string]string{
		api.MetaSource:   filename,
		api.MetaFormat:   f.Name(),
		api.MetaMIMEType: mimeType,
	}
	for k, v := range meta {
		md[k] = v
	}
	if md[api.MetaTitle] == "" {
		if t := titleFromFilename(filename); t != "" {
			md[api.MetaTitle] = t
		}
	}

	return &api.Document{ID: filename, Text: text, Metadata: md}, nil
}

// LoadReader reads the stream fully and parses it.
func (r *Registry) LoadReader(rd io.Reader, filename string) (*api.Document, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, api.NewError(api.ErrLoadError, "loader.LoadReader",
			fmt.Sprintf("reading %q", filename), err)
	}
	return r.Load(data, filename)
}

// LoadFile reads and parses the file at path. The document ID is the base
// name of the path.
func (r *Registry) LoadFile(path string) (*api.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, api.NewError(api.ErrLoadError, "loader.LoadFile",
			fmt.Sprintf("reading %q", path), err)
	}
	return r.Load(data, filepath.Base(path))
}

// Resolve selects the format for a file and reports the MIME type used.
func (r *Registry) Resolve(filename, contentType string, data []byte) (Format, string, bool) {
	ext := strings.ToLower(filepath.Ext(filename))
	if f, ok := r.byExt[ext]; ok {
		return f, firstMIME(f), true
	}

	if mt := normalizeMIME(contentType); mt != "" && mt != "application/octet-stream" {
		if f, ok := r.byMIME[mt]; ok {
			return f, mt, true
		}
	}

	mt := Sniff(data)
	if f, ok := r.byMIME[mt]; ok {
		return f, mt, true
	}
	return nil, mt, false
}

// Extensions returns every registered extension in sorted order.
func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Supports reports whether filename has a registered extension.
func (r *Registry) Supports(filename string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(filename))]
	return ok
}

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

// Sniff detects a MIME type from magic bytes, falling back to
// http.DetectContentType. Parameters such as charset are stripped.
func Sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return "application/pdf"
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		if bytes.Contains(data, []byte("word/")) {
			return docxMIME
		}
		return "application/zip"
	}

	mt := normalizeMIME(http.DetectContentType(data))
	if mt == "text/plain" {
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && jsonValid(trimmed) {
			return "application/json"
		}
	}
	return mt
}

func normalizeMIME(ct string) string {
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	}
	return mt
}

func firstMIME(f Format) string {
	if mts := f.MIMETypes(); len(mts) > 0 {
		return mts[0]
	}
	return "application/octet-stream"
}

// titleFromFilename derives a readable title from a filename.
func titleFromFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}

// errEmptyInput is returned by binary formats handed zero bytes.
var errEmptyInput = errors.New("empty input")
