package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhuss/quelle/pkg/api"
)

func buildDOCX(t *testing.T, documentXML, coreXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	if coreXML != "" {
		w, err = zw.Create("docProps/core.xml")
		require.NoError(t, err)
		_, err = w.Write([]byte(coreXML))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const sampleDocumentXML = `<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Overview</w:t></w:r></w:p>
<w:p><w:r><w:t>First </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
<w:p></w:p>
<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
</w:body>
</w:document>`

const sampleCoreXML = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
<dc:title>Quarterly Report</dc:title>
</cp:coreProperties>`

func TestLoadByExtension(t *testing.T) {
	reg := Default()

	tests := []struct {
		name       string
		filename   string
		data       string
		wantFormat string
		wantText   string
		wantTitle  string
	}{
		{
			name:       "plain text",
			filename:   "notes.TXT",
			data:       "line one\r\nline two",
			wantFormat: "text",
			wantText:   "line one\nline two",
			wantTitle:  "notes",
		},
		{
			name:       "markdown keeps headings",
			filename:   "guide.md",
			data:       "# Install Guide\n\nSee [docs](http://x.y) ![logo](l.png)\n\n## Step 1\n\nRun it.",
			wantFormat: "markdown",
			wantText:   "# Install Guide\n\nSee docs \n\n## Step 1\n\nRun it.",
			wantTitle:  "Install Guide",
		},
		{
			name:       "markdown front matter title",
			filename:   "post.markdown",
			data:       "---\ntitle: \"From Front Matter\"\ntags: [a]\n---\n\nBody text.",
			wantFormat: "markdown",
			wantText:   "Body text.",
			wantTitle:  "From Front Matter",
		},
		{
			name:       "html",
			filename:   "page.html",
			data:       "<html><head><title>Tom &amp; Jerry</title><style>p{}</style></head><body><h2>Cast</h2><p>Tom is a cat.</p><script>x()</script><p>Jerry is a mouse.</p></body></html>",
			wantFormat: "html",
			wantText:   "## Cast\n\nTom is a cat.\n\nJerry is a mouse.",
			wantTitle:  "Tom & Jerry",
		},
		{
			name:       "csv",
			filename:   "people.csv",
			data:       "name,role\nAda,engineer\nGrace,admiral\n",
			wantFormat: "csv",
			wantText:   "name: Ada\nrole: engineer\n\nname: Grace\nrole: admiral",
			wantTitle:  "people",
		},
		{
			name:       "json",
			filename:   "config.json",
			data:       `{"a":1,"b":[true]}`,
			wantFormat: "json",
			wantText:   "{\n  \"a\": 1,\n  \"b\": [\n    true\n  ]\n}",
			wantTitle:  "config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := reg.Load([]byte(tt.data), tt.filename)
			require.NoError(t, err)
			assert.Equal(t, tt.filename, doc.ID)
			assert.Equal(t, tt.wantFormat, doc.Metadata[api.MetaFormat])
			assert.Equal(t, tt.filename, doc.Metadata[api.MetaSource])
			assert.NotEmpty(t, doc.Metadata[api.MetaMIMEType])
			assert.Equal(t, tt.wantText, doc.Text)
			assert.Equal(t, tt.wantTitle, doc.Title())
		})
	}
}

func TestLoadDOCX(t *testing.T) {
	data := buildDOCX(t, sampleDocumentXML, sampleCoreXML)

	doc, err := Default().Load(data, "report.docx")
	require.NoError(t, err)
	assert.Equal(t, "docx", doc.Metadata[api.MetaFormat])
	assert.Equal(t, "Quarterly Report", doc.Title())
	assert.Equal(t, "# Overview\n\nFirst paragraph.\n\nSecond paragraph.", doc.Text)
}

func TestLoadDOCXWithoutCoreFallsBackToFilename(t *testing.T) {
	data := buildDOCX(t, sampleDocumentXML, "")

	doc, err := Default().Load(data, "annual_report-2024.docx")
	require.NoError(t, err)
	assert.Equal(t, "annual report 2024", doc.Title())
}

func TestLoadBySniffing(t *testing.T) {
	reg := Default()

	t.Run("docx without extension", func(t *testing.T) {
		doc, err := reg.Load(buildDOCX(t, sampleDocumentXML, ""), "upload")
		require.NoError(t, err)
		assert.Equal(t, "docx", doc.Metadata[api.MetaFormat])
	})

	t.Run("html without extension", func(t *testing.T) {
		doc, err := reg.Load([]byte("<!DOCTYPE html><html><body><p>hi</p></body></html>"), "blob")
		require.NoError(t, err)
		assert.Equal(t, "html", doc.Metadata[api.MetaFormat])
		assert.Equal(t, "hi", doc.Text)
	})

	t.Run("json with unknown extension", func(t *testing.T) {
		doc, err := reg.Load([]byte(`[1,2]`), "data.dat")
		require.NoError(t, err)
		assert.Equal(t, "json", doc.Metadata[api.MetaFormat])
	})

	t.Run("text with unknown extension", func(t *testing.T) {
		doc, err := reg.Load([]byte("just words"), "README")
		require.NoError(t, err)
		assert.Equal(t, "text", doc.Metadata[api.MetaFormat])
	})
}

func TestLoadWithDeclaredType(t *testing.T) {
	doc, err := Default().LoadWithType([]byte("# Title\n\nbody"), "upload", "text/markdown; charset=utf-8")
	require.NoError(t, err)
	assert.Equal(t, "markdown", doc.Metadata[api.MetaFormat])
	assert.Equal(t, "text/markdown", doc.Metadata[api.MetaMIMEType])
}

func TestLoadUnsupportedFormat(t *testing.T) {
	data := []byte{0x00, 0x01, 0x02, 0xff, 0xfe, 0x00, 0x10}
	doc, err := Default().Load(data, "image.bin")
	require.Error(t, err)
	assert.Nil(t, doc)
	assert.True(t, errors.Is(err, api.ErrUnsupportedFormat))
	assert.Contains(t, err.Error(), "image.bin")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"corrupt docx", "broken.docx", []byte("PK\x03\x04 not really a zip")},
		{"docx missing body", "empty.docx", nil},
		{"invalid json", "bad.json", []byte(`{"a":`)},
		{"invalid utf8 text", "latin1.txt", []byte{'c', 'a', 'f', 0xe9}},
		{"ragged quote csv", "bad.csv", []byte("a,b\n\"unterminated,1\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := Default().Load(tt.data, tt.filename)
			require.Error(t, err)
			assert.Nil(t, doc)
			assert.True(t, errors.Is(err, api.ErrLoadError), "got %v", err)
		})
	}
}

func TestLoadDOCXWithoutDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("other.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Default().Load(buf.Bytes(), "x.docx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrLoadError))
	assert.True(t, errors.Is(err, errNoDocumentXML))
}

func TestLoadFileAndReader(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "manual.md")
	require.NoError(t, os.WriteFile(path, []byte("# Manual\n\ntext"), 0o600))

	doc, err := Default().LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "manual.md", doc.ID)
	assert.Equal(t, "Manual", doc.Title())

	doc, err = Default().LoadReader(strings.NewReader("streamed"), "s.txt")
	require.NoError(t, err)
	assert.Equal(t, "streamed", doc.Text)

	_, err = Default().LoadFile(filepath.Join(dir, "missing.txt"))
	assert.True(t, errors.Is(err, api.ErrLoadError))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestLoadReaderError(t *testing.T) {
	_, err := Default().LoadReader(failingReader{}, "x.txt")
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrLoadError))
}

type mockRunner struct {
	output []byte
	err    error
	args   []string
}

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	m.args = append([]string{name}, args...)
	return m.output, m.err
}

func TestPDFFormat(t *testing.T) {
	runner := &mockRunner{output: []byte("Page one text\n\fPage two text\n\f")}
	reg := NewRegistry(NewPDF(runner))

	doc, err := reg.Load([]byte("%PDF-1.7 ..."), "paper.pdf")
	require.NoError(t, err)
	assert.Equal(t, "Page one text\n\nPage two text", doc.Text)
	assert.Equal(t, "2", doc.Metadata["pages"])
	assert.Equal(t, "pdftotext", runner.args[0])

	runner.err = errors.New("exec: pdftotext not found")
	_, err = reg.Load([]byte("%PDF-1.7"), "paper.pdf")
	assert.True(t, errors.Is(err, api.ErrLoadError))
}

func TestRegistryFirstFormatWins(t *testing.T) {
	reg := NewRegistry(Markdown{}, Text{})
	f, _, ok := reg.Resolve("x.md", "", nil)
	require.True(t, ok)
	assert.Equal(t, "markdown", f.Name())

	assert.True(t, reg.Supports("README.TXT"))
	assert.False(t, reg.Supports("a.pdf"))
	assert.Contains(t, reg.Extensions(), ".markdown")
}

func TestSniff(t *testing.T) {
	assert.Equal(t, "application/pdf", Sniff([]byte("%PDF-1.4\n")))
	assert.Equal(t, "application/zip", Sniff([]byte("PK\x03\x04rest")))
	assert.Equal(t, "text/html", Sniff([]byte("<html><body></body></html>")))
	assert.Equal(t, "application/json", Sniff([]byte(` {"k": "v"}`)))
	assert.Equal(t, "text/plain", Sniff([]byte(`{not json`)))
}

func TestDefaultRegistryConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			doc, err := Default().Load([]byte("concurrent"), "c.txt")
			assert.NoError(t, err)
			assert.Equal(t, "concurrent", doc.Text)
		}()
	}
	wg.Wait()
	assert.Same(t, Default(), Default())
}
