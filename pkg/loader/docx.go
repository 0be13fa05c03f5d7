package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DOCX handles Office Open XML word-processing documents.
type DOCX struct{}

var _ Format = DOCX{}

func (DOCX) Name() string         { return "docx" }
func (DOCX) Extensions() []string { return []string{".docx"} }
func (DOCX) MIMETypes() []string  { return []string{docxMIME} }

var errNoDocumentXML = errors.New("word/document.xml not found")

// Parse reads word/document.xml for text and docProps/core.xml for the title.
// Heading paragraph styles become Markdown heading lines.
func (DOCX) Parse(data []byte, _ string) (string, map[string]string, error) {
	if len(data) == 0 {
		return "", nil, errEmptyInput
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("opening archive: %w", err)
	}

	body, err := readZipEntry(zr, "word/document.xml")
	if err != nil {
		return "", nil, err
	}
	if body == nil {
		return "", nil, errNoDocumentXML
	}
	text, err := parseDocumentXML(body)
	if err != nil {
		return "", nil, fmt.Errorf("parsing document.xml: %w", err)
	}

	meta := map[string]string{}
	if core, err := readZipEntry(zr, "docProps/core.xml"); err == nil && core != nil {
		var props struct {
			Title string `xml:"title"`
		}
		if xml.Unmarshal(core, &props) == nil && strings.TrimSpace(props.Title) != "" {
			meta["title"] = strings.TrimSpace(props.Title)
		}
	}
	return text, meta, nil
}

func readZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", name, err)
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		return b, nil
	}
	return nil, nil
}

type wordDocument struct {
	Body struct {
		Paragraphs []wordParagraph `xml:"p"`
	} `xml:"body"`
}

type wordParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs []struct {
		Text []string `xml:"t"`
	} `xml:"r"`
}

func parseDocumentXML(content []byte) (string, error) {
	var doc wordDocument
	if err := xml.Unmarshal(content, &doc); err != nil {
		return "", err
	}

	var paras []string
	for _, p := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, r := range p.Runs {
			for _, t := range r.Text {
				b.WriteString(t)
			}
		}
		line := strings.TrimSpace(b.String())
		if line == "" {
			continue
		}
		if level := headingLevel(p.Props.Style.Val); level > 0 {
			line = strings.Repeat("#", level) + " " + line
		}
		paras = append(paras, line)
	}
	return strings.Join(paras, "\n\n"), nil
}

// headingLevel maps Word paragraph styles ("Title", "Heading1".."Heading6")
// to heading depth, or 0 for body text.
func headingLevel(style string) int {
	if style == "Title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(style, "Heading"); ok && len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
		return int(rest[0] - '0')
	}
	return 0
}
