package loader

import (
	"html"
	"regexp"
	"strings"
)

// HTML handles HTML documents. Headings are rewritten as Markdown heading
// lines and block elements become paragraph breaks.
type HTML struct{}

var _ Format = HTML{}

func (HTML) Name() string         { return "html" }
func (HTML) Extensions() []string { return []string{".html", ".htm", ".xhtml"} }
func (HTML) MIMETypes() []string  { return []string{"text/html", "application/xhtml+xml"} }

var (
	htmlTitle       = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	htmlDropped     = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg)[^>]*>.*?</(script|style|noscript|head|svg)>`)
	htmlComments    = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlHeadings    = regexp.MustCompile(`(?is)<h([1-6])[^>]*>(.*?)</h[1-6]>`)
	htmlBlockClose  = regexp.MustCompile(`(?i)</(p|div|li|tr|blockquote|pre|table|section|article|ul|ol)>`)
	htmlLineBreaks  = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	htmlTags        = regexp.MustCompile(`<[^>]+>`)
	htmlMultiSpaces = regexp.MustCompile(`[ \t]+`)
)

// Parse extracts readable text and the <title>.
func (HTML) Parse(data []byte, _ string) (string, map[string]string, error) {
	s, err := decodeText(data)
	if err != nil {
		return "", nil, err
	}

	meta := map[string]string{}
	if m := htmlTitle.FindStringSubmatch(s); m != nil {
		if t := strings.TrimSpace(html.UnescapeString(m[1])); t != "" {
			meta["title"] = t
		}
	}

	s = htmlDropped.ReplaceAllString(s, "")
	s = htmlComments.ReplaceAllString(s, "")
	s = htmlHeadings.ReplaceAllStringFunc(s, func(h string) string {
		m := htmlHeadings.FindStringSubmatch(h)
		level := int(m[1][0] - '0')
		inner := strings.TrimSpace(htmlTags.ReplaceAllString(m[2], ""))
		return "\n\n" + strings.Repeat("#", level) + " " + inner + "\n\n"
	})
	s = htmlBlockClose.ReplaceAllString(s, "\n\n")
	s = htmlLineBreaks.ReplaceAllString(s, "\n")
	s = htmlTags.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = htmlMultiSpaces.ReplaceAllString(s, " ")

	return collapseBlankLines(s), meta, nil
}

// collapseBlankLines trims every line and keeps at most one empty line
// between paragraphs.
func collapseBlankLines(s string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
