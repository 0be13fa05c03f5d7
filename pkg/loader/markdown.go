package loader

import (
	"regexp"
	"strings"
)

// Markdown handles Markdown files. Heading markers are kept so the
// structural splitter can use them as section boundaries.
type Markdown struct{}

var _ Format = Markdown{}

func (Markdown) Name() string         { return "markdown" }
func (Markdown) Extensions() []string { return []string{".md", ".markdown", ".mdown"} }
func (Markdown) MIMETypes() []string  { return []string{"text/markdown", "text/x-markdown"} }

var (
	mdImages        = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	mdLinks         = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHTMLComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	mdMultiNewlines = regexp.MustCompile(`\n{3,}`)
	mdFrontTitle    = regexp.MustCompile(`(?m)^title:\s*["']?(.*?)["']?\s*$`)
)

// Parse strips front matter, images and link targets. The title comes from
// the front matter or the first level-one heading.
func (Markdown) Parse(data []byte, _ string) (string, map[string]string, error) {
	s, err := decodeText(data)
	if err != nil {
		return "", nil, err
	}

	meta := map[string]string{}
	body, front := splitFrontMatter(s)
	if m := mdFrontTitle.FindStringSubmatch(front); m != nil && m[1] != "" {
		meta["title"] = m[1]
	}

	body = mdHTMLComments.ReplaceAllString(body, "")
	body = mdImages.ReplaceAllString(body, "")
	body = mdLinks.ReplaceAllString(body, "$1")
	body = mdMultiNewlines.ReplaceAllString(body, "\n\n")
	body = strings.TrimSpace(body)

	if meta["title"] == "" {
		if t := firstHeading(body); t != "" {
			meta["title"] = t
		}
	}
	return body, meta, nil
}

// splitFrontMatter separates a leading "---" delimited YAML block.
func splitFrontMatter(s string) (body, front string) {
	if !strings.HasPrefix(s, "---\n") {
		return s, ""
	}
	rest := s[len("---\n"):]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return s, ""
	}
	front = rest[:end]
	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return body, front
}

func firstHeading(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}
