package rag

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/rhuss/quelle/pkg/api"
)

// DefaultSystemPrompt grounds the model in the retrieved sources.
const DefaultSystemPrompt = `You answer questions using only the numbered sources below.
Cite sources as [n]. If the sources do not contain the answer, say that you do not know.

{{range .Sources -}}
[{{.Index}}]{{with .Title}} {{.}}{{end}}{{with .Source}} ({{.}}){{end}}
{{.Text}}

{{else -}}
No sources were found for this question.
{{end -}}`

// PromptData is passed to the system prompt template.
type PromptData struct {
	Question string
	Sources  []PromptSource
}

// PromptSource is one retrieved segment as seen by the template.
type PromptSource struct {
	Index  int
	Title  string
	Source string
	Text   string
	Score  float32
}

func parsePrompt(text string) (*template.Template, error) {
	tmpl, err := template.New("system").Option("missingkey=zero").Parse(text)
	if err != nil {
		return nil, api.NewError(api.ErrInvalidConfiguration, "rag.New", "parsing system prompt template", err)
	}
	return tmpl, nil
}

// promptData numbers sources from 1 in retrieval order.
func promptData(question string, results []api.QueryResult) PromptData {
	data := PromptData{Question: question, Sources: make([]PromptSource, len(results))}
	for i, r := range results {
		data.Sources[i] = PromptSource{
			Index:  i + 1,
			Title:  api.MetadataString(r.Metadata[api.MetaTitle]),
			Source: api.MetadataString(r.Metadata[api.MetaSource]),
			Text:   stripTitle(r),
			Score:  r.Score,
		}
	}
	return data
}

// stripTitle removes the leading title line that stored search text
// carries, since the template prints the title separately.
func stripTitle(r api.QueryResult) string {
	title := api.MetadataString(r.Metadata[api.MetaTitle])
	if title != "" {
		if rest, ok := strings.CutPrefix(r.Text, title+"\n"); ok {
			return rest
		}
	}
	return r.Text
}

func renderPrompt(tmpl *template.Template, data PromptData) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("rendering system prompt: %w", err)
	}
	return sb.String(), nil
}
