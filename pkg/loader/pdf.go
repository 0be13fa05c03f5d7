package loader

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// CommandRunner runs an external program and returns its standard output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct {
	stdin []byte
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(r.stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// PDF extracts text by piping the document through pdftotext (poppler).
type PDF struct {
	runner  CommandRunner
	timeout time.Duration
}

var _ Format = (*PDF)(nil)

// NewPDF creates a PDF format. A nil runner executes pdftotext from PATH with
// the document on stdin.
func NewPDF(runner CommandRunner) *PDF {
	return &PDF{runner: runner, timeout: 30 * time.Second}
}

func (*PDF) Name() string         { return "pdf" }
func (*PDF) Extensions() []string { return []string{".pdf"} }
func (*PDF) MIMETypes() []string  { return []string{"application/pdf"} }

// Parse runs "pdftotext -layout - -". Form feeds between pages become
// paragraph breaks.
func (p *PDF) Parse(data []byte, _ string) (string, map[string]string, error) {
	if len(data) == 0 {
		return "", nil, errEmptyInput
	}
	runner := p.runner
	if runner == nil {
		runner = execRunner{stdin: data}
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	out, err := runner.Run(ctx, "pdftotext", "-layout", "-enc", "UTF-8", "-", "-")
	if err != nil {
		return "", nil, err
	}

	text, err := decodeText(out)
	if err != nil {
		return "", nil, err
	}
	pages := strings.Split(text, "\f")
	for i := range pages {
		pages[i] = strings.TrimSpace(pages[i])
	}
	meta := map[string]string{"pages": fmt.Sprint(countNonEmpty(pages))}
	return strings.TrimSpace(strings.Join(pages, "\n\n")), meta, nil
}

func countNonEmpty(ss []string) int {
	n := 0
	for _, s := range ss {
		if s != "" {
			n++
		}
	}
	return n
}
