package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "embedding", []string{"embedding"}},
		{"multiple", "loader,store", []string{"loader", "store"}},
		{"spaces and case", " Loader , STORE ", []string{"loader", "store"}},
		{"empty segments", "rag,,http", []string{"http", "rag"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("len(got) = %d, want %d", len(got), len(tt.want))
			}
			for _, c := range tt.want {
				if !got[c] {
					t.Errorf("category %q missing", c)
				}
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("embedding,store")
	if !Enabled("embedding") || !Enabled("store") {
		t.Error("configured categories should be enabled")
	}
	if Enabled("loader") {
		t.Error("loader should not be enabled")
	}

	categories = parseCategories("all")
	if !Enabled("anything") {
		t.Error("all should enable every category")
	}
}

func TestCategoriesSorted(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("store,embedding,http")
	got := strings.Join(Categories(), ",")
	if got != "embedding,http,store" {
		t.Errorf("Categories() = %q, want sorted list", got)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "json", slog.LevelInfo))
	logger.Info("ingested", "segments", 4)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("json handler output not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "ingested" {
		t.Errorf("msg = %v, want ingested", rec["msg"])
	}
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, "", slog.LevelWarn))
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Error("info record should be filtered at WARN")
	}
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("text output = %q, want msg=shown", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q", got)
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q", got)
	}
	if got := Truncate("äöüäöü", 3); got != "äöü..." {
		t.Errorf("Truncate multibyte = %q", got)
	}
}

func TestLogDisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")
	Log("store", "test message", "key", "value")
	Trace("store", "trace message", "key", "value")
}
