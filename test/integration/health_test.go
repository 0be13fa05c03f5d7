package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("body = %q, want to contain \"ok\"", body)
	}
}

func TestReadyEndpoint(t *testing.T) {
	resp := getURL(t, testEnv.BaseURL()+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
		return
	}
	resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	mustUpload(t, "metrics", "m.txt", "Metrics are exported.")

	resp := getURL(t, testEnv.BaseURL()+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := readBody(t, resp)
	for _, name := range []string{"quelle_ingest_total", "quelle_http_requests_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}
