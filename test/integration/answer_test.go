package integration

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/rhuss/quelle/pkg/api"
	transporthttp "github.com/rhuss/quelle/pkg/transport/http"
)

func TestAnswerStream(t *testing.T) {
	const dataset = "answer-stream"
	mustUpload(t, dataset, "port.txt", "The default port is 8080.")

	resp := postJSON(t, datasetURL(dataset, "/answer"), map[string]any{"query": "what is the default port"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	streamID := resp.Header.Get(transporthttp.StreamIDHeader)
	if streamID == "" {
		t.Error("missing stream ID header")
	}

	events := readSSE(t, resp)
	if len(events) < 3 {
		t.Fatalf("expected at least sources, delta and done events, got %d", len(events))
	}

	if events[0].Name != transporthttp.EventSources {
		t.Fatalf("first event = %q, want %q", events[0].Name, transporthttp.EventSources)
	}
	var sources struct {
		StreamID string            `json:"stream_id"`
		Sources  []api.QueryResult `json:"sources"`
	}
	if err := json.Unmarshal([]byte(events[0].Data), &sources); err != nil {
		t.Fatalf("decoding sources: %v", err)
	}
	if sources.StreamID != streamID {
		t.Errorf("stream_id = %q, want %q", sources.StreamID, streamID)
	}
	if len(sources.Sources) != 1 || sources.Sources[0].Metadata[api.MetaDocumentID] != "port.txt" {
		t.Errorf("unexpected sources %+v", sources.Sources)
	}

	var answer strings.Builder
	var sawDone bool
	for _, ev := range events[1:] {
		switch ev.Name {
		case transporthttp.EventDelta:
			if sawDone {
				t.Error("delta after done")
			}
			var d struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
				t.Fatalf("decoding delta: %v", err)
			}
			answer.WriteString(d.Delta)
		case transporthttp.EventDone:
			sawDone = true
			var d struct {
				FinishReason string `json:"finish_reason"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &d); err != nil {
				t.Fatalf("decoding done: %v", err)
			}
			if d.FinishReason != "stop" {
				t.Errorf("finish_reason = %q, want stop", d.FinishReason)
			}
		case transporthttp.EventError:
			t.Errorf("unexpected error event: %s", ev.Data)
		}
	}
	if !sawDone {
		t.Error("stream ended without a done event")
	}
	if last := events[len(events)-1]; last.Data != "[DONE]" {
		t.Errorf("last data = %q, want [DONE]", last.Data)
	}
	if answer.String() != "The default port is 8080." {
		t.Errorf("answer = %q, want the source text", answer.String())
	}
}

func TestAnswerWithoutSources(t *testing.T) {
	resp := postJSON(t, datasetURL("answer-empty", "/answer"), map[string]any{"query": "anything at all"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, readBody(t, resp))
	}

	var answer strings.Builder
	for _, ev := range readSSE(t, resp) {
		switch ev.Name {
		case transporthttp.EventSources:
			if !strings.Contains(ev.Data, `"sources":[]`) {
				t.Errorf("sources = %s, want an empty list", ev.Data)
			}
		case transporthttp.EventDelta:
			var d struct {
				Delta string `json:"delta"`
			}
			json.Unmarshal([]byte(ev.Data), &d)
			answer.WriteString(d.Delta)
		}
	}
	if answer.String() != "I do not know." {
		t.Errorf("answer = %q, want the no-sources reply", answer.String())
	}
}

func TestCancelUnknownStream(t *testing.T) {
	resp := deleteURL(t, testEnv.BaseURL()+"/v1/streams/does-not-exist")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
