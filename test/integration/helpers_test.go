// Package integration provides integration tests for the quelle API.
//
// Tests run against a real quelle HTTP server backed by a fake
// OpenAI-compatible upstream, both started in-process using
// net/http/httptest.
package integration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"strings"
	"testing"
	"unicode"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/quelle/pkg/embedding"
	"github.com/rhuss/quelle/pkg/provider/openaicompat"
	"github.com/rhuss/quelle/pkg/rag"
	transporthttp "github.com/rhuss/quelle/pkg/transport/http"
	"github.com/rhuss/quelle/pkg/vectorstore"
	"github.com/rhuss/quelle/pkg/vectorstore/memory"
)

const mockDimensions = 256

// testEnv holds the shared servers for all integration tests.
var testEnv *TestEnvironment

// TestEnvironment holds the quelle server and the fake upstream.
type TestEnvironment struct {
	Server   *httptest.Server
	Upstream *httptest.Server
	Pipeline *rag.Pipeline
}

// TestMain starts the upstream and the quelle server before running tests.
func TestMain(m *testing.M) {
	testEnv = setupTestEnvironment()
	code := m.Run()
	testEnv.Teardown()
	os.Exit(code)
}

// setupTestEnvironment wires a pipeline on the in-memory backend to the
// fake upstream for both embeddings and completions.
func setupTestEnvironment() *TestEnvironment {
	upstream := startUpstream()

	embedder, err := embedding.New(embedding.Config{
		URL:       upstream.URL,
		Model:     "mock-embed",
		BatchSize: 8,
	})
	if err != nil {
		panic(fmt.Sprintf("creating embedder: %v", err))
	}

	pipeline, err := rag.New(rag.Deps{
		Embedder: embedder,
		Store:    vectorstore.NewStore(memory.New(), embedder, "quelle_default"),
		Provider: openaicompat.NewClient(upstream.URL, "", "mock-model", 0),
	}, rag.Options{
		MaxChunkSize: 200,
		OverlapSize:  20,
	})
	if err != nil {
		panic(fmt.Sprintf("creating pipeline: %v", err))
	}

	srv := transporthttp.NewServer(pipeline, transporthttp.WithRoute("GET /metrics", promhttp.Handler()))

	return &TestEnvironment{
		Server:   httptest.NewServer(srv.Handler()),
		Upstream: upstream,
		Pipeline: pipeline,
	}
}

// Teardown stops both servers.
func (env *TestEnvironment) Teardown() {
	if env.Server != nil {
		env.Server.Close()
	}
	if env.Upstream != nil {
		env.Upstream.Close()
	}
	if env.Pipeline != nil {
		env.Pipeline.Close()
	}
}

// BaseURL returns the quelle server base URL.
func (env *TestEnvironment) BaseURL() string {
	return env.Server.URL
}

// datasetURL returns the URL of a dataset route.
func datasetURL(dataset, suffix string) string {
	return testEnv.BaseURL() + "/v1/datasets/" + dataset + suffix
}

// --- HTTP helpers ---

// postJSON sends a POST request with JSON body and returns the response.
func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

// upload sends a raw document upload and returns the response.
func upload(t *testing.T, dataset, filename, contentType string, data []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, datasetURL(dataset, "/documents"), bytes.NewReader(data))
	if err != nil {
		t.Fatalf("creating upload request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set(transporthttp.FilenameHeader, filename)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("uploading %s: %v", filename, err)
	}
	return resp
}

// mustUpload uploads a document and fails the test unless it is stored.
func mustUpload(t *testing.T, dataset, filename, text string) {
	t.Helper()
	resp := upload(t, dataset, filename, "text/plain", []byte(text))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload %s: expected 201, got %d: %s", filename, resp.StatusCode, readBody(t, resp))
	}
	resp.Body.Close()
}

// getURL sends a GET request and returns the response.
func getURL(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	return resp
}

// deleteURL sends a DELETE request and returns the response.
func deleteURL(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("creating DELETE request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", url, err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	return string(body)
}

// decodeJSON reads the response body and decodes it into the target.
func decodeJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decoding JSON: %v", err)
	}
}

// sseEvent is one parsed server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// readSSE collects every event up to and including the [DONE] terminator,
// which is returned with an empty name.
func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	defer resp.Body.Close()

	var events []sseEvent
	var name string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, sseEvent{Name: name, Data: strings.TrimPrefix(line, "data: ")})
			name = ""
		}
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("reading event stream: %v", err)
	}
	return events
}

// --- Fake upstream ---

// firstSource matches the first numbered source in a system prompt.
var firstSource = regexp.MustCompile(`(?m)^\[1\][^\n]*\n([^\n]+)`)

// startUpstream serves /v1/embeddings and a streaming /v1/chat/completions
// that repeats the first source text back word by word.
func startUpstream() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", handleUpstreamEmbeddings)
	mux.HandleFunc("POST /v1/chat/completions", handleUpstreamChat)
	return httptest.NewServer(mux)
}

func handleUpstreamEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input []string `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request"}}`, http.StatusBadRequest)
		return
	}
	type item struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}
	data := make([]item, len(req.Input))
	for i, text := range req.Input {
		data[i] = item{Embedding: wordVector(text), Index: i}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

// wordVector hashes lower-cased words into a normalised vector so texts
// sharing words score higher.
func wordVector(text string) []float32 {
	vec := make([]float32, mockDimensions)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%mockDimensions]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] /= float32(math.Sqrt(norm))
	}
	return vec
}

func handleUpstreamChat(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":{"message":"invalid request"}}`, http.StatusBadRequest)
		return
	}

	answer := "I do not know."
	for _, m := range req.Messages {
		if m.Role == "system" {
			if match := firstSource.FindStringSubmatch(m.Content); match != nil {
				answer = strings.TrimSpace(match[1])
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	send := func(delta openaicompat.ChatChunkDelta, finish *string) {
		data, _ := json.Marshal(openaicompat.ChatCompletionChunk{
			ID:      "chatcmpl-test",
			Object:  "chat.completion.chunk",
			Model:   req.Model,
			Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	words := strings.SplitAfter(answer, " ")
	for _, word := range words {
		send(openaicompat.ChatChunkDelta{Content: &word}, nil)
	}
	stop := "stop"
	send(openaicompat.ChatChunkDelta{}, &stop)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
