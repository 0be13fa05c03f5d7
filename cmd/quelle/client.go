package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/quelle/pkg/api"
)

// client talks to a quelle server.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(baseURL, apiKey string, timeout time.Duration) *client {
	return &client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Answer streams end on their own, so only the dial and headers
		// are bounded by the timeout.
		http: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
	}
}

// ingestResult mirrors the server's upload response.
type ingestResult struct {
	DocumentID string `json:"document_id"`
	Collection string `json:"collection"`
	Segments   int    `json:"segments"`
	Replaced   int    `json:"replaced"`
}

// queryParams is the body of query and answer requests.
type queryParams struct {
	Query       string         `json:"query"`
	TopK        int            `json:"top_k,omitempty"`
	MinScore    *float32       `json:"min_score,omitempty"`
	Filter      map[string]any `json:"filter,omitempty"`
	Model       string         `json:"model,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
}

// answerHandler receives the decoded events of an answer stream.
type answerHandler struct {
	Sources func(sources []api.QueryResult)
	Delta   func(text string)
	Done    func(finishReason string)
}

func (c *client) ingest(ctx context.Context, dataset, filename string, data []byte, strategy string) (*ingestResult, error) {
	path := "/v1/datasets/" + url.PathEscape(dataset) + "/documents"
	if strategy != "" {
		path += "?strategy=" + url.QueryEscape(strategy)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Filename", filename)

	var out ingestResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) query(ctx context.Context, dataset string, q queryParams) ([]api.QueryResult, error) {
	req, err := c.newJSONRequest(ctx, "/v1/datasets/"+url.PathEscape(dataset)+"/query", q)
	if err != nil {
		return nil, err
	}
	var out []api.QueryResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) deleteDocument(ctx context.Context, dataset, documentID string) (int, error) {
	path := "/v1/datasets/" + url.PathEscape(dataset) + "/documents/" + escapeSegments(documentID)
	req, err := c.newRequest(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		Deleted int `json:"deleted"`
	}
	if err := c.do(req, &out); err != nil {
		return 0, err
	}
	return out.Deleted, nil
}

// answer streams an answer and dispatches its events to h. It returns
// when the stream ends or ctx is cancelled.
func (c *client) answer(ctx context.Context, dataset string, q queryParams, h answerHandler) error {
	req, err := c.newJSONRequest(ctx, "/v1/datasets/"+url.PathEscape(dataset)+"/answer", q)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	return readEvents(resp.Body, func(name string, data []byte) error {
		switch name {
		case "answer.sources":
			var p struct {
				Sources []api.QueryResult `json:"sources"`
			}
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			if h.Sources != nil {
				h.Sources(p.Sources)
			}
		case "answer.delta":
			var p struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			if h.Delta != nil {
				h.Delta(p.Delta)
			}
		case "answer.done":
			var p struct {
				FinishReason string `json:"finish_reason"`
			}
			if err := json.Unmarshal(data, &p); err != nil {
				return err
			}
			if h.Done != nil {
				h.Done(p.FinishReason)
			}
		case "error":
			var p api.ErrorResponse
			if err := json.Unmarshal(data, &p); err != nil || p.Error == nil {
				return fmt.Errorf("stream failed: %s", data)
			}
			return p.Error
		}
		return nil
	})
}

// readEvents parses a server-sent event stream and calls fn per event.
// It stops at the [DONE] sentinel or the end of the body.
func readEvents(r io.Reader, fn func(name string, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)

	var name string
	var data []byte
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if data != nil {
				if err := fn(name, data); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if payload == "[DONE]" {
				return nil
			}
			if data != nil {
				data = append(data, '\n')
			}
			data = append(data, payload...)
		}
	}
	return sc.Err()
}

func (c *client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *client) newJSONRequest(ctx context.Context, path string, body any) (*http.Request, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError turns an error response into an *api.APIError when the body
// has the usual shape.
func decodeError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != nil {
		return fmt.Errorf("%s: %w", resp.Status, e.Error)
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return errors.New(resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}

func escapeSegments(p string) string {
	parts := strings.Split(p, "/")
	for i, s := range parts {
		parts[i] = url.PathEscape(s)
	}
	return strings.Join(parts, "/")
}
