package http

import (
	"context"
	"encoding/json"
	"io"
	"net"
	gohttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/rag"
	"github.com/rhuss/quelle/pkg/transport"
)

func startServer(t *testing.T, srv *Server) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	return "http://" + ln.Addr().String(), cancel, done
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	svc := &mockService{results: []api.QueryResult{{ID: "r1", Score: 1}}}
	srv := NewServer(svc)
	base, stop, done := startServer(t, srv)
	defer func() {
		stop()
		<-done
	}()

	resp, err := gohttp.Post(base+"/v1/datasets/kb/query", "application/json", strings.NewReader(`{"query":"x"}`))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != gohttp.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, gohttp.StatusOK)
	}
	if id := resp.Header.Get(transport.RequestIDHeader); !api.ValidateRequestID(id) {
		t.Errorf("request id header = %q", id)
	}
	var got []api.QueryResult
	json.NewDecoder(resp.Body).Decode(&got)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Errorf("results = %+v", got)
	}
}

func TestServerMiddlewareAndRoutes(t *testing.T) {
	svc := &mockService{}
	tenant := func(next gohttp.Handler) gohttp.Handler {
		return gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
			next.ServeHTTP(w, r.WithContext(api.WithTenant(r.Context(), "acme")))
		})
	}
	extra := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		io.WriteString(w, "extra")
	})

	srv := NewServer(svc, WithMiddleware(tenant), WithRoute("GET /extra", extra))

	rec := newRecorder()
	srv.Handler().ServeHTTP(rec, newRequest(gohttp.MethodPost, "/v1/datasets/kb/query", `{"query":"x"}`))
	if len(svc.queried) != 1 || svc.queried[0].TenantID != "acme" {
		t.Errorf("tenant not propagated: %+v", svc.queried)
	}

	rec = newRecorder()
	srv.Handler().ServeHTTP(rec, newRequest(gohttp.MethodGet, "/extra", ""))
	if rec.Body.String() != "extra" {
		t.Errorf("extra route body = %q", rec.Body.String())
	}
}

func TestServerRecoversFromPanics(t *testing.T) {
	srv := NewServer(&mockService{}, WithRoute("GET /boom", gohttp.HandlerFunc(func(gohttp.ResponseWriter, *gohttp.Request) {
		panic("boom")
	})))

	rec := newRecorder()
	srv.Handler().ServeHTTP(rec, newRequest(gohttp.MethodGet, "/boom", ""))
	if rec.Code != gohttp.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServerShutdownCancelsStreams(t *testing.T) {
	started := make(chan struct{})
	svc := &mockService{answerFn: func(ctx context.Context, _ rag.QueryRequest) (*rag.AnswerStream, error) {
		ctx, cancel := context.WithCancel(ctx)
		evCh := make(chan rag.StreamEvent)
		errCh := make(chan error, 1)
		go func() {
			defer close(errCh)
			defer close(evCh)
			close(started)
			<-ctx.Done()
		}()
		return rag.NewAnswerStream("ans_shutdown", nil, evCh, errCh, cancel), nil
	}}

	srv := NewServer(svc, WithShutdownTimeout(5*time.Second))
	base, stop, done := startServer(t, srv)

	respCh := make(chan string, 1)
	go func() {
		resp, err := gohttp.Post(base+"/v1/datasets/kb/answer", "application/json", strings.NewReader(`{"query":"q"}`))
		if err != nil {
			respCh <- ""
			return
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		respCh <- string(b)
	}()

	<-started
	time.Sleep(50 * time.Millisecond)
	begin := time.Now()
	stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(4 * time.Second):
		t.Fatal("shutdown waited for the answer stream")
	}
	if elapsed := time.Since(begin); elapsed > 3*time.Second {
		t.Errorf("shutdown took %v", elapsed)
	}

	body := <-respCh
	if !strings.Contains(body, "event: answer.sources") {
		t.Errorf("stream body = %q", body)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(&mockService{},
		WithAddr(":9999"),
		WithMaxBodySize(1024),
		WithShutdownTimeout(10*time.Second),
		WithTimeouts(time.Minute, 0),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.config.MaxBodySize != 1024 || srv.Adapter().config.MaxBodySize != 1024 {
		t.Errorf("max body size = %d, want %d", srv.config.MaxBodySize, 1024)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
	if srv.httpServer.ReadTimeout != time.Minute || srv.httpServer.WriteTimeout != 0 {
		t.Errorf("timeouts = %v/%v", srv.httpServer.ReadTimeout, srv.httpServer.WriteTimeout)
	}
}
