// Command mock-backend runs a deterministic OpenAI-compatible upstream for
// local runs and demos. It serves embeddings computed from word hashes and
// chat completions that quote the first source of the system prompt.
//
// Configuration:
//
//	MOCK_PORT       - listen port (default: 9090)
//	MOCK_DIMENSIONS - embedding size (default: 64)
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
)

func main() {
	port := envOr("MOCK_PORT", "9090")
	dims, err := strconv.Atoi(envOr("MOCK_DIMENSIONS", "64"))
	if err != nil || dims <= 0 {
		slog.Error("invalid MOCK_DIMENSIONS", "value", os.Getenv("MOCK_DIMENSIONS"))
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           newMux(dims),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("mock backend starting", "port", port, "dimensions", dims)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mock backend failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("mock backend shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newMux(dims int) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/embeddings", embeddingsHandler(dims))
	mux.HandleFunc("POST /v1/chat/completions", handleChatCompletions)
	mux.HandleFunc("GET /v1/models", handleModels)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
