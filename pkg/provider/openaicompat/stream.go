package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/debug"
	"github.com/rhuss/quelle/pkg/provider"
)

// maxLineSize bounds a single SSE line.
const maxLineSize = 1 << 20

// ParseSSEStream reads Chat Completions SSE chunks from body, translates
// them to Events and sends them on ch. The channel is NOT closed by this
// function; the caller is responsible for closing it.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	\n
//	data: [DONE]\n
//	\n
//
// The [DONE] sentinel produces one EventDone carrying the finish reason and
// usage seen so far. Malformed chunks are logged and skipped. A body that
// ends without [DONE] or a finish reason yields EventError. Context
// cancellation stops reading immediately and sends nothing further.
func ParseSSEStream(ctx context.Context, body io.Reader, ch chan<- provider.Event) {
	const op = "openaicompat.Stream"
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		finishReason string
		usage        *provider.Usage
	)

	send := func(ev provider.Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	done := func() {
		send(provider.Event{Type: provider.EventDone, FinishReason: finishReason, Usage: usage})
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		// Lines without a data field are ignored (blank lines, ":" comments,
		// event names).
		payload, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)

		if payload == "[DONE]" {
			done()
			return
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			slog.Warn("skipping malformed SSE chunk",
				"error", err.Error(),
				"data", debug.Truncate(payload, 200),
			)
			continue
		}

		if chunk.Usage != nil {
			usage = toUsage(chunk.Usage)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if c := choice.Delta.Content; c != nil && *c != "" {
			if !send(provider.Event{Type: provider.EventTextDelta, Delta: *c}) {
				return
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}

	if ctx.Err() != nil {
		return
	}
	if err := scanner.Err(); err != nil {
		send(provider.Event{
			Type: provider.EventError,
			Err:  api.NewError(api.ErrGenerationStream, op, "SSE stream read error", err),
		})
		return
	}
	if finishReason != "" {
		done()
		return
	}
	send(provider.Event{
		Type: provider.EventError,
		Err:  api.NewError(api.ErrGenerationStream, op, "stream ended before [DONE]", nil),
	})
}
