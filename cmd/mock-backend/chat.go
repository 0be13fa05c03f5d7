package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/rhuss/quelle/pkg/provider/openaicompat"
)

const unknownAnswer = "I do not know. The sources do not cover this question."

// firstSource matches the first numbered source heading and its text.
var firstSource = regexp.MustCompile(`(?m)^\[1\]([^\n]*)\n([^\n]+)`)

func handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openaicompat.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty")
		return
	}
	if req.Model == "" {
		req.Model = "mock-model"
	}

	answer := answerFor(req.Messages)
	if req.Stream {
		streamAnswer(w, req.Model, answer)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openaicompat.ChatCompletionResponse{
		ID:     "chatcmpl-mock",
		Object: "chat.completion",
		Model:  req.Model,
		Choices: []openaicompat.ChatChoice{{
			Message:      openaicompat.ChatMessage{Role: "assistant", Content: answer},
			FinishReason: "stop",
		}},
		Usage: usage(req.Messages, answer),
	})
}

// answerFor cites the first source found in the system prompt.
func answerFor(msgs []openaicompat.ChatMessage) string {
	for _, m := range msgs {
		if m.Role != "system" {
			continue
		}
		if match := firstSource.FindStringSubmatch(m.Content); match != nil {
			label := strings.TrimSpace(match[1])
			text := strings.TrimSpace(match[2])
			if label == "" {
				return fmt.Sprintf("%s [1]", text)
			}
			return fmt.Sprintf("According to %s: %s [1]", label, text)
		}
	}
	return unknownAnswer
}

func streamAnswer(w http.ResponseWriter, model, answer string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	send := func(chunk openaicompat.ChatCompletionChunk) {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
	chunk := func(delta openaicompat.ChatChunkDelta, finish *string) openaicompat.ChatCompletionChunk {
		return openaicompat.ChatCompletionChunk{
			ID:      "chatcmpl-mock-stream",
			Object:  "chat.completion.chunk",
			Model:   model,
			Choices: []openaicompat.ChatChunkChoice{{Delta: delta, FinishReason: finish}},
		}
	}

	send(chunk(openaicompat.ChatChunkDelta{Role: "assistant"}, nil))
	for _, tok := range tokens(answer) {
		send(chunk(openaicompat.ChatChunkDelta{Content: &tok}, nil))
	}
	stop := "stop"
	final := chunk(openaicompat.ChatChunkDelta{}, &stop)
	final.Usage = &openaicompat.ChatUsage{PromptTokens: 10, CompletionTokens: len(tokens(answer)), TotalTokens: 10 + len(tokens(answer))}
	send(final)

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// tokens splits s into words that keep their trailing space.
func tokens(s string) []string {
	var out []string
	for s != "" {
		i := strings.IndexByte(s, ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}

func usage(msgs []openaicompat.ChatMessage, answer string) *openaicompat.ChatUsage {
	var prompt int
	for _, m := range msgs {
		prompt += len(strings.Fields(m.Content))
	}
	completion := len(strings.Fields(answer))
	return &openaicompat.ChatUsage{PromptTokens: prompt, CompletionTokens: completion, TotalTokens: prompt + completion}
}

func handleModels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(openaicompat.ChatModelsResponse{
		Object: "list",
		Data:   []openaicompat.ChatModel{{ID: "mock-model", Object: "model", OwnedBy: "quelle"}},
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	var body openaicompat.ChatErrorResponse
	body.Error.Message = msg
	body.Error.Type = "invalid_request_error"
	_ = json.NewEncoder(w).Encode(body)
}
