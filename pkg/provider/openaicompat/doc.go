// Package openaicompat implements provider.Provider for any OpenAI-compatible
// Chat Completions backend (vLLM, LiteLLM, Ollama, llama.cpp server). It
// handles request serialization, response parsing, SSE chunk streaming and
// error mapping.
package openaicompat
