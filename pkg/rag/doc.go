// Package rag orchestrates the retrieval-augmented generation pipeline.
//
// Ingestion moves a file through LOADED, SPLIT, EMBEDDED and STORED: the
// loader extracts text, the splitter cuts it into segments, the embedding
// client vectorises them and the vector store persists them. Any stage
// failure aborts the request with an *api.StageError naming the file and
// stage.
//
// Queries move through EMBED_QUERY and SEARCH, and for answers continue
// through PROMPT_ASSEMBLE and STREAM_GENERATE, where completion deltas are
// forwarded to the caller as they arrive.
package rag
