// Package api defines the core data types shared by every stage of the
// quelle retrieval pipeline.
//
// The package holds the in-memory shapes that flow between the loader,
// splitter, embedding client, vector store, and orchestrator, plus the typed
// error taxonomy those stages report through. It has no external dependencies
// beyond ID generation and performs no I/O.
//
// Core types:
//   - [Document]: extracted text and metadata of one source file
//   - [Segment]: an ordered, bounded span of a Document, the unit of embedding
//   - [VectorRecord]: the persisted (id, vector, text, metadata) tuple
//   - [VectorQuery] and [QueryResult]: similarity search input and output
//   - [Error] and [StageError]: typed failures matched with errors.Is
//   - [APIError]: the JSON error body returned over HTTP
package api
