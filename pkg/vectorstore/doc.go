// Package vectorstore persists embedded segments in named collections and
// answers similarity queries over them.
//
// A Store wraps one Backend (in-memory, Qdrant or PostgreSQL with pgvector)
// and adds the behaviour common to all of them: default collection
// resolution, lazy collection creation, dimension checks, query embedding
// and error classification. Backend failures surface as
// api.ErrStoreUnavailable.
package vectorstore
