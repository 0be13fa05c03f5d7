// Package embedding turns text into fixed-dimension vectors through an
// external embedding provider.
//
// A [Provider] performs one upstream request. The [Batcher] wraps it to
// implement [Client]: it splits large inputs into sub-batches of at most
// BatchSize texts, issues them back-to-back (or with bounded parallelism),
// and concatenates the vectors in input order. A failure in any sub-batch
// fails the whole call with api.ErrEmbeddingProvider and no partial result.
package embedding
