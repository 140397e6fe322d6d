// Package reembed recomputes the embeddings of every stored chunk, typically
// after switching embedding models.
//
// Documents are processed concurrently on a worker pool. Within a document,
// chunk texts are embedded in batches with retry and exponential backoff,
// normalized to unit length, and written back in a single store update so a
// document never mixes vectors from two models.
package reembed
