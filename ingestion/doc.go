// Package ingestion turns text and uploaded files into stored, embedded
// document chunks.
//
// The Pipeline chunks the text, embeds every chunk in one provider call and
// only then swaps the document's chunk set in a single store operation, so a
// provider failure never leaves a document half replaced. Re-ingesting under
// an existing (title, source) identity updates that document in place.
//
// IngestFiles processes many files concurrently on a worker pool. Each file
// is an independent unit of work and reports its own result.
package ingestion
