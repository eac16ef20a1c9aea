// Package vectorstore is the Vector Index Gateway: upsert, query, and delete
// dense vectors with payload metadata, backed by Qdrant in production and an
// in-memory implementation for tests.
package vectorstore

import "context"

// Result is a single similarity-search hit.
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Filter restricts a similarity search by payload metadata. Must entries
// require exact equality; MustNot entries exclude matches. The Conflict
// Engine's neighbor search uses MustNot to exclude the candidate document's
// own chunks ("document_id != c.document_id").
type Filter struct {
	Must    map[string]string
	MustNot map[string]string
}

// Store is the Vector Index Gateway contract.
type Store interface {
	// Upsert writes or replaces the point at id. Re-upserting an existing
	// point replaces it atomically from the caller's perspective.
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
	// Delete removes the point at id. Deleting a point that does not exist
	// is not an error.
	Delete(ctx context.Context, id string) error
	// SimilaritySearch returns up to k nearest neighbors of vector matching
	// filter, ordered by descending score.
	SimilaritySearch(ctx context.Context, vector []float32, k int, filter Filter) ([]Result, error)
	Dimension() int
	Close() error
}
