// Package store is the Relational Store Gateway: documents, chunks,
// conflicts, and chat sessions, backed by Postgres via pgx.
package store

import (
	"context"
	"time"

	"ingestd/internal/model"
)

// Store is the relational persistence contract consumed by the publish
// pipeline, conflict engine, and resolution controller.
type Store interface {
	// Documents.
	CreateDocument(ctx context.Context, d model.Document) error
	GetDocument(ctx context.Context, id string) (model.Document, bool, error)
	GetDocumentByExternalRef(ctx context.Context, externalRef string) (model.Document, bool, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, effectiveAt *time.Time) error
	ListDocuments(ctx context.Context) ([]model.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// Chunks.
	HasChunks(ctx context.Context, documentID string) (bool, error)
	InsertChunks(ctx context.Context, chunks []model.Chunk) error
	GetChunk(ctx context.Context, id string) (model.Chunk, bool, error)
	ListChunksByDocument(ctx context.Context, documentID string) ([]model.Chunk, error)
	DeleteChunk(ctx context.Context, id string) error

	// Conflicts.
	InsertConflicts(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error)
	GetConflict(ctx context.Context, id string) (model.Conflict, bool, error)
	ListOpenConflicts(ctx context.Context) ([]model.Conflict, error)
	HasOpenConflictPair(ctx context.Context, newChunkID, existingChunkID string) (bool, error)
	CountOpenConflictsForDocument(ctx context.Context, documentID string) (int, error)
	ResolveConflict(ctx context.Context, c model.Conflict) error

	Close() error
}
