// Package model defines the core entities of the ingestion and
// conflict-detection domain: documents, chunks, and conflicts.
package model

import "time"

// DocumentStatus is the lifecycle state of a Document.
type DocumentStatus string

const (
	DocumentDraft          DocumentStatus = "draft"
	DocumentPendingReview  DocumentStatus = "pending_review"
	DocumentPublished      DocumentStatus = "published"
	DocumentArchived       DocumentStatus = "archived"
)

// CanTransition reports whether a status change from d to next is allowed.
func (d DocumentStatus) CanTransition(next DocumentStatus) bool {
	switch {
	case next == DocumentArchived:
		return true
	case d == DocumentDraft && (next == DocumentPendingReview || next == DocumentPublished):
		return true
	case d == DocumentPendingReview && next == DocumentPublished:
		return true
	default:
		return false
	}
}

// Document is an uploaded artifact tracked through parse/chunk/embed/analyze
// and ultimately published into the retrieval corpus.
type Document struct {
	ID           string
	Title        string
	ExternalRef  string
	Fingerprint  uint64
	StorageKey   string
	Extension    string
	Status       DocumentStatus
	EffectiveAt  *time.Time
	CreatedAt    time.Time
}

// Chunk is a bounded-token slice of a document's normalized text.
type Chunk struct {
	ID          string
	DocumentID  string
	Idx         int
	Text        string
	ContentHash uint64
	Page        *int
	SectionPath *string
}

// ConflictLabel classifies the relationship between a new chunk and an
// existing one.
type ConflictLabel string

const (
	LabelDuplicate     ConflictLabel = "duplicate"
	LabelContradiction ConflictLabel = "contradiction"
)

// JudgedBy identifies which tier of the Conflict Engine produced a verdict.
type JudgedBy string

const (
	JudgedByNLI JudgedBy = "nli"
	JudgedByLLM JudgedBy = "llm"
)

// ResolutionAction is the human adjudication applied to an open conflict.
type ResolutionAction string

const (
	ActionSupersede ResolutionAction = "supersede"
	ActionIgnore    ResolutionAction = "ignore"
)

// Conflict records a detected duplicate or contradiction between a
// candidate chunk (new) being published and an existing chunk already in
// the corpus.
type Conflict struct {
	ID                string
	NewChunkID        string
	ExistingChunkID   string
	Label             ConflictLabel
	Score             float64
	NeighborScore     *float64
	JudgedBy          JudgedBy
	ResolutionAction  *ResolutionAction
	ResolvedAt        *time.Time
	ResolverNote      string
}

// Open reports whether the conflict still awaits adjudication.
func (c Conflict) Open() bool { return c.ResolvedAt == nil }
