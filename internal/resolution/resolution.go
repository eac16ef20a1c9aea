// Package resolution is the Resolution Controller: applies human
// adjudication (supersede/ignore) to open conflicts, maintaining agreement
// between the relational store and the vector index and auto-publishing
// documents whose conflicts have all cleared.
package resolution

import (
	"context"
	"fmt"
	"time"

	"ingestd/internal/kind"
	"ingestd/internal/model"
	"ingestd/internal/obs"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

// Controller resolves conflicts and drives documents to auto-publish.
type Controller struct {
	relational store.Store
	vectors    vectorstore.Store
	log        obs.Logger
	metrics    obs.Metrics
}

// New builds a resolution Controller.
func New(relational store.Store, vectors vectorstore.Store, log obs.Logger, metrics obs.Metrics) *Controller {
	return &Controller{relational: relational, vectors: vectors, log: log, metrics: metrics}
}

// Resolve applies action to the open conflict identified by conflictID,
// per the 7-step ordering: mark resolved, best-effort vector delete,
// relational delete (cascades other conflicts on the removed chunk), then
// attempt auto-publish for the document owning the kept chunk.
func (c *Controller) Resolve(ctx context.Context, conflictID string, action model.ResolutionAction, note string) error {
	conflict, ok, err := c.relational.GetConflict(ctx, conflictID)
	if err != nil {
		return kind.New(kind.StoreError, "resolution.Resolve", err)
	}
	if !ok || !conflict.Open() {
		return kind.New(kind.NotFound, "resolution.Resolve", fmt.Errorf("conflict %s not found or already resolved", conflictID))
	}

	newChunk, ok1, err := c.relational.GetChunk(ctx, conflict.NewChunkID)
	if err != nil {
		return kind.New(kind.StoreError, "resolution.Resolve", err)
	}
	existingChunk, ok2, err := c.relational.GetChunk(ctx, conflict.ExistingChunkID)
	if err != nil {
		return kind.New(kind.StoreError, "resolution.Resolve", err)
	}
	if !ok1 || !ok2 {
		return kind.New(kind.InconsistentState, "resolution.Resolve", fmt.Errorf("conflict %s references a missing chunk", conflictID))
	}

	kept, removed := newChunk, existingChunk
	if action == model.ActionIgnore {
		kept, removed = existingChunk, newChunk
	}

	now := time.Now().UTC()
	conflict.ResolutionAction = &action
	conflict.ResolvedAt = &now
	conflict.ResolverNote = note
	if err := c.relational.ResolveConflict(ctx, conflict); err != nil {
		return kind.New(kind.StoreError, "resolution.Resolve", fmt.Errorf("mark resolved: %w", err))
	}

	if err := c.vectors.Delete(ctx, removed.ID); err != nil {
		c.log.Warn("best-effort vector delete failed", map[string]any{"chunk_id": removed.ID, "error": err.Error()})
	}

	if err := c.relational.DeleteChunk(ctx, removed.ID); err != nil {
		return kind.New(kind.StoreError, "resolution.Resolve", fmt.Errorf("delete chunk %s: %w", removed.ID, err))
	}

	if err := c.tryAutoPublish(ctx, kept.DocumentID); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.IncCounter("conflicts_resolved_total", map[string]string{"action": string(action)})
	}
	return nil
}

// ResolveAll applies action to every currently open conflict: steps 1-4 for
// each conflict first, then steps 5-7 in a batched pass, per the spec's
// bulk-resolution ordering. Idempotent: already-resolved conflicts (a race
// with a per-conflict Resolve) are skipped, not failed.
func (c *Controller) ResolveAll(ctx context.Context, action model.ResolutionAction, note string) (int, error) {
	open, err := c.relational.ListOpenConflicts(ctx)
	if err != nil {
		return 0, kind.New(kind.StoreError, "resolution.ResolveAll", err)
	}

	type pending struct {
		conflict model.Conflict
		kept     model.Chunk
		removed  model.Chunk
	}
	var toFinish []pending
	now := time.Now().UTC()

	for _, conflict := range open {
		if !conflict.Open() {
			continue
		}
		newChunk, ok1, err := c.relational.GetChunk(ctx, conflict.NewChunkID)
		if err != nil {
			return 0, kind.New(kind.StoreError, "resolution.ResolveAll", err)
		}
		existingChunk, ok2, err := c.relational.GetChunk(ctx, conflict.ExistingChunkID)
		if err != nil {
			return 0, kind.New(kind.StoreError, "resolution.ResolveAll", err)
		}
		if !ok1 || !ok2 {
			c.log.Warn("skipping conflict with missing chunk during bulk resolution", map[string]any{"conflict_id": conflict.ID})
			continue
		}
		kept, removed := newChunk, existingChunk
		if action == model.ActionIgnore {
			kept, removed = existingChunk, newChunk
		}

		conflict.ResolutionAction = &action
		conflict.ResolvedAt = &now
		conflict.ResolverNote = note
		if err := c.relational.ResolveConflict(ctx, conflict); err != nil {
			return 0, kind.New(kind.StoreError, "resolution.ResolveAll", fmt.Errorf("mark resolved: %w", err))
		}
		toFinish = append(toFinish, pending{conflict: conflict, kept: kept, removed: removed})
	}

	touchedDocs := map[string]bool{}
	for _, p := range toFinish {
		if err := c.vectors.Delete(ctx, p.removed.ID); err != nil {
			c.log.Warn("best-effort vector delete failed", map[string]any{"chunk_id": p.removed.ID, "error": err.Error()})
		}
		if err := c.relational.DeleteChunk(ctx, p.removed.ID); err != nil {
			return 0, kind.New(kind.StoreError, "resolution.ResolveAll", fmt.Errorf("delete chunk %s: %w", p.removed.ID, err))
		}
		touchedDocs[p.kept.DocumentID] = true
	}

	for docID := range touchedDocs {
		if err := c.tryAutoPublish(ctx, docID); err != nil {
			return len(toFinish), err
		}
	}
	if c.metrics != nil {
		c.metrics.IncCounter("conflicts_resolved_total", map[string]string{"action": string(action), "bulk": "true"})
	}
	return len(toFinish), nil
}

// tryAutoPublish publishes documentID if it is pending_review and has no
// remaining open conflicts among its chunks.
func (c *Controller) tryAutoPublish(ctx context.Context, documentID string) error {
	doc, ok, err := c.relational.GetDocument(ctx, documentID)
	if err != nil {
		return kind.New(kind.StoreError, "resolution.tryAutoPublish", err)
	}
	if !ok || doc.Status != model.DocumentPendingReview {
		return nil
	}

	remaining, err := c.relational.CountOpenConflictsForDocument(ctx, documentID)
	if err != nil {
		return kind.New(kind.StoreError, "resolution.tryAutoPublish", err)
	}
	if remaining > 0 {
		return nil
	}

	now := time.Now().UTC()
	if err := c.relational.UpdateDocumentStatus(ctx, documentID, model.DocumentPublished, &now); err != nil {
		return kind.New(kind.StoreError, "resolution.tryAutoPublish", fmt.Errorf("auto-publish %s: %w", documentID, err))
	}
	c.log.Info("auto-published document after conflict resolution", map[string]any{"document_id": documentID})
	return nil
}
