package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/kind"
	"ingestd/internal/model"
	"ingestd/internal/obs"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

func seedConflict(t *testing.T, rel store.Store, vecs vectorstore.Store) (docID string, conflictID string) {
	ctx := context.Background()
	docID = "doc1"
	require.NoError(t, rel.CreateDocument(ctx, model.Document{
		ID: docID, Title: "t", ExternalRef: "ref1", Status: model.DocumentPendingReview, CreatedAt: time.Now(),
	}))

	newChunk := model.Chunk{ID: "new1", DocumentID: docID, Idx: 0, Text: "new text"}
	existingChunk := model.Chunk{ID: "existing1", DocumentID: "doc0", Idx: 0, Text: "existing text"}
	require.NoError(t, rel.InsertChunks(ctx, []model.Chunk{newChunk, existingChunk}))
	require.NoError(t, vecs.Upsert(ctx, "new1", []float32{1, 0}, map[string]string{"document_id": docID}))
	require.NoError(t, vecs.Upsert(ctx, "existing1", []float32{1, 0}, map[string]string{"document_id": "doc0"}))

	persisted, err := rel.InsertConflicts(ctx, []model.Conflict{{
		ID: "conf1", NewChunkID: "new1", ExistingChunkID: "existing1",
		Label: model.LabelDuplicate, Score: 0.99, JudgedBy: model.JudgedByNLI,
	}})
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	return docID, "conf1"
}

func TestResolve_SupersedeDeletesExistingAndAutoPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rel := store.NewMemory()
	vecs := vectorstore.NewMemory(2)
	docID, conflictID := seedConflict(t, rel, vecs)

	ctrl := New(rel, vecs, obs.NoopLogger{}, nil)
	require.NoError(t, ctrl.Resolve(ctx, conflictID, model.ActionSupersede, "prefer new"))

	_, ok, err := rel.GetChunk(ctx, "existing1")
	require.NoError(t, err)
	assert.False(t, ok, "existing chunk should be deleted")

	_, ok, err = rel.GetChunk(ctx, "new1")
	require.NoError(t, err)
	assert.True(t, ok, "new chunk should be kept")

	doc, ok, err := rel.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.DocumentPublished, doc.Status)
	assert.NotNil(t, doc.EffectiveAt)
}

func TestResolve_IgnoreDeletesNewChunk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rel := store.NewMemory()
	vecs := vectorstore.NewMemory(2)
	_, conflictID := seedConflict(t, rel, vecs)

	ctrl := New(rel, vecs, obs.NoopLogger{}, nil)
	require.NoError(t, ctrl.Resolve(ctx, conflictID, model.ActionIgnore, "prefer existing"))

	_, ok, err := rel.GetChunk(ctx, "new1")
	require.NoError(t, err)
	assert.False(t, ok, "new chunk should be deleted")

	_, ok, err = rel.GetChunk(ctx, "existing1")
	require.NoError(t, err)
	assert.True(t, ok, "existing chunk should be kept")
}

func TestResolve_AlreadyResolvedFailsNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rel := store.NewMemory()
	vecs := vectorstore.NewMemory(2)
	_, conflictID := seedConflict(t, rel, vecs)

	ctrl := New(rel, vecs, obs.NoopLogger{}, nil)
	require.NoError(t, ctrl.Resolve(ctx, conflictID, model.ActionSupersede, ""))

	err := ctrl.Resolve(ctx, conflictID, model.ActionSupersede, "")
	assert.Error(t, err)
	assert.Equal(t, kind.NotFound, kind.Of(err))
}

func TestResolveAll_PublishesWhenAllConflictsClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rel := store.NewMemory()
	vecs := vectorstore.NewMemory(2)
	docID, _ := seedConflict(t, rel, vecs)

	ctrl := New(rel, vecs, obs.NoopLogger{}, nil)
	n, err := ctrl.ResolveAll(ctx, model.ActionSupersede, "bulk")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, ok, err := rel.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.DocumentPublished, doc.Status)
}
