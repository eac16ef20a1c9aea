package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/model"
	"ingestd/internal/nli"
	"ingestd/internal/obs"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

func TestAnalyze_NoNeighbors_NoConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	vs := vectorstore.NewMemory(4)
	rel := store.NewMemory()

	cli, err := nli.NewClient("http://unused", "model", []string{"contradiction", "entailment", "neutral"}, 0)
	require.NoError(t, err)

	eng := New(vs, rel, cli, nil, Thresholds{Dedup: 0.95, Contradiction: 0.90, Neutral: 0.90}, 10, obs.NoopLogger{}, nil)

	chunk := model.Chunk{ID: "c1", DocumentID: "doc1", Idx: 0, Text: "hello"}
	conflicts, err := eng.Analyze(ctx, "doc1", []model.Chunk{chunk}, map[string][]float32{"c1": {1, 0, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, conflicts)
}

func TestAnalyze_ExcludesOwnDocumentChunks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	vs := vectorstore.NewMemory(4)
	rel := store.NewMemory()

	// Seed a neighbor belonging to the SAME document; it must be excluded
	// by the MustNot(document_id) filter even though it's the closest vector.
	require.NoError(t, vs.Upsert(ctx, "own-chunk", []float32{1, 0, 0, 0}, map[string]string{
		"text": "same doc neighbor", "document_id": "doc1",
	}))

	cli, err := nli.NewClient("http://unused", "model", []string{"contradiction", "entailment", "neutral"}, 0)
	require.NoError(t, err)

	eng := New(vs, rel, cli, nil, Thresholds{Dedup: 0.95, Contradiction: 0.90, Neutral: 0.90}, 10, obs.NoopLogger{}, nil)

	chunk := model.Chunk{ID: "c1", DocumentID: "doc1", Idx: 0, Text: "hello"}
	conflicts, err := eng.Analyze(ctx, "doc1", []model.Chunk{chunk}, map[string][]float32{"c1": {1, 0, 0, 0}})
	require.NoError(t, err)
	assert.Empty(t, conflicts, "own-document chunk must not be returned as a neighbor candidate")
}
