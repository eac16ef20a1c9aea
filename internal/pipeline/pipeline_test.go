package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingestd/internal/chunk"
	"ingestd/internal/conflict"
	"ingestd/internal/model"
	"ingestd/internal/nli"
	"ingestd/internal/obs"
	"ingestd/internal/rag/embedder"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.Store) {
	t.Helper()
	st := store.NewMemory()
	vecs := vectorstore.NewMemory(64)
	splitter, err := chunk.NewSplitter("cl100k_base", 200, 25)
	require.NoError(t, err)
	embed := embedder.NewDeterministic(64, true, 1)
	nliClient, err := nli.NewClient("http://unused", "model", []string{"contradiction", "entailment", "neutral"}, 0)
	require.NoError(t, err)
	engine := conflict.New(vecs, st, nliClient, nil, conflict.Thresholds{Dedup: 0.95, Contradiction: 0.90, Neutral: 0.90}, 10, obs.NoopLogger{}, nil)
	return New(st, vecs, splitter, embed, engine, obs.NoopLogger{}, nil), st
}

func TestPublish_NoOverlap_PublishesWithNoConflicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, st := newTestPipeline(t)

	doc := model.Document{ID: "doc1", Title: "t", ExternalRef: "ref1", Extension: "txt", Status: model.DocumentDraft, CreatedAt: time.Now()}
	require.NoError(t, st.CreateDocument(ctx, doc))

	result, err := p.Publish(ctx, "doc1", false, []byte("A completely novel sentence about gardening."))
	require.NoError(t, err)
	assert.False(t, result.RequiresReview)
	assert.Equal(t, model.DocumentPublished, result.Document.Status)
	assert.NotNil(t, result.Document.EffectiveAt)
}

func TestPublish_AlreadyPublished_IsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, st := newTestPipeline(t)

	now := time.Now()
	doc := model.Document{ID: "doc1", Title: "t", ExternalRef: "ref1", Extension: "txt", Status: model.DocumentPublished, EffectiveAt: &now, CreatedAt: now}
	require.NoError(t, st.CreateDocument(ctx, doc))

	result, err := p.Publish(ctx, "doc1", false, []byte("irrelevant"))
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPublished, result.Document.Status)
}

func TestPublish_RestartSkipsRechunking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, st := newTestPipeline(t)

	doc := model.Document{ID: "doc1", Title: "t", ExternalRef: "ref1", Extension: "txt", Status: model.DocumentDraft, CreatedAt: time.Now()}
	require.NoError(t, st.CreateDocument(ctx, doc))

	existing := model.Chunk{ID: "preexisting", DocumentID: "doc1", Idx: 0, Text: "already committed"}
	require.NoError(t, st.InsertChunks(ctx, []model.Chunk{existing}))

	result, err := p.Publish(ctx, "doc1", false, []byte("this text would chunk differently"))
	require.NoError(t, err)
	assert.Equal(t, model.DocumentPublished, result.Document.Status)

	chunks, err := st.ListChunksByDocument(ctx, "doc1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "preexisting", chunks[0].ID)
}

func TestPublish_URLDocument_FetchesAndParsesRemoteContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, st := newTestPipeline(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte("<html><body><p>A completely novel sentence about beekeeping.</p></body></html>"))
	}))
	defer srv.Close()

	doc := model.Document{ID: "doc1", Title: "t", ExternalRef: srv.URL, Extension: "url", Status: model.DocumentDraft, CreatedAt: time.Now()}
	require.NoError(t, st.CreateDocument(ctx, doc))

	result, err := p.Publish(ctx, "doc1", false, nil)
	require.NoError(t, err)
	assert.False(t, result.RequiresReview)
	assert.Equal(t, model.DocumentPublished, result.Document.Status)

	chunks, err := st.ListChunksByDocument(ctx, "doc1")
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Contains(t, chunks[0].Text, "beekeeping")
}

func TestPublishStream_EmitsTerminalEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	p, st := newTestPipeline(t)

	doc := model.Document{ID: "doc1", Title: "t", ExternalRef: "ref1", Extension: "txt", Status: model.DocumentDraft, CreatedAt: time.Now()}
	require.NoError(t, st.CreateDocument(ctx, doc))

	var last Event
	for ev := range p.PublishStream(ctx, "doc1", false, []byte("some text to publish")) {
		last = ev
	}
	assert.Contains(t, []string{StageComplete, StageConflictsDetected, StageError}, last.Stage)
}
