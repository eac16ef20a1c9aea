package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
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
	"ingestd/internal/objectstore"
	"ingestd/internal/obs"
	"ingestd/internal/pipeline"
	"ingestd/internal/rag/embedder"
	"ingestd/internal/resolution"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	st := store.NewMemory()
	vecs := vectorstore.NewMemory(64)
	objects := objectstore.NewMemoryStore()
	splitter, err := chunk.NewSplitter("cl100k_base", 200, 25)
	require.NoError(t, err)
	embed := embedder.NewDeterministic(64, true, 1)
	nliClient, err := nli.NewClient("http://unused", "model", []string{"contradiction", "entailment", "neutral"}, 0)
	require.NoError(t, err)
	engine := conflict.New(vecs, st, nliClient, nil, conflict.Thresholds{Dedup: 0.95, Contradiction: 0.90, Neutral: 0.90}, 10, obs.NoopLogger{}, nil)
	pl := pipeline.New(st, vecs, splitter, embed, engine, obs.NoopLogger{}, nil)
	res := resolution.New(st, vecs, obs.NoopLogger{}, nil)
	limits := Limits{MaxUploadBytes: 10 << 20, AllowedExtensions: map[string]bool{"txt": true, "md": true}}
	return NewServer(st, objects, pl, res, limits, obs.NoopLogger{}, nil)
}

func multipartUpload(t *testing.T, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestHandleUpload_RejectsUnsupportedExtension(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	body, contentType := multipartUpload(t, "notes.exe", "binary junk")

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHandleUpload_CreatesDraftDocument(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	body, contentType := multipartUpload(t, "notes.txt", "hello world")

	req := httptest.NewRequest(http.MethodPost, "/documents", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, false, resp["duplicate"])
	assert.NotEmpty(t, resp["document_id"])
}

func TestHandleUpload_SameFileIsIdempotent(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	body1, contentType1 := multipartUpload(t, "notes.txt", "same content")
	req1 := httptest.NewRequest(http.MethodPost, "/documents", body1)
	req1.Header.Set("Content-Type", contentType1)
	rec1 := httptest.NewRecorder()
	srv.ServeHTTP(rec1, req1)
	var first map[string]any
	require.NoError(t, json.NewDecoder(rec1.Body).Decode(&first))

	body2, contentType2 := multipartUpload(t, "notes.txt", "same content")
	req2 := httptest.NewRequest(http.MethodPost, "/documents", body2)
	req2.Header.Set("Content-Type", contentType2)
	rec2 := httptest.NewRecorder()
	srv.ServeHTTP(rec2, req2)
	var second map[string]any
	require.NoError(t, json.NewDecoder(rec2.Body).Decode(&second))

	assert.Equal(t, true, second["duplicate"])
	assert.Equal(t, first["document_id"], second["document_id"])
}

func TestHandlePublish_PublishesNovelText(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	body, contentType := multipartUpload(t, "notes.txt", "an entirely novel sentence about beekeeping")

	uploadReq := httptest.NewRequest(http.MethodPost, "/documents", body)
	uploadReq.Header.Set("Content-Type", contentType)
	uploadRec := httptest.NewRecorder()
	srv.ServeHTTP(uploadRec, uploadReq)
	var uploaded map[string]any
	require.NoError(t, json.NewDecoder(uploadRec.Body).Decode(&uploaded))
	docID := uploaded["document_id"].(string)

	publishReq := httptest.NewRequest(http.MethodPost, "/documents/"+docID+"/publish", nil)
	publishReq.SetPathValue("id", docID)
	publishRec := httptest.NewRecorder()
	srv.ServeHTTP(publishRec, publishReq)

	require.Equal(t, http.StatusOK, publishRec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(publishRec.Body).Decode(&resp))
	assert.Equal(t, true, resp["published"])
}

func TestHandleListDocuments_ReturnsCreatedDocument(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, srv.store.CreateDocument(ctx, model.Document{
		ID: "doc1", Title: "t", ExternalRef: "ref1", Status: model.DocumentDraft, CreatedAt: time.Now(),
	}))

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var docs []map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&docs))
	require.Len(t, docs, 1)
	assert.Equal(t, "doc1", docs[0]["id"])
}

func TestHandleResolveConflict_Supersede(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, srv.store.CreateDocument(ctx, model.Document{
		ID: "doc1", Title: "t", ExternalRef: "ref1", Status: model.DocumentPendingReview, CreatedAt: time.Now(),
	}))
	require.NoError(t, srv.store.InsertChunks(ctx, []model.Chunk{
		{ID: "new1", DocumentID: "doc1", Idx: 0, Text: "new"},
		{ID: "existing1", DocumentID: "doc0", Idx: 0, Text: "existing"},
	}))
	_, err := srv.store.InsertConflicts(ctx, []model.Conflict{{
		ID: "conf1", NewChunkID: "new1", ExistingChunkID: "existing1",
		Label: model.LabelDuplicate, Score: 0.99, JudgedBy: model.JudgedByNLI,
	}})
	require.NoError(t, err)

	payload, _ := json.Marshal(map[string]string{"action": "supersede"})
	req := httptest.NewRequest(http.MethodPost, "/conflicts/conf1/resolve", bytes.NewReader(payload))
	req.SetPathValue("id", "conf1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, true, resp["resolved"])
	assert.Equal(t, "new1", resp["kept_chunk_id"])
	assert.Equal(t, "existing1", resp["removed_chunk_id"])
	assert.Equal(t, true, resp["auto_published"])
}

func TestHandleResolveConflict_RejectsUnknownAction(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	payload, _ := json.Marshal(map[string]string{"action": "bogus"})
	req := httptest.NewRequest(http.MethodPost, "/conflicts/conf1/resolve", bytes.NewReader(payload))
	req.SetPathValue("id", "conf1")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
