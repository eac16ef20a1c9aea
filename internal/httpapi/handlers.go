package httpapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ingestd/internal/model"
	"ingestd/internal/objectstore"
)

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error(), "ok": false})
}

// handleUpload accepts a multipart file or URL body and either returns the
// existing document (idempotent, duplicate=true) or creates a new draft.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := r.ParseMultipartForm(s.limits.MaxUploadBytes + 1<<20); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Errorf("parse multipart form: %w", err))
		return
	}

	title := r.FormValue("title")
	var raw []byte
	var externalRef, ext string

	if rawURL := strings.TrimSpace(r.FormValue("url")); rawURL != "" {
		if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
			respondError(w, http.StatusBadRequest, fmt.Errorf("url must begin with http:// or https://"))
			return
		}
		externalRef = rawURL
		ext = "url"
		if title == "" {
			title = rawURL
		}
	} else {
		file, header, err := r.FormFile("file")
		if err != nil {
			respondError(w, http.StatusBadRequest, fmt.Errorf("missing file or url"))
			return
		}
		defer file.Close()

		ext = strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		if !s.limits.AllowedExtensions[ext] {
			respondError(w, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported extension %q", ext))
			return
		}

		limited := io.LimitReader(file, s.limits.MaxUploadBytes+1)
		raw, err = io.ReadAll(limited)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if int64(len(raw)) > s.limits.MaxUploadBytes {
			respondError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", s.limits.MaxUploadBytes))
			return
		}
		externalRef = header.Filename
		if title == "" {
			title = header.Filename
		}
	}

	fingerprint := fingerprintOf(raw)
	duplicate := false

	if existing, ok, err := s.store.GetDocumentByExternalRef(ctx, externalRef); err == nil && ok {
		if existing.Fingerprint == fingerprint {
			respondJSON(w, http.StatusOK, map[string]any{
				"document_id":        existing.ID,
				"duplicate":          true,
				"status":             existing.Status,
				"processing_status":  "idle",
			})
			return
		}
		// Same external_ref, different fingerprint: per design, still a new
		// document row, but reported as a duplicate reference.
		duplicate = true
	} else if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	doc := model.Document{
		ID:          uuid.NewString(),
		Title:       title,
		ExternalRef: externalRef,
		Fingerprint: fingerprint,
		Extension:   ext,
		Status:      model.DocumentDraft,
		CreatedAt:   time.Now().UTC(),
	}

	storageKey := fmt.Sprintf("raw/%s_%s.%s", sanitizeTitle(title), hex.EncodeToString(fingerprintBytes(fingerprint))[:4], ext)
	doc.StorageKey = storageKey

	if s.objects != nil && len(raw) > 0 {
		if _, err := s.objects.Put(ctx, storageKey, strings.NewReader(string(raw)), objectstore.PutOptions{}); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	}

	if err := s.store.CreateDocument(ctx, doc); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	uploadedBytes.mu.Lock()
	uploadedBytes.m[doc.ID] = raw
	uploadedBytes.mu.Unlock()

	respondJSON(w, http.StatusCreated, map[string]any{
		"document_id":       doc.ID,
		"duplicate":         duplicate,
		"status":            doc.Status,
		"processing_status": "idle",
	})
}

// uploadedBytes keeps each upload's raw bytes in process memory, until the
// document is deleted, so publish can re-parse them without reading object
// storage; rawBytesFor falls back to s.objects.Get(ctx, doc.StorageKey) for
// documents that are not in the map.
var uploadedBytes = struct {
	mu sync.Mutex
	m  map[string][]byte
}{m: map[string][]byte{}}

func (s *Server) rawBytesFor(r *http.Request, docID string) ([]byte, error) {
	uploadedBytes.mu.Lock()
	raw, ok := uploadedBytes.m[docID]
	uploadedBytes.mu.Unlock()
	if ok {
		return raw, nil
	}
	doc, found, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		return nil, err
	}
	if !found || doc.StorageKey == "" || s.objects == nil {
		return nil, nil
	}
	rc, _, err := s.objects.Get(r.Context(), doc.StorageKey)
	if err != nil {
		return nil, nil
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	richPDF := r.URL.Query().Get("docling") == "true"

	raw, err := s.rawBytesFor(r, docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	result, err := s.pipeline.Publish(r.Context(), docID, richPDF, raw)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}
	if result.RequiresReview {
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":              true,
			"document_id":     result.Document.ID,
			"requires_review": true,
			"conflicts":       result.Conflicts,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"document_id": result.Document.ID,
		"published":   true,
	})
}

func (s *Server) handlePublishStream(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	richPDF := r.URL.Query().Get("docling") == "true"

	raw, err := s.rawBytesFor(r, docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	fl, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var mu sync.Mutex
	writeSSE := func(payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "data: %s\n\n", b)
		fl.Flush()
	}

	// An aborted client disconnect does not cancel in-flight stages: the
	// pipeline runs against a copy of r.Context() detached from its
	// cancellation, so the client closing the connection does not stop it and
	// the document still reaches a terminal persisted state.
	for ev := range s.pipeline.PublishStream(context.WithoutCancel(r.Context()), docID, richPDF, raw) {
		payload := map[string]any{
			"stage":    ev.Stage,
			"progress": ev.Progress,
		}
		if ev.Message != "" {
			payload["message"] = ev.Message
		}
		if ev.Error != "" {
			payload["error"] = ev.Error
			payload["ok"] = false
		}
		if ev.Conflicts != nil {
			payload["conflicts"] = ev.Conflicts
		}
		writeSSE(payload)
	}
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	type row struct {
		ID        string    `json:"id"`
		Name      string    `json:"name"`
		CreatedAt time.Time `json:"created_at"`
		Status    string    `json:"status"`
	}
	out := make([]row, len(docs))
	for i, d := range docs {
		out[i] = row{ID: d.ID, Name: d.Title, CreatedAt: d.CreatedAt, Status: string(d.Status)}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	chunks, err := s.store.ListChunksByDocument(r.Context(), docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	type row struct {
		ID          string  `json:"id"`
		Idx         int     `json:"idx"`
		TextPreview string  `json:"text_preview"`
		Hash        uint64  `json:"hash"`
		Page        *int    `json:"page,omitempty"`
		SectionPath *string `json:"section_path,omitempty"`
	}
	out := make([]row, len(chunks))
	for i, c := range chunks {
		out[i] = row{ID: c.ID, Idx: c.Idx, TextPreview: preview(c.Text, 160), Hash: c.ContentHash, Page: c.Page, SectionPath: c.SectionPath}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	doc, ok, err := s.store.GetDocument(r.Context(), docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Errorf("document %s not found", docID))
		return
	}
	chunks, err := s.store.ListChunksByDocument(r.Context(), docID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"document": doc, "total_chunks": len(chunks)})
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")
	if err := s.store.DeleteDocument(r.Context(), docID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	uploadedBytes.mu.Lock()
	delete(uploadedBytes.m, docID)
	uploadedBytes.mu.Unlock()
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": docID})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	open, err := s.store.ListOpenConflicts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	type row struct {
		model.Conflict
		NewText      string `json:"new_text"`
		ExistingText string `json:"existing_text"`
	}
	out := make([]row, 0, len(open))
	for _, c := range open {
		newChunk, _, _ := s.store.GetChunk(r.Context(), c.NewChunkID)
		existingChunk, _, _ := s.store.GetChunk(r.Context(), c.ExistingChunkID)
		out = append(out, row{Conflict: c, NewText: newChunk.Text, ExistingText: existingChunk.Text})
	}
	respondJSON(w, http.StatusOK, out)
}

type resolveRequest struct {
	Action model.ResolutionAction `json:"action"`
	Note   string                 `json:"note"`
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID := r.PathValue("id")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Action != model.ActionSupersede && req.Action != model.ActionIgnore {
		respondError(w, http.StatusBadRequest, fmt.Errorf("action must be 'supersede' or 'ignore'"))
		return
	}

	before, _, _ := s.store.GetConflict(r.Context(), conflictID)
	kept, removed := before.NewChunkID, before.ExistingChunkID
	if req.Action == model.ActionIgnore {
		kept, removed = before.ExistingChunkID, before.NewChunkID
	}
	keptChunk, _, _ := s.store.GetChunk(r.Context(), kept)
	var wasPendingReview bool
	if doc, ok, _ := s.store.GetDocument(r.Context(), keptChunk.DocumentID); ok {
		wasPendingReview = doc.Status == model.DocumentPendingReview
	}

	if err := s.resolution.Resolve(r.Context(), conflictID, req.Action, req.Note); err != nil {
		respondError(w, statusFromError(err), err)
		return
	}

	autoPublished := false
	if wasPendingReview {
		if doc, ok, _ := s.store.GetDocument(r.Context(), keptChunk.DocumentID); ok {
			autoPublished = doc.Status == model.DocumentPublished
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"id":                conflictID,
		"resolved":          true,
		"action":            req.Action,
		"kept_chunk_id":     kept,
		"removed_chunk_id":  removed,
		"auto_published":    autoPublished,
	})
}

type resolveAllRequest struct {
	Action model.ResolutionAction `json:"action"`
	Note   string                 `json:"note"`
}

func (s *Server) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	var req resolveAllRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Action != model.ActionSupersede && req.Action != model.ActionIgnore {
		respondError(w, http.StatusBadRequest, fmt.Errorf("action must be 'supersede' or 'ignore'"))
		return
	}

	open, err := s.store.ListOpenConflicts(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	chunksKept := make([]string, 0, len(open))
	chunksRemoved := make([]string, 0, len(open))
	touchedDocs := map[string]bool{}
	for _, c := range open {
		kept, removed := c.NewChunkID, c.ExistingChunkID
		if req.Action == model.ActionIgnore {
			kept, removed = c.ExistingChunkID, c.NewChunkID
		}
		chunksKept = append(chunksKept, kept)
		chunksRemoved = append(chunksRemoved, removed)
		if keptChunk, ok, _ := s.store.GetChunk(r.Context(), kept); ok {
			touchedDocs[keptChunk.DocumentID] = true
		}
	}

	n, err := s.resolution.ResolveAll(r.Context(), req.Action, req.Note)
	if err != nil {
		respondError(w, statusFromError(err), err)
		return
	}

	autoPublished := make([]string, 0, len(touchedDocs))
	for docID := range touchedDocs {
		if doc, ok, _ := s.store.GetDocument(r.Context(), docID); ok && doc.Status == model.DocumentPublished {
			autoPublished = append(autoPublished, docID)
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"resolved_count":           n,
		"chunks_kept":              chunksKept,
		"chunks_removed":           chunksRemoved,
		"auto_published_documents": autoPublished,
	})
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sanitizeTitle(title string) string {
	title = strings.TrimSuffix(title, filepath.Ext(title))
	title = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, title)
	if title == "" {
		title = "document"
	}
	return title
}

func fingerprintOf(raw []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(raw)
	return h.Sum64()
}

func fingerprintBytes(fp uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(fp >> (8 * i))
	}
	return b
}

