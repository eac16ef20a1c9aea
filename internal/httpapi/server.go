// Package httpapi is the external boundary: the HTTP surface for uploading,
// publishing, inspecting, and resolving conflicts on documents.
package httpapi

import (
	"net/http"

	"ingestd/internal/conflict"
	"ingestd/internal/kind"
	"ingestd/internal/obs"
	"ingestd/internal/objectstore"
	"ingestd/internal/pipeline"
	"ingestd/internal/resolution"
	"ingestd/internal/store"
)

// Limits are the upload-validation limits enforced at the boundary.
type Limits struct {
	MaxUploadBytes    int64
	AllowedExtensions map[string]bool
}

// Server exposes the ingestion and conflict-detection HTTP API.
type Server struct {
	mux        *http.ServeMux
	store      store.Store
	objects    objectstore.ObjectStore
	pipeline   *pipeline.Pipeline
	resolution *resolution.Controller
	engine     *conflict.Engine
	limits     Limits
	log        obs.Logger
	metrics    obs.Metrics
}

// NewServer wires the ingestion domain's dependencies into an HTTP server.
func NewServer(
	st store.Store,
	objects objectstore.ObjectStore,
	pl *pipeline.Pipeline,
	res *resolution.Controller,
	limits Limits,
	log obs.Logger,
	metrics obs.Metrics,
) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		store:      st,
		objects:    objects,
		pipeline:   pl,
		resolution: res,
		limits:     limits,
		log:        log,
		metrics:    metrics,
	}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("POST /documents", s.handleUpload)
	s.mux.HandleFunc("POST /documents/{id}/publish", s.handlePublish)
	s.mux.HandleFunc("GET /documents/{id}/publish-stream", s.handlePublishStream)
	s.mux.HandleFunc("GET /documents", s.handleListDocuments)
	s.mux.HandleFunc("GET /documents/{id}", s.handleGetDocument)
	s.mux.HandleFunc("GET /documents/{id}/status", s.handleDocumentStatus)
	s.mux.HandleFunc("DELETE /documents/{id}", s.handleDeleteDocument)
	s.mux.HandleFunc("GET /conflicts", s.handleListConflicts)
	s.mux.HandleFunc("POST /conflicts/{id}/resolve", s.handleResolveConflict)
	s.mux.HandleFunc("POST /conflicts/resolve-all", s.handleResolveAll)
}

func statusFromError(err error) int {
	switch kind.Of(err) {
	case kind.BadInput:
		return http.StatusBadRequest
	case kind.Unsupported:
		return http.StatusUnsupportedMediaType
	case kind.TooLarge:
		return http.StatusRequestEntityTooLarge
	case kind.NotFound:
		return http.StatusNotFound
	case kind.Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
