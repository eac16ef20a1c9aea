// Package pipeline is the Publish Pipeline: the parse → chunk & persist →
// embed & upsert → analyze → finalize state machine driving a document from
// draft to pending_review or published.
package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/google/uuid"

	"ingestd/internal/chunk"
	"ingestd/internal/conflict"
	"ingestd/internal/kind"
	"ingestd/internal/model"
	"ingestd/internal/obs"
	"ingestd/internal/parse"
	"ingestd/internal/rag/embedder"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
)

const vectorCollection = "chunks"

// Stage names emitted in progress events, per the streaming publish's stage
// sequence: parsing → parsed → chunking → chunked → embedding → embedded →
// analyzing → analyzed → (conflicts_detected | complete).
const (
	StageParsing           = "parsing"
	StageParsed            = "parsed"
	StageChunking          = "chunking"
	StageChunked           = "chunked"
	StageEmbedding         = "embedding"
	StageEmbedded          = "embedded"
	StageAnalyzing         = "analyzing"
	StageAnalyzed          = "analyzed"
	StageComplete          = "complete"
	StageConflictsDetected = "conflicts_detected"
	StageError             = "error"
)

// Event is one progress notification emitted by the streaming publish.
type Event struct {
	Stage    string
	Message  string
	Progress int
	Error    string
	Document *model.Document
	Conflicts []model.Conflict
}

// Result is the outcome of a non-streaming publish call.
type Result struct {
	Document        model.Document
	RequiresReview  bool
	Conflicts       []model.Conflict
}

// Pipeline wires together the Parser Set, Chunker, Embedding Client, Vector
// Index Gateway, Conflict Engine, and Relational Store Gateway.
type Pipeline struct {
	store     store.Store
	vectors   vectorstore.Store
	splitter  *chunk.Splitter
	embed     embedder.Embedder
	engine    *conflict.Engine
	urlParser *parse.URLParser
	log       obs.Logger
	metrics   obs.Metrics
}

// New builds a Pipeline.
func New(
	st store.Store,
	vectors vectorstore.Store,
	splitter *chunk.Splitter,
	embed embedder.Embedder,
	engine *conflict.Engine,
	log obs.Logger,
	metrics obs.Metrics,
) *Pipeline {
	return &Pipeline{
		store:     st,
		vectors:   vectors,
		splitter:  splitter,
		embed:     embed,
		engine:    engine,
		urlParser: parse.NewURLParser(),
		log:       log,
		metrics:   metrics,
	}
}

// Publish runs publish(doc_id, use_rich_pdf) to completion and returns the
// terminal result. See PublishStream for the progress-event variant.
func (p *Pipeline) Publish(ctx context.Context, docID string, richPDF bool, raw []byte) (Result, error) {
	var result Result
	for ev := range p.run(ctx, docID, richPDF, raw) {
		if ev.Stage == StageError {
			return result, kind.New(kind.Internal, "pipeline.Publish", fmt.Errorf("%s", ev.Error))
		}
		if ev.Document != nil {
			result.Document = *ev.Document
		}
		if ev.Stage == StageConflictsDetected {
			result.RequiresReview = true
			result.Conflicts = ev.Conflicts
		}
	}
	return result, nil
}

// PublishStream runs the pipeline and returns a channel of progress events;
// the final event is one of complete, conflicts_detected, or error, after
// which the channel closes. An aborted consumer does not cancel in-flight
// stages — run continues to completion regardless of whether anyone is
// still receiving.
func (p *Pipeline) PublishStream(ctx context.Context, docID string, richPDF bool, raw []byte) <-chan Event {
	return p.run(ctx, docID, richPDF, raw)
}

func (p *Pipeline) run(ctx context.Context, docID string, richPDF bool, raw []byte) chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		p.execute(ctx, docID, richPDF, raw, events)
	}()
	return events
}

func (p *Pipeline) execute(ctx context.Context, docID string, richPDF bool, raw []byte, events chan<- Event) {
	doc, ok, err := p.store.GetDocument(ctx, docID)
	if err != nil {
		p.emitError(events, fmt.Errorf("load document: %w", err))
		return
	}
	if !ok {
		p.emitError(events, fmt.Errorf("document %s not found", docID))
		return
	}
	if doc.Status == model.DocumentPublished {
		events <- Event{Stage: StageComplete, Progress: 100, Document: &doc}
		return
	}

	start := time.Now()

	// Parse.
	events <- Event{Stage: StageParsing, Progress: 5}
	var text string
	if doc.Extension == "url" {
		text, err = p.urlParser.Parse(ctx, doc.ExternalRef)
	} else {
		var parser parse.Parser
		parser, err = parse.ForExtension(doc.Extension)
		if err == nil {
			text, err = parser.Parse(ctx, raw, parse.Options{RichPDF: richPDF})
		}
	}
	if err != nil {
		p.emitError(events, err)
		return
	}
	events <- Event{Stage: StageParsed, Progress: 20, Message: fmt.Sprintf("%d bytes normalized", len(text))}

	// Chunk & persist (restart-aware: skip rechunking if already committed).
	events <- Event{Stage: StageChunking, Progress: 30}
	chunks, err := p.chunkAndPersist(ctx, doc.ID, text)
	if err != nil {
		p.emitError(events, err)
		return
	}
	events <- Event{Stage: StageChunked, Progress: 45, Message: fmt.Sprintf("%d chunks", len(chunks))}

	if len(chunks) == 0 {
		now := time.Now().UTC()
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPublished, &now); err != nil {
			p.emitError(events, err)
			return
		}
		doc.Status = model.DocumentPublished
		doc.EffectiveAt = &now
		events <- Event{Stage: StageComplete, Progress: 100, Document: &doc}
		return
	}

	// Embed & upsert.
	events <- Event{Stage: StageEmbedding, Progress: 55}
	chunkVectors, err := p.embedAndUpsert(ctx, doc.ID, chunks)
	if err != nil {
		p.emitError(events, err)
		return
	}
	events <- Event{Stage: StageEmbedded, Progress: 70}

	// Analyze.
	events <- Event{Stage: StageAnalyzing, Progress: 80}
	conflicts, err := p.engine.Analyze(ctx, doc.ID, chunks, chunkVectors)
	if err != nil {
		p.emitError(events, err)
		return
	}
	events <- Event{Stage: StageAnalyzed, Progress: 90}

	// Finalize.
	if len(conflicts) > 0 {
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPendingReview, nil); err != nil {
			p.emitError(events, err)
			return
		}
		doc.Status = model.DocumentPendingReview
		events <- Event{Stage: StageConflictsDetected, Progress: 100, Document: &doc, Conflicts: conflicts}
	} else {
		now := time.Now().UTC()
		if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentPublished, &now); err != nil {
			p.emitError(events, err)
			return
		}
		doc.Status = model.DocumentPublished
		doc.EffectiveAt = &now
		events <- Event{Stage: StageComplete, Progress: 100, Document: &doc}
	}

	if p.metrics != nil {
		p.metrics.ObserveHistogram("publish_stage_ms", float64(time.Since(start).Milliseconds()), map[string]string{"document_id": doc.ID})
		p.metrics.IncCounter("publish_total", map[string]string{"status": string(doc.Status)})
	}
}

func (p *Pipeline) emitError(events chan<- Event, err error) {
	p.log.Error("publish pipeline failed", map[string]any{"error": err.Error()})
	events <- Event{Stage: StageError, Error: err.Error()}
}

// chunkAndPersist reuses already-committed chunks on restart; otherwise it
// splits, hashes, and bulk-inserts under a single transaction.
func (p *Pipeline) chunkAndPersist(ctx context.Context, docID, text string) ([]model.Chunk, error) {
	has, err := p.store.HasChunks(ctx, docID)
	if err != nil {
		return nil, kind.New(kind.StoreError, "pipeline.chunkAndPersist", err)
	}
	if has {
		return p.store.ListChunksByDocument(ctx, docID)
	}

	split := p.splitter.Split(text)
	chunks := make([]model.Chunk, len(split))
	for i, s := range split {
		chunks[i] = model.Chunk{
			ID:          uuid.NewString(),
			DocumentID:  docID,
			Idx:         s.Idx,
			Text:        s.Text,
			ContentHash: contentHash(s.Text),
		}
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	if err := p.store.InsertChunks(ctx, chunks); err != nil {
		return nil, kind.New(kind.ChunkError, "pipeline.chunkAndPersist", err)
	}
	return chunks, nil
}

// embedAndUpsert computes a unit vector per chunk and upserts it into the
// vector index. Re-upserting an existing point replaces it atomically from
// the caller's perspective, so this step is safe to repeat on restart.
func (p *Pipeline) embedAndUpsert(ctx context.Context, docID string, chunks []model.Chunk) (map[string][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.embed.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, kind.New(kind.EmbedError, "pipeline.embedAndUpsert", err)
	}
	if len(vectors) != len(chunks) {
		return nil, kind.New(kind.EmbedError, "pipeline.embedAndUpsert", fmt.Errorf("expected %d vectors, got %d", len(chunks), len(vectors)))
	}

	out := make(map[string][]float32, len(chunks))
	for i, c := range chunks {
		vec := normalize(vectors[i])
		if err := p.vectors.Upsert(ctx, c.ID, vec, map[string]string{
			"text":        c.Text,
			"document_id": docID,
			"idx":         fmt.Sprintf("%d", c.Idx),
		}); err != nil {
			return nil, kind.New(kind.IndexError, "pipeline.embedAndUpsert", fmt.Errorf("upsert chunk %s: %w", c.ID, err))
		}
		out[c.ID] = vec
	}
	return out, nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1.0 / math.Sqrt(sum))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
