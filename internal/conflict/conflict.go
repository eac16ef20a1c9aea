// Package conflict is the Conflict Engine: for a document's chunk set,
// finds candidate duplicates/contradictions against the rest of the corpus
// via nearest-neighbor search, two-tier NLI + generative adjudication, and
// persists surviving records in a single transaction.
package conflict

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ingestd/internal/kind"
	"ingestd/internal/model"
	"ingestd/internal/nli"
	"ingestd/internal/obs"
	"ingestd/internal/store"
	"ingestd/internal/vectorstore"
	"ingestd/internal/verifier"
)

// Thresholds are the NLI adjudication cutoffs (see config.ThresholdsConfig).
type Thresholds struct {
	Dedup         float64
	Contradiction float64
	Neutral       float64
}

// Engine runs the per-document conflict analysis stage.
type Engine struct {
	vectors       vectorstore.Store
	relational    store.Store
	nliClient     *nli.Client
	verifier      *verifier.Verifier
	thresholds    Thresholds
	neighborCount int
	log           obs.Logger
	metrics       obs.Metrics
}

// New builds a conflict Engine.
func New(
	vectors vectorstore.Store,
	relational store.Store,
	nliClient *nli.Client,
	v *verifier.Verifier,
	thresholds Thresholds,
	neighborCount int,
	log obs.Logger,
	metrics obs.Metrics,
) *Engine {
	if neighborCount <= 0 {
		neighborCount = 10
	}
	return &Engine{
		vectors:       vectors,
		relational:    relational,
		nliClient:     nliClient,
		verifier:      v,
		thresholds:    thresholds,
		neighborCount: neighborCount,
		log:           log,
		metrics:       metrics,
	}
}

// candidate is a new-chunk/neighbor pairing awaiting adjudication.
type candidate struct {
	newChunk      model.Chunk
	neighborID    string
	neighborText  string
	neighborScore float64
}

// Analyze finds conflicts for every chunk in chunks (all belonging to
// document docID) against chunks owned by other documents, and persists all
// surviving conflict records together in a single relational transaction.
// Returns the persisted conflicts.
func (e *Engine) Analyze(ctx context.Context, docID string, chunks []model.Chunk, chunkVectors map[string][]float32) ([]model.Conflict, error) {
	var candidates []candidate

	for _, c := range chunks {
		vec, ok := chunkVectors[c.ID]
		if !ok {
			continue
		}
		results, err := e.vectors.SimilaritySearch(ctx, vec, e.neighborCount, vectorstore.Filter{
			MustNot: map[string]string{"document_id": docID},
		})
		if err != nil {
			return nil, kind.New(kind.IndexError, "conflict.Analyze", fmt.Errorf("neighbor search for chunk %s: %w", c.ID, err))
		}
		for _, r := range results {
			text, ok := r.Metadata["text"]
			if !ok {
				continue
			}
			candidates = append(candidates, candidate{
				newChunk:      c,
				neighborID:    r.ID,
				neighborText:  text,
				neighborScore: r.Score,
			})
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	pairs := make([]nli.Pair, len(candidates))
	for i, cand := range candidates {
		pairs[i] = nli.Pair{Premise: cand.newChunk.Text, Hypothesis: cand.neighborText}
	}

	predictions, err := e.nliClient.ClassifyBatch(ctx, pairs)
	if err != nil {
		return nil, kind.New(kind.ModelError, "conflict.Analyze", fmt.Errorf("nli classification: %w", err))
	}

	var records []model.Conflict
	var ambiguous []candidate

	for i, pred := range predictions {
		cand := candidates[i]
		switch {
		case pred.Label == nli.Entailment && pred.Confidence > e.thresholds.Dedup:
			records = append(records, e.newRecord(cand, model.LabelDuplicate, pred.Confidence, model.JudgedByNLI))
		case pred.Label == nli.Contradiction && pred.Confidence > e.thresholds.Contradiction:
			records = append(records, e.newRecord(cand, model.LabelContradiction, pred.Confidence, model.JudgedByNLI))
		case pred.Label == nli.Neutral && pred.Confidence > e.thresholds.Neutral:
			// accepted as unrelated; no record
		default:
			ambiguous = append(ambiguous, cand)
		}
	}

	if e.verifier != nil && len(ambiguous) > 0 {
		verified := e.escalate(ctx, ambiguous)
		records = append(records, verified...)
	}

	if len(records) == 0 {
		return nil, nil
	}

	persisted, err := e.relational.InsertConflicts(ctx, records)
	if err != nil {
		return nil, kind.New(kind.StoreError, "conflict.Analyze", fmt.Errorf("persist conflicts: %w", err))
	}
	if e.metrics != nil {
		e.metrics.IncCounter("conflicts_total", map[string]string{"document_id": docID})
	}
	return persisted, nil
}

// escalate dispatches ambiguous pairs to the generative verifier, bounded by
// a semaphore scoped to this single Analyze call, and collects the
// surviving records. Individual failures are dropped, never fatal.
func (e *Engine) escalate(ctx context.Context, ambiguous []candidate) []model.Conflict {
	pairs := make([]verifier.Pair, len(ambiguous))
	for i, cand := range ambiguous {
		pairs[i] = verifier.Pair{Premise: cand.newChunk.Text, Hypothesis: cand.neighborText}
	}
	verdicts := e.verifier.VerifyBatch(ctx, pairs)

	var records []model.Conflict
	for i, verd := range verdicts {
		if verd == nil {
			continue
		}
		cand := ambiguous[i]
		switch verd.Label {
		case verifier.Entailment:
			records = append(records, e.newRecord(cand, model.LabelDuplicate, 1.0, model.JudgedByLLM))
		case verifier.Contradiction:
			records = append(records, e.newRecord(cand, model.LabelContradiction, 1.0, model.JudgedByLLM))
		case verifier.Neutral:
			// dropped
		}
	}
	return records
}

func (e *Engine) newRecord(cand candidate, label model.ConflictLabel, score float64, judgedBy model.JudgedBy) model.Conflict {
	neighborScore := cand.neighborScore
	return model.Conflict{
		ID:              uuid.NewString(),
		NewChunkID:      cand.newChunk.ID,
		ExistingChunkID: cand.neighborID,
		Label:           label,
		Score:           score,
		NeighborScore:   &neighborScore,
		JudgedBy:        judgedBy,
	}
}
