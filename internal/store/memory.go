package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ingestd/internal/model"
)

type memoryStore struct {
	mu        sync.RWMutex
	documents map[string]model.Document
	chunks    map[string]model.Chunk
	conflicts map[string]model.Conflict
}

// NewMemory returns an in-memory Store for tests; no persistence, no
// transactions, but the same invariants (unique open conflict pairs, cascade
// deletes) as the Postgres implementation.
func NewMemory() Store {
	return &memoryStore{
		documents: make(map[string]model.Document),
		chunks:    make(map[string]model.Chunk),
		conflicts: make(map[string]model.Conflict),
	}
}

func (m *memoryStore) CreateDocument(_ context.Context, d model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *memoryStore) GetDocument(_ context.Context, id string) (model.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *memoryStore) GetDocumentByExternalRef(_ context.Context, externalRef string) (model.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best model.Document
	var found bool
	for _, d := range m.documents {
		if d.ExternalRef != externalRef {
			continue
		}
		if !found || d.CreatedAt.After(best.CreatedAt) {
			best = d
			found = true
		}
	}
	return best, found, nil
}

func (m *memoryStore) UpdateDocumentStatus(_ context.Context, id string, status model.DocumentStatus, effectiveAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return fmt.Errorf("document %s not found", id)
	}
	d.Status = status
	d.EffectiveAt = effectiveAt
	m.documents[id] = d
	return nil
}

func (m *memoryStore) ListDocuments(_ context.Context) ([]model.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Document, 0, len(m.documents))
	for _, d := range m.documents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryStore) DeleteDocument(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	for cid, c := range m.chunks {
		if c.DocumentID == id {
			delete(m.chunks, cid)
			m.cascadeConflictsForChunkLocked(cid)
		}
	}
	return nil
}

func (m *memoryStore) HasChunks(_ context.Context, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) InsertChunks(_ context.Context, chunks []model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.ID] = c
	}
	return nil
}

func (m *memoryStore) GetChunk(_ context.Context, id string) (model.Chunk, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chunks[id]
	return c, ok, nil
}

func (m *memoryStore) ListChunksByDocument(_ context.Context, documentID string) ([]model.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Chunk
	for _, c := range m.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

func (m *memoryStore) DeleteChunk(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chunks, id)
	m.cascadeConflictsForChunkLocked(id)
	return nil
}

// cascadeConflictsForChunkLocked must be called with m.mu held for writing.
func (m *memoryStore) cascadeConflictsForChunkLocked(chunkID string) {
	for cid, c := range m.conflicts {
		if c.NewChunkID == chunkID || c.ExistingChunkID == chunkID {
			delete(m.conflicts, cid)
		}
	}
}

func (m *memoryStore) InsertConflicts(_ context.Context, conflicts []model.Conflict) ([]model.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var persisted []model.Conflict
	for _, c := range conflicts {
		dup := false
		for _, existing := range m.conflicts {
			if existing.Open() && existing.NewChunkID == c.NewChunkID && existing.ExistingChunkID == c.ExistingChunkID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		m.conflicts[c.ID] = c
		persisted = append(persisted, c)
	}
	return persisted, nil
}

func (m *memoryStore) GetConflict(_ context.Context, id string) (model.Conflict, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conflicts[id]
	return c, ok, nil
}

func (m *memoryStore) ListOpenConflicts(_ context.Context) ([]model.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Conflict
	for _, c := range m.conflicts {
		if c.Open() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memoryStore) HasOpenConflictPair(_ context.Context, newChunkID, existingChunkID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.conflicts {
		if c.Open() && c.NewChunkID == newChunkID && c.ExistingChunkID == existingChunkID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) CountOpenConflictsForDocument(_ context.Context, documentID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.conflicts {
		if !c.Open() {
			continue
		}
		nc, ok1 := m.chunks[c.NewChunkID]
		ec, ok2 := m.chunks[c.ExistingChunkID]
		if (ok1 && nc.DocumentID == documentID) || (ok2 && ec.DocumentID == documentID) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ResolveConflict(_ context.Context, c model.Conflict) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.ID] = c
	return nil
}

func (m *memoryStore) Close() error { return nil }
