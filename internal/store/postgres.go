package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingestd/internal/model"
)

type postgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a pool against dsn and ensures the documents/chunks/
// conflicts/chat_sessions/chat_messages tables exist.
func NewPostgres(ctx context.Context, dsn string) (Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	s := &postgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *postgresStore) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			external_ref TEXT NOT NULL,
			fingerprint BIGINT NOT NULL,
			storage_key TEXT NOT NULL,
			extension TEXT NOT NULL,
			status TEXT NOT NULL,
			effective_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS documents_external_ref_idx ON documents(external_ref)`,
		`CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			text TEXT NOT NULL,
			content_hash BIGINT NOT NULL,
			page INTEGER,
			section_path TEXT,
			UNIQUE(document_id, idx)
		)`,
		`CREATE TABLE IF NOT EXISTS conflicts (
			id TEXT PRIMARY KEY,
			new_chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
			existing_chunk_id TEXT NOT NULL REFERENCES chunks(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			neighbor_score DOUBLE PRECISION,
			judged_by TEXT NOT NULL,
			resolution_action TEXT,
			resolved_at TIMESTAMPTZ,
			resolver_note TEXT
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conflicts_open_pair_idx
			ON conflicts(new_chunk_id, existing_chunk_id) WHERE resolved_at IS NULL`,
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *postgresStore) CreateDocument(ctx context.Context, d model.Document) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO documents(id, title, external_ref, fingerprint, storage_key, extension, status, effective_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.Title, d.ExternalRef, int64(d.Fingerprint), d.StorageKey, d.Extension, string(d.Status), d.EffectiveAt, d.CreatedAt)
	return err
}

func (s *postgresStore) scanDocument(row pgx.Row) (model.Document, bool, error) {
	var d model.Document
	var fingerprint int64
	var status string
	if err := row.Scan(&d.ID, &d.Title, &d.ExternalRef, &fingerprint, &d.StorageKey, &d.Extension, &status, &d.EffectiveAt, &d.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, false, nil
		}
		return model.Document{}, false, err
	}
	d.Fingerprint = uint64(fingerprint)
	d.Status = model.DocumentStatus(status)
	return d, true, nil
}

func (s *postgresStore) GetDocument(ctx context.Context, id string) (model.Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, external_ref, fingerprint, storage_key, extension, status, effective_at, created_at
FROM documents WHERE id=$1`, id)
	return s.scanDocument(row)
}

func (s *postgresStore) GetDocumentByExternalRef(ctx context.Context, externalRef string) (model.Document, bool, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, title, external_ref, fingerprint, storage_key, extension, status, effective_at, created_at
FROM documents WHERE external_ref=$1 ORDER BY created_at DESC LIMIT 1`, externalRef)
	return s.scanDocument(row)
}

func (s *postgresStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, effectiveAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE documents SET status=$2, effective_at=$3 WHERE id=$1`, id, string(status), effectiveAt)
	return err
}

func (s *postgresStore) ListDocuments(ctx context.Context) ([]model.Document, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, title, external_ref, fingerprint, storage_key, extension, status, effective_at, created_at
FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Document
	for rows.Next() {
		d, ok, err := s.scanDocument(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, d)
		}
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	return err
}

func (s *postgresStore) HasChunks(ctx context.Context, documentID string) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE document_id=$1`, documentID).Scan(&n)
	return n > 0, err
}

func (s *postgresStore) InsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
INSERT INTO chunks(id, document_id, idx, text, content_hash, page, section_path)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			c.ID, c.DocumentID, c.Idx, c.Text, int64(c.ContentHash), c.Page, c.SectionPath); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (s *postgresStore) scanChunk(row pgx.Row) (model.Chunk, bool, error) {
	var c model.Chunk
	var contentHash int64
	if err := row.Scan(&c.ID, &c.DocumentID, &c.Idx, &c.Text, &contentHash, &c.Page, &c.SectionPath); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Chunk{}, false, nil
		}
		return model.Chunk{}, false, err
	}
	c.ContentHash = uint64(contentHash)
	return c, true, nil
}

func (s *postgresStore) GetChunk(ctx context.Context, id string) (model.Chunk, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, document_id, idx, text, content_hash, page, section_path FROM chunks WHERE id=$1`, id)
	return s.scanChunk(row)
}

func (s *postgresStore) ListChunksByDocument(ctx context.Context, documentID string) ([]model.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, document_id, idx, text, content_hash, page, section_path
FROM chunks WHERE document_id=$1 ORDER BY idx ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Chunk
	for rows.Next() {
		c, ok, err := s.scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *postgresStore) DeleteChunk(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE id=$1`, id)
	return err
}

func (s *postgresStore) InsertConflicts(ctx context.Context, conflicts []model.Conflict) ([]model.Conflict, error) {
	if len(conflicts) == 0 {
		return nil, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	var persisted []model.Conflict
	for _, c := range conflicts {
		var exists bool
		if err := tx.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM conflicts WHERE new_chunk_id=$1 AND existing_chunk_id=$2 AND resolved_at IS NULL)`,
			c.NewChunkID, c.ExistingChunkID).Scan(&exists); err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO conflicts(id, new_chunk_id, existing_chunk_id, label, score, neighbor_score, judged_by)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			c.ID, c.NewChunkID, c.ExistingChunkID, string(c.Label), c.Score, c.NeighborScore, string(c.JudgedBy)); err != nil {
			return nil, err
		}
		persisted = append(persisted, c)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return persisted, nil
}

func (s *postgresStore) scanConflict(row pgx.Row) (model.Conflict, bool, error) {
	var c model.Conflict
	var label, judgedBy string
	var resolutionAction *string
	if err := row.Scan(&c.ID, &c.NewChunkID, &c.ExistingChunkID, &label, &c.Score, &c.NeighborScore, &judgedBy,
		&resolutionAction, &c.ResolvedAt, &c.ResolverNote); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Conflict{}, false, nil
		}
		return model.Conflict{}, false, err
	}
	c.Label = model.ConflictLabel(label)
	c.JudgedBy = model.JudgedBy(judgedBy)
	if resolutionAction != nil {
		a := model.ResolutionAction(*resolutionAction)
		c.ResolutionAction = &a
	}
	return c, true, nil
}

const conflictCols = `id, new_chunk_id, existing_chunk_id, label, score, neighbor_score, judged_by, resolution_action, resolved_at, resolver_note`

func (s *postgresStore) GetConflict(ctx context.Context, id string) (model.Conflict, bool, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conflictCols+` FROM conflicts WHERE id=$1`, id)
	return s.scanConflict(row)
}

func (s *postgresStore) ListOpenConflicts(ctx context.Context) ([]model.Conflict, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+conflictCols+` FROM conflicts WHERE resolved_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Conflict
	for rows.Next() {
		c, ok, err := s.scanConflict(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, rows.Err()
}

func (s *postgresStore) HasOpenConflictPair(ctx context.Context, newChunkID, existingChunkID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM conflicts WHERE new_chunk_id=$1 AND existing_chunk_id=$2 AND resolved_at IS NULL)`,
		newChunkID, existingChunkID).Scan(&exists)
	return exists, err
}

func (s *postgresStore) CountOpenConflictsForDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM conflicts co
JOIN chunks nc ON nc.id = co.new_chunk_id
JOIN chunks ec ON ec.id = co.existing_chunk_id
WHERE co.resolved_at IS NULL AND (nc.document_id=$1 OR ec.document_id=$1)`, documentID).Scan(&n)
	return n, err
}

func (s *postgresStore) ResolveConflict(ctx context.Context, c model.Conflict) error {
	var action *string
	if c.ResolutionAction != nil {
		a := string(*c.ResolutionAction)
		action = &a
	}
	_, err := s.pool.Exec(ctx, `
UPDATE conflicts SET resolution_action=$2, resolved_at=$3, resolver_note=$4 WHERE id=$1`,
		c.ID, action, c.ResolvedAt, c.ResolverNote)
	return err
}

func (s *postgresStore) Close() error {
	s.pool.Close()
	return nil
}
