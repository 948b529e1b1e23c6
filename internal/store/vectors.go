package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// VectorRow is one embedding keyed by entry id. Upserts are
// content-addressed: a re-run overwrites the previous vector.
type VectorRow struct {
	FeedEntryID uuid.UUID       `db:"feed_entry_id"`
	Embedding   pgvector.Vector `db:"embedding"`
	ModelName   string          `db:"model_name"`
}

// UpsertVectors writes embeddings into feed_entry_vectors inside one
// transaction.
func (s *Store) UpsertVectors(ctx context.Context, rows []VectorRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return &types.StoreError{Op: "upsert_vectors", Err: err}
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO feed_entry_vectors (feed_entry_id, embedding, model_name)
		VALUES (:feed_entry_id, :embedding, :model_name)
		ON CONFLICT (feed_entry_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, model_name = EXCLUDED.model_name`

	for i := range rows {
		q, args, err := sqlx.Named(upsert, rows[i])
		if err != nil {
			return &types.StoreError{Op: "upsert_vectors", Err: err}
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err != nil {
			return &types.StoreError{Op: "upsert_vectors", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &types.StoreError{Op: "upsert_vectors", Err: err}
	}
	return nil
}

// VectorsForFlashpoint loads the embeddings of a flashpoint's
// non-duplicate entries in this run, as parallel id/vector slices ordered
// by entry id.
func (s *Store) VectorsForFlashpoint(ctx context.Context, t Tables, runID string, flashpointID uuid.UUID) ([]uuid.UUID, [][]float32, error) {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return nil, nil, err
	}
	var rows []struct {
		FeedEntryID uuid.UUID       `db:"feed_entry_id"`
		Embedding   pgvector.Vector `db:"embedding"`
	}
	q := fmt.Sprintf(`
		SELECT fev.feed_entry_id, fev.embedding
		FROM feed_entry_vectors fev
		JOIN %s fe ON fe.id = fev.feed_entry_id
		JOIN feed_entry_jobs jej ON jej.feed_entry_id = fe.id
		WHERE fe.flashpoint_id = :flashpoint_id
		  AND jej.run_id = :run_id
		  AND jej.is_duplicate = FALSE
		ORDER BY fev.feed_entry_id`, feed)
	err = s.namedSelect(ctx, &rows, q, map[string]any{
		"flashpoint_id": flashpointID,
		"run_id":        runID,
	})
	if err != nil {
		return nil, nil, &types.StoreError{Op: "vectors_for_flashpoint", Err: err}
	}

	ids := make([]uuid.UUID, len(rows))
	vecs := make([][]float32, len(rows))
	for i, r := range rows {
		ids[i] = r.FeedEntryID
		vecs[i] = r.Embedding.Slice()
	}
	return ids, vecs, nil
}
