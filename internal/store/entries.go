package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// entryColumns is the projection used whenever whole entries are loaded.
// Nullable text columns are coalesced so they scan into plain strings.
const entryColumns = `
	fe.id, fe.flashpoint_id, fe.url,
	COALESCE(fe.title, '')         AS title,
	COALESCE(fe.title_en, '')      AS title_en,
	fe.seendate,
	COALESCE(fe.domain, '')        AS domain,
	COALESCE(fe.language, '')      AS language,
	COALESCE(fe.sourcecountry, '') AS sourcecountry,
	COALESCE(fe.description, '')   AS description,
	COALESCE(fe.image, '')         AS image,
	COALESCE(fe.hostname, '')      AS hostname,
	COALESCE(fe.content, '')       AS content,
	COALESCE(fe.summary, '')       AS summary`

// SelectUnprocessed returns up to limit entries that still need ingest:
// attached to a flashpoint and without written-back content. Ordered by id
// so repeated runs select deterministically.
func (s *Store) SelectUnprocessed(ctx context.Context, t Tables, limit int) ([]types.Entry, error) {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return nil, err
	}
	var entries []types.Entry
	q := fmt.Sprintf(`
		SELECT %s
		FROM %s fe
		WHERE fe.flashpoint_id IS NOT NULL
		  AND fe.content IS NULL
		ORDER BY fe.id
		LIMIT :limit`, entryColumns, feed)
	if err := s.namedSelect(ctx, &entries, q, map[string]any{"limit": limit}); err != nil {
		return nil, &types.StoreError{Op: "select_unprocessed", Err: err}
	}
	return entries, nil
}

// UpdateEnrichment writes back the non-nil enrichment fields for one entry.
// Setting Content also marks the entry processed (content IS NULL selector)
// and, when the codec is active, fills compressed_content.
func (s *Store) UpdateEnrichment(ctx context.Context, t Tables, entryID uuid.UUID, e *types.Enrichment) error {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return err
	}

	var sets []string
	params := map[string]any{"entry_id": entryID}

	if e.Content != nil {
		sets = append(sets, "content = :content")
		params["content"] = *e.Content
		encoded, err := s.codec.Encode(*e.Content)
		if err != nil {
			return &types.StoreError{Op: "encode_content", Err: err}
		}
		if encoded != "" {
			sets = append(sets, "compressed_content = :compressed_content")
			params["compressed_content"] = encoded
		}
	}
	if e.TitleEN != nil {
		sets = append(sets, "title_en = :title_en")
		params["title_en"] = *e.TitleEN
	}
	if e.Hostname != nil {
		sets = append(sets, "hostname = :hostname")
		params["hostname"] = *e.Hostname
	}
	if e.Summary != nil {
		sets = append(sets, "summary = :summary")
		params["summary"] = *e.Summary
	}
	if e.Entities != nil {
		doc, err := json.Marshal(e.Entities)
		if err != nil {
			return &types.StoreError{Op: "marshal_entities", Err: err}
		}
		sets = append(sets, "entities = CAST(:entities AS jsonb)")
		params["entities"] = string(doc)
	}
	if e.GeoEntities != nil {
		doc, err := json.Marshal(e.GeoEntities)
		if err != nil {
			return &types.StoreError{Op: "marshal_geo_entities", Err: err}
		}
		sets = append(sets, "geo_entities = CAST(:geo_entities AS jsonb)")
		params["geo_entities"] = string(doc)
	}
	if e.Images != nil {
		// images is text[], not jsonb
		sets = append(sets, "images = CAST(:images AS text[])")
		params["images"] = textArrayLiteral(e.Images)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = :updated_at")
	params["updated_at"] = time.Now().UTC()

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = :entry_id`, feed, strings.Join(sets, ", "))
	if _, err := s.namedExec(ctx, q, params); err != nil {
		return &types.StoreError{Op: "update_enrichment", Err: err}
	}
	return nil
}

// SelectForEmbedding returns the run's entries that cleared ingest
// (DEDUPED, non-duplicate), projected down to what the embedder needs.
func (s *Store) SelectForEmbedding(ctx context.Context, t Tables, runID string) ([]types.Entry, error) {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return nil, err
	}
	var entries []types.Entry
	q := fmt.Sprintf(`
		SELECT fe.id,
		       COALESCE(fe.title, '')    AS title,
		       COALESCE(fe.title_en, '') AS title_en,
		       COALESCE(fe.content, '')  AS content
		FROM %s fe
		JOIN feed_entry_jobs jej ON jej.feed_entry_id = fe.id
		WHERE jej.run_id = :run_id
		  AND jej.status = :status
		  AND jej.is_duplicate = FALSE
		  AND fe.content IS NOT NULL
		ORDER BY fe.id`, feed)
	err = s.namedSelect(ctx, &entries, q, map[string]any{
		"run_id": runID,
		"status": string(types.JobDeduped),
	})
	if err != nil {
		return nil, &types.StoreError{Op: "select_for_embedding", Err: err}
	}
	return entries, nil
}

// FlashpointIDsForRun returns the distinct flashpoints that have live
// (non-duplicate, non-failed) entries in this run.
func (s *Store) FlashpointIDsForRun(ctx context.Context, t Tables, runID string) ([]uuid.UUID, error) {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	q := fmt.Sprintf(`
		SELECT DISTINCT fe.flashpoint_id
		FROM %s fe
		JOIN feed_entry_jobs jej ON jej.feed_entry_id = fe.id
		WHERE fe.flashpoint_id IS NOT NULL
		  AND jej.run_id = :run_id
		  AND jej.is_duplicate = FALSE
		  AND jej.status <> :failed
		ORDER BY fe.flashpoint_id`, feed)
	err = s.namedSelect(ctx, &ids, q, map[string]any{
		"run_id": runID,
		"failed": string(types.JobFailed),
	})
	if err != nil {
		return nil, &types.StoreError{Op: "flashpoint_ids_for_run", Err: err}
	}
	return ids, nil
}

// FlashpointsByID loads flashpoint rows for the given ids.
func (s *Store) FlashpointsByID(ctx context.Context, t Tables, ids []uuid.UUID) (map[uuid.UUID]types.Flashpoint, error) {
	out := make(map[uuid.UUID]types.Flashpoint, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	fp, err := quoteIdent(t.FlashPoint)
	if err != nil {
		return nil, err
	}
	q, args, err := s.namedIn(fmt.Sprintf(`
		SELECT id, COALESCE(title, '') AS title, COALESCE(description, '') AS description
		FROM %s
		WHERE id IN (:ids)`, fp),
		map[string]any{"ids": ids})
	if err != nil {
		return nil, &types.StoreError{Op: "flashpoints_by_id", Err: err}
	}
	var rows []types.Flashpoint
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, &types.StoreError{Op: "flashpoints_by_id", Err: err}
	}
	for _, row := range rows {
		out[row.ID] = row
	}
	return out, nil
}

// textArrayLiteral renders a Postgres text[] literal with element quoting.
func textArrayLiteral(items []string) string {
	if len(items) == 0 {
		return "{}"
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, it := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		for _, r := range it {
			if r == '"' || r == '\\' {
				b.WriteByte('\\')
			}
			b.WriteRune(r)
		}
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
