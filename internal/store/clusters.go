package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// InsertClusterMembers writes membership rows, ignoring entries already
// assigned in this run.
func (s *Store) InsertClusterMembers(ctx context.Context, members []types.ClusterMember) error {
	for start := 0; start < len(members); start += claimChunk {
		end := start + claimChunk
		if end > len(members) {
			end = len(members)
		}
		_, err := s.namedExec(ctx, `
			INSERT INTO cluster_members
				(flashpoint_id, cluster_uuid, feed_entry_id, run_id, similarity)
			VALUES
				(:flashpoint_id, :cluster_uuid, :feed_entry_id, :run_id, :similarity)
			ON CONFLICT (feed_entry_id, run_id) DO NOTHING`,
			members[start:end])
		if err != nil {
			return &types.StoreError{Op: "insert_cluster_members", Err: err}
		}
	}
	return nil
}

// DeleteClustersForFlashpoint clears a flashpoint's rows from the dated
// output table so a re-run can rewrite them.
func (s *Store) DeleteClustersForFlashpoint(ctx context.Context, t Tables, flashpointID uuid.UUID) (int64, error) {
	table, err := quoteIdent(t.NewsClusters)
	if err != nil {
		return 0, err
	}
	res, err := s.namedExec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE flashpoint_id = :flashpoint_id`, table),
		map[string]any{"flashpoint_id": flashpointID})
	if err != nil {
		return 0, &types.StoreError{Op: "delete_clusters", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &types.StoreError{Op: "delete_clusters", Err: err}
	}
	return n, nil
}

// WriteNewsCluster appends one summarized cluster to the dated output
// table. The jsonb array parameters always carry at least '[]'.
func (s *Store) WriteNewsCluster(ctx context.Context, t Tables, nc *types.NewsCluster) error {
	table, err := quoteIdent(t.NewsClusters)
	if err != nil {
		return err
	}
	params := map[string]any{
		"flashpoint_id": nc.FlashpointID,
		"cluster_id":    nc.ClusterID,
		"summary":       nc.Summary,
		"article_count": nc.ArticleCount,
	}
	for name, list := range map[string][]string{
		"top_domains": nc.TopDomains,
		"languages":   nc.Languages,
		"urls":        nc.URLs,
		"images":      nc.Images,
	} {
		doc, err := json.Marshal(list)
		if err != nil {
			return &types.StoreError{Op: "write_news_cluster", Err: err}
		}
		if list == nil {
			doc = []byte("[]")
		}
		params[name] = string(doc)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (
			flashpoint_id, cluster_id, summary, article_count,
			top_domains, languages, urls, images
		)
		VALUES (
			:flashpoint_id, :cluster_id, :summary, :article_count,
			CAST(:top_domains AS jsonb), CAST(:languages AS jsonb),
			CAST(:urls AS jsonb), CAST(:images AS jsonb)
		)`, table)
	if _, err := s.namedExec(ctx, q, params); err != nil {
		return &types.StoreError{Op: "write_news_cluster", Err: err}
	}
	return nil
}

// MemberArticle is one cluster member joined with the entry fields the
// summarizer and scorer consume.
type MemberArticle struct {
	ClusterUUID uuid.UUID  `db:"cluster_uuid"`
	FeedEntryID uuid.UUID  `db:"feed_entry_id"`
	Similarity  float64    `db:"similarity"`
	Title       string     `db:"title"`
	TitleEN     string     `db:"title_en"`
	Content     string     `db:"content"`
	Description string     `db:"description"`
	Summary     string     `db:"summary"`
	URL         string     `db:"url"`
	Domain      string     `db:"domain"`
	Hostname    string     `db:"hostname"`
	Language    string     `db:"language"`
	Image       string     `db:"image"`
	ImagesJSON  string     `db:"images"`
	SeenDate    *time.Time `db:"seendate"`
}

// ImageList decodes the aggregated images column.
func (m *MemberArticle) ImageList() []string {
	if m.ImagesJSON == "" {
		return nil
	}
	var images []string
	if err := json.Unmarshal([]byte(m.ImagesJSON), &images); err != nil {
		return nil
	}
	return images
}

// MembersForSummary loads a flashpoint's cluster members for this run,
// grouped by cluster (best similarity first within each cluster).
func (s *Store) MembersForSummary(ctx context.Context, t Tables, runID string, flashpointID uuid.UUID) ([]MemberArticle, error) {
	feed, err := quoteIdent(t.FeedEntries)
	if err != nil {
		return nil, err
	}
	var rows []MemberArticle
	q := fmt.Sprintf(`
		SELECT cm.cluster_uuid, cm.feed_entry_id, cm.similarity,
		       COALESCE(fe.title, '')       AS title,
		       COALESCE(fe.title_en, '')    AS title_en,
		       COALESCE(fe.content, '')     AS content,
		       COALESCE(fe.description, '') AS description,
		       COALESCE(fe.summary, '')     AS summary,
		       COALESCE(fe.url, '')         AS url,
		       COALESCE(fe.domain, '')      AS domain,
		       COALESCE(fe.hostname, '')    AS hostname,
		       COALESCE(fe.language, '')    AS language,
		       COALESCE(fe.image, '')       AS image,
		       COALESCE(CAST(array_to_json(fe.images) AS text), '[]') AS images,
		       fe.seendate
		FROM cluster_members cm
		JOIN %s fe ON fe.id = cm.feed_entry_id
		WHERE cm.flashpoint_id = :flashpoint_id
		  AND cm.run_id = :run_id
		ORDER BY cm.cluster_uuid, cm.similarity DESC, cm.feed_entry_id`, feed)
	err = s.namedSelect(ctx, &rows, q, map[string]any{
		"flashpoint_id": flashpointID,
		"run_id":        runID,
	})
	if err != nil {
		return nil, &types.StoreError{Op: "members_for_summary", Err: err}
	}
	return rows, nil
}
