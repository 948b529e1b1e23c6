package runner

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/masx-gsgi/flashpipe/internal/alert"
	"github.com/masx-gsgi/flashpipe/internal/cluster"
	"github.com/masx-gsgi/flashpipe/internal/embed"
	"github.com/masx-gsgi/flashpipe/internal/score"
	"github.com/masx-gsgi/flashpipe/internal/store"
	"github.com/masx-gsgi/flashpipe/internal/summarize"
	"github.com/masx-gsgi/flashpipe/internal/types"
)

// oracleConcurrency bounds in-flight oracle requests; the RPM limiter
// inside the oracle paces them further.
const oracleConcurrency = 8

// embedStage vectorizes every extracted non-duplicate entry of the run in
// batches and upserts the vectors keyed by entry id.
func (r *Runner) embedStage(ctx context.Context, rs *runState) error {
	entries, err := r.store.SelectForEmbedding(ctx, rs.tables, rs.run.RunID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		r.logger.Info("no entries to embed", "run_id", rs.run.RunID)
		return nil
	}

	batch := r.cfg.Embedding.BatchSize
	if batch <= 0 {
		batch = 64
	}
	model := r.embedder.Model()

	for start := 0; start < len(entries); start += batch {
		end := start + batch
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		texts := make([]string, len(chunk))
		for i := range chunk {
			texts[i] = embed.InputText(chunk[i].BestTitle(), chunk[i].Content)
		}

		batchStart := time.Now()
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch at offset %d: %w", start, err)
		}
		if len(vectors) != len(chunk) {
			return fmt.Errorf("embed batch at offset %d: got %d vectors for %d texts", start, len(vectors), len(chunk))
		}

		rows := make([]store.VectorRow, len(chunk))
		ids := make([]uuid.UUID, len(chunk))
		for i := range chunk {
			ids[i] = chunk[i].ID
			rows[i] = store.VectorRow{
				FeedEntryID: chunk[i].ID,
				Embedding:   pgvector.NewVector(vectors[i]),
				ModelName:   model,
			}
		}
		if err := r.store.UpsertVectors(ctx, rows); err != nil {
			return err
		}
		perEntryMS := int(time.Since(batchStart).Milliseconds()) / len(chunk)
		if err := r.store.MarkEmbedded(ctx, rs.run.RunID, ids, perEntryMS); err != nil {
			return err
		}
		rs.stats.Embedded.Add(int64(len(chunk)))
		r.metrics.EmbeddingsTotal.Add(float64(len(chunk)))
	}

	r.logger.Info("batch embedding complete",
		"run_id", rs.run.RunID, "count", len(entries), "model", model)
	return nil
}

// clusterStage groups each flashpoint's embedded entries into story
// clusters and persists the membership rows.
func (r *Runner) clusterStage(ctx context.Context, rs *runState, flashpoints []uuid.UUID) error {
	params := cluster.Params{
		K:               r.cfg.Cluster.KNNK,
		CosineThreshold: r.cfg.Cluster.CosineThreshold,
	}
	r.logger.Info("clustering flashpoints", "run_id", rs.run.RunID, "count", len(flashpoints))

	for _, flashpointID := range flashpoints {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, vectors, err := r.store.VectorsForFlashpoint(ctx, rs.tables, rs.run.RunID, flashpointID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}

		members := cluster.Assign(ids, vectors, params)
		rows := make([]types.ClusterMember, len(members))
		distinct := make(map[uuid.UUID]struct{})
		for i, m := range members {
			rows[i] = types.ClusterMember{
				FlashpointID: flashpointID,
				ClusterUUID:  m.ClusterUUID,
				FeedEntryID:  m.FeedEntryID,
				RunID:        rs.run.RunID,
				Similarity:   m.Similarity,
			}
			distinct[m.ClusterUUID] = struct{}{}
		}
		if err := r.store.InsertClusterMembers(ctx, rows); err != nil {
			return err
		}
		if err := r.store.BulkJobStatus(ctx, rs.run.RunID, ids, types.JobClustered); err != nil {
			return err
		}
		rs.stats.ClustersCreated.Add(int64(len(distinct)))
		r.logger.Debug("flashpoint clustered",
			"flashpoint_id", flashpointID, "entries", len(ids), "clusters", len(distinct))
	}
	return nil
}

// scoredCluster ties one summarized cluster's scoring input to its member
// entries.
type scoredCluster struct {
	input   score.Input
	members []uuid.UUID
}

// summarizeStage loads every flashpoint's cluster members, produces the
// tier's summaries, rewrites the dated output table and returns the
// scoring inputs.
func (r *Runner) summarizeStage(ctx context.Context, rs *runState, flashpoints []uuid.UUID) ([]scoredCluster, error) {
	type flashpointClusters struct {
		id       uuid.UUID
		clusters []*summarize.Cluster
	}

	var (
		byFlashpoint []flashpointClusters
		all          []*summarize.Cluster
	)
	for _, flashpointID := range flashpoints {
		members, err := r.store.MembersForSummary(ctx, rs.tables, rs.run.RunID, flashpointID)
		if err != nil {
			return nil, err
		}
		if len(members) == 0 {
			continue
		}
		clusters := buildClusters(flashpointID, members)
		byFlashpoint = append(byFlashpoint, flashpointClusters{id: flashpointID, clusters: clusters})
		all = append(all, clusters...)
	}
	if len(all) == 0 {
		r.logger.Info("no clusters to summarize", "run_id", rs.run.RunID)
		return nil, nil
	}

	// Stage one: fill missing member stubs.
	for _, c := range all {
		articles := make([]*summarize.Article, 0, len(c.Articles))
		for i := range c.Articles {
			articles = append(articles, &c.Articles[i])
		}
		if err := r.local.Summarize(ctx, articles); err != nil {
			return nil, err
		}
	}

	summaries, err := r.summarizeClusters(ctx, rs, all)
	if err != nil {
		return nil, err
	}
	index := make(map[*summarize.Cluster]int, len(all))
	for i, c := range all {
		index[c] = i
	}

	// Rewrite the output rows flashpoint by flashpoint.
	var scored []scoredCluster
	for _, fp := range byFlashpoint {
		if _, err := r.store.DeleteClustersForFlashpoint(ctx, rs.tables, fp.id); err != nil {
			return nil, err
		}
		var memberIDs []uuid.UUID
		for _, c := range fp.clusters {
			md := summarize.AggregateMetadata(c.Articles)
			summary := summaries[index[c]]
			row := &types.NewsCluster{
				FlashpointID: fp.id,
				ClusterID:    c.ClusterID,
				Summary:      summary,
				ArticleCount: len(c.Articles),
				TopDomains:   md.TopDomains,
				Languages:    md.Languages,
				URLs:         md.URLs,
				Images:       md.Images,
			}
			if err := r.store.WriteNewsCluster(ctx, rs.tables, row); err != nil {
				return nil, err
			}
			r.metrics.ClustersCreated.Inc()
			rs.stats.Summarized.Add(1)

			in := score.Input{
				FlashpointID: fp.id,
				ClusterID:    c.ClusterID,
				Summary:      summary,
				MemberCount:  len(c.Articles),
				TopDomains:   md.TopDomains,
			}
			ids := make([]uuid.UUID, 0, len(c.Articles))
			for i := range c.Articles {
				a := &c.Articles[i]
				ids = append(ids, a.ID)
				switch {
				case a.Domain != "":
					in.Domains = append(in.Domains, a.Domain)
				case a.Hostname != "":
					in.Domains = append(in.Domains, a.Hostname)
				}
				if a.Lang != "" {
					in.Languages = append(in.Languages, a.Lang)
				}
				if a.SeenAt != nil {
					in.SeenDates = append(in.SeenDates, *a.SeenAt)
				}
			}
			memberIDs = append(memberIDs, ids...)
			scored = append(scored, scoredCluster{input: in, members: ids})
		}
		if err := r.store.BulkJobStatus(ctx, rs.run.RunID, memberIDs, types.JobSummarized); err != nil {
			return nil, err
		}
	}
	return scored, nil
}

// summarizeClusters computes one summary per cluster. Tier C goes through
// the oracle with extractive fallback and an optional premium re-pass;
// lower tiers summarize locally.
func (r *Runner) summarizeClusters(ctx context.Context, rs *runState, all []*summarize.Cluster) ([]string, error) {
	summaries := make([]string, len(all))

	if !rs.tier.HasOracle() || !r.oracle.Ready() {
		if rs.tier.HasOracle() {
			r.logger.Warn("oracle not configured; using local summaries", "run_id", rs.run.RunID)
		}
		for i, c := range all {
			summaries[i] = summarize.Fallback(c)
			r.metrics.SummariesTotal.WithLabelValues("local").Inc()
		}
		return summaries, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(oracleConcurrency)
	for i, c := range all {
		g.Go(func() error {
			summary, err := r.oracle.Summarize(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Warn("oracle summary failed, falling back",
					"flashpoint_id", c.FlashpointID, "cluster_id", c.ClusterID, "error", err)
				summaries[i] = summarize.Fallback(c)
				r.metrics.SummariesTotal.WithLabelValues("fallback").Inc()
				return nil
			}
			summaries[i] = summary
			r.metrics.SummariesTotal.WithLabelValues("oracle").Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if r.oracle.PremiumEnabled() {
		picked := summarize.SelectPremium(all, r.oracle.PremiumPct())
		r.logger.Info("premium pass", "run_id", rs.run.RunID, "clusters", len(picked))
		for _, idx := range picked {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			summary, err := r.oracle.SummarizePremium(ctx, all[idx])
			if err != nil {
				r.logger.Warn("premium summary failed, keeping standard",
					"flashpoint_id", all[idx].FlashpointID, "cluster_id", all[idx].ClusterID, "error", err)
				continue
			}
			summaries[idx] = summary
			r.metrics.SummariesTotal.WithLabelValues("premium").Inc()
		}
	}
	return summaries, nil
}

// scoreStage ranks the summarized clusters, marks their members SCORED
// and hands the flagged hotspots to the alert dispatcher.
func (r *Runner) scoreStage(ctx context.Context, rs *runState, clusters []scoredCluster) error {
	if len(clusters) == 0 {
		return nil
	}

	inputs := make([]score.Input, len(clusters))
	var memberIDs []uuid.UUID
	for i, sc := range clusters {
		inputs[i] = sc.input
		memberIDs = append(memberIDs, sc.members...)
	}
	hotspots := r.scorer.Rank(inputs, r.cfg.Alert.TopK)

	if err := r.store.BulkJobStatus(ctx, rs.run.RunID, memberIDs, types.JobScored); err != nil {
		return err
	}

	var (
		flagged      []score.Hotspot
		flashpointID []uuid.UUID
		seen         = make(map[uuid.UUID]struct{})
	)
	for _, h := range hotspots {
		if !h.Flagged {
			continue
		}
		flagged = append(flagged, h)
		if _, ok := seen[h.FlashpointID]; !ok {
			seen[h.FlashpointID] = struct{}{}
			flashpointID = append(flashpointID, h.FlashpointID)
		}
	}
	if len(flagged) == 0 {
		return nil
	}

	titles, err := r.store.FlashpointsByID(ctx, rs.tables, flashpointID)
	if err != nil {
		r.logger.Warn("flashpoint titles unavailable for alerts", "error", err)
		titles = map[uuid.UUID]types.Flashpoint{}
	}
	for _, h := range flagged {
		a := &alert.Alert{
			RunID:           rs.run.RunID,
			FlashpointID:    h.FlashpointID,
			FlashpointTitle: titles[h.FlashpointID].Title,
			ClusterID:       h.ClusterID,
			Summary:         h.Summary,
			ArticleCount:    h.ArticleCount,
			Score:           h.Score,
			TopDomains:      h.TopDomains,
		}
		if err := r.alerts.Dispatch(ctx, a); err != nil {
			r.logger.Warn("alert dispatch failed",
				"dispatcher", r.alerts.Name(),
				"flashpoint_id", h.FlashpointID,
				"cluster_id", h.ClusterID,
				"error", err)
			continue
		}
		rs.stats.AlertsSent.Add(1)
		r.metrics.AlertsDispatched.Inc()
	}
	return nil
}

// buildClusters groups one flashpoint's member rows into ranked clusters:
// size DESC, ties broken by the smallest member entry id, cluster_id by
// dense rank from 1.
func buildClusters(flashpointID uuid.UUID, members []store.MemberArticle) []*summarize.Cluster {
	groups := make(map[uuid.UUID][]store.MemberArticle)
	order := make([]uuid.UUID, 0)
	for _, m := range members {
		if _, ok := groups[m.ClusterUUID]; !ok {
			order = append(order, m.ClusterUUID)
		}
		groups[m.ClusterUUID] = append(groups[m.ClusterUUID], m)
	}

	smallest := make(map[uuid.UUID]uuid.UUID, len(order))
	for clusterUUID, rows := range groups {
		low := rows[0].FeedEntryID
		for _, m := range rows[1:] {
			if bytes.Compare(m.FeedEntryID[:], low[:]) < 0 {
				low = m.FeedEntryID
			}
		}
		smallest[clusterUUID] = low
	}
	sort.Slice(order, func(i, j int) bool {
		if len(groups[order[i]]) != len(groups[order[j]]) {
			return len(groups[order[i]]) > len(groups[order[j]])
		}
		a, b := smallest[order[i]], smallest[order[j]]
		return bytes.Compare(a[:], b[:]) < 0
	})

	clusters := make([]*summarize.Cluster, 0, len(order))
	for rank, clusterUUID := range order {
		rows := groups[clusterUUID]
		articles := make([]summarize.Article, 0, len(rows))
		for _, m := range rows {
			title := m.TitleEN
			if title == "" {
				title = m.Title
			}
			articles = append(articles, summarize.Article{
				ID:          m.FeedEntryID,
				Lang:        m.Language,
				Title:       title,
				Content:     m.Content,
				Description: m.Description,
				Stub:        m.Summary,
				URL:         m.URL,
				Domain:      m.Domain,
				Hostname:    m.Hostname,
				Image:       m.Image,
				Images:      m.ImageList(),
				Similarity:  float32(m.Similarity),
				SeenAt:      m.SeenDate,
			})
		}
		clusters = append(clusters, &summarize.Cluster{
			FlashpointID: flashpointID,
			ClusterUUID:  clusterUUID,
			ClusterID:    rank + 1,
			Articles:     articles,
		})
	}
	return clusters
}
