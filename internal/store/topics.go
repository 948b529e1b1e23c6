package store

import (
	"context"

	"github.com/masx-gsgi/flashpipe/internal/types"
)

// InsertTopics records IPTC classifications for enriched entries.
func (s *Store) InsertTopics(ctx context.Context, topics []types.Topic) error {
	if len(topics) == 0 {
		return nil
	}
	for start := 0; start < len(topics); start += claimChunk {
		end := start + claimChunk
		if end > len(topics) {
			end = len(topics)
		}
		_, err := s.namedExec(ctx, `
			INSERT INTO feed_entry_topics
				(feed_entry_id, iptc_top_level, iptc_path, confidence)
			VALUES
				(:feed_entry_id, :iptc_top_level, :iptc_path, :confidence)`,
			topics[start:end])
		if err != nil {
			return &types.StoreError{Op: "insert_topics", Err: err}
		}
	}
	return nil
}
