package types

import (
	"time"

	"github.com/google/uuid"
)

// ClusterMember is one cluster_members row: an entry's membership in a
// per-run cluster, with its similarity to the cluster centroid.
type ClusterMember struct {
	FlashpointID uuid.UUID `db:"flashpoint_id"`
	ClusterUUID  uuid.UUID `db:"cluster_uuid"`
	FeedEntryID  uuid.UUID `db:"feed_entry_id"`
	RunID        string    `db:"run_id"`
	Similarity   float32   `db:"similarity"`
}

// NewsCluster is one output row in a date-partitioned news_clusters table.
type NewsCluster struct {
	FlashpointID uuid.UUID
	ClusterID    int
	Summary      string
	ArticleCount int
	TopDomains   []string
	Languages    []string
	URLs         []string
	Images       []string
	CreatedAt    time.Time
}
