// Package cluster groups embedded articles into story clusters. Entries
// become nodes of a kNN cosine-similarity graph; edges at or above the
// threshold are merged with union-find, and each connected component is
// one cluster. Output order and ids are deterministic for a given input.
package cluster

import (
	"bytes"
	"math"
	"sort"

	"github.com/google/uuid"
)

// Params controls graph construction.
type Params struct {
	// K is how many nearest neighbors each node considers.
	K int
	// CosineThreshold is the minimum similarity for an edge.
	CosineThreshold float64
}

// Member is one entry's cluster assignment.
type Member struct {
	FeedEntryID uuid.UUID
	ClusterUUID uuid.UUID
	// ClusterID is the dense rank of the cluster: 1 for the largest,
	// ties broken by the smallest member entry id.
	ClusterID int
	// Similarity is the cosine of the member against its cluster
	// centroid; 1.0 for singletons.
	Similarity float32
}

// Assign clusters the vectors. Inputs are parallel slices; vectors are
// normalized internally, so callers may pass raw or unit vectors.
func Assign(entryIDs []uuid.UUID, vectors [][]float32, p Params) []Member {
	n := len(entryIDs)
	if n == 0 || n != len(vectors) {
		return nil
	}

	unit := make([][]float32, n)
	for i, v := range vectors {
		unit[i] = normalized(v)
	}

	uf := newUnionFind(n)
	if n > 1 {
		k := p.K
		if k <= 0 {
			k = 1
		}
		if k > n-1 {
			k = n - 1
		}
		sims := make([]float64, n)
		order := make([]int, n)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if j == i {
					sims[j] = math.Inf(-1)
					continue
				}
				sims[j] = dot(unit[i], unit[j])
			}
			for j := range order {
				order[j] = j
			}
			sort.Slice(order, func(a, b int) bool {
				if sims[order[a]] != sims[order[b]] {
					return sims[order[a]] > sims[order[b]]
				}
				return order[a] < order[b]
			})
			for _, j := range order[:k] {
				if sims[j] >= p.CosineThreshold {
					uf.union(i, j)
				}
			}
		}
	}

	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}
	comps := make([][]int, 0, len(groups))
	for _, members := range groups {
		comps = append(comps, members)
	}
	sort.Slice(comps, func(a, b int) bool {
		if len(comps[a]) != len(comps[b]) {
			return len(comps[a]) > len(comps[b])
		}
		return lessID(minEntryID(entryIDs, comps[a]), minEntryID(entryIDs, comps[b]))
	})

	out := make([]Member, 0, n)
	for rank, members := range comps {
		clusterUUID := uuid.New()
		centroid := centroidOf(unit, members)
		for _, i := range members {
			sim := 1.0
			if len(members) > 1 {
				sim = clamp(dot(unit[i], centroid))
			}
			out = append(out, Member{
				FeedEntryID: entryIDs[i],
				ClusterUUID: clusterUUID,
				ClusterID:   rank + 1,
				Similarity:  float32(sim),
			})
		}
	}
	return out
}

// centroidOf is the normalized mean of the member vectors.
func centroidOf(unit [][]float32, members []int) []float32 {
	dim := len(unit[members[0]])
	c := make([]float32, dim)
	for _, i := range members {
		for d, v := range unit[i] {
			c[d] += v
		}
	}
	inv := 1 / float32(len(members))
	for d := range c {
		c[d] *= inv
	}
	return normalized(c)
}

// normalized returns a unit-norm copy of v; the zero vector copies as is.
func normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	var sum float64
	for i, x := range v {
		out[i] = x
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) * inv)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func clamp(sim float64) float64 {
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

func minEntryID(ids []uuid.UUID, members []int) uuid.UUID {
	min := ids[members[0]]
	for _, i := range members[1:] {
		if lessID(ids[i], min) {
			min = ids[i]
		}
	}
	return min
}

func lessID(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}
