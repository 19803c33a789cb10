package ingest

import (
	"sort"
	"time"

	"github.com/unattachedgray/feedbuffet/internal/store"
)

// Grouper partitions a timestamp-ordered item list into story clusters by
// title similarity against each cluster's seed item.
type Grouper struct {
	// Threshold is the minimum Jaccard similarity to the seed for an item
	// to be absorbed into a cluster. Valid range is [0, 1]; zero absorbs
	// everything. Defaults come from NewGrouper or config, not from Group.
	Threshold float64
	// WindowHours is accepted for configuration parity but does not bound
	// candidate scanning; membership is decided by similarity alone.
	WindowHours int
	// MaxClusterSize caps a cluster to bound downstream prompt cost.
	MaxClusterSize int
}

// NewGrouper returns a Grouper with the reference defaults.
func NewGrouper() Grouper {
	return Grouper{Threshold: 0.35, WindowHours: 12, MaxClusterSize: 12}
}

type prepared struct {
	tokens TokenSet
	item   store.RawItem
	pos    int
}

// Group partitions items into clusters. Items are processed in descending
// publish order (missing timestamps sort last); each unvisited item seeds a
// new cluster and greedily absorbs every later unvisited item whose title
// similarity to the seed meets the threshold, until the size cap. Every
// item lands in exactly one cluster, first seed wins. Output preserves
// discovery order.
func (g Grouper) Group(items []store.RawItem) [][]store.RawItem {
	if len(items) == 0 {
		return [][]store.RawItem{}
	}
	sizeCap := g.MaxClusterSize
	if sizeCap <= 0 {
		sizeCap = 12
	}

	preps := make([]prepared, len(items))
	for i, it := range items {
		preps[i] = prepared{tokens: Tokenize(it.Title), item: it, pos: i}
	}
	// Descending by published_at; nil sorts last as a zero-time sentinel.
	// The sort is stable so equal timestamps keep input order.
	sort.SliceStable(preps, func(i, j int) bool {
		return publishedOrZero(preps[i].item).After(publishedOrZero(preps[j].item))
	})

	used := make([]bool, len(preps))
	var clusters [][]store.RawItem
	for i := range preps {
		if used[i] {
			continue
		}
		seed := preps[i]
		used[i] = true
		cluster := []store.RawItem{seed.item}

		for j := i + 1; j < len(preps); j++ {
			if used[j] {
				continue
			}
			if Jaccard(seed.tokens, preps[j].tokens) >= g.Threshold {
				cluster = append(cluster, preps[j].item)
				used[j] = true
				if len(cluster) >= sizeCap {
					break
				}
			}
		}
		clusters = append(clusters, cluster)
	}
	return clusters
}

func publishedOrZero(it store.RawItem) time.Time {
	if it.PublishedAt == nil {
		return time.Time{}
	}
	return *it.PublishedAt
}
