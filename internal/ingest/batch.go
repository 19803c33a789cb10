package ingest

import (
	"fmt"
	"time"

	"github.com/unattachedgray/feedbuffet/internal/store"
)

// SerializedLen is the character cost of one item in a synthesis prompt,
// measured against the same rendering the gateway produces.
func SerializedLen(it store.RawItem) int {
	return len(SerializeItem(0, it))
}

// SerializeItem renders one raw item as a prompt block with a stable index.
func SerializeItem(idx int, it store.RawItem) string {
	published := ""
	if it.PublishedAt != nil {
		published = it.PublishedAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("ID: %d\nTitle: %s\nSource: %s\nDate: %s\nLink: %s\nSnippet: %s\n\n",
		idx, it.Title, it.SourceName, published, it.Link, it.Description)
}

// CreateBatches packs items into character-budgeted batches by greedy
// accumulation: when adding the next item would push a non-empty batch past
// maxChars, the batch is closed and the item starts a new one. A single
// oversized item still forms a batch of one; no item is dropped and no
// empty batch is emitted.
func CreateBatches(items []store.RawItem, maxChars int) [][]store.RawItem {
	var batches [][]store.RawItem
	var current []store.RawItem
	currentChars := 0

	for _, it := range items {
		itemLen := SerializedLen(it)
		if len(current) > 0 && currentChars+itemLen > maxChars {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}
		current = append(current, it)
		currentChars += itemLen
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

// Flatten concatenates clusters into a single batchable item sequence,
// preserving cluster discovery order.
func Flatten(clusters [][]store.RawItem) []store.RawItem {
	var out []store.RawItem
	for _, c := range clusters {
		out = append(out, c...)
	}
	return out
}
