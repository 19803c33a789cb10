package search

import (
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"

	"github.com/unattachedgray/feedbuffet/internal/store"
)

// Hit is one scored match from the story index.
type Hit struct {
	ID       string  `json:"id"`
	Key      string  `json:"key"`
	Title    string  `json:"title"`
	Category string  `json:"category"`
	Snippet  string  `json:"snippet"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

type storyDoc struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Category string `json:"category"`
	Entities string `json:"entities"`
	Topics   string `json:"topics"`
}

// Index is an in-memory full-text index over recently persisted stories. It
// is rebuilt after each pipeline run rather than updated incrementally.
type Index struct {
	bleve bleve.Index
	meta  map[string]store.Story
	mu    sync.RWMutex
}

func NewIndex() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve index: %w", err)
	}
	return &Index{bleve: idx, meta: make(map[string]store.Story)}, nil
}

// Add indexes one story, replacing any previous document with the same key.
func (ix *Index) Add(st store.Story) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.meta[st.Key] = st
	return ix.bleve.Index(st.Key, storyDoc{
		Title:    st.Title,
		Summary:  st.Summary,
		Category: st.Category,
		Entities: joined(st.Entities),
		Topics:   joined(st.Topics),
	})
}

// Replace swaps the whole index contents for the given stories.
func (ix *Index) Replace(stories []store.Story) error {
	fresh, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return fmt.Errorf("bleve index: %w", err)
	}
	meta := make(map[string]store.Story, len(stories))
	batch := fresh.NewBatch()
	for _, st := range stories {
		meta[st.Key] = st
		if err := batch.Index(st.Key, storyDoc{
			Title:    st.Title,
			Summary:  st.Summary,
			Category: st.Category,
			Entities: joined(st.Entities),
			Topics:   joined(st.Topics),
		}); err != nil {
			return fmt.Errorf("index story %s: %w", st.Key, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}

	ix.mu.Lock()
	old := ix.bleve
	ix.bleve = fresh
	ix.meta = meta
	ix.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Len reports the number of indexed stories.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.meta)
}

// Search runs a query-string search and returns at most k hits.
func (ix *Index) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	query := bleve.NewQueryStringQuery(q)
	req := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := ix.bleve.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	var out []Hit
	for i, hit := range res.Hits {
		st := ix.meta[hit.ID]
		out = append(out, Hit{
			ID:       st.ID,
			Key:      hit.ID,
			Title:    st.Title,
			Category: st.Category,
			Snippet:  snippet(st.Summary),
			Score:    hit.Score,
			Rank:     i + 1,
		})
	}
	return out, nil
}

func joined(ss []string) string { return strings.Join(ss, " ") }

func snippet(s string) string {
	const max = 300
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
