package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/synth"
	"github.com/unattachedgray/feedbuffet/internal/synth/provider"
)

type fakeFetcher struct {
	items map[string][]store.RawItem
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, category, query string) ([]store.RawItem, error) {
	f.calls = append(f.calls, category+query)
	if f.err != nil {
		return nil, f.err
	}
	return f.items[category+query], nil
}

type memStorage struct {
	raw     map[string]store.RawItem
	stories []store.Story
	titles  []string
	// failTitle makes InsertStory reject that one story.
	failTitle string
	nextID    int
}

func newMemStorage() *memStorage {
	return &memStorage{raw: make(map[string]store.RawItem)}
}

func (m *memStorage) InsertRawItem(_ context.Context, item store.RawItem) (store.RawItem, bool, error) {
	if existing, ok := m.raw[item.Link]; ok {
		return existing, false, nil
	}
	m.nextID++
	item.ID = fmt.Sprintf("raw-%d", m.nextID)
	item.IngestedAt = time.Now()
	m.raw[item.Link] = item
	return item, true, nil
}

func (m *memStorage) InsertStory(_ context.Context, st store.Story) (store.Story, error) {
	if m.failTitle != "" && st.Title == m.failTitle {
		return store.Story{}, errors.New("insert rejected")
	}
	m.nextID++
	st.ID = fmt.Sprintf("story-%d", m.nextID)
	st.CreatedAt = time.Now()
	m.stories = append(m.stories, st)
	return st, nil
}

func (m *memStorage) RecentStoryTitles(_ context.Context, _ int) ([]string, error) {
	return m.titles, nil
}

func (m *memStorage) ListRecentStories(_ context.Context, _ int) ([]store.Story, error) {
	return m.stories, nil
}

type recordedStatus struct {
	text    string
	percent int
	active  bool
}

type fakeProgress struct {
	updates []recordedStatus
}

func (p *fakeProgress) Report(_ context.Context, text string, percent int) {
	p.updates = append(p.updates, recordedStatus{text, percent, true})
}

func (p *fakeProgress) Close(_ context.Context, text string, percent int) {
	p.updates = append(p.updates, recordedStatus{text, percent, false})
}

type stubGenerator struct {
	reply   string
	err     error
	prompts []string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

func (g *stubGenerator) Name() string { return "stub" }

func rawItem(title, link string, published time.Time) store.RawItem {
	return store.RawItem{Title: title, Link: link, SourceName: "Wire", PublishedAt: &published}
}

func testRunner(fetcher Fetcher, st Storage, gen provider.Generator, progress Progress) *Runner {
	cfg := config.Config{}
	cfg.Pipeline = cfg.Pipeline.Normalize()
	registry := provider.NewStaticRegistry(map[string]provider.Generator{"stub": gen})
	gw := synth.NewGateway(registry, nil)
	com := synth.NewCommentator(registry, nil)
	r := NewRunner(cfg, fetcher, st, gw, com, progress, nil, nil, nil)
	r.sleep = func(context.Context, time.Duration) {}
	return r
}

func TestRunPersistsSynthesizedStories(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"technology": {
			rawItem("Federal Reserve raises rates", "https://a.test/1", now),
			rawItem("Federal Reserve raises interest rates again", "https://a.test/2", now.Add(-time.Hour)),
		},
	}}
	storage := newMemStorage()
	gen := &stubGenerator{reply: `[{"title":"Fed hikes rates","summary":"Quarter point.","category":"finance","sources":[{"title":"Hed","url":"https://a.test/1","source":"a.test"}]}]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Categories: []string{"technology"}, Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Fetched != 2 || res.NewItems != 2 || res.Duplicates != 0 {
		t.Fatalf("counts: %+v", res)
	}
	if res.Batches != 1 || len(res.Stories) != 1 {
		t.Fatalf("expected 1 batch and 1 story: %+v", res)
	}
	if len(storage.stories) != 1 || storage.stories[0].Title != "Fed hikes rates" {
		t.Fatalf("story not persisted: %+v", storage.stories)
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active || !strings.Contains(last.text, "Pipeline complete: 1 new stories") || last.percent != 100 {
		t.Fatalf("final status: %+v", last)
	}
}

func TestRunSkipsDuplicateLinks(t *testing.T) {
	now := time.Now()
	storage := newMemStorage()
	if _, _, err := storage.InsertRawItem(context.Background(), rawItem("Old headline", "https://a.test/1", now)); err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {
			rawItem("Old headline", "https://a.test/1", now),
			rawItem("A completely different launch", "https://a.test/2", now),
		},
	}}
	gen := &stubGenerator{reply: `[]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.NewItems != 1 || res.Duplicates != 1 {
		t.Fatalf("dedup counts: %+v", res)
	}
	if len(gen.prompts) != 1 || strings.Contains(gen.prompts[0], "Old headline") {
		t.Fatalf("duplicate item leaked into the prompt")
	}
}

func TestRunNoNewItemsClosesEarly(t *testing.T) {
	now := time.Now()
	storage := newMemStorage()
	if _, _, err := storage.InsertRawItem(context.Background(), rawItem("Old headline", "https://a.test/1", now)); err != nil {
		t.Fatal(err)
	}
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("Old headline", "https://a.test/1", now)},
	}}
	gen := &stubGenerator{reply: `[]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stories) != 0 || len(gen.prompts) != 0 {
		t.Fatalf("model should not be called without new items")
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active || !strings.Contains(last.text, "No new items") {
		t.Fatalf("final status: %+v", last)
	}
}

func TestRunRecoversFromProviderFailure(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("A headline", "https://a.test/1", now)},
	}}
	storage := newMemStorage()
	gen := &stubGenerator{err: errors.New("rate limited")}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("provider failure should be recovered, got %v", err)
	}
	if len(res.Recovered) != 1 || res.Recovered[0].Stage != "synthesis" {
		t.Fatalf("recovered errors: %+v", res.Recovered)
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active || !strings.Contains(last.text, "Pipeline complete: 0 new stories") {
		t.Fatalf("final status: %+v", last)
	}
}

func TestRunRecoversFromFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("upstream 503")}
	storage := newMemStorage()
	gen := &stubGenerator{reply: `[]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Categories: []string{"business", "science"}, Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Recovered) != 2 {
		t.Fatalf("expected one recovered error per category: %+v", res.Recovered)
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active || !strings.Contains(last.text, "No items fetched") {
		t.Fatalf("final status: %+v", last)
	}
}

func TestRunDropsUntitledCandidates(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("A headline", "https://a.test/1", now)},
	}}
	storage := newMemStorage()
	gen := &stubGenerator{reply: `[{"title":"","summary":"orphan"},{"title":"Kept story","summary":"ok"}]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stories) != 1 || res.Stories[0].Title != "Kept story" {
		t.Fatalf("untitled candidate not dropped: %+v", res.Stories)
	}
}

func TestRunContinuesPastFailingStoryInsert(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("A headline", "https://a.test/1", now)},
	}}
	storage := newMemStorage()
	storage.failTitle = "Doomed story"
	gen := &stubGenerator{reply: `[{"title":"Doomed story","summary":"a"},{"title":"Surviving story","summary":"b"}]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("one bad insert must not abort the run: %v", err)
	}
	if len(res.Stories) != 1 || res.Stories[0].Title != "Surviving story" {
		t.Fatalf("surviving story lost: %+v", res.Stories)
	}
	if len(res.Recovered) != 1 || res.Recovered[0].Stage != "persist story" {
		t.Fatalf("recovered errors: %+v", res.Recovered)
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active || !strings.Contains(last.text, "Pipeline complete: 1 new stories") {
		t.Fatalf("final status: %+v", last)
	}
}

func TestRunAbortsOnUnknownProvider(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("A headline", "https://a.test/1", now)},
	}}
	storage := newMemStorage()
	gen := &stubGenerator{reply: `[]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	_, err := r.Run(context.Background(), Options{Provider: "missing"})
	if !errors.Is(err, provider.ErrUnknownProvider) {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
	if len(gen.prompts) != 0 {
		t.Fatalf("model must not be called for an unknown provider")
	}
	last := progress.updates[len(progress.updates)-1]
	if last.active {
		t.Fatalf("aborted run must close the status row: %+v", last)
	}
}

func TestRunGeneratesCommentaryWhenEnabled(t *testing.T) {
	now := time.Now()
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {rawItem("A headline", "https://a.test/1", now)},
	}}
	storage := newMemStorage()
	gen := &stubGenerator{reply: `[{"title":"Kept story","summary":"ok"}]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	r.Cfg.Pipeline.CommentaryEnabled = true
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The stub answers every prompt with the same JSON text; commentary is
	// whatever the model said, verbatim.
	if res.Commentary == "" {
		t.Fatalf("commentary missing")
	}
	if len(gen.prompts) != 2 {
		t.Fatalf("expected synthesis + commentary prompts, got %d", len(gen.prompts))
	}
}

func TestRunSnapshotsExclusionListOnce(t *testing.T) {
	now := time.Now()
	// Two items distinct enough to never cluster, with a budget small
	// enough that each lands in its own batch.
	fetcher := &fakeFetcher{items: map[string][]store.RawItem{
		"": {
			{Title: "Quantum breakthrough announced", Link: "https://a.test/1", PublishedAt: &now},
			{Title: "Volcano erupts near capital", Link: "https://a.test/2", PublishedAt: &now},
		},
	}}
	storage := newMemStorage()
	storage.titles = []string{"Previously published"}
	gen := &stubGenerator{reply: `[{"title":"New story","summary":"s"}]`}
	progress := &fakeProgress{}

	r := testRunner(fetcher, storage, gen, progress)
	r.Gateway.Registry.SetBudget("stub", 100)
	res, err := r.Run(context.Background(), Options{Provider: "stub"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Batches != 2 {
		t.Fatalf("expected 2 batches, got %d", res.Batches)
	}
	for _, p := range gen.prompts {
		if !strings.Contains(p, "Previously published") {
			t.Fatalf("exclusion list missing from prompt")
		}
		if strings.Contains(p, "New story") {
			t.Fatalf("stories from this run leaked into the exclusion list")
		}
	}
}
