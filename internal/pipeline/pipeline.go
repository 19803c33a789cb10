package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/ingest"
	"github.com/unattachedgray/feedbuffet/internal/search"
	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/story"
	"github.com/unattachedgray/feedbuffet/internal/synth"
	"github.com/unattachedgray/feedbuffet/internal/telemetry"
)

// Fetcher retrieves raw items for one category or free-text query.
type Fetcher interface {
	Fetch(ctx context.Context, category, query string) ([]store.RawItem, error)
}

// Storage is the subset of the store the runner needs.
type Storage interface {
	InsertRawItem(ctx context.Context, item store.RawItem) (store.RawItem, bool, error)
	InsertStory(ctx context.Context, st store.Story) (store.Story, error)
	RecentStoryTitles(ctx context.Context, n int) ([]string, error)
	ListRecentStories(ctx context.Context, n int) ([]store.Story, error)
}

// Progress receives human-readable run status. Implementations must not
// fail the run.
type Progress interface {
	Report(ctx context.Context, text string, percent int)
	Close(ctx context.Context, text string, percent int)
}

// Options parameterizes one pipeline run.
type Options struct {
	// Categories are fetched one feed each. When empty, a single fetch uses
	// Query (or the headlines feed when Query is empty too).
	Categories []string
	Query      string
	Provider   string
}

// StageError records a recovered failure from one stage of the run. The run
// continues past these; only setup failures abort.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

// Result summarizes a completed run.
type Result struct {
	Fetched    int
	NewItems   int
	Duplicates int
	Clusters   int
	Batches    int
	Stories    []store.Story
	Commentary string
	// Recovered holds per-stage failures the run degraded through.
	Recovered []StageError
}

// Runner executes the full fetch-cluster-synthesize-persist pipeline.
type Runner struct {
	Cfg         config.Config
	Fetcher     Fetcher
	Store       Storage
	Gateway     *synth.Gateway
	Commentator *synth.Commentator
	Status      Progress
	Index       *search.Index
	Metrics     *telemetry.Metrics
	Logger      *log.Logger

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewRunner wires a runner. Index and Metrics may be nil.
func NewRunner(cfg config.Config, fetcher Fetcher, st Storage, gw *synth.Gateway, com *synth.Commentator, progress Progress, idx *search.Index, metrics *telemetry.Metrics, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Cfg:         cfg,
		Fetcher:     fetcher,
		Store:       st,
		Gateway:     gw,
		Commentator: com,
		Status:      progress,
		Index:       idx,
		Metrics:     metrics,
		Logger:      logger,
		sleep:       sleepCtx,
	}
}

// Run executes one full pipeline pass. Fetch and synthesis failures for
// individual categories or batches are recovered and recorded in the result;
// an error return means the run could not proceed at all.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	started := time.Now()
	defer func() {
		if r.Metrics != nil {
			r.Metrics.RunDuration.Observe(time.Since(started).Seconds())
		}
	}()

	var res Result
	closed := false
	defer func() {
		if !closed {
			r.Status.Close(ctx, "Pipeline stopped.", 100)
		}
	}()

	r.Status.Report(ctx, "Starting pipeline run...", 0)

	items := r.fetchAll(ctx, opts, &res)
	res.Fetched = len(items)
	if len(items) == 0 {
		r.Status.Close(ctx, "No items fetched.", 100)
		closed = true
		return res, nil
	}

	r.Status.Report(ctx, fmt.Sprintf("Saving %d fetched items...", len(items)), 15)
	fresh := r.persistRaw(ctx, items, &res)
	if len(fresh) == 0 {
		r.Status.Close(ctx, "No new items to process.", 100)
		closed = true
		return res, nil
	}

	// An unknown or unconfigured provider would fail every batch the same
	// way; resolve it once and abort instead of degrading N times.
	if _, err := r.Gateway.Registry.Get(opts.Provider); err != nil {
		return res, err
	}

	grouper := ingest.Grouper{
		Threshold:      r.Cfg.Pipeline.SimilarityThreshold,
		WindowHours:    r.Cfg.Pipeline.WindowHours,
		MaxClusterSize: r.Cfg.Pipeline.MaxClusterSize,
	}
	clusters := grouper.Group(fresh)
	res.Clusters = len(clusters)
	if r.Metrics != nil {
		r.Metrics.Clusters.Add(float64(len(clusters)))
	}
	r.Logger.Printf("[PIPELINE] grouped %d new items into %d clusters", len(fresh), len(clusters))

	budget := r.Gateway.Registry.MaxBatchChars(opts.Provider)
	batches := ingest.CreateBatches(ingest.Flatten(clusters), budget)
	res.Batches = len(batches)
	if r.Metrics != nil {
		r.Metrics.Batches.Add(float64(len(batches)))
	}

	// The exclusion list is read once up front: stories persisted during
	// this run are deliberately not added to it mid-flight.
	existing, err := r.Store.RecentStoryTitles(ctx, r.Cfg.Pipeline.RecentTitles)
	if err != nil {
		return res, fmt.Errorf("load recent titles: %w", err)
	}

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		percent := 20 + (70*i)/len(batches)
		r.Status.Report(ctx, fmt.Sprintf("Synthesizing batch %d/%d...", i+1, len(batches)), percent)

		r.synthesizeBatch(ctx, batch, existing, opts, percent, &res)

		if i < len(batches)-1 && r.Cfg.Pipeline.InterBatchDelay > 0 {
			r.sleep(ctx, r.Cfg.Pipeline.InterBatchDelay)
		}
	}

	if r.Cfg.Pipeline.CommentaryEnabled && r.Commentator != nil {
		r.Status.Report(ctx, "Generating commentary...", 92)
		res.Commentary = r.Commentator.Generate(ctx, res.Stories, r.Cfg.General.TargetLanguage, opts.Provider)
	}

	if r.Index != nil {
		if err := r.refreshIndex(ctx); err != nil {
			res.Recovered = append(res.Recovered, StageError{Stage: "search index", Err: err})
			r.Logger.Printf("[PIPELINE] search index refresh failed: %v", err)
		}
	}

	r.Status.Close(ctx, fmt.Sprintf("Pipeline complete: %d new stories.", len(res.Stories)), 100)
	closed = true
	return res, nil
}

func (r *Runner) fetchAll(ctx context.Context, opts Options, res *Result) []store.RawItem {
	type job struct{ category, query string }
	var jobs []job
	if len(opts.Categories) > 0 {
		for _, c := range opts.Categories {
			jobs = append(jobs, job{category: c})
		}
	} else {
		jobs = []job{{query: opts.Query}}
	}

	var items []store.RawItem
	for _, j := range jobs {
		fetched, err := r.Fetcher.Fetch(ctx, j.category, j.query)
		if err != nil {
			stage := fmt.Sprintf("fetch %q", j.category+j.query)
			res.Recovered = append(res.Recovered, StageError{Stage: stage, Err: err})
			r.Logger.Printf("[PIPELINE] %s failed: %v", stage, err)
			continue
		}
		if r.Metrics != nil {
			label := j.category
			if label == "" {
				label = "query"
			}
			r.Metrics.ItemsFetched.WithLabelValues(label).Add(float64(len(fetched)))
		}
		items = append(items, fetched...)
	}
	return items
}

// persistRaw stores every fetched item and returns only the newly inserted
// ones. Links already on file are counted as duplicates and dropped from
// the synthesis input.
func (r *Runner) persistRaw(ctx context.Context, items []store.RawItem, res *Result) []store.RawItem {
	var fresh []store.RawItem
	for _, it := range items {
		stored, inserted, err := r.Store.InsertRawItem(ctx, it)
		if err != nil {
			res.Recovered = append(res.Recovered, StageError{Stage: "persist raw item", Err: err})
			r.Logger.Printf("[PIPELINE] raw item save failed (%s): %v", it.Link, err)
			continue
		}
		if inserted {
			fresh = append(fresh, stored)
			res.NewItems++
			if r.Metrics != nil {
				r.Metrics.ItemsSaved.Inc()
			}
		} else {
			res.Duplicates++
			if r.Metrics != nil {
				r.Metrics.ItemsDuplicate.Inc()
			}
		}
	}
	return fresh
}

func (r *Runner) synthesizeBatch(ctx context.Context, batch []store.RawItem, existing []string, opts Options, percent int, res *Result) {
	candidates, err := r.Gateway.Synthesize(ctx, batch, existing, synth.Options{
		Provider:       opts.Provider,
		TargetLanguage: r.Cfg.General.TargetLanguage,
		TagLanguage:    r.Cfg.General.TagLanguage,
		Progress: func(text string) {
			r.Status.Report(ctx, text, percent)
		},
	})
	if err != nil {
		res.Recovered = append(res.Recovered, StageError{Stage: "synthesis", Err: err})
		if r.Metrics != nil {
			r.Metrics.ProviderErrors.WithLabelValues(opts.Provider).Inc()
		}
		r.Logger.Printf("[PIPELINE] batch synthesis failed: %v", err)
		return
	}
	if r.Metrics != nil {
		r.Metrics.Candidates.Add(float64(len(candidates)))
	}

	for _, c := range candidates {
		st := story.Normalize(c, languageOrDefault(r.Cfg.General.TargetLanguage), time.Now)
		if st.Title == "" {
			continue
		}
		saved, err := r.Store.InsertStory(ctx, st)
		if err != nil {
			res.Recovered = append(res.Recovered, StageError{Stage: "persist story", Err: err})
			r.Logger.Printf("[PIPELINE] story save failed (%s): %v", st.Title, err)
			continue
		}
		res.Stories = append(res.Stories, saved)
		if r.Metrics != nil {
			r.Metrics.StoriesPersisted.Inc()
		}
	}
}

func (r *Runner) refreshIndex(ctx context.Context) error {
	stories, err := r.Store.ListRecentStories(ctx, indexWindow)
	if err != nil {
		return err
	}
	return r.Index.Replace(stories)
}

// indexWindow bounds the in-memory search index to the newest stories.
const indexWindow = 500

func languageOrDefault(lang string) string {
	if lang == "" {
		return "English"
	}
	return lang
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
