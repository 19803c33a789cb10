package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Store wraps the Postgres connection used by the pipeline.
type Store struct {
	DB *sql.DB
}

// NewWithDSN opens a Postgres connection and verifies it.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// RawItem is one unprocessed news item from a fetch source. Identity for
// persistence is the link; identity for clustering is the title token set.
type RawItem struct {
	ID          string
	Title       string
	SourceName  string
	Link        string
	Description string
	Language    string
	PublishedAt *time.Time
	IngestedAt  time.Time
}

// StorySource is one attributed source link on a consolidated story.
type StorySource struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Story is a persisted, validated consolidated news story. Rows are
// append-only; corrections happen out-of-band.
type Story struct {
	ID          string
	Key         string
	Title       string
	Summary     string
	Category    string
	Language    string
	Entities    []string
	Topics      []string
	Sources     []StorySource
	SourceURLs  []string
	PublishedAt time.Time
	CreatedAt   time.Time
}

// PipelineStatus is the singleton progress record advertised to observers.
type PipelineStatus struct {
	StatusText      string
	ProgressPercent int
	IsActive        bool
	UpdatedAt       time.Time
}

// InsertRawItem stores a fetched item, deduplicating on link. It returns the
// stored row and whether it was newly inserted.
func (s *Store) InsertRawItem(ctx context.Context, item RawItem) (RawItem, bool, error) {
	if item.Link == "" {
		return RawItem{}, false, fmt.Errorf("raw item link required")
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO raw_items (link, source_name, title, description, published_at, language)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (link) DO NOTHING
RETURNING id, ingested_at
`, item.Link, item.SourceName, item.Title, item.Description, item.PublishedAt, item.Language)

	err := row.Scan(&item.ID, &item.IngestedAt)
	if err == nil {
		return item, true, nil
	}
	if err != sql.ErrNoRows {
		return RawItem{}, false, fmt.Errorf("insert raw item: %w", err)
	}

	// Conflict path: the link is already known, fetch the stored row.
	row = s.DB.QueryRowContext(ctx, `
SELECT id, link, source_name, title, description, published_at, language, ingested_at
FROM raw_items
WHERE link=$1
`, item.Link)
	var existing RawItem
	var sourceName, title, description, language sql.NullString
	var publishedAt sql.NullTime
	if err := row.Scan(&existing.ID, &existing.Link, &sourceName, &title, &description, &publishedAt, &language, &existing.IngestedAt); err != nil {
		return RawItem{}, false, fmt.Errorf("select raw item: %w", err)
	}
	existing.SourceName = sourceName.String
	existing.Title = title.String
	existing.Description = description.String
	existing.Language = language.String
	if publishedAt.Valid {
		t := publishedAt.Time
		existing.PublishedAt = &t
	}
	return existing, false, nil
}

// InsertStory persists an accepted story. Append-only.
func (s *Store) InsertStory(ctx context.Context, st Story) (Story, error) {
	if st.Key == "" {
		return Story{}, fmt.Errorf("story key required")
	}
	sources, err := json.Marshal(st.Sources)
	if err != nil {
		return Story{}, fmt.Errorf("marshal sources: %w", err)
	}
	row := s.DB.QueryRowContext(ctx, `
INSERT INTO stories (story_key, title, summary, category, language, entities, topics, sources, source_urls, published_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at
`, st.Key, st.Title, st.Summary, st.Category, st.Language,
		pq.Array(st.Entities), pq.Array(st.Topics), sources, pq.Array(st.SourceURLs), st.PublishedAt)
	if err := row.Scan(&st.ID, &st.CreatedAt); err != nil {
		return Story{}, fmt.Errorf("insert story: %w", err)
	}
	return st, nil
}

// RecentStoryTitles returns the most recent n story titles ordered by
// publish time descending. Used as the synthesis exclusion list.
func (s *Store) RecentStoryTitles(ctx context.Context, n int) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT title
FROM stories
ORDER BY published_at DESC
LIMIT $1
`, n)
	if err != nil {
		return nil, fmt.Errorf("recent story titles: %w", err)
	}
	defer rows.Close()

	var titles []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		titles = append(titles, t)
	}
	return titles, rows.Err()
}

// ListRecentStories returns the most recent n stories for the API and the
// search index.
func (s *Store) ListRecentStories(ctx context.Context, n int) ([]Story, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, story_key, title, summary, category, language, entities, topics, sources, source_urls, published_at, created_at
FROM stories
ORDER BY published_at DESC
LIMIT $1
`, n)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		var st Story
		var sources []byte
		if err := rows.Scan(&st.ID, &st.Key, &st.Title, &st.Summary, &st.Category, &st.Language,
			pq.Array(&st.Entities), pq.Array(&st.Topics), &sources, pq.Array(&st.SourceURLs),
			&st.PublishedAt, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan story: %w", err)
		}
		if len(sources) > 0 {
			if err := json.Unmarshal(sources, &st.Sources); err != nil {
				return nil, fmt.Errorf("unmarshal sources: %w", err)
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertPipelineStatus overwrites the singleton status row, inserting it on
// first use. Exactly one logical row exists.
func (s *Store) UpsertPipelineStatus(ctx context.Context, statusText string, progressPercent int, isActive bool) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO pipeline_status (id, status_text, progress_percent, is_active, updated_at)
VALUES (1,$1,$2,$3,NOW())
ON CONFLICT (id) DO UPDATE SET
  status_text = EXCLUDED.status_text,
  progress_percent = EXCLUDED.progress_percent,
  is_active = EXCLUDED.is_active,
  updated_at = NOW();
`, statusText, progressPercent, isActive)
	if err != nil {
		return fmt.Errorf("upsert pipeline status: %w", err)
	}
	return nil
}

// GetPipelineStatus reads the singleton status row.
func (s *Store) GetPipelineStatus(ctx context.Context) (PipelineStatus, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT status_text, progress_percent, is_active, updated_at
FROM pipeline_status
WHERE id=1
`)
	var ps PipelineStatus
	if err := row.Scan(&ps.StatusText, &ps.ProgressPercent, &ps.IsActive, &ps.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return PipelineStatus{}, false, nil
		}
		return PipelineStatus{}, false, fmt.Errorf("get pipeline status: %w", err)
	}
	return ps, true, nil
}
