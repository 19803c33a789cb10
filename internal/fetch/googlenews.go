package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/unattachedgray/feedbuffet/config"
	"github.com/unattachedgray/feedbuffet/internal/store"
)

const (
	googleNewsBase      = "https://news.google.com/rss"
	googleNewsSearchURL = googleNewsBase + "/search"
	googleNewsTopicURL  = googleNewsBase + "/headlines/section/topic"
)

// topicMap routes well-known categories to Google News topic endpoints.
var topicMap = map[string]string{
	"business":      "BUSINESS",
	"technology":    "TECHNOLOGY",
	"entertainment": "ENTERTAINMENT",
	"sports":        "SPORTS",
	"science":       "SCIENCE",
	"health":        "HEALTH",
	"world":         "WORLD",
	"nation":        "NATION",
}

// GoogleNewsClient fetches raw news items from Google News RSS feeds.
type GoogleNewsClient struct {
	cfg        config.GoogleNewsConfig
	httpClient *http.Client
	parser     *gofeed.Parser
	cache      *FeedCache
	logger     *log.Logger
	// baseURL overrides the Google News host in tests.
	baseURL string
}

// NewGoogleNewsClient builds a client for the configured locale. cache may
// be nil to fetch uncached.
func NewGoogleNewsClient(cfg config.GoogleNewsConfig, cache *FeedCache, logger *log.Logger) *GoogleNewsClient {
	if logger == nil {
		logger = log.Default()
	}
	return &GoogleNewsClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		parser:     gofeed.NewParser(),
		cache:      cache,
		logger:     logger,
	}
}

// Fetch retrieves items for a category or free-text query. Known categories
// use the topic endpoint, "top"/"headlines"/empty use the headlines feed,
// anything else goes through search. The locale triple is always applied.
func (c *GoogleNewsClient) Fetch(ctx context.Context, category, query string) ([]store.RawItem, error) {
	feedURL := c.endpointFor(category, query)

	body, cached := c.cacheGet(ctx, feedURL)
	if !cached {
		var err error
		body, err = c.download(ctx, feedURL)
		if err != nil {
			return nil, err
		}
		c.cacheSet(ctx, feedURL, body)
	}

	feed, err := c.parser.ParseString(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]store.RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		title, source := splitPublisher(entry.Title)
		if source == "" {
			source = "Google News"
		}
		item := store.RawItem{
			Title:       title,
			SourceName:  source,
			Link:        entry.Link,
			Description: entry.Description,
			Language:    langOf(c.cfg.HL),
		}
		if entry.PublishedParsed != nil {
			t := *entry.PublishedParsed
			item.PublishedAt = &t
		}
		items = append(items, item)
	}
	return items, nil
}

// endpointFor selects the feed endpoint and applies the locale triple.
func (c *GoogleNewsClient) endpointFor(category, query string) string {
	base := googleNewsBase
	search := googleNewsSearchURL
	topic := googleNewsTopicURL
	if c.baseURL != "" {
		base = c.baseURL
		search = c.baseURL + "/search"
		topic = c.baseURL + "/headlines/section/topic"
	}

	params := url.Values{}
	params.Set("hl", c.cfg.HL)
	params.Set("gl", c.cfg.GL)
	params.Set("ceid", c.cfg.CEID)

	cat := strings.ToLower(strings.TrimSpace(category))
	switch {
	case cat != "" && topicMap[cat] != "":
		return fmt.Sprintf("%s/%s?%s", topic, topicMap[cat], params.Encode())
	case cat == "" || cat == "top" || cat == "headlines":
		q := strings.TrimSpace(query)
		if q == "" {
			return fmt.Sprintf("%s?%s", base, params.Encode())
		}
		params.Set("q", q)
		return fmt.Sprintf("%s?%s", search, params.Encode())
	default:
		q := strings.TrimSpace(query)
		if q == "" {
			q = cat
		}
		params.Set("q", q)
		return fmt.Sprintf("%s?%s", search, params.Encode())
	}
}

func (c *GoogleNewsClient) download(ctx context.Context, feedURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", feedURL, nil)
	if err != nil {
		return "", fmt.Errorf("build feed request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("feed returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read feed body: %w", err)
	}
	return string(body), nil
}

func (c *GoogleNewsClient) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.cache == nil {
		return "", false
	}
	return c.cache.Get(ctx, key)
}

func (c *GoogleNewsClient) cacheSet(ctx context.Context, key, body string) {
	if c.cache == nil {
		return
	}
	c.cache.Set(ctx, key, body)
}

// splitPublisher separates the " - Publisher" suffix Google News appends to
// entry titles. Titles without the suffix come back unchanged.
func splitPublisher(title string) (headline, publisher string) {
	idx := strings.LastIndex(title, " - ")
	if idx <= 0 || idx+3 >= len(title) {
		return title, ""
	}
	return title[:idx], title[idx+3:]
}

// langOf reduces an hl value like "en-US" to its language part.
func langOf(hl string) string {
	if i := strings.IndexAny(hl, "-_"); i > 0 {
		return hl[:i]
	}
	return hl
}
