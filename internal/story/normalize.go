package story

import (
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/google/uuid"

	"github.com/unattachedgray/feedbuffet/internal/store"
)

const missingSourceTitle = "Source Link"

// Normalize turns an accepted candidate into a persistable Story. All data
// hygiene failures recover to safe defaults; Normalize never fails.
func Normalize(c Candidate, language string, now func() time.Time) store.Story {
	if now == nil {
		now = time.Now
	}
	sources := normalizeSources(c.Sources)
	urls := make([]string, 0, len(sources))
	for _, s := range sources {
		urls = append(urls, s.URL)
	}
	return store.Story{
		Key:         "story_" + uuid.NewString(),
		Title:       strings.TrimSpace(c.Title.String()),
		Summary:     strings.TrimSpace(c.Summary.String()),
		Category:    strings.ToLower(strings.TrimSpace(c.Category.String())),
		Language:    language,
		Entities:    compact(c.Entities),
		Topics:      compact(c.Topics),
		Sources:     sources,
		SourceURLs:  urls,
		PublishedAt: parsePublishedAt(c.RepresentativePublishedAt.String(), now),
	}
}

// normalizeSources fills missing title/source fields from the URL host and
// drops entries with no URL at all.
func normalizeSources(in []CandidateSource) []store.StorySource {
	var out []store.StorySource
	for _, s := range in {
		u := strings.TrimSpace(s.URL)
		if u == "" {
			continue
		}
		title := strings.TrimSpace(s.Title)
		if title == "" {
			title = missingSourceTitle
		}
		source := strings.TrimSpace(s.Source)
		if source == "" {
			source = hostOf(u)
		}
		out = append(out, store.StorySource{Title: title, URL: u, Source: source})
	}
	return out
}

// hostOf extracts the URL host, stripped of a leading www. Falls back to
// the raw string when parsing yields no host.
func hostOf(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return raw
	}
	host := strings.ToLower(parsed.Host)
	return strings.TrimPrefix(host, "www.")
}

// parsePublishedAt reads RFC-822-style and ISO-8601 timestamps defensively.
// Unparsable input yields the current time rather than an error.
func parsePublishedAt(raw string, now func() time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return now()
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return now()
	}
	return t
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
