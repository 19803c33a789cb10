package synth

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/synth/provider"
)

const (
	noStoriesCommentary = "No news stories available for commentary today."
	failedCommentary    = "Unable to generate commentary at this time."

	commentaryStoryLimit   = 10
	commentarySummaryRunes = 150
)

// Commentator produces free-text editorial commentary over a story list.
// The stage is best-effort: it returns canned text instead of failing.
type Commentator struct {
	Registry *provider.Registry
	Logger   *log.Logger
}

// NewCommentator wires a commentator over the provider registry.
func NewCommentator(registry *provider.Registry, logger *log.Logger) *Commentator {
	if logger == nil {
		logger = log.Default()
	}
	return &Commentator{Registry: registry, Logger: logger}
}

// Generate asks the provider for commentary over up to the first ten
// stories. Empty input and any remote failure both yield canned text;
// Generate never returns an error and never aborts persistence upstream.
func (c *Commentator) Generate(ctx context.Context, stories []store.Story, targetLanguage, providerID string) string {
	if len(stories) == 0 {
		return noStoriesCommentary
	}
	gen, err := c.Registry.Get(providerID)
	if err != nil {
		c.Logger.Printf("commentary provider unavailable: %v", err)
		return failedCommentary
	}
	if targetLanguage == "" {
		targetLanguage = "English"
	}

	text, err := gen.Generate(ctx, commentaryPrompt(stories, targetLanguage))
	if err != nil {
		c.Logger.Printf("commentary generation failed (%s): %v", gen.Name(), err)
		return failedCommentary
	}
	if strings.TrimSpace(text) == "" {
		return failedCommentary
	}
	return text
}

func commentaryPrompt(stories []store.Story, targetLanguage string) string {
	limit := len(stories)
	if limit > commentaryStoryLimit {
		limit = commentaryStoryLimit
	}
	var lines []string
	for _, st := range stories[:limit] {
		lines = append(lines, fmt.Sprintf("• %s: %s...", st.Title, truncateRunes(st.Summary, commentarySummaryRunes)))
	}

	return fmt.Sprintf(`You are an insightful news analyst. Provide a brief, engaging commentary on today's top news stories in %s.

Today's Top Stories:
%s

Provide a 2-3 paragraph analysis highlighting:
1. Key themes and trends across these stories
2. Notable implications or connections between events
3. Your perspective on what matters most

Keep it conversational and opinionated. Write in %s.`, targetLanguage, strings.Join(lines, "\n\n"), targetLanguage)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
