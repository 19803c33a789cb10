package synth

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/unattachedgray/feedbuffet/internal/ingest"
	"github.com/unattachedgray/feedbuffet/internal/store"
	"github.com/unattachedgray/feedbuffet/internal/story"
	"github.com/unattachedgray/feedbuffet/internal/synth/provider"
)

// Options selects the provider and output language for one synthesis call.
type Options struct {
	Provider       string
	TargetLanguage string
	TagLanguage    string
	// Progress, when set, receives human-readable status text before and
	// after the remote call. The gateway has no opinion on display.
	Progress func(text string)
}

// Gateway sends batches of raw items to a language-model provider and
// returns structured story candidates.
type Gateway struct {
	Registry *provider.Registry
	Logger   *log.Logger
}

// NewGateway wires a gateway over the provider registry.
func NewGateway(registry *provider.Registry, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{Registry: registry, Logger: logger}
}

// Synthesize builds the consolidation prompt for the batch, dispatches to
// the selected provider and repairs the response into candidates. An
// unknown provider is an error; a malformed response is not — it yields
// zero candidates. Remote failures are returned for the caller to degrade.
func (g *Gateway) Synthesize(ctx context.Context, batch []store.RawItem, existingTitles []string, opts Options) ([]story.Candidate, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	gen, err := g.Registry.Get(opts.Provider)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(batch, existingTitles, opts.TargetLanguage, opts.TagLanguage)

	if opts.Progress != nil {
		opts.Progress(fmt.Sprintf("Consulting editor model (%s)...", gen.Name()))
	}
	raw, err := gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesis call (%s): %w", gen.Name(), err)
	}
	if opts.Progress != nil {
		opts.Progress("Parsing model response...")
	}

	candidates := RepairCandidates(raw)
	if len(candidates) == 0 {
		g.Logger.Printf("batch of %d items produced no usable candidates", len(batch))
	}
	return candidates, nil
}

// BuildPrompt renders the consolidation instruction with the exclusion
// list and the enumerated batch items under stable indices.
func BuildPrompt(batch []store.RawItem, existingTitles []string, targetLanguage, tagLanguage string) string {
	if targetLanguage == "" {
		targetLanguage = "English"
	}
	if tagLanguage == "" {
		tagLanguage = "English"
	}

	var rawText strings.Builder
	for i, item := range batch {
		rawText.WriteString(ingest.SerializeItem(i, item))
	}

	existingText := "(None)"
	if len(existingTitles) > 0 {
		var b strings.Builder
		for _, t := range existingTitles {
			b.WriteString("- ")
			b.WriteString(t)
			b.WriteString("\n")
		}
		existingText = b.String()
	}

	return fmt.Sprintf(`You are the executive editor of a news intelligence service.

GOAL:
Organize the provided raw news items into consolidated news stories.
You must also check the list of already published stories and IGNORE any new items that cover the same story, to prevent duplicates.

**CRITICAL**: Output the 'title' and 'summary' fields in the target language: %s.
However, keep 'category', 'entities', and 'topics' in %s for internal tagging consistency.

INPUTS:

--- ALREADY PUBLISHED (Do NOT create stories for these topics) ---
%s

--- RAW ITEMS (Cluster these) ---
%s

INSTRUCTIONS:
1. Group the raw items by specific semantic topic. **Prefer creating MORE small groups rather than merging loosely related stories.**
2. If a group matches a topic already published, DISCARD it completely.
3. For each NEW group, synthesize a story object.
4. **CRITICAL**: For 'category', choose the most fitting single-word category (e.g., 'politics', 'ai', 'crypto', 'finance'). Output must be lowercase.
5. **CRITICAL**: For 'sources', return a list of objects exactly like {"title": "...", "url": "...", "source": "..."}. You MUST extract the URL from the raw items provided. Do not hallucinate links.

OUTPUT SCHEMA (JSON List):
[
    {
        "title": "Concise, neutral headline (max 10 words)",
        "summary": "Deep synthesis of the story (max 80 words)",
        "category": "business",
        "entities": ["entity1", "entity2"],
        "topics": ["topic1", "topic2"],
        "sources": [
            {"title": "Headline of article 1", "url": "https://actual.link/...", "source": "Source Name"}
        ],
        "representative_published_at": "ISO8601 timestamp"
    }
]
`, targetLanguage, tagLanguage, existingText, rawText.String())
}
