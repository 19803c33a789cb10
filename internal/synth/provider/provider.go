package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/unattachedgray/feedbuffet/config"
)

// Known provider identifiers.
const (
	Gemini    = "gemini"
	OpenAI    = "openai"
	Anthropic = "anthropic"
)

var (
	// ErrUnknownProvider is returned when a requested identifier has no adapter.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrNotConfigured is returned when a provider is requested without a credential.
	ErrNotConfigured = errors.New("provider not configured")
)

// Generator is the one operation every language-model backend exposes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Registry holds the providers constructed from configuration. It is built
// once at process start and passed by reference; there is no ambient state.
type Registry struct {
	generators map[string]Generator
	budgets    map[string]int
}

// NewRegistry builds provider adapters for every configured identifier.
// A configured provider with an empty API key is a configuration error.
func NewRegistry(cfg config.LLMConfig) (*Registry, error) {
	r := &Registry{
		generators: make(map[string]Generator),
		budgets:    make(map[string]int),
	}
	for id, pc := range cfg.Providers {
		var g Generator
		var err error
		switch id {
		case Gemini:
			g, err = NewGeminiClient(pc)
		case OpenAI:
			g, err = NewOpenAIClient(pc)
		case Anthropic:
			g, err = NewAnthropicClient(pc)
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
		}
		if err != nil {
			return nil, err
		}
		r.generators[id] = g
		r.budgets[id] = pc.MaxBatchChars
	}
	return r, nil
}

// NewStaticRegistry builds a registry from pre-constructed generators,
// bypassing config. Useful for custom wiring and tests.
func NewStaticRegistry(gens map[string]Generator) *Registry {
	r := &Registry{
		generators: make(map[string]Generator, len(gens)),
		budgets:    make(map[string]int),
	}
	for id, g := range gens {
		r.generators[id] = g
	}
	return r
}

// SetBudget overrides the character budget for one provider.
func (r *Registry) SetBudget(id string, chars int) {
	r.budgets[id] = chars
}

// Get returns the adapter for the identifier, or an error for unknown ids.
// There is no silent default.
func (r *Registry) Get(id string) (Generator, error) {
	g, ok := r.generators[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return g, nil
}

// MaxBatchChars returns the character budget configured for the provider.
func (r *Registry) MaxBatchChars(id string) int {
	if b, ok := r.budgets[id]; ok && b > 0 {
		return b
	}
	return 25000
}

// Names lists the configured provider identifiers, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for id := range r.generators {
		names = append(names, id)
	}
	sort.Strings(names)
	return names
}
