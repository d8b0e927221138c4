// Package registry resolves model names: auth-aware defaults, use-case
// aliases, and caller-registered shorthands.
package registry

import (
	"strings"
	"sync"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
)

// UseCase names a model selection intent
type UseCase string

const (
	// UseCaseGenerate is the general text-generation default
	UseCaseGenerate UseCase = "generate"

	// UseCaseFast prefers latency over quality
	UseCaseFast UseCase = "fast"

	// UseCaseQuality prefers quality over latency
	UseCaseQuality UseCase = "quality"

	// UseCaseEmbedding selects the embedding model
	UseCaseEmbedding UseCase = "embedding"
)

// Registry maps aliases and use cases to concrete model ids. Defaults are
// auth-aware so the two providers can diverge.
type Registry struct {
	mu       sync.RWMutex
	defaults map[auth.Strategy]map[UseCase]string
	aliases  map[string]string
}

// New creates a registry seeded with the library defaults
func New() *Registry {
	r := &Registry{
		defaults: make(map[auth.Strategy]map[UseCase]string),
		aliases:  make(map[string]string),
	}
	for _, strategy := range []auth.Strategy{auth.StrategyGemini, auth.StrategyVertex} {
		r.defaults[strategy] = map[UseCase]string{
			UseCaseGenerate:  "gemini-flash-latest",
			UseCaseFast:      "gemini-flash-lite-latest",
			UseCaseQuality:   "gemini-2.5-pro",
			UseCaseEmbedding: "text-embedding-004",
		}
	}
	return r
}

// Default returns the default model for a strategy and use case
func (r *Registry) Default(strategy auth.Strategy, useCase UseCase) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if byCase, ok := r.defaults[strategy]; ok {
		if model, ok := byCase[useCase]; ok {
			return model
		}
		return byCase[UseCaseGenerate]
	}
	return ""
}

// SetDefault overrides the default model for a strategy and use case
func (r *Registry) SetDefault(strategy auth.Strategy, useCase UseCase, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byCase, ok := r.defaults[strategy]
	if !ok {
		byCase = make(map[UseCase]string)
		r.defaults[strategy] = byCase
	}
	byCase[useCase] = model
}

// RegisterAlias maps a shorthand to a concrete model id
func (r *Registry) RegisterAlias(alias, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = model
}

// Resolve maps a caller-supplied name to a concrete model id. Empty names
// fall back to the strategy default; "models/" prefixes are stripped so
// callers can pass fully qualified resource names.
func (r *Registry) Resolve(name string, strategy auth.Strategy) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		if byCase, ok := r.defaults[strategy]; ok {
			return byCase[UseCaseGenerate]
		}
		return ""
	}
	name = strings.TrimPrefix(name, "models/")
	if target, ok := r.aliases[name]; ok {
		return target
	}
	return name
}
