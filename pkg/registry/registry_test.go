package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
)

func TestDefaults_AuthAware(t *testing.T) {
	t.Parallel()

	r := New()
	assert.Equal(t, "gemini-flash-latest", r.Default(auth.StrategyGemini, UseCaseGenerate))
	assert.Equal(t, "text-embedding-004", r.Default(auth.StrategyVertex, UseCaseEmbedding))

	// Unknown use case falls back to the generate default
	assert.Equal(t, "gemini-flash-latest", r.Default(auth.StrategyGemini, UseCase("nonsense")))

	r.SetDefault(auth.StrategyVertex, UseCaseGenerate, "custom-model")
	assert.Equal(t, "custom-model", r.Default(auth.StrategyVertex, UseCaseGenerate))
	assert.Equal(t, "gemini-flash-latest", r.Default(auth.StrategyGemini, UseCaseGenerate),
		"overriding one strategy must not affect the other")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	r := New()

	// Empty name uses the strategy default
	assert.Equal(t, "gemini-flash-latest", r.Resolve("", auth.StrategyGemini))

	// Fully qualified names are stripped
	assert.Equal(t, "gemini-2.5-pro", r.Resolve("models/gemini-2.5-pro", auth.StrategyGemini))

	// Aliases resolve to their targets
	r.RegisterAlias("fast", "gemini-flash-lite-latest")
	assert.Equal(t, "gemini-flash-lite-latest", r.Resolve("fast", auth.StrategyGemini))

	// Unknown names pass through
	assert.Equal(t, "my-tuned-model", r.Resolve("my-tuned-model", auth.StrategyVertex))
}
