package client

import (
	"time"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
)

// Options is the per-request option bag recognized by the coordinator.
// Zero values mean "use the client default".
type Options struct {
	// Auth overrides the strategy for this request
	Auth auth.Strategy

	// Timeout bounds one attempt
	Timeout time.Duration

	// MaxRetries and MaxBackoff override the retry policy
	MaxRetries *int
	MaxBackoff time.Duration

	// DisableRateLimiter bypasses the local limiter entirely
	DisableRateLimiter bool

	// NonBlocking makes limiter shortfalls fail immediately instead of
	// waiting
	NonBlocking bool

	// ConcurrencyKey overrides the limiter partition (defaults to the
	// model id)
	ConcurrencyKey string

	// MaxConcurrencyPerModel overrides the permit pool size for the key
	MaxConcurrencyPerModel int

	// PermitTimeout bounds waiting for a permit; negative waits forever
	PermitTimeout time.Duration

	// TokenBudgetPerWindow configures the key's token budget; zero
	// leaves it unbudgeted
	TokenBudgetPerWindow int

	// EstimatedInputTokens overrides the coarse character-based estimate
	EstimatedInputTokens int

	// EstimatedCachedTokens is subtracted from the reservation for
	// server-side cached content
	EstimatedCachedTokens int

	// BudgetSafetyMultiplier overrides the configured multiplier
	BudgetSafetyMultiplier float64

	// MaxBudgetWait bounds waiting on a full budget window
	MaxBudgetWait time.Duration

	// CachedContent is a server-side cache resource name
	CachedContent string

	// Tools available to the model for this request
	Tools []gemini.Tool

	// SystemInstruction accepts a string or a gemini.Content
	SystemInstruction interface{}

	// GenerationConfig for this request
	GenerationConfig *gemini.GenerationConfig

	// SafetySettings for this request
	SafetySettings []gemini.SafetySetting

	// ResponseMIMEType forces the output MIME type (e.g.
	// "application/json")
	ResponseMIMEType string

	// ResponseJSONSchema constrains JSON output and is validated
	// client-side against the response text
	ResponseJSONSchema map[string]interface{}
}

// orDefault returns opts when non-nil, an empty Options otherwise
func (o *Options) orDefault() *Options {
	if o == nil {
		return &Options{}
	}
	return o
}
