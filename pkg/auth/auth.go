// Package auth resolves credentials for the two provider strategies and
// produces the headers and base URL each request needs. API-key requests
// hit the generative-language endpoint; OAuth requests hit the regional
// Vertex endpoint with a Bearer token that is cached and refreshed here.
package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// Strategy selects one of the two authentication backends
type Strategy string

const (
	// StrategyGemini authenticates with an API key against the
	// generative-language endpoint
	StrategyGemini Strategy = "gemini"

	// StrategyVertex authenticates with OAuth2 against the regional
	// Vertex endpoint
	StrategyVertex Strategy = "vertex_ai"
)

const (
	// geminiHost is the fixed REST endpoint for API-key auth
	geminiHost = "https://generativelanguage.googleapis.com"

	// vertexHostTemplate is the regional endpoint for OAuth auth
	vertexHostTemplate = "https://%s-aiplatform.googleapis.com"

	// refreshSkew is subtracted from token expiry: a cached token is
	// only considered valid while expires_at - now > refreshSkew
	refreshSkew = 60 * time.Second
)

// Credentials is the tagged credential variant. Concrete types are APIKey
// and OAuth.
type Credentials interface {
	// Strategy returns the strategy this credential serves
	Strategy() Strategy
}

// APIKey authenticates with a static key
type APIKey struct {
	// Key is the API key value
	Key string
}

// Strategy implements Credentials
func (APIKey) Strategy() Strategy { return StrategyGemini }

// OAuth authenticates with a Google Cloud access token
type OAuth struct {
	// ProjectID and Location are required; they are substituted into
	// Vertex URL templates
	ProjectID string
	Location  string

	// Source supplies the access token
	Source TokenSource
}

// Strategy implements Credentials
func (OAuth) Strategy() Strategy { return StrategyVertex }

// Validate checks the invariants of the credential
func (o OAuth) Validate() error {
	if o.ProjectID == "" {
		return geminierrors.NewValidationError("project_id", "OAuth credentials require a project id", nil)
	}
	if o.Location == "" {
		return geminierrors.NewValidationError("location", "OAuth credentials require a location", nil)
	}
	if o.Source == nil {
		return geminierrors.NewValidationError("source", "OAuth credentials require a token source", nil)
	}
	return nil
}

// Token is an access token with its expiry
type Token struct {
	// Value is the bearer token
	Value string

	// ExpiresAt is the absolute expiry time
	ExpiresAt time.Time
}

// valid reports whether the token is fresh enough to use
func (t Token) valid(now time.Time) bool {
	return t.Value != "" && t.ExpiresAt.Sub(now) > refreshSkew
}

// TokenSource produces access tokens. Implementations: ServiceAccountSource
// (explicit key file or JSON blob), ADCSource, MetadataSource, and
// ChainSource combining them in acquisition order.
type TokenSource interface {
	// Name identifies the source in errors and telemetry
	Name() string

	// Fetch acquires a fresh token
	Fetch(ctx context.Context) (Token, error)
}

// Resolved is the outcome of credential resolution for one request
type Resolved struct {
	// Headers to attach to every request under this strategy
	Headers map[string]string

	// BaseURL is the scheme+host to build request URLs on
	BaseURL string

	// ProjectID and Location for URL path templates (OAuth only)
	ProjectID string
	Location  string
}

// Mux multiplexes the two credential strategies behind one resolve call.
// Token refresh is single-flight per strategy: concurrent resolves share
// one in-flight refresh.
type Mux struct {
	mu    sync.Mutex
	creds map[Strategy]Credentials
	cache map[Strategy]Token

	// inflight coalesces concurrent refreshes per strategy
	inflight map[Strategy]chan struct{}

	// now is replaceable in tests
	now func() time.Time
}

// NewMux creates a multiplexer over the given credentials. Passing both an
// APIKey and an OAuth credential enables both strategies.
func NewMux(creds ...Credentials) (*Mux, error) {
	m := &Mux{
		creds:    make(map[Strategy]Credentials, len(creds)),
		cache:    make(map[Strategy]Token),
		inflight: make(map[Strategy]chan struct{}),
		now:      time.Now,
	}
	for _, c := range creds {
		if o, ok := c.(OAuth); ok {
			if err := o.Validate(); err != nil {
				return nil, err
			}
		}
		m.creds[c.Strategy()] = c
	}
	return m, nil
}

// Strategies returns the strategies this mux can serve
func (m *Mux) Strategies() []Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Strategy, 0, len(m.creds))
	for s := range m.creds {
		out = append(out, s)
	}
	return out
}

// Default returns the preferred strategy when the caller does not pick
// one: API-key when configured, otherwise OAuth.
func (m *Mux) Default() (Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.creds[StrategyGemini]; ok {
		return StrategyGemini, nil
	}
	if _, ok := m.creds[StrategyVertex]; ok {
		return StrategyVertex, nil
	}
	return "", geminierrors.NewAuthError("none", "no credentials configured", nil)
}

// Resolve produces the auth headers and base URL for the strategy,
// refreshing the cached access token when needed. Safe for concurrent use.
func (m *Mux) Resolve(ctx context.Context, strategy Strategy) (Resolved, error) {
	m.mu.Lock()
	cred, ok := m.creds[strategy]
	m.mu.Unlock()
	if !ok {
		return Resolved{}, geminierrors.NewAuthError(string(strategy),
			fmt.Sprintf("no credentials configured for strategy %q", strategy), nil)
	}

	switch c := cred.(type) {
	case APIKey:
		return Resolved{
			Headers: map[string]string{"x-goog-api-key": c.Key},
			BaseURL: geminiHost,
		}, nil

	case OAuth:
		token, err := m.token(ctx, strategy, c)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{
			Headers:   map[string]string{"Authorization": "Bearer " + token.Value},
			BaseURL:   fmt.Sprintf(vertexHostTemplate, c.Location),
			ProjectID: c.ProjectID,
			Location:  c.Location,
		}, nil

	default:
		return Resolved{}, geminierrors.NewAuthError(string(strategy),
			fmt.Sprintf("unknown credential type %T", cred), nil)
	}
}

// Invalidate drops the cached token for a strategy, forcing the next
// Resolve to refresh
func (m *Mux) Invalidate(strategy Strategy) {
	m.mu.Lock()
	delete(m.cache, strategy)
	m.mu.Unlock()
}

// token returns a fresh access token, coalescing concurrent refreshes
func (m *Mux) token(ctx context.Context, strategy Strategy, cred OAuth) (Token, error) {
	for {
		m.mu.Lock()
		if t, ok := m.cache[strategy]; ok && t.valid(m.now()) {
			m.mu.Unlock()
			return t, nil
		}
		if wait, ok := m.inflight[strategy]; ok {
			// A refresh is already running; wait for it and re-check
			m.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return Token{}, ctx.Err()
			}
			continue
		}
		done := make(chan struct{})
		m.inflight[strategy] = done
		m.mu.Unlock()

		token, err := m.refresh(ctx, cred)

		m.mu.Lock()
		delete(m.inflight, strategy)
		if err == nil {
			m.cache[strategy] = token
		}
		m.mu.Unlock()
		close(done)

		if err != nil {
			return Token{}, err
		}
		return token, nil
	}
}

// refresh fetches a new token, retrying once before surfacing AuthError
func (m *Mux) refresh(ctx context.Context, cred OAuth) (Token, error) {
	token, err := cred.Source.Fetch(ctx)
	if err == nil {
		return token, nil
	}
	if ctx.Err() != nil {
		return Token{}, err
	}
	// One local retry before giving up
	token, retryErr := cred.Source.Fetch(ctx)
	if retryErr == nil {
		return token, nil
	}
	if geminierrors.IsAuthError(err) {
		return Token{}, err
	}
	return Token{}, geminierrors.NewAuthError(cred.Source.Name(), "token refresh failed", err)
}

// ChainSource tries each source in order and serves from the first that
// succeeds, pinning it for subsequent fetches
type ChainSource struct {
	mu      sync.Mutex
	sources []TokenSource
	pinned  TokenSource
}

// NewChainSource builds a chain over the given sources. The canonical
// acquisition order is key file, JSON blob, ADC, metadata server.
func NewChainSource(sources ...TokenSource) *ChainSource {
	return &ChainSource{sources: sources}
}

// Name implements TokenSource
func (c *ChainSource) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned != nil {
		return c.pinned.Name()
	}
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// Fetch implements TokenSource
func (c *ChainSource) Fetch(ctx context.Context) (Token, error) {
	c.mu.Lock()
	pinned := c.pinned
	c.mu.Unlock()
	if pinned != nil {
		return pinned.Fetch(ctx)
	}

	var firstErr error
	for _, s := range c.sources {
		token, err := s.Fetch(ctx)
		if err == nil {
			c.mu.Lock()
			c.pinned = s
			c.mu.Unlock()
			return token, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			return Token{}, ctx.Err()
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no token sources configured")
	}
	return Token{}, geminierrors.NewAuthError("chain", "no credential source usable", firstErr)
}
