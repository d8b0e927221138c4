// Package client is the coordinator: the single entry point that
// validates requests, resolves auth, applies the rate limiter, selects
// the execution mode (unary, SSE stream, Live WebSocket, LRO poll) and
// parses responses into domain types.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
	"github.com/digitallysavvy/go-gemini/pkg/config"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/httpx"
	"github.com/digitallysavvy/go-gemini/pkg/internal/retry"
	"github.com/digitallysavvy/go-gemini/pkg/ratelimit"
	"github.com/digitallysavvy/go-gemini/pkg/registry"
	"github.com/digitallysavvy/go-gemini/pkg/schema"
	"github.com/digitallysavvy/go-gemini/pkg/stream"
	"github.com/digitallysavvy/go-gemini/pkg/telemetry"
)

const (
	// geminiAPIVersion is the REST API version for API-key auth
	geminiAPIVersion = "v1beta"

	// vertexAPIVersion is the REST API version for OAuth auth
	vertexAPIVersion = "v1"
)

// Params configures a Client. Only Auth is required; everything else has
// working defaults.
type Params struct {
	// Config supplies the process-wide knobs; DefaultConfig when nil
	Config *config.Config

	// Auth resolves credentials; required
	Auth *auth.Mux

	// Limiter shares rate-limit state across clients; one is created
	// (and owned) when nil
	Limiter *ratelimit.Limiter

	// HTTPClient overrides the transport
	HTTPClient *httpx.Client

	// Models overrides the model registry
	Models *registry.Registry

	// Telemetry enables tracing and metrics
	Telemetry *telemetry.Settings
}

// Client is the coordinator
type Client struct {
	cfg     config.Config
	mux     *auth.Mux
	http    *httpx.Client
	limiter *ratelimit.Limiter
	streams *stream.Manager
	models  *registry.Registry
	tracer  trace.Tracer

	ownLimiter bool
}

// New creates a coordinator
func New(p Params) (*Client, error) {
	if p.Auth == nil {
		return nil, geminierrors.NewValidationError("auth", "an auth.Mux is required", nil)
	}
	cfg := config.DefaultConfig()
	if p.Config != nil {
		cfg = *p.Config
	}

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = httpx.NewClient(httpx.Config{
			Timeout:        cfg.DefaultTimeout,
			ConnectTimeout: cfg.ConnectTimeout,
		})
	}

	limiter := p.Limiter
	own := false
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{
			MaxConcurrency:   cfg.MaxConcurrencyPerModel,
			PermitTimeout:    cfg.PermitTimeout,
			WindowDuration:   cfg.WindowDuration,
			SafetyMultiplier: cfg.BudgetSafetyMultiplier,
			Adaptive:         cfg.AdaptiveConcurrency,
			AdaptiveCeiling:  cfg.AdaptiveCeiling,
			Telemetry:        p.Telemetry,
		})
		own = true
	}

	models := p.Models
	if models == nil {
		models = registry.New()
	}

	c := &Client{
		cfg:        cfg,
		mux:        p.Auth,
		http:       httpClient,
		limiter:    limiter,
		models:     models,
		tracer:     telemetry.GetTracer(p.Telemetry),
		ownLimiter: own,
	}
	c.streams = stream.NewManager(httpClient, limiter, stream.Config{
		MaxRetries:        cfg.MaxRetries,
		BaseBackoff:       cfg.BaseBackoff,
		MaxBackoff:        cfg.MaxBackoff,
		JitterFactor:      cfg.JitterFactor,
		CleanupDelay:      cfg.StreamCleanupDelay,
		SubscriberTimeout: cfg.SubscriberTimeout,
	})
	return c, nil
}

// NewFromEnv builds a client with env-discovered credentials
func NewFromEnv() (*Client, error) {
	cfg := config.FromEnv()

	var creds []auth.Credentials
	if cfg.APIKey != "" {
		creds = append(creds, auth.APIKey{Key: cfg.APIKey})
	}
	if cfg.ProjectID != "" && cfg.Location != "" {
		chain, err := auth.DefaultChain(cfg.KeyFilePath, cfg.JSONCredentials)
		if err != nil {
			return nil, err
		}
		creds = append(creds, auth.OAuth{
			ProjectID: cfg.ProjectID,
			Location:  cfg.Location,
			Source:    chain,
		})
	}
	if len(creds) == 0 {
		return nil, geminierrors.NewAuthError("env", "no credentials found in the environment", nil)
	}

	mux, err := auth.NewMux(creds...)
	if err != nil {
		return nil, err
	}
	return New(Params{Config: &cfg, Auth: mux})
}

// Close releases client-owned resources
func (c *Client) Close() {
	c.streams.Close()
	if c.ownLimiter {
		c.limiter.Close()
	}
}

// Limiter exposes the underlying limiter (shared retry windows,
// diagnostics)
func (c *Client) Limiter() *ratelimit.Limiter { return c.limiter }

// Models exposes the model registry
func (c *Client) Models() *registry.Registry { return c.models }

// strategy resolves the auth strategy for a request
func (c *Client) strategy(opts *Options) (auth.Strategy, error) {
	if opts.Auth != "" {
		return opts.Auth, nil
	}
	return c.mux.Default()
}

// modelPath builds the model resource path segment for a strategy
func modelPath(resolved auth.Resolved, strategy auth.Strategy, model string) string {
	model = strings.TrimPrefix(model, "models/")
	if strategy == auth.StrategyVertex {
		return fmt.Sprintf("%s/%s/projects/%s/locations/%s/publishers/google/models/%s",
			resolved.BaseURL, vertexAPIVersion, resolved.ProjectID, resolved.Location, model)
	}
	return fmt.Sprintf("%s/%s/models/%s", resolved.BaseURL, geminiAPIVersion, model)
}

// GenerateContent performs a unary generation request
func (c *Client) GenerateContent(ctx context.Context, model string, contents interface{}, opts *Options) (*gemini.GenerateContentResponse, error) {
	opts = opts.orDefault()

	body, strategy, resolvedModel, est, err := c.prepareGenerate(model, contents, opts)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "gemini.generate_content", trace.WithAttributes(
		attribute.String("gemini.model", resolvedModel),
		attribute.String("gemini.auth", string(strategy)),
	))
	defer span.End()

	resp, err := c.doUnary(ctx, strategy, unaryRequest{
		verb:    "generateContent",
		model:   resolvedModel,
		body:    body,
		opts:    opts,
		tokens:  est,
		limited: true,
	})
	if err != nil {
		return nil, err
	}

	var out gemini.GenerateContentResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed generate response", err)
	}
	if err := c.validateResponseSchema(&out, opts); err != nil {
		return nil, err
	}
	return &out, nil
}

// prepareGenerate normalizes the flexible inputs into the wire body
func (c *Client) prepareGenerate(model string, contents interface{}, opts *Options) (*gemini.GenerateContentRequest, auth.Strategy, string, int, error) {
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, "", "", 0, err
	}

	normalized, err := gemini.NormalizeContents(contents)
	if err != nil {
		return nil, "", "", 0, err
	}
	system, err := gemini.NormalizeSystemInstruction(opts.SystemInstruction)
	if err != nil {
		return nil, "", "", 0, err
	}

	genConfig := opts.GenerationConfig
	if opts.ResponseMIMEType != "" || opts.ResponseJSONSchema != nil {
		cloned := gemini.GenerationConfig{}
		if genConfig != nil {
			cloned = *genConfig
		}
		if opts.ResponseMIMEType != "" {
			cloned.ResponseMIMEType = opts.ResponseMIMEType
		}
		if opts.ResponseJSONSchema != nil {
			if cloned.ResponseMIMEType == "" {
				cloned.ResponseMIMEType = "application/json"
			}
			cloned.ResponseSchema = opts.ResponseJSONSchema
		}
		genConfig = &cloned
	}

	body := &gemini.GenerateContentRequest{
		Contents:          normalized,
		SystemInstruction: system,
		Tools:             opts.Tools,
		GenerationConfig:  genConfig,
		SafetySettings:    opts.SafetySettings,
		CachedContent:     opts.CachedContent,
	}

	est := opts.EstimatedInputTokens
	if est == 0 {
		est = gemini.EstimateTokens(normalized)
	}
	est -= opts.EstimatedCachedTokens
	if est < 0 {
		est = 0
	}

	return body, strategy, c.models.Resolve(model, strategy), est, nil
}

// validateResponseSchema checks structured output against the caller's
// JSON schema
func (c *Client) validateResponseSchema(resp *gemini.GenerateContentResponse, opts *Options) error {
	if opts.ResponseJSONSchema == nil {
		return nil
	}
	text := resp.Text()
	if text == "" {
		return nil
	}
	var decoded interface{}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return geminierrors.NewValidationError("response", "structured output is not valid JSON", err)
	}
	return schema.NewJSONSchema(opts.ResponseJSONSchema).Validate(decoded)
}

// CountTokens counts the input tokens for the given contents
func (c *Client) CountTokens(ctx context.Context, model string, contents interface{}, opts *Options) (*gemini.CountTokensResponse, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	normalized, err := gemini.NormalizeContents(contents)
	if err != nil {
		return nil, err
	}

	resp, err := c.doUnary(ctx, strategy, unaryRequest{
		verb:  "countTokens",
		model: c.models.Resolve(model, strategy),
		body:  &gemini.CountTokensRequest{Contents: normalized},
		opts:  opts,
	})
	if err != nil {
		return nil, err
	}

	var out gemini.CountTokensResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed countTokens response", err)
	}
	return &out, nil
}

// EmbedContent embeds a single content
func (c *Client) EmbedContent(ctx context.Context, model string, content interface{}, opts *Options) (*gemini.EmbedContentResponse, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	normalized, err := gemini.NormalizeContents(content)
	if err != nil {
		return nil, err
	}
	if len(normalized) != 1 {
		return nil, geminierrors.NewValidationError("content", "embedding takes exactly one content", nil)
	}

	if model == "" {
		model = c.models.Default(strategy, registry.UseCaseEmbedding)
	}
	resolvedModel := c.models.Resolve(model, strategy)

	resp, err := c.doUnary(ctx, strategy, unaryRequest{
		verb:    "embedContent",
		model:   resolvedModel,
		body:    &gemini.EmbedContentRequest{Content: normalized[0]},
		opts:    opts,
		tokens:  gemini.EstimateTokens(normalized),
		limited: true,
	})
	if err != nil {
		return nil, err
	}

	var out gemini.EmbedContentResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed embedContent response", err)
	}
	return &out, nil
}

// BatchEmbedContents embeds several contents in one call; one embedding
// per input, in order
func (c *Client) BatchEmbedContents(ctx context.Context, model string, contents []interface{}, opts *Options) (*gemini.BatchEmbedContentsResponse, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}

	if model == "" {
		model = c.models.Default(strategy, registry.UseCaseEmbedding)
	}
	resolvedModel := c.models.Resolve(model, strategy)

	reqs := make([]gemini.EmbedContentRequest, 0, len(contents))
	total := 0
	for i, content := range contents {
		normalized, err := gemini.NormalizeContents(content)
		if err != nil {
			return nil, geminierrors.NewValidationError(
				fmt.Sprintf("contents[%d]", i), "unsupported embedding input", err)
		}
		if len(normalized) != 1 {
			return nil, geminierrors.NewValidationError(
				fmt.Sprintf("contents[%d]", i), "each embedding input is one content", nil)
		}
		total += gemini.EstimateTokens(normalized)
		reqs = append(reqs, gemini.EmbedContentRequest{
			Model:   "models/" + resolvedModel,
			Content: normalized[0],
		})
	}

	resp, err := c.doUnary(ctx, strategy, unaryRequest{
		verb:    "batchEmbedContents",
		model:   resolvedModel,
		body:    &gemini.BatchEmbedContentsRequest{Requests: reqs},
		opts:    opts,
		tokens:  total,
		limited: true,
	})
	if err != nil {
		return nil, err
	}

	var out gemini.BatchEmbedContentsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed batchEmbedContents response", err)
	}
	return &out, nil
}

// ListModels returns one page of available models
func (c *Client) ListModels(ctx context.Context, pageSize int, pageToken string, opts *Options) (*gemini.ListModelsResponse, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	if pageSize > 0 {
		query.Set("pageSize", fmt.Sprintf("%d", pageSize))
	}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	var listURL string
	if strategy == auth.StrategyVertex {
		listURL = fmt.Sprintf("%s/%s/projects/%s/locations/%s/publishers/google/models",
			resolved.BaseURL, vertexAPIVersion, resolved.ProjectID, resolved.Location)
	} else {
		listURL = fmt.Sprintf("%s/%s/models", resolved.BaseURL, geminiAPIVersion)
	}

	resp, err := c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodGet,
		URL:     listURL,
		Headers: resolved.Headers,
		Query:   query,
	}, opts)
	if err != nil {
		return nil, err
	}

	var out gemini.ListModelsResponse
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed models listing", err)
	}
	return &out, nil
}

// GetModel returns one model's metadata
func (c *Client) GetModel(ctx context.Context, model string, opts *Options) (*gemini.Model, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodGet,
		URL:     modelPath(resolved, strategy, c.models.Resolve(model, strategy)),
		Headers: resolved.Headers,
	}, opts)
	if err != nil {
		return nil, err
	}

	var out gemini.Model
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed model resource", err)
	}
	return &out, nil
}

// unaryRequest is the internal descriptor for one model-verb request
type unaryRequest struct {
	verb    string
	model   string
	body    interface{}
	opts    *Options
	tokens  int
	limited bool
}

// doUnary resolves auth, applies the limiter, executes with retries and
// reconciles the reservation with the response's usage metadata
func (c *Client) doUnary(ctx context.Context, strategy auth.Strategy, req unaryRequest) (*httpx.Response, error) {
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	key := req.opts.ConcurrencyKey
	if key == "" {
		key = req.model
	}

	var reservation *ratelimit.Reservation
	if req.limited && !req.opts.DisableRateLimiter {
		reservation, err = c.limiter.Reserve(ctx, ratelimit.ReserveRequest{
			Key:              key,
			Tokens:           req.tokens,
			Budget:           req.opts.TokenBudgetPerWindow,
			MaxConcurrency:   req.opts.MaxConcurrencyPerModel,
			SafetyMultiplier: req.opts.BudgetSafetyMultiplier,
			NonBlocking:      req.opts.NonBlocking,
			PermitTimeout:    req.opts.PermitTimeout,
			MaxBudgetWait:    req.opts.MaxBudgetWait,
			Done:             ctx.Done(),
		})
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodPost,
		URL:     modelPath(resolved, strategy, req.model) + ":" + req.verb,
		Headers: resolved.Headers,
		Body:    req.body,
	}, req.opts)

	if reservation != nil {
		if err != nil {
			reservation.Release()
		} else {
			reservation.Commit(actualTokens(resp.Body, req.tokens))
		}
	}
	return resp, err
}

// actualTokens extracts the billable token count from usage metadata,
// falling back to the pre-flight estimate. Cached content tokens do not
// count against the local budget.
func actualTokens(body []byte, estimate int) int {
	var wire struct {
		UsageMetadata *gemini.UsageMetadata `json:"usageMetadata"`
		TotalTokens   int                   `json:"totalTokens"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return estimate
	}
	if wire.UsageMetadata != nil {
		actual := wire.UsageMetadata.TotalTokenCount - wire.UsageMetadata.CachedContentTokenCount
		if actual >= 0 {
			return actual
		}
	}
	if wire.TotalTokens > 0 {
		return wire.TotalTokens
	}
	return estimate
}

// doRaw executes one HTTP exchange under the coordinator retry policy:
// 429s honor RetryInfo and update the shared retry window; 5xx and
// transport failures back off exponentially; 401/403 invalidate the cached
// token and are retried with backoff; anything else is terminal.
func (c *Client) doRaw(ctx context.Context, strategy auth.Strategy, req httpx.Request, opts *Options) (*httpx.Response, error) {
	key := opts.ConcurrencyKey

	maxRetries := c.cfg.MaxRetries
	if opts.MaxRetries != nil {
		maxRetries = *opts.MaxRetries
	}
	maxBackoff := c.cfg.MaxBackoff
	if opts.MaxBackoff > 0 {
		maxBackoff = opts.MaxBackoff
	}

	retryCfg := retry.Config{
		MaxRetries:   maxRetries,
		BaseDelay:    c.cfg.BaseBackoff,
		MaxDelay:     maxBackoff,
		JitterFactor: c.cfg.JitterFactor,
		ShouldRetry:  c.retryable,
		DelayHint:    delayHint,
	}

	var out *httpx.Response
	attempt := func(ctx context.Context) error {
		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		resp, err := c.http.DoJSON(ctx, req)
		if err != nil {
			return err
		}
		if resp.IsSuccess() {
			out = resp
			return nil
		}

		httpErr := geminierrors.NewHTTPError(resp.StatusCode, resp.Body)
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			if !opts.DisableRateLimiter {
				limiterKey := key
				if limiterKey == "" {
					limiterKey = keyFromURL(req.URL)
				}
				c.limiter.RecordError(limiterKey, httpErr)
			}
			retryAt, ok := httpErr.RetryDelay()
			if !ok {
				retryAt = 60 * time.Second
			}
			return geminierrors.NewRateLimitError(nowPlus(retryAt), httpErr)

		case http.StatusUnauthorized, http.StatusForbidden:
			// Force a token refresh before the next attempt
			c.mux.Invalidate(strategy)
			return httpErr

		default:
			return httpErr
		}
	}

	if err := retry.Do(ctx, retryCfg, attempt); err != nil {
		return nil, unwrapRetry(err)
	}
	return out, nil
}

// retryable classifies errors for the coordinator retry policy
func (c *Client) retryable(err error) bool {
	var rle *geminierrors.RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var httpErr *geminierrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 ||
			httpErr.StatusCode == http.StatusUnauthorized ||
			httpErr.StatusCode == http.StatusForbidden
	}
	var transportErr *geminierrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr.Kind != "canceled"
	}
	return false
}

// delayHint extracts the server-mandated retry delay from 429 errors
func delayHint(err error) (d time.Duration, ok bool) {
	var rle *geminierrors.RateLimitError
	if errors.As(err, &rle) && !rle.RetryAt.IsZero() {
		if until := time.Until(rle.RetryAt); until > 0 {
			return until, true
		}
	}
	return 0, false
}

// unwrapRetry surfaces the typed error behind retry exhaustion wrapping
func unwrapRetry(err error) error {
	var rle *geminierrors.RateLimitError
	if errors.As(err, &rle) {
		return rle
	}
	var httpErr *geminierrors.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}
	var transportErr *geminierrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr
	}
	return err
}

// keyFromURL derives a limiter key from the model path when the caller
// supplied none
func keyFromURL(u string) string {
	if i := strings.LastIndex(u, "/models/"); i >= 0 {
		tail := u[i+len("/models/"):]
		if j := strings.IndexByte(tail, ':'); j >= 0 {
			tail = tail[:j]
		}
		return tail
	}
	return u
}

func nowPlus(d time.Duration) time.Time {
	return time.Now().Add(d)
}
