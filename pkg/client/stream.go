package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/httpx"
	"github.com/digitallysavvy/go-gemini/pkg/ratelimit"
	"github.com/digitallysavvy/go-gemini/pkg/stream"
)

// StreamHandle is a started SSE stream plus one subscription to it
type StreamHandle struct {
	// ID of the underlying stream; other subscribers can attach via
	// Manager
	ID string

	// Events delivers chunks in upstream order; closed after a terminal
	// event
	Events <-chan stream.Event

	sub *stream.Subscription
	c   *Client
}

// Stop cancels the upstream request and releases the stream's permit
func (h *StreamHandle) Stop() {
	if h.c != nil {
		h.c.streams.Stop(h.ID)
	}
	if h.sub != nil {
		h.sub.Cancel()
	}
}

// Status reports the stream's lifecycle state
func (h *StreamHandle) Status() (stream.State, error) {
	if h.c == nil {
		return "", geminierrors.NewStreamError("unknown_stream", 0, nil)
	}
	return h.c.streams.Status(h.ID)
}

// Streams exposes the stream manager for additional subscribers
func (c *Client) Streams() *stream.Manager { return c.streams }

// StreamGenerateContent starts a streaming generation. The stream worker
// holds the rate-limit permit for the stream's whole lifetime; the caller
// consumes chunks from the returned handle.
func (c *Client) StreamGenerateContent(ctx context.Context, model string, contents interface{}, opts *Options) (*StreamHandle, error) {
	opts = opts.orDefault()

	body, strategy, resolvedModel, est, err := c.prepareGenerate(model, contents, opts)
	if err != nil {
		return nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	key := opts.ConcurrencyKey
	if key == "" {
		key = resolvedModel
	}

	id, err := c.streams.Start(ctx, stream.Descriptor{
		Request: httpx.Request{
			Method:  http.MethodPost,
			URL:     modelPath(resolved, strategy, resolvedModel) + ":streamGenerateContent",
			Headers: resolved.Headers,
			Query:   url.Values{"alt": {"sse"}},
			Body:    body,
		},
		Reserve: ratelimit.ReserveRequest{
			Key:              key,
			Tokens:           est,
			Budget:           opts.TokenBudgetPerWindow,
			MaxConcurrency:   opts.MaxConcurrencyPerModel,
			SafetyMultiplier: opts.BudgetSafetyMultiplier,
			NonBlocking:      opts.NonBlocking,
			PermitTimeout:    opts.PermitTimeout,
			MaxBudgetWait:    opts.MaxBudgetWait,
		},
	})
	if err != nil {
		return nil, err
	}

	sub, err := c.streams.Subscribe(id)
	if err != nil {
		return nil, err
	}
	return &StreamHandle{ID: id, Events: sub.C, sub: sub, c: c}, nil
}

// CollectStream drains a handle into a single response: text parts are
// concatenated and the last usage metadata wins. Convenience for callers
// that want streaming latency with a unary result shape.
func CollectStream(h *StreamHandle) (*gemini.GenerateContentResponse, error) {
	var parts []gemini.Part
	var usage *gemini.UsageMetadata
	finishReason := ""

	for ev := range h.Events {
		switch ev.Type {
		case stream.EventChunk:
			var chunk gemini.GenerateContentResponse
			if err := json.Unmarshal(ev.Data, &chunk); err != nil {
				continue
			}
			if len(chunk.Candidates) > 0 {
				parts = append(parts, chunk.Candidates[0].Content.Parts...)
				if fr := chunk.Candidates[0].FinishReason; fr != "" {
					finishReason = fr
				}
			}
			if chunk.UsageMetadata != nil {
				usage = chunk.UsageMetadata
			}
		case stream.EventError:
			return nil, ev.Err
		case stream.EventComplete:
			return &gemini.GenerateContentResponse{
				Candidates: []gemini.Candidate{{
					Content:      gemini.Content{Role: gemini.RoleModel, Parts: parts},
					FinishReason: finishReason,
				}},
				UsageMetadata: usage,
			}, nil
		}
	}
	return nil, nil
}
