package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
	"github.com/digitallysavvy/go-gemini/pkg/live"
)

const (
	// geminiLivePath is the BidiGenerateContent endpoint for API-key auth
	geminiLivePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// vertexLivePath is the BidiGenerateContent endpoint for OAuth auth
	vertexLivePath = "/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"
)

// ConnectLive opens a Live session for a model. The setup's Model field is
// filled with the strategy-appropriate resource name when unqualified, and
// the URL and auth headers are derived from the resolved strategy.
func (c *Client) ConnectLive(ctx context.Context, model string, setup live.Setup, callbacks live.Callbacks, opts *Options) (*live.Session, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	resolvedModel := c.models.Resolve(model, strategy)
	if setup.Model == "" || !strings.Contains(setup.Model, "/") {
		setup.Model = liveModelName(resolved, strategy, resolvedModel)
	}

	wsURL, headers := liveEndpoint(resolved, strategy)
	return live.Connect(ctx, live.SessionConfig{
		URL:              wsURL,
		Headers:          headers,
		Setup:            setup,
		Callbacks:        callbacks,
		HandshakeTimeout: c.cfg.ConnectTimeout,
	})
}

// liveModelName qualifies a bare model id for the Live setup frame
func liveModelName(resolved auth.Resolved, strategy auth.Strategy, model string) string {
	if strategy == auth.StrategyVertex {
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s",
			resolved.ProjectID, resolved.Location, model)
	}
	return "models/" + model
}

// liveEndpoint derives the WebSocket URL and handshake headers for a
// strategy
func liveEndpoint(resolved auth.Resolved, strategy auth.Strategy) (string, http.Header) {
	host := strings.TrimPrefix(resolved.BaseURL, "https://")
	headers := http.Header{}

	if strategy == auth.StrategyVertex {
		for k, v := range resolved.Headers {
			headers.Set(k, v)
		}
		return "wss://" + host + vertexLivePath, headers
	}

	// API-key auth rides on the query string
	return "wss://" + host + geminiLivePath + "?key=" + resolved.Headers["x-goog-api-key"], headers
}
