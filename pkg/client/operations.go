package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/digitallysavvy/go-gemini/pkg/auth"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/httpx"
	"github.com/digitallysavvy/go-gemini/pkg/internal/polling"
)

// PollOptions re-exports the poller knobs
type PollOptions = polling.Options

// operationURL builds the resource URL for an operation name
func (c *Client) operationURL(ctx context.Context, opts *Options, name string) (string, map[string]string, error) {
	strategy, err := c.strategy(opts)
	if err != nil {
		return "", nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return "", nil, err
	}

	version := geminiAPIVersion
	if strategy == auth.StrategyVertex {
		version = vertexAPIVersion
	}
	return resolved.BaseURL + "/" + version + "/" + strings.TrimPrefix(name, "/"), resolved.Headers, nil
}

// StartOperation submits a long-running request to a model verb and
// returns the initial (usually not-done) operation resource
func (c *Client) StartOperation(ctx context.Context, model, verb string, body interface{}, opts *Options) (*gemini.Operation, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.doUnary(ctx, strategy, unaryRequest{
		verb:    verb,
		model:   c.models.Resolve(model, strategy),
		body:    body,
		opts:    opts,
		limited: true,
	})
	if err != nil {
		return nil, err
	}
	return parseOperation(resp.Body)
}

// GetOperation fetches the current state of an operation
func (c *Client) GetOperation(ctx context.Context, name string, opts *Options) (*gemini.Operation, error) {
	opts = opts.orDefault()
	u, headers, err := c.operationURL(ctx, opts, name)
	if err != nil {
		return nil, err
	}
	strategy, _ := c.strategy(opts)

	resp, err := c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodGet,
		URL:     u,
		Headers: headers,
	}, opts)
	if err != nil {
		return nil, err
	}
	return parseOperation(resp.Body)
}

// WaitOperation polls an operation until it is done, honoring the
// progress callback and cancellation via ctx
func (c *Client) WaitOperation(ctx context.Context, name string, pollOpts PollOptions, opts *Options) (*gemini.Operation, error) {
	return polling.WaitForDone(ctx, func(ctx context.Context) (*gemini.Operation, error) {
		return c.GetOperation(ctx, name, opts)
	}, pollOpts)
}

// CancelOperation requests best-effort cancellation; the operation may
// still complete
func (c *Client) CancelOperation(ctx context.Context, name string, opts *Options) error {
	opts = opts.orDefault()
	u, headers, err := c.operationURL(ctx, opts, name)
	if err != nil {
		return err
	}
	strategy, _ := c.strategy(opts)

	_, err = c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodPost,
		URL:     u + ":cancel",
		Headers: headers,
		Body:    struct{}{},
	}, opts)
	return err
}

// DeleteOperation removes a finished operation resource
func (c *Client) DeleteOperation(ctx context.Context, name string, opts *Options) error {
	opts = opts.orDefault()
	u, headers, err := c.operationURL(ctx, opts, name)
	if err != nil {
		return err
	}
	strategy, _ := c.strategy(opts)

	_, err = c.doRaw(ctx, strategy, httpx.Request{
		Method:  http.MethodDelete,
		URL:     u,
		Headers: headers,
	}, opts)
	return err
}

// parseOperation decodes and sanity-checks an operation resource
func parseOperation(body []byte) (*gemini.Operation, error) {
	var op gemini.Operation
	if err := json.Unmarshal(body, &op); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed operation resource", err)
	}
	if op.Name == "" {
		return nil, geminierrors.NewValidationError("response", "operation resource missing name", nil)
	}
	return &op, nil
}

// FileInfo is the resource returned by a completed upload
type FileInfo struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType"`
	State    string `json:"state,omitempty"`
}

// UploadFile uploads raw bytes through the resumable protocol and returns
// the created file resource
func (c *Client) UploadFile(ctx context.Context, data []byte, mimeType, displayName string, opts *Options) (*FileInfo, error) {
	opts = opts.orDefault()
	strategy, err := c.strategy(opts)
	if err != nil {
		return nil, err
	}
	resolved, err := c.mux.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.DoUpload(ctx, httpx.UploadRequest{
		URL:     resolved.BaseURL + "/upload/" + geminiAPIVersion + "/files",
		Headers: resolved.Headers,
		Metadata: map[string]interface{}{
			"file": map[string]interface{}{"display_name": displayName},
		},
		Data:        data,
		ContentType: mimeType,
	})
	if err != nil {
		return nil, err
	}
	if !resp.IsSuccess() {
		return nil, geminierrors.NewHTTPError(resp.StatusCode, resp.Body)
	}

	var wire struct {
		File FileInfo `json:"file"`
	}
	if err := json.Unmarshal(resp.Body, &wire); err != nil {
		return nil, geminierrors.NewValidationError("response", "malformed file resource", err)
	}
	return &wire.File, nil
}
