// Package httpx is the HTTP transport layer. It performs unary JSON
// requests, long-lived SSE requests and resumable uploads. It applies no
// retry policy and does not classify server errors: non-2xx responses are
// returned with status and body untouched, and only transport-level
// failures (DNS, TCP, TLS, timeout) are converted to TransportError.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/sse"
)

// DefaultHTTPClient is a shared HTTP client with sensible defaults
var DefaultHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client wraps an HTTP client for the transports the coordinator needs
type Client struct {
	client *http.Client
}

// Config contains configuration for the transport
type Config struct {
	// Timeout for unary requests (default: 120 seconds). Streaming
	// requests ignore it and rely on the request context.
	Timeout time.Duration

	// ConnectTimeout bounds connection establishment (default: 5 seconds)
	ConnectTimeout time.Duration

	// HTTPClient is the underlying client to use; when nil one is built
	// from the timeouts above
	HTTPClient *http.Client
}

// NewClient creates a new transport with the given config
func NewClient(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		if cfg.Timeout == 0 && cfg.ConnectTimeout == 0 {
			client = DefaultHTTPClient
		} else {
			connect := cfg.ConnectTimeout
			if connect == 0 {
				connect = 5 * time.Second
			}
			client = &http.Client{
				Timeout: cfg.Timeout,
				Transport: &http.Transport{
					DialContext:         (&net.Dialer{Timeout: connect}).DialContext,
					TLSHandshakeTimeout: connect,
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 10,
					IdleConnTimeout:     90 * time.Second,
				},
			}
		}
	}
	return &Client{client: client}
}

// Request describes one HTTP exchange
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   url.Values

	// Body is JSON-marshalled when non-nil
	Body interface{}
}

// Response is a completed HTTP exchange; Body is fully read
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// IsSuccess reports whether the status is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DoJSON performs a unary request and returns the response with the body
// fully read. Non-2xx responses are NOT an error at this layer.
func (c *Client) DoJSON(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(err)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}

// ChunkFunc receives the decoded payload of one SSE data frame
type ChunkFunc func(data []byte) error

// DoSSE performs a long-lived request and feeds each SSE data frame to
// chunkFn. Non-data lines are ignored. Returns the 2xx Response (without a
// body) and a nil error when the server closes the stream cleanly. A non-2xx
// status is returned as a Response with
// chunkFn never invoked.
func (c *Client) DoSSE(ctx context.Context, req Request, chunkFn ChunkFunc) (*Response, error) {
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Accept"] = "text/event-stream"

	httpReq, err := c.build(ctx, req)
	if err != nil {
		return nil, err
	}

	// Streaming must not be bounded by the unary timeout
	client := c.client
	if client.Timeout != 0 {
		clone := *client
		clone.Timeout = 0
		client = &clone
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		body, _ := io.ReadAll(httpResp.Body)
		return &Response{
			StatusCode: httpResp.StatusCode,
			Headers:    httpResp.Header,
			Body:       body,
		}, nil
	}

	parser := sse.NewParser(httpResp.Body)
	for {
		event, err := parser.Next()
		if err == io.EOF {
			return &Response{StatusCode: httpResp.StatusCode, Headers: httpResp.Header}, nil
		}
		if err != nil {
			return nil, classify(err)
		}
		if event.Data == "" {
			continue
		}
		if err := chunkFn([]byte(event.Data)); err != nil {
			return nil, err
		}
	}
}

// build constructs the underlying http.Request
func (c *Client) build(ctx context.Context, req Request) (*http.Request, error) {
	u := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if parsed, err := url.Parse(u); err == nil && parsed.RawQuery != "" {
			sep = "&"
		}
		u += sep + req.Query.Encode()
	}

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// classify maps a transport failure to a TransportError kind
func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return geminierrors.NewTransportError("timeout", err)
	case errors.Is(err, context.Canceled):
		return geminierrors.NewTransportError("canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return geminierrors.NewTransportError("timeout", err)
	}
	return geminierrors.NewTransportError("network", err)
}

// UploadRequest describes a resumable upload: a JSON metadata part followed
// by the raw bytes
type UploadRequest struct {
	// URL of the upload endpoint
	URL string

	// Headers applied to every request of the protocol
	Headers map[string]string

	// Metadata is the JSON metadata part
	Metadata interface{}

	// Data is the payload
	Data []byte

	// ContentType of the payload
	ContentType string
}

// DoUpload performs the resumable upload protocol: start the session with
// the metadata part, then upload and finalize the bytes against the
// session URL returned by the server.
func (c *Client) DoUpload(ctx context.Context, req UploadRequest) (*Response, error) {
	startReq := Request{
		Method: http.MethodPost,
		URL:    req.URL,
		Body:   req.Metadata,
		Headers: map[string]string{
			"X-Goog-Upload-Protocol":              "resumable",
			"X-Goog-Upload-Command":               "start",
			"X-Goog-Upload-Header-Content-Type":   req.ContentType,
			"X-Goog-Upload-Header-Content-Length": strconv.Itoa(len(req.Data)),
		},
	}
	for k, v := range req.Headers {
		startReq.Headers[k] = v
	}

	startResp, err := c.DoJSON(ctx, startReq)
	if err != nil {
		return nil, err
	}
	if !startResp.IsSuccess() {
		return startResp, nil
	}

	sessionURL := startResp.Headers.Get("X-Goog-Upload-URL")
	if sessionURL == "" {
		return nil, fmt.Errorf("upload start response missing session URL")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(req.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")
	httpReq.Header.Set("X-Goog-Upload-Offset", "0")
	httpReq.Header.Set("Content-Length", strconv.Itoa(len(req.Data)))

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classify(err)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
	}, nil
}
