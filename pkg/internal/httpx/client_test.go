package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

func TestDoJSON_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["q"] != "hello" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := NewClient(Config{})
	resp, err := c.DoJSON(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Body:   map[string]string{"q": "hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", resp.Body)
	}
}

func TestDoJSON_Non2xxReturnedUntouched(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429}}`))
	}))
	defer server.Close()

	c := NewClient(Config{})
	resp, err := c.DoJSON(context.Background(), Request{Method: http.MethodGet, URL: server.URL})

	// The transport never classifies server errors
	if err != nil {
		t.Fatalf("non-2xx must not be an error at this layer: %v", err)
	}
	if resp.StatusCode != 429 {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if string(resp.Body) != `{"error":{"code":429}}` {
		t.Errorf("body must be untouched: %s", resp.Body)
	}
}

func TestDoJSON_TransportError(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	// Nothing listens here
	_, err := c.DoJSON(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !geminierrors.IsTransportError(err) {
		t.Errorf("expected TransportError, got %T", err)
	}
}

func TestDoJSON_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	c := NewClient(Config{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.DoJSON(ctx, Request{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatal("expected timeout")
	}
	if !geminierrors.IsTransportError(err) {
		t.Errorf("expected TransportError, got %T", err)
	}
}

func TestDoSSE_FeedsDataFrames(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("unexpected accept header: %q", accept)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("missing alt=sse query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": comment ignored\n\ndata: {\"n\":1}\n\ndata: {\"n\":2}\n\n"))
	}))
	defer server.Close()

	c := NewClient(Config{})
	var chunks []string
	resp, err := c.DoSSE(context.Background(), Request{
		Method: http.MethodPost,
		URL:    server.URL,
		Query:  url.Values{"alt": {"sse"}},
		Body:   map[string]string{},
	}, func(data []byte) error {
		chunks = append(chunks, string(data))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if len(chunks) != 2 || chunks[0] != `{"n":1}` || chunks[1] != `{"n":2}` {
		t.Errorf("unexpected chunks: %v", chunks)
	}
}

func TestDoSSE_Non2xxSkipsCallback(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":503}}`))
	}))
	defer server.Close()

	c := NewClient(Config{})
	called := false
	resp, err := c.DoSSE(context.Background(), Request{Method: http.MethodPost, URL: server.URL},
		func(data []byte) error {
			called = true
			return nil
		})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != 503 {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if called {
		t.Error("callback must not run for non-2xx responses")
	}
	if string(resp.Body) != `{"error":{"code":503}}` {
		t.Errorf("body must be preserved: %s", resp.Body)
	}
}

func TestDoUpload_ResumableProtocol(t *testing.T) {
	t.Parallel()

	var startSeen, uploadSeen bool
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/upload/start", func(w http.ResponseWriter, r *http.Request) {
		startSeen = true
		if r.Header.Get("X-Goog-Upload-Protocol") != "resumable" {
			t.Errorf("missing resumable protocol header")
		}
		if r.Header.Get("X-Goog-Upload-Command") != "start" {
			t.Errorf("missing start command")
		}
		w.Header().Set("X-Goog-Upload-URL", server.URL+"/upload/session")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/upload/session", func(w http.ResponseWriter, r *http.Request) {
		uploadSeen = true
		if r.Header.Get("X-Goog-Upload-Command") != "upload, finalize" {
			t.Errorf("missing finalize command")
		}
		_, _ = w.Write([]byte(`{"file":{"name":"files/x","uri":"https://example/files/x"}}`))
	})

	c := NewClient(Config{})
	resp, err := c.DoUpload(context.Background(), UploadRequest{
		URL:         server.URL + "/upload/start",
		Metadata:    map[string]interface{}{"file": map[string]string{"display_name": "d"}},
		Data:        []byte("payload"),
		ContentType: "text/plain",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resp.IsSuccess() {
		t.Errorf("unexpected status: %d", resp.StatusCode)
	}
	if !startSeen || !uploadSeen {
		t.Error("both protocol phases must run")
	}
}
