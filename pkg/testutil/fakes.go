// Package testutil provides fake servers and response builders for
// testing against the provider wire protocol without a network.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	"github.com/digitallysavvy/go-gemini/pkg/internal/sse"
)

// TextResponse builds a single-candidate text response body
func TextResponse(text string) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role:  gemini.RoleModel,
				Parts: []gemini.Part{gemini.TextPart{Text: text}},
			},
			FinishReason: "STOP",
		}},
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:     10,
			CandidatesTokenCount: 5,
			TotalTokenCount:      15,
		},
	}
}

// FunctionCallResponse builds a response whose only part is a function
// call
func FunctionCallResponse(id, name string, args map[string]interface{}) *gemini.GenerateContentResponse {
	return &gemini.GenerateContentResponse{
		Candidates: []gemini.Candidate{{
			Content: gemini.Content{
				Role: gemini.RoleModel,
				Parts: []gemini.Part{gemini.FunctionCallPart{
					FunctionCall: gemini.FunctionCall{ID: id, Name: name, Args: args},
				}},
			},
		}},
	}
}

// ScriptedServer replays a fixed sequence of responses, one per request,
// and records the requests it saw
type ScriptedServer struct {
	*httptest.Server

	mu        sync.Mutex
	responses []scriptedResponse
	requests  []RecordedRequest
}

type scriptedResponse struct {
	status int
	body   interface{}
}

// RecordedRequest captures one request for assertions
type RecordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   []byte
}

// NewScriptedServer creates a server that fails with 500 once the script
// is exhausted
func NewScriptedServer() *ScriptedServer {
	s := &ScriptedServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Respond appends a response to the script
func (s *ScriptedServer) Respond(status int, body interface{}) *ScriptedServer {
	s.mu.Lock()
	s.responses = append(s.responses, scriptedResponse{status: status, body: body})
	s.mu.Unlock()
	return s
}

// RespondOK appends a 200 response
func (s *ScriptedServer) RespondOK(body interface{}) *ScriptedServer {
	return s.Respond(http.StatusOK, body)
}

// Requests returns the recorded requests so far
func (s *ScriptedServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *ScriptedServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   body,
	})
	var next scriptedResponse
	if len(s.responses) > 0 {
		next = s.responses[0]
		s.responses = s.responses[1:]
	} else {
		next = scriptedResponse{status: http.StatusInternalServerError, body: map[string]string{"error": "script exhausted"}}
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(next.status)
	_ = json.NewEncoder(w).Encode(next.body)
}

// RateLimitBody builds the canonical 429 payload with RetryInfo
func RateLimitBody(retryDelay string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    429,
			"message": "Resource has been exhausted",
			"status":  "RESOURCE_EXHAUSTED",
			"details": []map[string]interface{}{
				{
					"@type":      "type.googleapis.com/google.rpc.RetryInfo",
					"retryDelay": retryDelay,
				},
			},
		},
	}
}

// SSEServer streams the given response frames as SSE data events
func SSEServer(frames ...*gemini.GenerateContentResponse) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		writer := sse.NewWriter(w)
		for _, frame := range frames {
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = writer.WriteData(string(data))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
}
