package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-gemini/pkg/client"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/stream"
	"github.com/digitallysavvy/go-gemini/pkg/testutil"
	"github.com/digitallysavvy/go-gemini/pkg/tools"
)

// fakeCoordinator scripts unary responses and streams
type fakeCoordinator struct {
	mu        sync.Mutex
	responses []*gemini.GenerateContentResponse
	streams   [][]stream.Event
	histories [][]gemini.Content
}

func (f *fakeCoordinator) GenerateContent(ctx context.Context, model string, contents interface{}, opts *client.Options) (*gemini.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if history, ok := contents.([]gemini.Content); ok {
		f.histories = append(f.histories, append([]gemini.Content(nil), history...))
	}
	if len(f.responses) == 0 {
		return nil, geminierrors.NewValidationError("script", "unary script exhausted", nil)
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp, nil
}

func (f *fakeCoordinator) StreamGenerateContent(ctx context.Context, model string, contents interface{}, opts *client.Options) (*client.StreamHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if history, ok := contents.([]gemini.Content); ok {
		f.histories = append(f.histories, append([]gemini.Content(nil), history...))
	}
	if len(f.streams) == 0 {
		return nil, geminierrors.NewValidationError("script", "stream script exhausted", nil)
	}
	events := f.streams[0]
	f.streams = f.streams[1:]

	ch := make(chan stream.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return &client.StreamHandle{Events: ch}, nil
}

func chunkEvent(t *testing.T, resp *gemini.GenerateContentResponse) stream.Event {
	t.Helper()
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	return stream.Event{Type: stream.EventChunk, Data: data}
}

func timeRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(gemini.FunctionDeclaration{Name: "get_time"}, func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"now": "T"}, nil
	})
	require.NoError(t, err)
	return r
}

func TestSend_ToolCallingLoop(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{responses: []*gemini.GenerateContentResponse{
		testutil.FunctionCallResponse("call-1", "get_time", map[string]interface{}{}),
		testutil.TextResponse("It is T"),
	}}

	o := NewOrchestrator(gen, timeRegistry(t))
	session := NewSession("test-model")

	resp, err := o.Send(context.Background(), session, gemini.TextPart{Text: "What time is it?"})
	require.NoError(t, err)
	assert.Equal(t, "It is T", resp.Text())

	// History: user, model(call), user(response), model(text)
	require.Len(t, session.History, 4)
	assert.Equal(t, gemini.RoleUser, session.History[0].Role)
	assert.Equal(t, gemini.RoleModel, session.History[1].Role)
	assert.Equal(t, gemini.RoleUser, session.History[2].Role)
	assert.Equal(t, gemini.RoleModel, session.History[3].Role)

	call, ok := session.History[1].Parts[0].(gemini.FunctionCallPart)
	require.True(t, ok)
	assert.Equal(t, "get_time", call.FunctionCall.Name)

	response, ok := session.History[2].Parts[0].(gemini.FunctionResponsePart)
	require.True(t, ok)
	assert.Equal(t, "call-1", response.FunctionResponse.ID)
	assert.Equal(t, "T", response.FunctionResponse.Response["now"])

	require.NoError(t, session.Validate())
}

func TestSend_NoToolsTerminatesImmediately(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{responses: []*gemini.GenerateContentResponse{
		testutil.TextResponse("plain answer"),
	}}
	o := NewOrchestrator(gen, tools.NewRegistry())
	session := NewSession("test-model")

	resp, err := o.Send(context.Background(), session, gemini.TextPart{Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "plain answer", resp.Text())
	require.Len(t, session.History, 2)
}

func TestSend_TurnLimitExceeded(t *testing.T) {
	t.Parallel()

	// The model asks for a tool on every turn, forever
	responses := make([]*gemini.GenerateContentResponse, 12)
	for i := range responses {
		responses[i] = testutil.FunctionCallResponse("c", "get_time", map[string]interface{}{})
	}
	gen := &fakeCoordinator{responses: responses}

	o := NewOrchestrator(gen, timeRegistry(t))
	o.TurnLimit = 3
	session := NewSession("test-model")

	_, err := o.Send(context.Background(), session, gemini.TextPart{Text: "loop"})
	require.Error(t, err)
	assert.True(t, geminierrors.IsTurnLimitError(err))
	require.NoError(t, session.Validate(), "history stays paired even on turn-limit failure")
}

func TestSend_ToolErrorFedBackToModel(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{responses: []*gemini.GenerateContentResponse{
		testutil.FunctionCallResponse("c1", "missing_tool", map[string]interface{}{}),
		testutil.TextResponse("I could not find that tool"),
	}}
	o := NewOrchestrator(gen, tools.NewRegistry())
	session := NewSession("test-model")

	resp, err := o.Send(context.Background(), session, gemini.TextPart{Text: "go"})
	require.NoError(t, err, "a single tool error must not abort the loop")
	assert.Contains(t, resp.Text(), "could not find")

	response := session.History[2].Parts[0].(gemini.FunctionResponsePart)
	assert.Equal(t, true, response.FunctionResponse.Response["is_error"])
}

func TestSendStream_ProxiesWithoutToolCalls(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{streams: [][]stream.Event{{
		chunkEvent(t, testutil.TextResponse("Hel")),
		chunkEvent(t, testutil.TextResponse("lo")),
		{Type: stream.EventComplete},
	}}}
	o := NewOrchestrator(gen, tools.NewRegistry())
	session := NewSession("test-model")

	out, err := o.SendStream(context.Background(), session, gemini.TextPart{Text: "hi"})
	require.NoError(t, err)

	var events []stream.Event
	for ev := range out {
		events = append(events, ev)
	}
	require.Len(t, events, 3)
	assert.Equal(t, stream.EventChunk, events[0].Type)
	assert.Contains(t, string(events[0].Data), "Hel")
	assert.Equal(t, stream.EventComplete, events[2].Type)
}

func TestSendStream_ExecutesToolsThenProxiesSecondStream(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{streams: [][]stream.Event{
		{
			chunkEvent(t, testutil.FunctionCallResponse("call-1", "get_time", map[string]interface{}{})),
			{Type: stream.EventComplete},
		},
		{
			chunkEvent(t, testutil.TextResponse("It is T")),
			{Type: stream.EventComplete},
		},
	}}
	o := NewOrchestrator(gen, timeRegistry(t))
	session := NewSession("test-model")

	out, err := o.SendStream(context.Background(), session, gemini.TextPart{Text: "time?"})
	require.NoError(t, err)

	var events []stream.Event
	for ev := range out {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	assert.Contains(t, string(events[0].Data), "It is T")
	assert.Equal(t, stream.EventComplete, events[1].Type)

	// History gained the call and response turns between the streams
	require.Len(t, session.History, 3)
	require.NoError(t, session.Validate())
}

func TestSendStream_UpstreamErrorTerminates(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{streams: [][]stream.Event{{
		chunkEvent(t, testutil.TextResponse("partial")),
		{Type: stream.EventError, Err: geminierrors.NewStreamError("upstream_closed", 1, nil)},
	}}}
	o := NewOrchestrator(gen, tools.NewRegistry())
	session := NewSession("test-model")

	out, err := o.SendStream(context.Background(), session, gemini.TextPart{Text: "hi"})
	require.NoError(t, err)

	var last stream.Event
	for ev := range out {
		last = ev
	}
	assert.Equal(t, stream.EventError, last.Type)
	assert.True(t, geminierrors.IsStreamError(last.Err))
}
