package chat

import (
	"context"
	"encoding/json"

	"github.com/digitallysavvy/go-gemini/pkg/client"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/stream"
	"github.com/digitallysavvy/go-gemini/pkg/tools"
)

// DefaultTurnLimit bounds the tool-calling loop
const DefaultTurnLimit = 10

// Generator is the unary coordinator surface the orchestrator drives.
// *client.Client implements it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents interface{}, opts *client.Options) (*gemini.GenerateContentResponse, error)
}

// StreamGenerator is the streaming coordinator surface. *client.Client
// implements it.
type StreamGenerator interface {
	StreamGenerateContent(ctx context.Context, model string, contents interface{}, opts *client.Options) (*client.StreamHandle, error)
}

// Orchestrator runs the multi-turn tool-calling loop over a session
type Orchestrator struct {
	gen      Generator
	streamer StreamGenerator
	registry *tools.Registry

	// TurnLimit bounds model round-trips per Send (default: 10)
	TurnLimit int

	// ExecOptions tunes tool execution
	ExecOptions tools.ExecOptions

	// BaseOptions are merged into every coordinator call
	BaseOptions *client.Options
}

// NewOrchestrator builds an orchestrator over a coordinator and a tool
// registry. The gen value should also implement StreamGenerator for
// SendStream to work.
func NewOrchestrator(gen Generator, registry *tools.Registry) *Orchestrator {
	o := &Orchestrator{
		gen:       gen,
		registry:  registry,
		TurnLimit: DefaultTurnLimit,
	}
	if s, ok := gen.(StreamGenerator); ok {
		o.streamer = s
	}
	return o
}

// Send appends the user parts to the session, then loops: generate,
// execute any function calls, inject their results, and repeat until the
// model returns a terminal response. The session history always satisfies
// the call/response pairing invariant when Send returns.
func (o *Orchestrator) Send(ctx context.Context, session *Session, parts ...gemini.Part) (*gemini.GenerateContentResponse, error) {
	if len(parts) > 0 {
		session.AddTurn(gemini.Content{Role: gemini.RoleUser, Parts: parts})
	}

	limit := o.TurnLimit
	if limit <= 0 {
		limit = DefaultTurnLimit
	}

	// The recursive flow through the coordinator is a straight loop
	for turn := 0; turn < limit; turn++ {
		resp, err := o.gen.GenerateContent(ctx, session.Model, session.History, o.callOptions(session))
		if err != nil {
			return nil, err
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			if len(resp.Candidates) > 0 {
				content := resp.Candidates[0].Content
				content.Role = gemini.RoleModel
				session.AddTurn(content)
			}
			return resp, nil
		}

		// Record the model's call turn, then answer every call before
		// the next model turn
		callParts := make([]gemini.Part, len(calls))
		for i, call := range calls {
			callParts[i] = gemini.FunctionCallPart{FunctionCall: call}
		}
		session.AddTurn(gemini.Content{Role: gemini.RoleModel, Parts: callParts})

		results := o.registry.ExecuteCalls(ctx, calls, o.ExecOptions)
		responseParts := make([]gemini.Part, len(results))
		for i, res := range results {
			responseParts[i] = gemini.FunctionResponsePart{FunctionResponse: res.Response}
		}
		session.AddTurn(gemini.Content{Role: gemini.RoleUser, Parts: responseParts})
	}

	return nil, &geminierrors.TurnLimitError{Limit: limit}
}

// callOptions merges the session's tool set into the base options
func (o *Orchestrator) callOptions(session *Session) *client.Options {
	var opts client.Options
	if o.BaseOptions != nil {
		opts = *o.BaseOptions
	}
	opts.Tools = append([]gemini.Tool{}, session.Tools...)
	if decls := o.registry.Declarations(); len(decls) > 0 {
		opts.Tools = append(opts.Tools, gemini.Tool{FunctionDeclarations: decls})
	}
	if session.SystemInstruction != nil && opts.SystemInstruction == nil {
		opts.SystemInstruction = session.SystemInstruction
	}
	return &opts
}

// SendStream is the streaming variant. It buffers the first stream until
// either a function call appears or the stream completes. Without calls,
// the buffered chunks are proxied to the returned channel unchanged; with
// calls, the tools run, the history is extended, and a second stream with
// the updated history is proxied instead. Upstream errors terminate the
// output with the same error.
func (o *Orchestrator) SendStream(ctx context.Context, session *Session, parts ...gemini.Part) (<-chan stream.Event, error) {
	if o.streamer == nil {
		return nil, geminierrors.NewValidationError("generator", "coordinator does not support streaming", nil)
	}
	if len(parts) > 0 {
		session.AddTurn(gemini.Content{Role: gemini.RoleUser, Parts: parts})
	}

	first, err := o.streamer.StreamGenerateContent(ctx, session.Model, session.History, o.callOptions(session))
	if err != nil {
		return nil, err
	}

	out := make(chan stream.Event, 16)
	go o.pumpStream(ctx, session, first, out)
	return out, nil
}

// pumpStream drives the phase machine behind SendStream
func (o *Orchestrator) pumpStream(ctx context.Context, session *Session, first *client.StreamHandle, out chan<- stream.Event) {
	defer close(out)

	// AwaitingModelCall: buffer and inspect the first stream
	var buffered []stream.Event
	var calls []gemini.FunctionCall

	for ev := range first.Events {
		switch ev.Type {
		case stream.EventChunk:
			var chunk gemini.GenerateContentResponse
			if err := json.Unmarshal(ev.Data, &chunk); err == nil {
				if chunkCalls := chunk.FunctionCalls(); len(chunkCalls) > 0 {
					calls = append(calls, chunkCalls...)
					continue
				}
			}
			buffered = append(buffered, ev)

		case stream.EventError:
			// Mid-phase upstream errors terminate the external stream
			// with the same error
			out <- ev
			return

		case stream.EventComplete:
			if len(calls) == 0 {
				// No function calls: proxy the buffered chunks directly
				for _, b := range buffered {
					out <- b
				}
				out <- ev
				return
			}
		}
		if len(calls) > 0 {
			break
		}
	}

	if len(calls) == 0 {
		// Stream ended without completion or calls
		out <- stream.Event{Type: stream.EventError,
			Err: geminierrors.NewStreamError("upstream_closed", 0, nil)}
		return
	}

	// ExecutingTools: stop the first stream cleanly and run the registry
	first.Stop()

	callParts := make([]gemini.Part, len(calls))
	for i, call := range calls {
		callParts[i] = gemini.FunctionCallPart{FunctionCall: call}
	}
	session.AddTurn(gemini.Content{Role: gemini.RoleModel, Parts: callParts})

	results := o.registry.ExecuteCalls(ctx, calls, o.ExecOptions)
	responseParts := make([]gemini.Part, len(results))
	for i, res := range results {
		responseParts[i] = gemini.FunctionResponsePart{FunctionResponse: res.Response}
	}
	session.AddTurn(gemini.Content{Role: gemini.RoleUser, Parts: responseParts})

	// AwaitingFinalResponse: proxy the second stream unchanged
	second, err := o.streamer.StreamGenerateContent(ctx, session.Model, session.History, o.callOptions(session))
	if err != nil {
		out <- stream.Event{Type: stream.EventError, Err: err}
		return
	}
	for ev := range second.Events {
		out <- ev
	}
}
