package chat

import (
	"context"

	"github.com/digitallysavvy/go-gemini/pkg/client"
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	"github.com/digitallysavvy/go-gemini/pkg/stream"
	"github.com/digitallysavvy/go-gemini/pkg/tools"
)

// Chat binds a session to an orchestrator for the common case: create
// once, send strings, let the tool loop run.
type Chat struct {
	session      *Session
	orchestrator *Orchestrator
}

// Config tunes a chat
type Config struct {
	// Model for every turn; empty uses the coordinator's default
	Model string

	// SystemInstruction for the whole conversation
	SystemInstruction string

	// Registry supplies local function handlers; nil means no tools
	Registry *tools.Registry

	// TurnLimit bounds the tool loop per send (default: 10)
	TurnLimit int

	// Options merged into every coordinator call
	Options *client.Options
}

// New creates a chat over a coordinator
func New(gen Generator, cfg Config) *Chat {
	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewRegistry()
	}

	session := NewSession(cfg.Model)
	if cfg.SystemInstruction != "" {
		session.SystemInstruction = &gemini.Content{
			Parts: []gemini.Part{gemini.TextPart{Text: cfg.SystemInstruction}},
		}
	}

	orchestrator := NewOrchestrator(gen, registry)
	if cfg.TurnLimit > 0 {
		orchestrator.TurnLimit = cfg.TurnLimit
	}
	orchestrator.BaseOptions = cfg.Options

	return &Chat{session: session, orchestrator: orchestrator}
}

// Send adds a user text turn and runs the tool loop to a terminal
// response
func (c *Chat) Send(ctx context.Context, text string) (*gemini.GenerateContentResponse, error) {
	return c.orchestrator.Send(ctx, c.session, gemini.TextPart{Text: text})
}

// SendParts adds a user turn with arbitrary parts
func (c *Chat) SendParts(ctx context.Context, parts ...gemini.Part) (*gemini.GenerateContentResponse, error) {
	return c.orchestrator.Send(ctx, c.session, parts...)
}

// SendStream adds a user text turn and streams the terminal response
func (c *Chat) SendStream(ctx context.Context, text string) (<-chan stream.Event, error) {
	return c.orchestrator.SendStream(ctx, c.session, gemini.TextPart{Text: text})
}

// History returns the conversation so far
func (c *Chat) History() []gemini.Content {
	return c.session.History
}

// Session exposes the underlying session for advanced callers
func (c *Chat) Session() *Session {
	return c.session
}
