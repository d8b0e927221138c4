// Package chat provides in-memory conversation sessions and the
// tool-calling orchestrator that drives them: a multi-turn loop that
// executes local function calls until the model returns a terminal text
// response, with a streaming variant that proxies chunks to the caller.
package chat

import (
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// Session is an in-memory conversation. It is a value object owned by the
// caller; the library keeps no session state elsewhere.
type Session struct {
	// Model used for every turn of this session
	Model string

	// History is the ordered list of turns
	History []gemini.Content

	// SystemInstruction for the whole session
	SystemInstruction *gemini.Content

	// Tools available to the model
	Tools []gemini.Tool
}

// NewSession creates an empty session for a model
func NewSession(model string) *Session {
	return &Session{Model: model}
}

// AddTurn appends a turn to the history
func (s *Session) AddTurn(turn gemini.Content) {
	s.History = append(s.History, turn)
}

// Validate checks the tool-calling invariant: every model turn containing
// function calls must be followed by a user turn answering exactly those
// call ids before any later model turn.
func (s *Session) Validate() error {
	for i, turn := range s.History {
		if turn.Role != gemini.RoleModel {
			continue
		}
		pending := map[string]bool{}
		for _, p := range turn.Parts {
			if fc, ok := p.(gemini.FunctionCallPart); ok {
				pending[callKey(fc.FunctionCall.ID, fc.FunctionCall.Name)] = true
			}
		}
		if len(pending) == 0 {
			continue
		}
		if i+1 >= len(s.History) {
			// Calls at the tail are awaiting their responses
			continue
		}
		next := s.History[i+1]
		if next.Role != gemini.RoleUser {
			return geminierrors.NewValidationError("history",
				"model function calls must be followed by a user turn", nil)
		}
		for _, p := range next.Parts {
			if fr, ok := p.(gemini.FunctionResponsePart); ok {
				delete(pending, callKey(fr.FunctionResponse.ID, fr.FunctionResponse.Name))
			}
		}
		if len(pending) > 0 {
			return geminierrors.NewValidationError("history",
				"unanswered function calls before the next model turn", nil)
		}
	}
	return nil
}

// callKey matches calls to responses by id when present, by name otherwise
// (older API versions omit ids)
func callKey(id, name string) string {
	if id != "" {
		return id
	}
	return name
}
