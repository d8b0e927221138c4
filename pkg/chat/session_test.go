package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
)

func callTurn(id, name string) gemini.Content {
	return gemini.Content{Role: gemini.RoleModel, Parts: []gemini.Part{
		gemini.FunctionCallPart{FunctionCall: gemini.FunctionCall{ID: id, Name: name}},
	}}
}

func responseTurn(id, name string) gemini.Content {
	return gemini.Content{Role: gemini.RoleUser, Parts: []gemini.Part{
		gemini.FunctionResponsePart{FunctionResponse: gemini.FunctionResponse{
			ID: id, Name: name, Response: map[string]interface{}{},
		}},
	}}
}

func TestSessionValidate_PairedCalls(t *testing.T) {
	t.Parallel()

	s := NewSession("m")
	s.AddTurn(gemini.Text("go"))
	s.AddTurn(callTurn("c1", "f"))
	s.AddTurn(responseTurn("c1", "f"))
	s.AddTurn(gemini.ModelText("done"))

	require.NoError(t, s.Validate())
}

func TestSessionValidate_UnansweredCall(t *testing.T) {
	t.Parallel()

	s := NewSession("m")
	s.AddTurn(gemini.Text("go"))
	s.AddTurn(callTurn("c1", "f"))
	s.AddTurn(gemini.ModelText("skipped the response"))

	assert.Error(t, s.Validate())
}

func TestSessionValidate_MismatchedIDs(t *testing.T) {
	t.Parallel()

	s := NewSession("m")
	s.AddTurn(callTurn("c1", "f"))
	s.AddTurn(responseTurn("other", "f2"))

	assert.Error(t, s.Validate())
}

func TestSessionValidate_TrailingCallAllowed(t *testing.T) {
	t.Parallel()

	// Calls awaiting responses at the tail are legal mid-conversation
	s := NewSession("m")
	s.AddTurn(gemini.Text("go"))
	s.AddTurn(callTurn("c1", "f"))

	require.NoError(t, s.Validate())
}

func TestSessionValidate_NamePairingWithoutIDs(t *testing.T) {
	t.Parallel()

	// Older API versions omit ids; pairing falls back to names
	s := NewSession("m")
	s.AddTurn(callTurn("", "lookup"))
	s.AddTurn(responseTurn("", "lookup"))
	s.AddTurn(gemini.ModelText("ok"))

	require.NoError(t, s.Validate())
}
