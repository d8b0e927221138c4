package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	"github.com/digitallysavvy/go-gemini/pkg/testutil"
)

func TestChat_MultiTurnPreservesHistory(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{responses: []*gemini.GenerateContentResponse{
		testutil.TextResponse("first answer"),
		testutil.TextResponse("second answer"),
	}}

	c := New(gen, Config{Model: "m", SystemInstruction: "Be helpful."})

	resp, err := c.Send(context.Background(), "question one")
	require.NoError(t, err)
	assert.Equal(t, "first answer", resp.Text())

	resp, err = c.Send(context.Background(), "question two")
	require.NoError(t, err)
	assert.Equal(t, "second answer", resp.Text())

	// user, model, user, model — turn count and roles preserved
	history := c.History()
	require.Len(t, history, 4)
	assert.Equal(t, gemini.RoleUser, history[0].Role)
	assert.Equal(t, gemini.RoleModel, history[1].Role)
	assert.Equal(t, gemini.RoleUser, history[2].Role)
	assert.Equal(t, gemini.RoleModel, history[3].Role)

	// The second call saw the full prior history
	require.Len(t, gen.histories, 2)
	assert.Len(t, gen.histories[1], 3)

	// System instruction is attached to the session, not the history
	require.NotNil(t, c.Session().SystemInstruction)
	assert.Equal(t, gemini.TextPart{Text: "Be helpful."}, c.Session().SystemInstruction.Parts[0])
}

func TestChat_WithTools(t *testing.T) {
	t.Parallel()

	gen := &fakeCoordinator{responses: []*gemini.GenerateContentResponse{
		testutil.FunctionCallResponse("c1", "get_time", map[string]interface{}{}),
		testutil.TextResponse("It is T"),
	}}

	c := New(gen, Config{Model: "m", Registry: timeRegistry(t)})

	resp, err := c.Send(context.Background(), "time?")
	require.NoError(t, err)
	assert.Equal(t, "It is T", resp.Text())
	require.NoError(t, c.Session().Validate())
}
