package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilders(t *testing.T) {
	t.Parallel()

	c := NewUserContent(NewPartFromText("hi"), NewPartFromBytes([]byte{1}, "image/png"))
	assert.Equal(t, RoleUser, c.Role)
	assert.Len(t, c.Parts, 2)

	m := NewModelContent(NewPartFromText("hello"))
	assert.Equal(t, RoleModel, m.Role)

	p := NewPartFromURI("files/x", "video/mp4").(FileDataPart)
	assert.Equal(t, "files/x", p.FileData.FileURI)

	fr := NewPartFromFunctionResponse("id1", "f", map[string]interface{}{"ok": true}).(FunctionResponsePart)
	assert.Equal(t, "id1", fr.FunctionResponse.ID)

	cfg := GenerationConfig{Temperature: Ptr(0.2), MaxOutputTokens: Ptr(100)}
	assert.Equal(t, 0.2, *cfg.Temperature)
	assert.Equal(t, 100, *cfg.MaxOutputTokens)
}
