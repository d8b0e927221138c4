package gemini

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// pngHeader is the PNG magic signature
var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0}

func TestNormalizeContents_String(t *testing.T) {
	t.Parallel()

	out, err := NormalizeContents("hello")
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, TextPart{Text: "hello"}, out[0].Parts[0])
}

func TestNormalizeContents_Parts(t *testing.T) {
	t.Parallel()

	out, err := NormalizeContents([]Part{
		TextPart{Text: "see"},
		InlineDataPart{InlineData: Blob{Data: pngHeader}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Parts, 2)

	// Missing MIME types are sniffed from magic bytes
	inline := out[0].Parts[1].(InlineDataPart)
	assert.Equal(t, "image/png", inline.InlineData.MIMEType)
}

func TestNormalizeContents_ContentList(t *testing.T) {
	t.Parallel()

	in := []Content{Text("one"), ModelText("two")}
	out, err := NormalizeContents(in)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, RoleModel, out[1].Role)
}

func TestNormalizeContents_ProviderNativeMap(t *testing.T) {
	t.Parallel()

	out, err := NormalizeContents(map[string]interface{}{
		"role": "user",
		"parts": []interface{}{
			map[string]interface{}{"text": "from a map"},
			map[string]interface{}{"inlineData": map[string]interface{}{"mimeType": "image/jpeg", "data": "AAECAw=="}},
		},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0].Parts, 2)
	assert.Equal(t, TextPart{Text: "from a map"}, out[0].Parts[0])
	assert.Equal(t, "image/jpeg", out[0].Parts[1].(InlineDataPart).InlineData.MIMEType)
}

func TestNormalizeContents_MixedList(t *testing.T) {
	t.Parallel()

	out, err := NormalizeContents([]interface{}{
		"plain string",
		Text("typed content"),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestNormalizeContents_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NormalizeContents(42)
	require.Error(t, err)
	assert.True(t, geminierrors.IsValidationError(err))

	_, err = NormalizeContents(nil)
	require.Error(t, err)
}

func TestNormalizeSystemInstruction(t *testing.T) {
	t.Parallel()

	sys, err := NormalizeSystemInstruction("be brief")
	require.NoError(t, err)
	require.NotNil(t, sys)
	assert.Equal(t, TextPart{Text: "be brief"}, sys.Parts[0])

	sys, err = NormalizeSystemInstruction(nil)
	require.NoError(t, err)
	assert.Nil(t, sys)

	_, err = NormalizeSystemInstruction(12.5)
	require.Error(t, err)
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()

	// ~4 characters per token
	contents := []Content{Text("aaaabbbbccccdddd")}
	assert.Equal(t, 4, EstimateTokens(contents))

	// Never below one
	assert.Equal(t, 1, EstimateTokens([]Content{Text("a")}))
}
