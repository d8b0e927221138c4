package gemini

import (
	"encoding/json"
	"fmt"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/media"
)

// NormalizeContents accepts the flexible union of caller input shapes and
// returns the canonical []Content form. Accepted shapes:
//
//   - string                        -> single user text turn
//   - Part / []Part                 -> single user turn with those parts
//   - Content / *Content / []Content -> as given
//   - map[string]interface{}        -> one provider-native content turn
//   - []interface{}                 -> mix of the above, one turn each
//
// Inline-data parts with an empty MIME type are sniffed from magic bytes.
// Anything else is a ValidationError; downstream code never sees the loose
// shapes.
func NormalizeContents(input interface{}) ([]Content, error) {
	switch v := input.(type) {
	case nil:
		return nil, geminierrors.NewValidationError("contents", "contents must not be nil", nil)
	case string:
		return []Content{Text(v)}, nil
	case Content:
		return []Content{sniffContent(v)}, nil
	case *Content:
		if v == nil {
			return nil, geminierrors.NewValidationError("contents", "contents must not be nil", nil)
		}
		return []Content{sniffContent(*v)}, nil
	case []Content:
		out := make([]Content, len(v))
		for i, c := range v {
			out[i] = sniffContent(c)
		}
		return out, nil
	case Part:
		return []Content{sniffContent(Content{Role: RoleUser, Parts: []Part{v}})}, nil
	case []Part:
		return []Content{sniffContent(Content{Role: RoleUser, Parts: v})}, nil
	case map[string]interface{}:
		c, err := contentFromMap(v)
		if err != nil {
			return nil, err
		}
		return []Content{sniffContent(c)}, nil
	case []interface{}:
		out := make([]Content, 0, len(v))
		for i, item := range v {
			cs, err := NormalizeContents(item)
			if err != nil {
				return nil, geminierrors.NewValidationError(
					fmt.Sprintf("contents[%d]", i), "unsupported content element", err)
			}
			out = append(out, cs...)
		}
		return out, nil
	case []string:
		out := make([]Content, len(v))
		for i, s := range v {
			out[i] = Text(s)
		}
		return out, nil
	default:
		return nil, geminierrors.NewValidationError("contents",
			fmt.Sprintf("unsupported content shape %T", input), nil)
	}
}

// NormalizeSystemInstruction accepts a string or Content system instruction
func NormalizeSystemInstruction(input interface{}) (*Content, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return &Content{Parts: []Part{TextPart{Text: v}}}, nil
	case Content:
		return &v, nil
	case *Content:
		return v, nil
	default:
		return nil, geminierrors.NewValidationError("system_instruction",
			fmt.Sprintf("unsupported system instruction shape %T", input), nil)
	}
}

// contentFromMap decodes one provider-native content turn. Round-tripping
// through JSON reuses the wire-format part decoding.
func contentFromMap(m map[string]interface{}) (Content, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Content{}, geminierrors.NewValidationError("contents", "unencodable content map", err)
	}
	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return Content{}, geminierrors.NewValidationError("contents", "malformed content map", err)
	}
	if len(c.Parts) == 0 {
		return Content{}, geminierrors.NewValidationError("contents", "content map has no parts", nil)
	}
	return c, nil
}

// sniffContent fills missing inline-data MIME types from magic bytes
func sniffContent(c Content) Content {
	for i, p := range c.Parts {
		inline, ok := p.(InlineDataPart)
		if !ok || inline.InlineData.MIMEType != "" {
			continue
		}
		mime := media.DetectImageMIME(inline.InlineData.Data)
		if mime == "" {
			mime = "application/octet-stream"
		}
		inline.InlineData.MIMEType = mime
		c.Parts[i] = inline
	}
	if c.Role == "" {
		c.Role = RoleUser
	}
	return c
}

// EstimateTokens coarsely estimates the input token count of contents at
// ~4 characters per token. Used only for pre-flight budget reservation.
func EstimateTokens(contents []Content) int {
	chars := 0
	for _, c := range contents {
		for _, p := range c.Parts {
			switch v := p.(type) {
			case TextPart:
				chars += len(v.Text)
			case InlineDataPart:
				// Media is charged differently server-side; count the
				// raw payload bytes coarsely
				chars += len(v.InlineData.Data)
			case FunctionCallPart:
				chars += len(v.FunctionCall.Name) + 64
			case FunctionResponsePart:
				chars += len(v.FunctionResponse.Name) + 64
			}
		}
	}
	est := chars / 4
	if est < 1 {
		est = 1
	}
	return est
}
