// Package gemini defines the domain value types exchanged with the
// generative platform: content turns, parts, generation configuration,
// responses, models and long-running operations. All types marshal to the
// provider wire format.
package gemini

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a content turn
type Role string

const (
	// RoleUser represents caller input
	RoleUser Role = "user"

	// RoleModel represents model output
	RoleModel Role = "model"
)

// Content is a single conversation turn: a role plus an ordered list of parts
type Content struct {
	// Role of the turn author ("user" or "model")
	Role Role `json:"role,omitempty"`

	// Parts of the turn, in order
	Parts []Part `json:"parts"`
}

// Part is one element of a content turn. It is a closed union: the concrete
// types are TextPart, InlineDataPart, FileDataPart, FunctionCallPart and
// FunctionResponsePart.
type Part interface {
	// PartType returns the wire field name of the part variant
	PartType() string
}

// TextPart is plain text content
type TextPart struct {
	Text string `json:"text"`
}

// PartType implements Part
func (TextPart) PartType() string { return "text" }

// Blob is raw inline bytes with a MIME type
type Blob struct {
	// MIMEType of the data (e.g. "image/png")
	MIMEType string `json:"mimeType"`

	// Data bytes; marshalled as base64 on the wire
	Data []byte `json:"data"`
}

// InlineDataPart carries inline binary data (images, audio)
type InlineDataPart struct {
	InlineData Blob `json:"inlineData"`
}

// PartType implements Part
func (InlineDataPart) PartType() string { return "inlineData" }

// FileData references previously uploaded bytes by URI
type FileData struct {
	// MIMEType of the referenced file
	MIMEType string `json:"mimeType,omitempty"`

	// FileURI is the server-issued resource URI
	FileURI string `json:"fileUri"`
}

// FileDataPart references an uploaded file
type FileDataPart struct {
	FileData FileData `json:"fileData"`
}

// PartType implements Part
func (FileDataPart) PartType() string { return "fileData" }

// FunctionCall is a model request to invoke a declared function
type FunctionCall struct {
	// ID correlates the call with its response; may be empty on older
	// API versions
	ID string `json:"id,omitempty"`

	// Name of the declared function
	Name string `json:"name"`

	// Args are the call arguments as parsed JSON
	Args map[string]interface{} `json:"args,omitempty"`
}

// FunctionCallPart wraps a FunctionCall as a content part
type FunctionCallPart struct {
	FunctionCall FunctionCall `json:"functionCall"`
}

// PartType implements Part
func (FunctionCallPart) PartType() string { return "functionCall" }

// FunctionResponse is the caller-supplied result for a prior FunctionCall
type FunctionResponse struct {
	// ID of the FunctionCall this responds to
	ID string `json:"id,omitempty"`

	// Name of the function that was executed
	Name string `json:"name"`

	// Response payload fed back to the model
	Response map[string]interface{} `json:"response"`
}

// FunctionResponsePart wraps a FunctionResponse as a content part
type FunctionResponsePart struct {
	FunctionResponse FunctionResponse `json:"functionResponse"`
}

// PartType implements Part
func (FunctionResponsePart) PartType() string { return "functionResponse" }

// Text is a convenience constructor for a user turn with a single text part
func Text(s string) Content {
	return Content{Role: RoleUser, Parts: []Part{TextPart{Text: s}}}
}

// ModelText is a convenience constructor for a model turn with a single
// text part
func ModelText(s string) Content {
	return Content{Role: RoleModel, Parts: []Part{TextPart{Text: s}}}
}

// wirePart is the superset shape used to marshal and unmarshal the Part union
type wirePart struct {
	Text             *string           `json:"text,omitempty"`
	InlineData       *Blob             `json:"inlineData,omitempty"`
	FileData         *FileData         `json:"fileData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

// MarshalJSON marshals the turn with each part in its wire shape
func (c Content) MarshalJSON() ([]byte, error) {
	wire := struct {
		Role  Role       `json:"role,omitempty"`
		Parts []wirePart `json:"parts"`
	}{Role: c.Role, Parts: make([]wirePart, 0, len(c.Parts))}

	for _, p := range c.Parts {
		var w wirePart
		switch v := p.(type) {
		case TextPart:
			text := v.Text
			w.Text = &text
		case InlineDataPart:
			blob := v.InlineData
			w.InlineData = &blob
		case FileDataPart:
			fd := v.FileData
			w.FileData = &fd
		case FunctionCallPart:
			fc := v.FunctionCall
			w.FunctionCall = &fc
		case FunctionResponsePart:
			fr := v.FunctionResponse
			w.FunctionResponse = &fr
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		wire.Parts = append(wire.Parts, w)
	}
	return json.Marshal(wire)
}

// UnmarshalJSON decodes a turn, mapping each wire part back to its variant
func (c *Content) UnmarshalJSON(data []byte) error {
	var wire struct {
		Role  Role       `json:"role"`
		Parts []wirePart `json:"parts"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	c.Role = wire.Role
	c.Parts = c.Parts[:0]
	for _, w := range wire.Parts {
		switch {
		case w.Text != nil:
			c.Parts = append(c.Parts, TextPart{Text: *w.Text})
		case w.InlineData != nil:
			c.Parts = append(c.Parts, InlineDataPart{InlineData: *w.InlineData})
		case w.FileData != nil:
			c.Parts = append(c.Parts, FileDataPart{FileData: *w.FileData})
		case w.FunctionCall != nil:
			c.Parts = append(c.Parts, FunctionCallPart{FunctionCall: *w.FunctionCall})
		case w.FunctionResponse != nil:
			c.Parts = append(c.Parts, FunctionResponsePart{FunctionResponse: *w.FunctionResponse})
		default:
			// Unknown part variants (e.g. executableCode) are skipped
			// rather than failing the whole turn
		}
	}
	return nil
}

// FunctionDeclaration describes a callable function exposed to the model
type FunctionDeclaration struct {
	// Name of the function; unique within a tool set
	Name string `json:"name"`

	// Description shown to the model
	Description string `json:"description,omitempty"`

	// Parameters is an OpenAPI-style JSON schema for the arguments
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// Tool groups function declarations and built-in tool tags
type Tool struct {
	// FunctionDeclarations exposed by this tool
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`

	// GoogleSearch enables the built-in search grounding tool
	GoogleSearch map[string]interface{} `json:"googleSearch,omitempty"`

	// CodeExecution enables the built-in code execution tool
	CodeExecution map[string]interface{} `json:"codeExecution,omitempty"`
}

// GenerationConfig controls sampling and output shape
type GenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	TopP             *float64 `json:"topP,omitempty"`
	TopK             *int     `json:"topK,omitempty"`
	CandidateCount   *int     `json:"candidateCount,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	StopSequences    []string `json:"stopSequences,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`

	// ResponseSchema constrains JSON output; an OpenAPI-style schema
	ResponseSchema map[string]interface{} `json:"responseSchema,omitempty"`

	// ThinkingConfig is passed through opaque to the provider
	ThinkingConfig map[string]interface{} `json:"thinkingConfig,omitempty"`
}

// SafetySetting adjusts a single safety category threshold
type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// GenerateContentRequest is the wire body for generate and streamGenerate
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	ToolConfig        interface{}       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`

	// CachedContent is a server-side cache resource name
	CachedContent string `json:"cachedContent,omitempty"`
}

// SafetyRating reports one category's evaluation of produced content
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
	Blocked     bool   `json:"blocked,omitempty"`
}

// Candidate is one generated answer
type Candidate struct {
	Content       Content        `json:"content"`
	FinishReason  string         `json:"finishReason,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
	Index         int            `json:"index,omitempty"`
}

// PromptFeedback reports input-side safety evaluation
type PromptFeedback struct {
	BlockReason   string         `json:"blockReason,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// UsageMetadata reports token accounting for a request
type UsageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount    int `json:"candidatesTokenCount,omitempty"`
	TotalTokenCount         int `json:"totalTokenCount,omitempty"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount,omitempty"`
}

// GenerateContentResponse is the typed response for generate operations and
// for individual stream chunks
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates,omitempty"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

// Text returns the concatenated text parts of the first candidate
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var out string
	for _, p := range r.Candidates[0].Content.Parts {
		if t, ok := p.(TextPart); ok {
			out += t.Text
		}
	}
	return out
}

// FunctionCalls returns all function calls across the first candidate's parts
func (r *GenerateContentResponse) FunctionCalls() []FunctionCall {
	if r == nil || len(r.Candidates) == 0 {
		return nil
	}
	var calls []FunctionCall
	for _, p := range r.Candidates[0].Content.Parts {
		if fc, ok := p.(FunctionCallPart); ok {
			calls = append(calls, fc.FunctionCall)
		}
	}
	return calls
}

// FinishReason returns the first candidate's finish reason, or ""
func (r *GenerateContentResponse) FinishReason() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return r.Candidates[0].FinishReason
}

// CountTokensRequest is the wire body for token counting
type CountTokensRequest struct {
	Contents []Content `json:"contents,omitempty"`

	// GenerateContentRequest counts the full request shape instead of
	// bare contents
	GenerateContentRequest *GenerateContentRequest `json:"generateContentRequest,omitempty"`
}

// CountTokensResponse reports the token count for the given input
type CountTokensResponse struct {
	TotalTokens             int `json:"totalTokens"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
}

// ContentEmbedding is a single embedding vector
type ContentEmbedding struct {
	Values []float64 `json:"values"`
}

// EmbedContentRequest is the wire body for embedding
type EmbedContentRequest struct {
	Model                string   `json:"model,omitempty"`
	Content              Content  `json:"content"`
	TaskType             string   `json:"taskType,omitempty"`
	Title                string   `json:"title,omitempty"`
	OutputDimensionality *int     `json:"outputDimensionality,omitempty"`
}

// EmbedContentResponse carries the embedding for one content
type EmbedContentResponse struct {
	Embedding ContentEmbedding `json:"embedding"`
}

// BatchEmbedContentsRequest embeds several contents in one call
type BatchEmbedContentsRequest struct {
	Requests []EmbedContentRequest `json:"requests"`
}

// BatchEmbedContentsResponse carries one embedding per request, in order
type BatchEmbedContentsResponse struct {
	Embeddings []ContentEmbedding `json:"embeddings"`
}

// Model describes an available model
type Model struct {
	Name                       string   `json:"name"`
	BaseModelID                string   `json:"baseModelId,omitempty"`
	Version                    string   `json:"version,omitempty"`
	DisplayName                string   `json:"displayName,omitempty"`
	Description                string   `json:"description,omitempty"`
	InputTokenLimit            int      `json:"inputTokenLimit,omitempty"`
	OutputTokenLimit           int      `json:"outputTokenLimit,omitempty"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods,omitempty"`
}

// ListModelsResponse is one page of the model listing
type ListModelsResponse struct {
	Models        []Model `json:"models"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Status is the canonical RPC error payload carried by failed operations
type Status struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details,omitempty"`
}

// Operation is a long-running operation resource. Terminal when Done is
// true, at which point exactly one of Response or Error is set.
type Operation struct {
	Name     string          `json:"name"`
	Done     bool            `json:"done"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
	Response json.RawMessage `json:"response,omitempty"`
	Error    *Status         `json:"error,omitempty"`
}
