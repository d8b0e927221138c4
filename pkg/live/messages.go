// Package live implements persistent bidirectional sessions against the
// BidiGenerateContent WebSocket endpoint: the setup handshake, callback
// routing for inbound server messages, a serialized send queue, session
// resumption and GoAway handling.
package live

import (
	"github.com/digitallysavvy/go-gemini/pkg/gemini"
)

// Setup is the first client frame of every session
type Setup struct {
	// Model is the fully qualified model name
	Model string `json:"model"`

	// GenerationConfig is passed through opaque
	GenerationConfig map[string]interface{} `json:"generationConfig,omitempty"`

	// SystemInstruction for the whole session
	SystemInstruction *gemini.Content `json:"systemInstruction,omitempty"`

	// Tools available to the model during the session
	Tools []gemini.Tool `json:"tools,omitempty"`

	// SessionResumption requests resumption handles; set Handle to
	// rehydrate a previous session's context
	SessionResumption *SessionResumption `json:"sessionResumption,omitempty"`

	// InputAudioTranscription and OutputAudioTranscription enable
	// transcription streams
	InputAudioTranscription  map[string]interface{} `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription map[string]interface{} `json:"outputAudioTranscription,omitempty"`

	// RealtimeInputConfig tunes automatic voice activity detection
	RealtimeInputConfig map[string]interface{} `json:"realtimeInputConfig,omitempty"`
}

// SessionResumption configures resumption for a session
type SessionResumption struct {
	// Handle of a previous session to resume; empty requests a fresh
	// session that still issues handles
	Handle string `json:"handle,omitempty"`
}

// setupMessage is the wire envelope for Setup
type setupMessage struct {
	Setup Setup `json:"setup"`
}

// ClientContent appends turns to the session conversation. Sending it
// interrupts any in-flight model generation server-side.
type ClientContent struct {
	Turns        []gemini.Content `json:"turns,omitempty"`
	TurnComplete bool             `json:"turnComplete"`
}

type clientContentMessage struct {
	ClientContent ClientContent `json:"clientContent"`
}

// RealtimeInput streams media chunks and manual voice-activity signals
type RealtimeInput struct {
	Audio *gemini.Blob `json:"audio,omitempty"`
	Video *gemini.Blob `json:"video,omitempty"`
	Text  string       `json:"text,omitempty"`

	// ActivityStart and ActivityEnd signal manual VAD boundaries
	ActivityStart *struct{} `json:"activityStart,omitempty"`
	ActivityEnd   *struct{} `json:"activityEnd,omitempty"`

	// AudioStreamEnd flushes buffered audio
	AudioStreamEnd bool `json:"audioStreamEnd,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput RealtimeInput `json:"realtimeInput"`
}

// ToolResponse submits function results for a prior ToolCall
type ToolResponse struct {
	FunctionResponses []gemini.FunctionResponse `json:"functionResponses"`
}

type toolResponseMessage struct {
	ToolResponse ToolResponse `json:"toolResponse"`
}

// Transcription is one transcription fragment
type Transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

// ServerContent is incremental model output
type ServerContent struct {
	ModelTurn          *gemini.Content `json:"modelTurn,omitempty"`
	TurnComplete       bool            `json:"turnComplete,omitempty"`
	GenerationComplete bool            `json:"generationComplete,omitempty"`
	Interrupted        bool            `json:"interrupted,omitempty"`

	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
}

// ToolCall asks the client to execute functions
type ToolCall struct {
	FunctionCalls []gemini.FunctionCall `json:"functionCalls"`
}

// ToolCallCancellation withdraws previously issued calls
type ToolCallCancellation struct {
	IDs []string `json:"ids"`
}

// GoAway warns that the server will close the connection soon
type GoAway struct {
	// TimeLeft until the close, as a duration string (e.g. "10s")
	TimeLeft string `json:"timeLeft,omitempty"`
}

// SessionResumptionUpdate delivers a fresh resumption handle
type SessionResumptionUpdate struct {
	NewHandle string `json:"newHandle,omitempty"`
	Resumable bool   `json:"resumable,omitempty"`
}

// VoiceActivity reports detected speech boundaries
type VoiceActivity struct {
	ActivityStart *struct{} `json:"activityStart,omitempty"`
	ActivityEnd   *struct{} `json:"activityEnd,omitempty"`
}

// ServerMessage is the inbound variant union; exactly one field is set
// per frame
type ServerMessage struct {
	SetupComplete           *struct{}                `json:"setupComplete,omitempty"`
	ServerContent           *ServerContent           `json:"serverContent,omitempty"`
	ToolCall                *ToolCall                `json:"toolCall,omitempty"`
	ToolCallCancellation    *ToolCallCancellation    `json:"toolCallCancellation,omitempty"`
	GoAway                  *GoAway                  `json:"goAway,omitempty"`
	SessionResumptionUpdate *SessionResumptionUpdate `json:"sessionResumptionUpdate,omitempty"`
	VoiceActivity           *VoiceActivity           `json:"voiceActivity,omitempty"`
	UsageMetadata           *gemini.UsageMetadata    `json:"usageMetadata,omitempty"`
}
