package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// State is the session lifecycle state
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateSetupSent  State = "setup_sent"
	StateReady      State = "ready"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
)

// TranscriptionKind distinguishes input and output transcriptions
type TranscriptionKind string

const (
	TranscriptionInput  TranscriptionKind = "input"
	TranscriptionOutput TranscriptionKind = "output"
)

// Callbacks are the function-valued hooks a session invokes. Any subset
// may be set. The reader invokes them synchronously in receipt order, so
// they must be cheap; the library does not parallelize them.
type Callbacks struct {
	// OnMessage receives every inbound server message
	OnMessage func(msg *ServerMessage)

	// OnSetupComplete fires once when the handshake finishes
	OnSetupComplete func()

	// OnToolCall receives function calls. A non-nil return value is
	// sent back immediately as the tool response.
	OnToolCall func(calls []gemini.FunctionCall) []gemini.FunctionResponse

	// OnToolCallCancellation receives withdrawn call ids
	OnToolCallCancellation func(ids []string)

	// OnTranscription receives input/output transcription fragments
	OnTranscription func(kind TranscriptionKind, text string)

	// OnVoiceActivity receives detected speech boundaries
	OnVoiceActivity func(va *VoiceActivity)

	// OnSessionResumption receives fresh resumption handles
	OnSessionResumption func(handle string, resumable bool)

	// OnGoAway receives the server's advance close notice
	OnGoAway func(timeLeft time.Duration)

	// OnError receives terminal session errors
	OnError func(err error)

	// OnClose fires once when the session reaches Closed; err is nil
	// on a clean close
	OnClose func(err error)
}

// SessionConfig describes the session to open
type SessionConfig struct {
	// URL of the BidiGenerateContent endpoint, including any API-key
	// query parameter
	URL string

	// Headers for the WebSocket handshake (bearer auth)
	Headers http.Header

	// Setup is sent as the first frame
	Setup Setup

	// Callbacks invoked by the reader
	Callbacks Callbacks

	// HandshakeTimeout bounds dialing (default: 30 s)
	HandshakeTimeout time.Duration
}

// Session is one Live conversation. All exported methods are safe for
// concurrent use; outbound frames are serialized through a single send
// queue and inbound frames are processed in strict receipt order.
type Session struct {
	conn      *websocket.Conn
	callbacks Callbacks

	mu           sync.Mutex
	state        State
	resumeHandle string
	deadlineHint time.Time
	pendingCalls map[string]struct{}
	closeErr     error

	sendq      chan interface{}
	sendClosed bool
	writerDone chan struct{}
	readerDone chan struct{}
}

// Connect opens the WebSocket, performs the setup handshake and returns a
// Ready session. It blocks until the server acknowledges the setup or
// fails it; a failed setup returns a LiveError with kind "setup_failed".
func Connect(ctx context.Context, cfg SessionConfig) (*Session, error) {
	timeout := cfg.HandshakeTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	conn, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Headers)
	if err != nil {
		return nil, geminierrors.NewTransportError("ws_open", err)
	}

	s := &Session{
		conn:         conn,
		callbacks:    cfg.Callbacks,
		state:        StateConnecting,
		resumeHandle: setupHandle(cfg.Setup),
		pendingCalls: make(map[string]struct{}),
		sendq:        make(chan interface{}, 32),
		writerDone:   make(chan struct{}),
		readerDone:   make(chan struct{}),
	}

	// First frame is always the setup payload
	if err := conn.WriteJSON(setupMessage{Setup: cfg.Setup}); err != nil {
		conn.Close()
		return nil, geminierrors.NewTransportError("ws_open", err)
	}
	s.setState(StateSetupSent)

	// The first inbound frame must acknowledge the setup
	if err := s.awaitSetupComplete(ctx); err != nil {
		conn.Close()
		s.setState(StateClosed)
		return nil, err
	}
	s.setState(StateReady)
	if s.callbacks.OnSetupComplete != nil {
		s.callbacks.OnSetupComplete()
	}

	go s.writer()
	go s.reader()
	return s, nil
}

// setupHandle extracts the resume handle the session was built with
func setupHandle(setup Setup) string {
	if setup.SessionResumption != nil {
		return setup.SessionResumption.Handle
	}
	return ""
}

// awaitSetupComplete reads frames until setupComplete or failure
func (s *Session) awaitSetupComplete(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(deadline)
		defer s.conn.SetReadDeadline(time.Time{})
	}

	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if code, reason, ok := closeDetails(err); ok {
			return geminierrors.NewLiveError("setup_failed", code, reason, err)
		}
		return geminierrors.NewTransportError("ws_open", err)
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return geminierrors.NewLiveError("protocol_violation", 0, "unparseable first frame", err)
	}
	if msg.SetupComplete == nil {
		return geminierrors.NewLiveError("setup_failed", 0, "first server frame was not setupComplete", nil)
	}
	return nil
}

// closeDetails extracts the code and reason from a WebSocket close error
func closeDetails(err error) (int, string, bool) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ResumptionHandle returns the most recent server-issued resumption
// handle, or the handle the session was built with
func (s *Session) ResumptionHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeHandle
}

// DeadlineHint returns the connection deadline announced by a GoAway,
// zero when none was received
func (s *Session) DeadlineHint() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadlineHint
}

// PendingToolCalls returns the ids of tool calls awaiting a response
func (s *Session) PendingToolCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.pendingCalls))
	for id := range s.pendingCalls {
		ids = append(ids, id)
	}
	return ids
}

// SendClientContent appends turns to the conversation. TurnComplete true
// asks the model to respond; sending interrupts in-flight generation.
func (s *Session) SendClientContent(turns []gemini.Content, turnComplete bool) error {
	return s.enqueue(clientContentMessage{ClientContent: ClientContent{
		Turns:        turns,
		TurnComplete: turnComplete,
	}})
}

// SendRealtimeInput streams one media chunk or activity signal
func (s *Session) SendRealtimeInput(input RealtimeInput) error {
	return s.enqueue(realtimeInputMessage{RealtimeInput: input})
}

// SendToolResponse submits function results for a prior ToolCall
func (s *Session) SendToolResponse(responses []gemini.FunctionResponse) error {
	s.mu.Lock()
	for _, r := range responses {
		delete(s.pendingCalls, r.ID)
	}
	s.mu.Unlock()
	return s.enqueue(toolResponseMessage{ToolResponse: ToolResponse{FunctionResponses: responses}})
}

// enqueue serializes an outbound frame through the send queue. The lock
// spans the send so Close cannot close the queue mid-enqueue.
func (s *Session) enqueue(msg interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady || s.sendClosed {
		return geminierrors.NewLiveError("closed", 0, "session not ready (state "+string(s.state)+")", nil)
	}
	select {
	case s.sendq <- msg:
		return nil
	default:
		return geminierrors.NewLiveError("closed", 0, "send queue full", nil)
	}
}

// writer drains the send queue in send-call order
func (s *Session) writer() {
	defer close(s.writerDone)
	for msg := range s.sendq {
		if err := s.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// reader processes inbound frames strictly in receipt order and invokes
// callbacks synchronously
func (s *Session) reader() {
	defer close(s.readerDone)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		var msg ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Unparseable frames are surfaced but do not kill the
			// session
			if s.callbacks.OnError != nil {
				s.callbacks.OnError(geminierrors.NewLiveError("protocol_violation", 0, "unparseable frame", err))
			}
			continue
		}
		s.route(&msg)
	}
}

// route dispatches one inbound message to the registered callbacks
func (s *Session) route(msg *ServerMessage) {
	if s.callbacks.OnMessage != nil {
		s.callbacks.OnMessage(msg)
	}

	switch {
	case msg.ServerContent != nil:
		sc := msg.ServerContent
		if s.callbacks.OnTranscription != nil {
			if sc.InputTranscription != nil {
				s.callbacks.OnTranscription(TranscriptionInput, sc.InputTranscription.Text)
			}
			if sc.OutputTranscription != nil {
				s.callbacks.OnTranscription(TranscriptionOutput, sc.OutputTranscription.Text)
			}
		}

	case msg.ToolCall != nil:
		s.mu.Lock()
		for _, call := range msg.ToolCall.FunctionCalls {
			if call.ID != "" {
				s.pendingCalls[call.ID] = struct{}{}
			}
		}
		s.mu.Unlock()
		if s.callbacks.OnToolCall != nil {
			if responses := s.callbacks.OnToolCall(msg.ToolCall.FunctionCalls); len(responses) > 0 {
				_ = s.SendToolResponse(responses)
			}
		}

	case msg.ToolCallCancellation != nil:
		ids := msg.ToolCallCancellation.IDs
		s.mu.Lock()
		for _, id := range ids {
			delete(s.pendingCalls, id)
		}
		s.mu.Unlock()
		if s.callbacks.OnToolCallCancellation != nil {
			s.callbacks.OnToolCallCancellation(ids)
		}

	case msg.GoAway != nil:
		timeLeft, _ := time.ParseDuration(msg.GoAway.TimeLeft)
		if timeLeft > 0 {
			s.mu.Lock()
			s.deadlineHint = time.Now().Add(timeLeft)
			s.mu.Unlock()
		}
		if s.callbacks.OnGoAway != nil {
			s.callbacks.OnGoAway(timeLeft)
		}

	case msg.SessionResumptionUpdate != nil:
		upd := msg.SessionResumptionUpdate
		if upd.NewHandle != "" {
			s.mu.Lock()
			s.resumeHandle = upd.NewHandle
			s.mu.Unlock()
		}
		if s.callbacks.OnSessionResumption != nil {
			s.callbacks.OnSessionResumption(upd.NewHandle, upd.Resumable)
		}

	case msg.VoiceActivity != nil:
		if s.callbacks.OnVoiceActivity != nil {
			s.callbacks.OnVoiceActivity(msg.VoiceActivity)
		}
	}
}

// finish transitions to Closed exactly once and reports the outcome.
// There is no automatic reconnect: the caller rebuilds a session with the
// saved resumption handle.
func (s *Session) finish(err error) {
	s.mu.Lock()
	wasClosing := s.state == StateClosing
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed

	var closeErr error
	if !wasClosing {
		if code, reason, ok := closeDetails(err); ok {
			if code == websocket.CloseNormalClosure {
				closeErr = nil
			} else {
				closeErr = geminierrors.NewLiveError("closed", code, reason, err)
			}
		} else {
			closeErr = geminierrors.NewTransportError("closed", err)
		}
	}
	s.closeErr = closeErr
	s.mu.Unlock()

	if closeErr != nil && s.callbacks.OnError != nil {
		s.callbacks.OnError(closeErr)
	}
	if s.callbacks.OnClose != nil {
		s.callbacks.OnClose(closeErr)
	}
}

// Close drains the send queue best-effort, sends a close frame and closes
// the connection
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateClosing {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.sendClosed = true
	close(s.sendq)
	s.mu.Unlock()

	select {
	case <-s.writerDone:
	case <-ctx.Done():
	}

	deadline := time.Now().Add(5 * time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := s.conn.Close()

	select {
	case <-s.readerDone:
	case <-ctx.Done():
	}
	return err
}

// Err returns the terminal error after the session closed, nil for a
// clean close
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}
