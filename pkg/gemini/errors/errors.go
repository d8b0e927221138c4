// Package errors defines the error taxonomy for the client library. Every
// public entry point returns one of these types (or a plain wrapped error
// for programming mistakes); no panics cross the public API.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AuthError indicates that no credential was usable, a token exchange
// failed, or JWT signing failed
type AuthError struct {
	// Source names the credential source that failed ("api_key",
	// "key_file", "json_blob", "adc", "metadata_server")
	Source string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("auth error (%s): %s: %v", e.Source, e.Message, e.Cause)
	}
	return fmt.Sprintf("auth error (%s): %s", e.Source, e.Message)
}

// Unwrap returns the underlying cause
func (e *AuthError) Unwrap() error { return e.Cause }

// NewAuthError creates a new auth error
func NewAuthError(source, message string, cause error) *AuthError {
	return &AuthError{Source: source, Message: message, Cause: cause}
}

// IsAuthError checks if an error is an AuthError
func IsAuthError(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// TransportError is a transport-level failure: DNS, TCP, TLS, timeout,
// unexpected connection close, WebSocket open failure
type TransportError struct {
	// Kind classifies the failure ("timeout", "canceled", "network",
	// "ws_open", "closed")
	Kind string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %v", e.Kind, e.Cause)
}

// Unwrap returns the underlying cause
func (e *TransportError) Unwrap() error { return e.Cause }

// NewTransportError creates a new transport error
func NewTransportError(kind string, cause error) *TransportError {
	return &TransportError{Kind: kind, Cause: cause}
}

// IsTransportError checks if an error is a TransportError
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// HTTPError is a non-2xx response from the server, with the structured
// error payload parsed when present
type HTTPError struct {
	// StatusCode is the HTTP status
	StatusCode int

	// Body is the raw response body, untouched
	Body []byte

	// Code, Status and Message come from the parsed error payload
	// (zero values when the body is not the canonical error shape)
	Code    int
	Status  string
	Message string

	// Details are the raw error.details entries
	Details []json.RawMessage
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, truncate(string(e.Body), 200))
}

// NewHTTPError builds an HTTPError from a status and body, parsing the
// canonical {"error": {code, message, status, details}} payload when present
func NewHTTPError(statusCode int, body []byte) *HTTPError {
	e := &HTTPError{StatusCode: statusCode, Body: body}

	var wire struct {
		Error struct {
			Code    int               `json:"code"`
			Message string            `json:"message"`
			Status  string            `json:"status"`
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil {
		e.Code = wire.Error.Code
		e.Status = wire.Error.Status
		e.Message = wire.Error.Message
		e.Details = wire.Error.Details
	}
	return e
}

// IsHTTPError checks if an error is an HTTPError
func IsHTTPError(err error) bool {
	var e *HTTPError
	return errors.As(err, &e)
}

// RetryDelay extracts the RetryInfo.retryDelay duration from the error
// details. Returns false when no parseable RetryInfo is present.
func (e *HTTPError) RetryDelay() (time.Duration, bool) {
	for _, raw := range e.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if err := json.Unmarshal(raw, &detail); err != nil {
			continue
		}
		if !strings.HasSuffix(detail.Type, "RetryInfo") || detail.RetryDelay == "" {
			continue
		}
		if d, ok := parseProtoDuration(detail.RetryDelay); ok {
			return d, true
		}
	}
	return 0, false
}

// parseProtoDuration parses protobuf JSON durations like "2s" or "1.5s"
func parseProtoDuration(s string) (time.Duration, bool) {
	if !strings.HasSuffix(s, "s") {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSuffix(s, "s"), 64)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// RateLimitError is derived from a 429 with RetryInfo: requests on the same
// concurrency key should not be attempted before RetryAt
type RateLimitError struct {
	// RetryAt is the earliest time a retry is allowed
	RetryAt time.Time

	// QuotaMetric and QuotaID identify the exhausted quota when the
	// server reports them
	QuotaMetric string
	QuotaID     string

	// Cause is the originating HTTPError, if any
	Cause error
}

// Error implements the error interface
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited until %s", e.RetryAt.Format(time.RFC3339))
}

// Unwrap returns the underlying cause
func (e *RateLimitError) Unwrap() error { return e.Cause }

// NewRateLimitError creates a new rate limit error
func NewRateLimitError(retryAt time.Time, cause error) *RateLimitError {
	return &RateLimitError{RetryAt: retryAt, Cause: cause}
}

// IsRateLimitError checks if an error is a RateLimitError
func IsRateLimitError(err error) bool {
	var e *RateLimitError
	return errors.As(err, &e)
}

// BudgetReason classifies a local limiter rejection
type BudgetReason string

const (
	// ReasonOverBudget means the single request exceeds the whole window
	// budget; waiting can never help
	ReasonOverBudget BudgetReason = "over_budget"

	// ReasonBudgetFull means the current window has no room left
	ReasonBudgetFull BudgetReason = "budget_full"

	// ReasonNoPermit means the permit pool is exhausted
	ReasonNoPermit BudgetReason = "no_permit"

	// ReasonPermitTimeout means the waiter's deadline expired
	ReasonPermitTimeout BudgetReason = "permit_timeout"
)

// BudgetError is a rejection from the local rate limiter
type BudgetError struct {
	// Reason for the rejection
	Reason BudgetReason

	// RetryAt is set when the limiter can predict when capacity frees
	// (window end, retry window); nil otherwise
	RetryAt *time.Time

	// RequestTooLarge is set with ReasonOverBudget: the request can
	// never fit the configured budget
	RequestTooLarge bool
}

// Error implements the error interface
func (e *BudgetError) Error() string {
	if e.RetryAt != nil {
		return fmt.Sprintf("budget blocked (%s), retry at %s", e.Reason, e.RetryAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("budget blocked (%s)", e.Reason)
}

// NewBudgetError creates a new budget error
func NewBudgetError(reason BudgetReason, retryAt *time.Time) *BudgetError {
	return &BudgetError{Reason: reason, RetryAt: retryAt}
}

// IsBudgetError checks if an error is a BudgetError
func IsBudgetError(err error) bool {
	var e *BudgetError
	return errors.As(err, &e)
}

// StreamError is an SSE-specific failure
type StreamError struct {
	// Kind classifies the failure ("timeout", "parse", "upstream_closed",
	// "connect", "stopped")
	Kind string

	// Attempt is the retry attempt on which the stream gave up
	Attempt int

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stream error (%s, attempt %d): %v", e.Kind, e.Attempt, e.Cause)
	}
	return fmt.Sprintf("stream error (%s, attempt %d)", e.Kind, e.Attempt)
}

// Unwrap returns the underlying cause
func (e *StreamError) Unwrap() error { return e.Cause }

// NewStreamError creates a new stream error
func NewStreamError(kind string, attempt int, cause error) *StreamError {
	return &StreamError{Kind: kind, Attempt: attempt, Cause: cause}
}

// IsStreamError checks if an error is a StreamError
func IsStreamError(err error) bool {
	var e *StreamError
	return errors.As(err, &e)
}

// LiveError is a Live-session failure
type LiveError struct {
	// Kind classifies the failure ("setup_failed", "closed",
	// "protocol_violation")
	Kind string

	// Code is the WebSocket close code when Kind is "closed" or
	// "setup_failed"
	Code int

	// Reason is the close reason or diagnostic string
	Reason string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *LiveError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("live session error (%s, code %d): %s", e.Kind, e.Code, e.Reason)
	}
	return fmt.Sprintf("live session error (%s): %s", e.Kind, e.Reason)
}

// Unwrap returns the underlying cause
func (e *LiveError) Unwrap() error { return e.Cause }

// NewLiveError creates a new live session error
func NewLiveError(kind string, code int, reason string, cause error) *LiveError {
	return &LiveError{Kind: kind, Code: code, Reason: reason, Cause: cause}
}

// IsLiveError checks if an error is a LiveError
func IsLiveError(err error) bool {
	var e *LiveError
	return errors.As(err, &e)
}

// SetupUnsupported reports whether a Live close indicates the requested
// setup is not supported by the endpoint (feature fallback signal)
func (e *LiveError) SetupUnsupported() bool {
	if e.Code != 1000 && e.Code != 0 {
		if strings.Contains(e.Reason, "Unknown name") || strings.Contains(e.Reason, "is not found") {
			return true
		}
	}
	return false
}

// ToolError is a tool handler failure, captured into the result list
type ToolError struct {
	// CallID of the failed call
	CallID string

	// Name of the tool
	Name string

	// Message describes the failure
	Message string

	// Cause is the underlying error (or recovered panic)
	Cause error
}

// Error implements the error interface
func (e *ToolError) Error() string {
	if e.CallID != "" {
		return fmt.Sprintf("tool %q (call %s) failed: %s", e.Name, e.CallID, e.Message)
	}
	return fmt.Sprintf("tool %q failed: %s", e.Name, e.Message)
}

// Unwrap returns the underlying cause
func (e *ToolError) Unwrap() error { return e.Cause }

// NewToolError creates a new tool error
func NewToolError(callID, name, message string, cause error) *ToolError {
	return &ToolError{CallID: callID, Name: name, Message: message, Cause: cause}
}

// IsToolError checks if an error is a ToolError
func IsToolError(err error) bool {
	var e *ToolError
	return errors.As(err, &e)
}

// TurnLimitError means the tool-calling orchestrator exhausted its turns
type TurnLimitError struct {
	// Limit is the configured turn limit
	Limit int
}

// Error implements the error interface
func (e *TurnLimitError) Error() string {
	return fmt.Sprintf("tool-calling turn limit (%d) exceeded", e.Limit)
}

// IsTurnLimitError checks if an error is a TurnLimitError
func IsTurnLimitError(err error) bool {
	var e *TurnLimitError
	return errors.As(err, &e)
}

// ValidationError is a pre-flight shape or validation failure on caller
// input
type ValidationError struct {
	// Field that failed validation, in dot notation
	Field string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// Unwrap returns the underlying cause
func (e *ValidationError) Unwrap() error { return e.Cause }

// NewValidationError creates a new validation error
func NewValidationError(field, message string, cause error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Cause: cause}
}

// IsValidationError checks if an error is a ValidationError
func IsValidationError(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
