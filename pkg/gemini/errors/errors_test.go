package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewHTTPError_ParsesCanonicalPayload(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"error": {
			"code": 429,
			"message": "Resource has been exhausted",
			"status": "RESOURCE_EXHAUSTED",
			"details": [
				{"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "2s"}
			]
		}
	}`)

	e := NewHTTPError(429, body)
	if e.Code != 429 || e.Status != "RESOURCE_EXHAUSTED" {
		t.Errorf("unexpected parse: %+v", e)
	}
	if e.Message != "Resource has been exhausted" {
		t.Errorf("unexpected message: %q", e.Message)
	}

	delay, ok := e.RetryDelay()
	if !ok || delay != 2*time.Second {
		t.Errorf("expected 2s retry delay, got %v (%v)", delay, ok)
	}
}

func TestRetryDelay_FractionalSeconds(t *testing.T) {
	t.Parallel()

	body := []byte(`{"error":{"details":[{"@type":".../RetryInfo","retryDelay":"1.5s"}]}}`)
	e := NewHTTPError(429, body)

	delay, ok := e.RetryDelay()
	if !ok || delay != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v (%v)", delay, ok)
	}
}

func TestRetryDelay_AbsentOrMalformed(t *testing.T) {
	t.Parallel()

	cases := [][]byte{
		[]byte(`{"error":{"code":429}}`),
		[]byte(`not even json`),
		[]byte(`{"error":{"details":[{"@type":".../RetryInfo","retryDelay":"soon"}]}}`),
		[]byte(`{"error":{"details":[{"@type":".../QuotaFailure"}]}}`),
	}
	for i, body := range cases {
		if _, ok := NewHTTPError(429, body).RetryDelay(); ok {
			t.Errorf("case %d: expected no retry delay", i)
		}
	}
}

func TestHTTPError_BodyUntouchedOnNonCanonicalPayload(t *testing.T) {
	t.Parallel()

	e := NewHTTPError(502, []byte("<html>bad gateway</html>"))
	if string(e.Body) != "<html>bad gateway</html>" {
		t.Errorf("body must be preserved verbatim")
	}
	if e.Message != "" {
		t.Errorf("no message should be parsed from non-JSON bodies")
	}
}

func TestTypedErrors_AsAndUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("root cause")
	wrapped := fmt.Errorf("context: %w", NewAuthError("adc", "no creds", cause))

	if !IsAuthError(wrapped) {
		t.Error("IsAuthError must see through wrapping")
	}
	var authErr *AuthError
	if !errors.As(wrapped, &authErr) || !errors.Is(wrapped, cause) {
		t.Error("unwrap chain broken")
	}

	budget := NewBudgetError(ReasonOverBudget, nil)
	budget.RequestTooLarge = true
	if !IsBudgetError(fmt.Errorf("wrap: %w", budget)) {
		t.Error("IsBudgetError must see through wrapping")
	}
}

func TestLiveError_SetupUnsupported(t *testing.T) {
	t.Parallel()

	e := NewLiveError("closed", 1007, `Unknown name "foo" at 'setup'`, nil)
	if !e.SetupUnsupported() {
		t.Error("1007 with 'Unknown name' must read as setup-unsupported")
	}

	e = NewLiveError("closed", 1000, "bye", nil)
	if e.SetupUnsupported() {
		t.Error("normal closure is not setup-unsupported")
	}

	e = NewLiveError("closed", 1008, "model is not found", nil)
	if !e.SetupUnsupported() {
		t.Error("1008 with 'is not found' must read as setup-unsupported")
	}
}
