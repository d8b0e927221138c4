package polling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
)

func TestWaitForDone_Succeeds(t *testing.T) {
	t.Parallel()

	polls := 0
	op, err := WaitForDone(context.Background(), func(ctx context.Context) (*gemini.Operation, error) {
		polls++
		if polls < 3 {
			return &gemini.Operation{Name: "operations/x", Done: false}, nil
		}
		return &gemini.Operation{
			Name: "operations/x", Done: true,
			Response: json.RawMessage(`{"ok":true}`),
		}, nil
	}, Options{Interval: time.Millisecond, Timeout: time.Second})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !op.Done || op.Response == nil {
		t.Errorf("unexpected operation: %+v", op)
	}
	if polls != 3 {
		t.Errorf("expected 3 polls, got %d", polls)
	}
}

func TestWaitForDone_OperationError(t *testing.T) {
	t.Parallel()

	op, err := WaitForDone(context.Background(), func(ctx context.Context) (*gemini.Operation, error) {
		return &gemini.Operation{
			Name: "operations/x", Done: true,
			Error: &gemini.Status{Code: 13, Message: "exploded"},
		}, nil
	}, Options{Interval: time.Millisecond})

	if err == nil {
		t.Fatal("expected error for failed operation")
	}
	if op == nil || op.Error == nil || op.Error.Code != 13 {
		t.Errorf("terminal operation must still be returned: %+v", op)
	}
}

func TestWaitForDone_Timeout(t *testing.T) {
	t.Parallel()

	_, err := WaitForDone(context.Background(), func(ctx context.Context) (*gemini.Operation, error) {
		return &gemini.Operation{Name: "operations/x"}, nil
	}, Options{Interval: time.Millisecond, Timeout: 30 * time.Millisecond})

	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWaitForDone_FetchErrorStops(t *testing.T) {
	t.Parallel()

	boom := errors.New("network down")
	_, err := WaitForDone(context.Background(), func(ctx context.Context) (*gemini.Operation, error) {
		return nil, boom
	}, Options{Interval: time.Millisecond})

	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped fetch error, got %v", err)
	}
}

func TestWaitForDone_ProgressCallback(t *testing.T) {
	t.Parallel()

	var seen []bool
	_, err := WaitForDone(context.Background(), func(ctx context.Context) (*gemini.Operation, error) {
		return &gemini.Operation{Name: "operations/x", Done: len(seen) >= 1}, nil
	}, Options{
		Interval: time.Millisecond,
		OnProgress: func(op *gemini.Operation) {
			seen = append(seen, op.Done)
		},
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Errorf("unexpected progress sequence: %v", seen)
	}
}

func TestWaitForDone_Cancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := WaitForDone(ctx, func(ctx context.Context) (*gemini.Operation, error) {
		return &gemini.Operation{Name: "operations/x"}, nil
	}, Options{Interval: time.Millisecond, Timeout: time.Minute})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
