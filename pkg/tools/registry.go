// Package tools maps function names to local handlers and drives their
// execution for the tool-calling loop and Live sessions.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// Handler executes one function call. The returned map is fed back to the
// model as the function response.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// ExecOptions tunes one batch execution
type ExecOptions struct {
	// Timeout bounds each individual call; zero means no bound beyond
	// the caller's context
	Timeout time.Duration

	// Parallel executes the batch concurrently; results keep call order
	Parallel bool
}

// Result pairs a function response with the error it captured, if any
type Result struct {
	// Response is always populated, with an error payload when the
	// handler failed
	Response gemini.FunctionResponse

	// Err is the captured failure; never aborts the batch
	Err error
}

// entry is one registered function
type entry struct {
	decl    gemini.FunctionDeclaration
	handler Handler
}

// Registry is a thread-safe map from function name to handler
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a function; re-registration under the same name replaces
// the previous handler
func (r *Registry) Register(decl gemini.FunctionDeclaration, handler Handler) error {
	if decl.Name == "" {
		return geminierrors.NewValidationError("name", "function declaration requires a name", nil)
	}
	if handler == nil {
		return geminierrors.NewValidationError("handler", "handler must not be nil", nil)
	}
	r.mu.Lock()
	r.entries[decl.Name] = entry{decl: decl, handler: handler}
	r.mu.Unlock()
	return nil
}

// Unregister removes a function by name
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}

// Declarations returns all registered declarations, for request tool sets
func (r *Registry) Declarations() []gemini.FunctionDeclaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]gemini.FunctionDeclaration, 0, len(r.entries))
	for _, e := range r.entries {
		decls = append(decls, e.decl)
	}
	return decls
}

// Tool wraps the registered declarations as a single request tool
func (r *Registry) Tool() gemini.Tool {
	return gemini.Tool{FunctionDeclarations: r.Declarations()}
}

// ExecuteCalls runs a batch of calls and returns one result per call, in
// call order. Unknown names and handler failures produce error results
// but never abort the batch; panics are captured the same way.
func (r *Registry) ExecuteCalls(ctx context.Context, calls []gemini.FunctionCall, opts ExecOptions) []Result {
	results := make([]Result, len(calls))

	if opts.Parallel {
		var wg sync.WaitGroup
		for i, call := range calls {
			wg.Add(1)
			go func(i int, call gemini.FunctionCall) {
				defer wg.Done()
				results[i] = r.executeOne(ctx, call, opts)
			}(i, call)
		}
		wg.Wait()
		return results
	}

	for i, call := range calls {
		results[i] = r.executeOne(ctx, call, opts)
	}
	return results
}

// executeOne runs a single call with timeout and panic capture
func (r *Registry) executeOne(ctx context.Context, call gemini.FunctionCall, opts ExecOptions) Result {
	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()

	if !ok {
		err := geminierrors.NewToolError(call.ID, call.Name, "unknown function", nil)
		return errorResult(call, err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	response, err := safeCall(ctx, e.handler, call)
	if err != nil {
		toolErr := geminierrors.NewToolError(call.ID, call.Name, err.Error(), err)
		return errorResult(call, toolErr)
	}

	return Result{Response: gemini.FunctionResponse{
		ID:       call.ID,
		Name:     call.Name,
		Response: response,
	}}
}

// safeCall invokes the handler, converting panics into errors
func safeCall(ctx context.Context, handler Handler, call gemini.FunctionCall) (response map[string]interface{}, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return handler(ctx, call.Args)
}

// errorResult encodes a failure as a function response the model can see
func errorResult(call gemini.FunctionCall, err error) Result {
	return Result{
		Response: gemini.FunctionResponse{
			ID:   call.ID,
			Name: call.Name,
			Response: map[string]interface{}{
				"error":    err.Error(),
				"is_error": true,
			},
		},
		Err: err,
	}
}
