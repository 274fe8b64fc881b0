package testutil

import (
	"context"
	"sync"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

// MockHandler is a configurable tool handler for testing. It implements
// both toolstream.Handler and toolstream.CustomHandler.
type MockHandler struct {
	HandleFn    func(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error)
	WaitFirst   bool // wait for the previous call before running HandleFn
	mu          sync.Mutex
	Invocations []MockInvocation
}

// MockInvocation records a single handler invocation.
type MockInvocation struct {
	Call    toolstream.ToolCall
	Outcome toolstream.Outcome
	Error   error
}

// Handle implements toolstream.Handler.
func (m *MockHandler) Handle(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	if m.WaitFirst {
		if err := inv.Wait(ctx); err != nil {
			return toolstream.Outcome{}, err
		}
	}
	var out toolstream.Outcome
	var err error
	if m.HandleFn != nil {
		out, err = m.HandleFn(ctx, inv)
	}
	m.mu.Lock()
	m.Invocations = append(m.Invocations, MockInvocation{Call: inv.Call, Outcome: out, Error: err})
	m.mu.Unlock()
	return out, err
}

// HandleCustom implements toolstream.CustomHandler.
func (m *MockHandler) HandleCustom(ctx context.Context, inv *toolstream.Invocation, _ *toolstream.CustomCall) (toolstream.Outcome, error) {
	return m.Handle(ctx, inv)
}

// Calls returns the names of the invoked calls in invocation order.
func (m *MockHandler) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.Invocations))
	for i, inv := range m.Invocations {
		names[i] = inv.Call.Name
	}
	return names
}

// NewMockHandler creates a handler that returns a fixed output.
func NewMockHandler(output any) *MockHandler {
	return &MockHandler{
		HandleFn: func(context.Context, *toolstream.Invocation) (toolstream.Outcome, error) {
			return toolstream.Outcome{Output: output}, nil
		},
	}
}

// NewFailingHandler creates a handler that always fails with err.
func NewFailingHandler(err error) *MockHandler {
	return &MockHandler{
		HandleFn: func(context.Context, *toolstream.Invocation) (toolstream.Outcome, error) {
			return toolstream.Outcome{}, err
		},
	}
}
