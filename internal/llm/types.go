package llm

import (
	"context"
	"errors"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	MaxOutputTokens int
	Temperature     float32
	Debug           bool

	// Identifiers used by the liveness gate and for logging.
	UserID          string
	UserInputID     string
	ClientSessionID string
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// TimeToLive scopes how long a message stays in the transcript.
type TimeToLive string

const (
	TTLForever    TimeToLive = ""
	TTLAgentStep  TimeToLive = "agentStep"  // dropped at the end of the current step
	TTLUserPrompt TimeToLive = "userPrompt" // dropped once the user prompt is answered
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartToolResult PartType = "tool_result"
)

// Message holds a role with structured parts.
type Message struct {
	Role       Role       `json:"role"`
	Parts      []Part     `json:"parts"`
	TimeToLive TimeToLive `json:"ttl,omitempty"`
}

// Part represents a single content part.
type Part struct {
	Type       PartType    `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"` // True if this result represents a tool execution error
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
	EventRetry          EventType = "retry" // Emitted when retrying after rate limit
)

// Event represents a streamed output update.
type Event struct {
	Type      EventType
	Text      string
	MessageID string // For EventDone: provider-assigned id of the response
	Use       *Usage
	Err       error
	// Retry fields (for EventRetry)
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int     // Tokens read from cache
	CostDollars       float64 // Set when the provider reports a cost
}
