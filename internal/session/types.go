package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samsaffron/toolstream/internal/llm"
)

// SessionStatus represents the current state of a session.
type SessionStatus string

const (
	StatusActive      SessionStatus = "active"
	StatusComplete    SessionStatus = "complete"
	StatusError       SessionStatus = "error"
	StatusInterrupted SessionStatus = "interrupted"
)

// Session represents a transcript stored in the database.
type Session struct {
	ID        string        `json:"id"`
	Summary   string        `json:"summary,omitempty"` // First user message
	Provider  string        `json:"provider"`
	Model     string        `json:"model"`
	UserID    string        `json:"user_id,omitempty"`
	CWD       string        `json:"cwd,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// Totals over all recorded turns.
	Turns        int `json:"turns,omitempty"`
	ToolCalls    int `json:"tool_calls,omitempty"`
	Credits      int `json:"credits,omitempty"`
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Message represents a message in a session.
// The Parts field stores the full llm.Message.Parts as JSON to preserve
// tool results exactly.
type Message struct {
	ID          int64          `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        llm.Role       `json:"role"`
	Parts       []llm.Part     `json:"parts"`
	TTL         llm.TimeToLive `json:"ttl,omitempty"`
	TextContent string         `json:"text_content"` // Extracted text for display
	CreatedAt   time.Time      `json:"created_at"`
	Sequence    int            `json:"sequence"`
}

// Turn is one model round trip of an agent step.
type Turn struct {
	MessageID    string // provider-assigned response id
	Credits      int
	ToolCalls    int
	InputTokens  int
	OutputTokens int
}

// SessionSummary is a lightweight view of a session for listing.
type SessionSummary struct {
	ID           string        `json:"id"`
	Summary      string        `json:"summary,omitempty"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Status       SessionStatus `json:"status,omitempty"`
	MessageCount int           `json:"message_count"`
	Turns        int           `json:"turns,omitempty"`
	Credits      int           `json:"credits,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// NewID returns a new session identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage creates a new Message from an llm.Message with the given session ID and sequence.
func NewMessage(sessionID string, msg llm.Message, sequence int) *Message {
	m := &Message{
		SessionID: sessionID,
		Role:      msg.Role,
		Parts:     msg.Parts,
		TTL:       msg.TimeToLive,
		CreatedAt: time.Now(),
		Sequence:  sequence,
	}
	m.TextContent = m.ExtractTextContent()
	return m
}

// ExtractTextContent extracts and concatenates all text parts from the message.
func (m *Message) ExtractTextContent() string {
	var parts []string
	for _, p := range m.Parts {
		switch {
		case p.Type == llm.PartText && p.Text != "":
			parts = append(parts, p.Text)
		case p.Type == llm.PartToolResult && p.ToolResult != nil:
			parts = append(parts, p.ToolResult.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ToLLMMessage converts a Message back to an llm.Message.
func (m *Message) ToLLMMessage() llm.Message {
	return llm.Message{
		Role:       m.Role,
		Parts:      m.Parts,
		TimeToLive: m.TTL,
	}
}

// PartsJSON returns the Parts field serialized to JSON for database storage.
func (m *Message) PartsJSON() (string, error) {
	data, err := json.Marshal(m.Parts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetPartsFromJSON deserializes JSON into the Parts field.
func (m *Message) SetPartsFromJSON(data string) error {
	if data == "" {
		m.Parts = nil
		return nil
	}
	return json.Unmarshal([]byte(data), &m.Parts)
}

// TruncateSummary returns the first line of content, truncated to 100 chars.
func TruncateSummary(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
