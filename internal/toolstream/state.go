package toolstream

import "github.com/samsaffron/toolstream/internal/llm"

// State is the agent state threaded through a turn's tool calls. Outcome
// updates are applied in call order; a handler may read State only after
// its Invocation.Wait has returned.
type State struct {
	Messages []llm.Message

	UserID      string
	SessionID   string
	UserInputID string
	AgentStepID string

	Plan    string
	EndTurn bool
}

// Clone returns a copy whose Messages slice can be modified independently.
func (s *State) Clone() *State {
	if s == nil {
		return &State{}
	}
	out := *s
	out.Messages = append([]llm.Message(nil), s.Messages...)
	return &out
}

// logFields returns the identifiers attached to every tool log line.
func (s *State) logFields() []any {
	return []any{
		"agent_step_id", s.AgentStepID,
		"session_id", s.SessionID,
		"user_input_id", s.UserInputID,
	}
}
