package toolstream

import "github.com/samsaffron/toolstream/internal/llm"

// ExpiryScope names the boundary at which scoped messages are dropped.
type ExpiryScope int

const (
	// ScopeAgentStep drops messages that live for a single agent step.
	ScopeAgentStep ExpiryScope = iota
	// ScopeUserPrompt also drops messages that live until the prompt is answered.
	ScopeUserPrompt
)

// ExpireMessages returns msgs without the messages whose time to live ends
// at scope. The input slice is not modified.
func ExpireMessages(msgs []llm.Message, scope ExpiryScope) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.TimeToLive {
		case llm.TTLAgentStep:
			continue
		case llm.TTLUserPrompt:
			if scope == ScopeUserPrompt {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
