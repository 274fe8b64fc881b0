package llm

import "strings"

func SystemText(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{{Type: PartText, Text: text}}}
}

func UserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Type: PartText, Text: text}}}
}

func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Type: PartText, Text: text}}}
}

// ToolResultMessage wraps a successful tool output.
func ToolResultMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ID: id, Name: name, Content: content},
		}},
	}
}

// ToolErrorMessage wraps a failed tool call.
func ToolErrorMessage(id, name, content string) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{{
			Type:       PartToolResult,
			ToolResult: &ToolResult{ID: id, Name: name, Content: content, IsError: true},
		}},
	}
}

// Text returns the concatenated text parts of the message. Tool results are
// included so providers without a tool role can still see them.
func (m Message) Text() string {
	var b strings.Builder
	for _, part := range m.Parts {
		switch part.Type {
		case PartText:
			b.WriteString(part.Text)
		case PartToolResult:
			if part.ToolResult != nil {
				b.WriteString(toolResultText(part.ToolResult))
			}
		}
	}
	return b.String()
}

func toolResultText(r *ToolResult) string {
	var b strings.Builder
	b.WriteString("<tool_result name=\"")
	b.WriteString(r.Name)
	b.WriteString("\" id=\"")
	b.WriteString(r.ID)
	if r.IsError {
		b.WriteString("\" error=\"true")
	}
	b.WriteString("\">\n")
	b.WriteString(r.Content)
	b.WriteString("\n</tool_result>")
	return b.String()
}

// splitSystem separates system text from the conversation. Tool messages
// are returned with the user role since the inline protocol carries results
// as text.
func splitSystem(messages []Message) (string, []Message) {
	var systemParts []string
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Text())
		case RoleTool:
			out = append(out, Message{Role: RoleUser, Parts: msg.Parts, TimeToLive: msg.TimeToLive})
		default:
			out = append(out, msg)
		}
	}
	return strings.Join(systemParts, "\n\n"), mergeAdjacent(out)
}

// mergeAdjacent joins consecutive messages with the same role. Providers
// require alternating user and assistant turns.
func mergeAdjacent(messages []Message) []Message {
	var out []Message
	for _, msg := range messages {
		if n := len(out); n > 0 && out[n-1].Role == msg.Role {
			out[n-1].Parts = append(append([]Part(nil), out[n-1].Parts...), Part{Type: PartText, Text: "\n\n"})
			out[n-1].Parts = append(out[n-1].Parts, msg.Parts...)
			continue
		}
		out = append(out, msg)
	}
	return out
}
