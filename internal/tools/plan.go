package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

func (h *handlers) thinkDeeply(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.ThinkDeeply)
	h.opts.Logger.Debug(ctx, "thought", "tool_call_id", inv.Call.ID, "thought", in.Thought)
	return toolstream.Outcome{}, nil
}

// createPlan writes the plan file and records the plan in the state.
func (h *handlers) createPlan(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.CreatePlan)
	if strings.TrimSpace(in.Plan) == "" {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "plan is required")
	}
	abs, err := resolvePath(h.opts.Root, in.Path)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}
	if err := atomicWrite(abs, in.Plan); err != nil {
		return toolstream.Outcome{}, err
	}
	plan := in.Plan
	return toolstream.Outcome{
		Output: fmt.Sprintf("Plan saved to %s.", relPath(h.opts.Root, abs)),
		Update: func(s *toolstream.State) { s.Plan = plan },
	}, nil
}

// setMessages replaces the transcript.
func (h *handlers) setMessages(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.SetMessages)
	msgs := make([]llm.Message, 0, len(in.Messages))
	for i, m := range in.Messages {
		role := llm.Role(m.Role)
		switch role {
		case llm.RoleSystem, llm.RoleUser, llm.RoleAssistant:
		default:
			return toolstream.Outcome{}, NewToolErrorf(ErrInvalidParams, "message %d: unsupported role %q", i+1, m.Role)
		}
		msgs = append(msgs, llm.Message{Role: role, Parts: []llm.Part{{Type: llm.PartText, Text: m.Content}}})
	}
	return toolstream.Outcome{
		Output: fmt.Sprintf("Replaced transcript with %d messages.", len(msgs)),
		Update: func(s *toolstream.State) { s.Messages = msgs },
	}, nil
}

func (h *handlers) endTurn(context.Context, *toolstream.Invocation) (toolstream.Outcome, error) {
	return toolstream.Outcome{Update: func(s *toolstream.State) { s.EndTurn = true }}, nil
}
