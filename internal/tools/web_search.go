package tools

import (
	"context"
	"strings"
	"time"

	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

const deepSearchFactor = 3

// webSearch runs the query and charges the user before the result commits.
// A failed charge is logged; the results are still returned.
func (h *handlers) webSearch(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.WebSearch)
	query := strings.TrimSpace(in.Query)
	if query == "" {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "query is required")
	}
	deep := in.Depth == "deep"
	max := h.opts.SearchMaxResults
	if deep {
		max *= deepSearchFactor
	}

	start := time.Now()
	results, searchErr := h.opts.Searcher.Search(ctx, query, max)

	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}
	state := inv.State
	fields := []any{
		"tool_call_id", inv.Call.ID,
		"query", query,
		"depth", in.Depth,
		"agent_step_id", state.AgentStepID,
		"session_id", state.SessionID,
		"user_input_id", state.UserInputID,
		"search_duration_ms", time.Since(start).Milliseconds(),
	}
	if searchErr != nil {
		h.opts.Logger.Error(ctx, "search failed", append(fields, "err", searchErr)...)
		return toolstream.Outcome{}, NewToolErrorf(ErrSearchFailed, "web search failed: %v", searchErr)
	}

	charged := 0
	if state.UserID != "" {
		credits := billing.WebSearchCredits(deep, h.opts.Margin)
		if err := h.opts.Billing.Consume(ctx, state.UserID, credits, "web search"); err != nil {
			h.opts.Logger.Error(ctx, "failed to charge credits for web search", append(fields, "credits", credits, "err", err)...)
		} else {
			charged = credits
		}
	}
	h.opts.Logger.Info(ctx, "search completed", append(fields, "results", len(results), "credits_charged", charged)...)

	if len(results) == 0 {
		return toolstream.Outcome{Output: "No results found."}, nil
	}
	var b strings.Builder
	for _, r := range results {
		b.WriteString("- [")
		b.WriteString(r.Title)
		b.WriteString("](")
		b.WriteString(r.URL)
		b.WriteString(")")
		if r.Snippet != "" {
			b.WriteString(" - ")
			b.WriteString(r.Snippet)
		}
		b.WriteString("\n")
	}
	return toolstream.Outcome{Output: strings.TrimSuffix(b.String(), "\n")}, nil
}
