// Package agent runs the model/tool loop for one user input: stream a
// turn, dispatch its inline tool calls, feed the results back and repeat
// until the model ends the turn.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/samsaffron/toolstream/internal/billing"
	"github.com/samsaffron/toolstream/internal/liveness"
	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/session"
	"github.com/samsaffron/toolstream/internal/telemetry"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

const defaultMaxSteps = 20

// StopReason says why Run returned.
type StopReason string

const (
	StopEndTurn     StopReason = "end_turn"
	StopNoToolCalls StopReason = "no_tool_calls"
	StopStreamError StopReason = "stream_error"
	StopMaxSteps    StopReason = "max_steps"
	StopNotLive     StopReason = "not_live"
	StopCanceled    StopReason = "canceled"
)

// Options configures a Runner. Provider and Registry are required.
type Options struct {
	Provider llm.Provider
	Model    string
	Registry *toolstream.Registry
	Parser   *toolstream.Parser
	Markers  toolstream.Markers

	StopSequences []string
	MaxSteps      int

	Oracle  liveness.Oracle
	Store   session.Store
	Billing billing.Consumer
	// Pricer prices turns whose provider reports no cost. Optional.
	Pricer billing.Pricer
	Margin float64

	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// Runner drives agent steps.
type Runner struct {
	opts Options
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.Provider == nil {
		return nil, errors.New("agent: provider is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("agent: registry is required")
	}
	if opts.Parser == nil {
		parser, err := toolstream.NewParser(nil)
		if err != nil {
			return nil, err
		}
		opts.Parser = parser
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = defaultMaxSteps
	}
	if opts.Oracle == nil {
		opts.Oracle = liveness.Always
	}
	if opts.Store == nil {
		opts.Store = &session.NoopStore{}
	}
	if opts.Billing == nil {
		opts.Billing = billing.NoopConsumer{}
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = telemetry.NewNoopTracer()
	}
	return &Runner{opts: opts}, nil
}

// RunParams identifies one user input and its transcript.
type RunParams struct {
	SessionID       string
	UserID          string
	UserInputID     string
	ClientSessionID string

	// History is the stored transcript; Input holds the new messages for
	// this user input and is persisted by Run.
	History []llm.Message
	Input   []llm.Message

	OnChunk func(toolstream.Chunk)
}

// RunResult summarizes a run.
type RunResult struct {
	State      *toolstream.State
	Steps      int
	Credits    int
	StopReason StopReason
	// Response is the assistant text of the last step.
	Response string
	// StreamErr is set when StopReason is StopStreamError.
	StreamErr error
}

// Run executes steps until the model ends the turn, a step makes no tool
// calls, the stream fails, MaxSteps is reached, or the input stops being
// live. A canceled ctx is returned as an error along with the partial
// result; provider failures to start a stream are returned as errors.
func (r *Runner) Run(ctx context.Context, p RunParams) (*RunResult, error) {
	if p.UserInputID == "" {
		p.UserInputID = uuid.NewString()
	}
	state := &toolstream.State{
		Messages:    append(append([]llm.Message(nil), p.History...), p.Input...),
		UserID:      p.UserID,
		SessionID:   p.SessionID,
		UserInputID: p.UserInputID,
	}
	res := &RunResult{State: state}

	ctx, span := r.opts.Tracer.Start(ctx, "agent.run",
		"session_id", p.SessionID,
		"user_input_id", p.UserInputID,
	)
	defer span.End()

	if p.SessionID != "" && len(p.Input) > 0 {
		// Persistence failures are logged by the store wrapper; the run goes on.
		_ = r.opts.Store.AppendMessages(ctx, p.SessionID, p.Input)
	}

	err := r.loop(ctx, p, res)

	state.Messages = toolstream.ExpireMessages(state.Messages, toolstream.ScopeUserPrompt)
	r.finish(ctx, p.SessionID, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.AddEvent("run finished", "stop_reason", string(res.StopReason), "steps", res.Steps)
	span.SetStatus(codes.Ok, "")
	return res, nil
}

func (r *Runner) loop(ctx context.Context, p RunParams, res *RunResult) error {
	state := res.State
	for {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCanceled
			return err
		}
		if res.Steps >= r.opts.MaxSteps {
			res.StopReason = StopMaxSteps
			r.opts.Logger.Warn(ctx, "agent stopped at max steps", append(logFields(state), "max_steps", r.opts.MaxSteps)...)
			return nil
		}
		state.AgentStepID = uuid.NewString()
		state.EndTurn = false
		res.Steps++

		out, err := r.step(ctx, p, state, res.Steps)
		if errors.Is(err, liveness.ErrNotLive) {
			res.Steps--
			res.StopReason = StopNotLive
			return nil
		}
		if out != nil {
			res.Credits += out.credits
			res.Response = out.result.FullResponse
		}
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCanceled
			}
			return err
		}

		switch {
		case out.result.StreamErr != nil:
			res.StopReason = StopStreamError
			res.StreamErr = out.result.StreamErr
			return nil
		case state.EndTurn:
			res.StopReason = StopEndTurn
			return nil
		case len(out.result.Records) == 0:
			res.StopReason = StopNoToolCalls
			return nil
		}
	}
}

type stepOutcome struct {
	result  *toolstream.Result
	credits int
}

// step streams one model turn and runs its tool calls.
func (r *Runner) step(ctx context.Context, p RunParams, state *toolstream.State, n int) (*stepOutcome, error) {
	ctx, span := r.opts.Tracer.Start(ctx, "agent.step",
		"step", n,
		"agent_step_id", state.AgentStepID,
		"session_id", state.SessionID,
		"user_input_id", state.UserInputID,
	)
	defer span.End()

	req := llm.Request{
		Model:           r.opts.Model,
		Messages:        state.Messages,
		UserID:          state.UserID,
		UserInputID:     state.UserInputID,
		ClientSessionID: p.ClientSessionID,
	}
	stream, err := llm.LiveStream(ctx, r.opts.Provider, req, r.opts.Oracle, r.opts.Logger)
	if err != nil {
		if errors.Is(err, liveness.ErrNotLive) {
			span.AddEvent("user input not live")
			return nil, err
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.opts.Logger.Error(ctx, "failed to start model stream", append(logFields(state), "err", err)...)
		return nil, fmt.Errorf("step %d: %w", n, err)
	}
	defer stream.Close()

	var reported int
	usage := &usageStream{}
	stream = llm.WithStopSequences(stream, r.opts.StopSequences)
	stream = llm.CostStream(stream, r.opts.Margin, func(credits int) { reported += credits })
	usage.inner = stream

	result, err := toolstream.ProcessStreamWithTools(ctx, toolstream.Params{
		Stream:   usage,
		Markers:  r.opts.Markers,
		Parser:   r.opts.Parser,
		Registry: r.opts.Registry,
		State:    state,
		OnChunk:  p.OnChunk,
		Logger:   r.opts.Logger,
		Tracer:   r.opts.Tracer,
	})
	if result == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := &stepOutcome{result: result, credits: r.credits(ctx, state, reported, usage.total)}
	r.charge(ctx, state, out.credits)

	span.AddEvent("step finished",
		"tool_calls", len(result.Records),
		"credits", out.credits,
		"message_id", result.MessageID,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, err
	}
	if result.StreamErr != nil {
		span.RecordError(result.StreamErr)
		span.SetStatus(codes.Error, result.StreamErr.Error())
		r.opts.Logger.Error(ctx, "model stream failed", append(logFields(state), "err", result.StreamErr)...)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	if state.SessionID != "" {
		_ = r.opts.Store.AppendMessages(ctx, state.SessionID, result.Messages)
		_ = r.opts.Store.RecordTurn(ctx, state.SessionID, session.Turn{
			MessageID:    result.MessageID,
			Credits:      out.credits,
			ToolCalls:    len(result.Records),
			InputTokens:  usage.total.InputTokens,
			OutputTokens: usage.total.OutputTokens,
		})
	}
	return out, nil
}

// credits returns the credits for a turn. A reported provider cost wins;
// otherwise the token usage is priced when a Pricer is configured.
func (r *Runner) credits(ctx context.Context, state *toolstream.State, reported int, use llm.Usage) int {
	if reported > 0 || r.opts.Pricer == nil || use.InputTokens+use.OutputTokens == 0 {
		return reported
	}
	cost, err := r.opts.Pricer.Cost(ctx, r.opts.Model, billing.TokenCounts{
		Input:     use.InputTokens,
		Output:    use.OutputTokens,
		CacheRead: use.CachedInputTokens,
	})
	if err != nil {
		r.opts.Logger.Warn(ctx, "failed to price model usage", append(logFields(state), "model", r.opts.Model, "err", err)...)
		return 0
	}
	return billing.Credits(cost, r.opts.Margin)
}

func (r *Runner) charge(ctx context.Context, state *toolstream.State, credits int) {
	if credits <= 0 || state.UserID == "" {
		return
	}
	if err := r.opts.Billing.Consume(ctx, state.UserID, credits, "model turn"); err != nil {
		r.opts.Logger.Error(ctx, "failed to charge credits for model turn", append(logFields(state), "credits", credits, "err", err)...)
	}
}

func (r *Runner) finish(ctx context.Context, sessionID string, res *RunResult, err error) {
	if sessionID == "" {
		return
	}
	status := session.StatusComplete
	switch {
	case res.StopReason == StopCanceled || res.StopReason == StopNotLive:
		status = session.StatusInterrupted
	case err != nil || res.StopReason == StopStreamError:
		status = session.StatusError
	}
	// Use a fresh context so a canceled run still records its status.
	_ = r.opts.Store.UpdateStatus(context.WithoutCancel(ctx), sessionID, status)
}

func logFields(state *toolstream.State) []any {
	return []any{
		"agent_step_id", state.AgentStepID,
		"session_id", state.SessionID,
		"user_input_id", state.UserInputID,
	}
}

// usageStream totals the usage events it passes through.
type usageStream struct {
	inner llm.Stream
	total llm.Usage
}

func (s *usageStream) Recv() (llm.Event, error) {
	ev, err := s.inner.Recv()
	if err == nil && ev.Type == llm.EventUsage && ev.Use != nil {
		s.total.InputTokens += ev.Use.InputTokens
		s.total.OutputTokens += ev.Use.OutputTokens
		s.total.CachedInputTokens += ev.Use.CachedInputTokens
		s.total.CostDollars += ev.Use.CostDollars
	}
	return ev, err
}

func (s *usageStream) Close() error { return s.inner.Close() }
