package toolstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/telemetry"
)

// ChunkKind classifies a display chunk.
type ChunkKind string

const (
	ChunkText       ChunkKind = "text"
	ChunkReasoning  ChunkKind = "reasoning"
	ChunkError      ChunkKind = "error"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
)

// Chunk is one piece of live output for a display.
type Chunk struct {
	Kind   ChunkKind
	Text   string
	Err    error
	Call   *ToolCall // ChunkToolCall
	Record *Record   // ChunkToolResult
}

// Params configures ProcessStreamWithTools.
type Params struct {
	Stream   llm.Stream
	Markers  Markers
	Parser   *Parser
	Registry *Registry
	State    *State

	// OnChunk receives live output. Calls are serialized.
	OnChunk func(Chunk)

	// PriorResponse is assistant text already produced earlier in the step.
	PriorResponse string

	Logger telemetry.Logger
	Tracer telemetry.Tracer
}

// Result is the outcome of one streamed turn.
type Result struct {
	ToolCalls    []ToolCall
	ToolResults  []llm.ToolResult
	Records      []Record
	State        *State
	FullResponse string
	// Messages are the messages this turn appended to State.Messages.
	Messages  []llm.Message
	MessageID string
	// StreamErr is the upstream error that ended the stream early, if any.
	StreamErr error
}

// ProcessStreamWithTools consumes a model stream, displays text and
// reasoning as it arrives, dispatches inline tool calls and, once the
// stream has ended and every call has committed, appends the assistant
// text and the tool results to the state's messages.
//
// The returned error is non-nil only when ctx ends before the tool calls
// commit; the partial Result is still returned.
func ProcessStreamWithTools(ctx context.Context, p Params) (*Result, error) {
	if p.Markers == (Markers{}) {
		p.Markers = DefaultMarkers
	}
	if err := p.Markers.Validate(); err != nil {
		return nil, err
	}
	if p.Parser == nil {
		parser, err := NewParser(nil)
		if err != nil {
			return nil, err
		}
		p.Parser = parser
	}
	if p.State == nil {
		p.State = &State{}
	}
	if p.Logger == nil {
		p.Logger = telemetry.NewNoopLogger()
	}
	if p.Tracer == nil {
		p.Tracer = telemetry.NewNoopTracer()
	}

	var chunkMu sync.Mutex
	emit := func(c Chunk) {
		if p.OnChunk == nil {
			return
		}
		chunkMu.Lock()
		defer chunkMu.Unlock()
		p.OnChunk(c)
	}

	streamDone := make(chan struct{})
	var closeOnce sync.Once
	signalDone := func() { closeOnce.Do(func() { close(streamDone) }) }
	defer signalDone()

	dispatcher := NewDispatcher(DispatcherOptions{
		Registry: p.Registry,
		State:    p.State,
		Root:     streamDone,
		Logger:   p.Logger,
		Tracer:   p.Tracer,
		OnCommit: func(r Record) { emit(Chunk{Kind: ChunkToolResult, Record: &r}) },
	})

	result := &Result{State: p.State}
	var response strings.Builder
	response.WriteString(p.PriorResponse)

	index := 0
	scanner := NewScanner(p.Markers)
	scanner.OnText = func(text string) {
		response.WriteString(text)
		emit(Chunk{Kind: ChunkText, Text: text})
	}
	scanner.OnSegment = func(seg Segment) {
		// The transcript keeps the call as the model wrote it.
		response.WriteString(seg.Raw)
		call, err := p.Parser.Parse(seg.Body, index)
		index++
		if err != nil {
			emit(Chunk{Kind: ChunkError, Err: err})
			dispatcher.Reject(ctx, err, seg.Body)
			return
		}
		result.ToolCalls = append(result.ToolCalls, call)
		emit(Chunk{Kind: ChunkToolCall, Call: &call})
		dispatcher.Dispatch(ctx, call)
	}

	wrapper := NewReasoningWrapper(p.Markers)
	reasoning := func(class EventClass, text string) {
		if out := wrapper.Apply(class, text); out != "" {
			emit(Chunk{Kind: ChunkReasoning, Text: out})
		}
	}

loop:
	for {
		ev, err := p.Stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			reasoning(ClassError, "")
			result.StreamErr = err
			emit(Chunk{Kind: ChunkError, Err: err})
			break
		}
		switch ev.Type {
		case llm.EventReasoningDelta:
			reasoning(ClassReasoning, ev.Text)
		case llm.EventTextDelta:
			reasoning(ClassText, ev.Text)
			scanner.Feed(ev.Text)
		case llm.EventError:
			reasoning(ClassError, "")
			result.StreamErr = ev.Err
			if result.StreamErr == nil {
				result.StreamErr = errors.New("stream error")
			}
			emit(Chunk{Kind: ChunkError, Err: result.StreamErr})
			break loop
		case llm.EventDone:
			result.MessageID = ev.MessageID
			break loop
		case llm.EventRetry:
			p.Logger.Warn(ctx, "retrying model stream",
				"attempt", ev.RetryAttempt,
				"max_attempts", ev.RetryMaxAttempts,
				"wait_secs", ev.RetryWaitSecs,
			)
		}
	}
	scanner.Flush()
	reasoning(ClassDone, "")

	signalDone()
	records, waitErr := dispatcher.Wait(ctx)

	result.Records = records
	result.FullResponse = response.String()
	result.ToolResults = make([]llm.ToolResult, 0, len(records))
	for _, r := range records {
		result.ToolResults = append(result.ToolResults, toolResult(r))
	}

	// Wait has returned, so no update is running and State is ours again.
	var added []llm.Message
	if result.FullResponse != "" {
		added = append(added, llm.AssistantText(result.FullResponse))
	}
	for _, tr := range result.ToolResults {
		added = append(added, llm.Message{
			Role:  llm.RoleTool,
			Parts: []llm.Part{{Type: llm.PartToolResult, ToolResult: &tr}},
		})
	}
	if waitErr == nil {
		p.State.Messages = append(ExpireMessages(p.State.Messages, ScopeAgentStep), added...)
		result.Messages = added
	}
	return result, waitErr
}

// toolResult renders a record as the message content the model sees next.
func toolResult(r Record) llm.ToolResult {
	tr := llm.ToolResult{ID: r.Call.ID, Name: r.Call.Name}
	switch {
	case r.Err != nil:
		tr.IsError = true
		tr.Content = errorContent(r.Err.Message)
	case r.Output == nil:
		tr.Content = ""
	default:
		tr.Content = outputContent(r.Output)
	}
	return tr
}

func errorContent(msg string) string {
	data, err := json.Marshal(map[string]string{"errorMessage": msg})
	if err != nil {
		return msg
	}
	return string(data)
}

func outputContent(v any) string {
	switch out := v.(type) {
	case string:
		return out
	case []byte:
		return string(out)
	case fmt.Stringer:
		return out.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
