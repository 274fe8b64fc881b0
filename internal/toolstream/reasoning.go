package toolstream

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventClass is the class of a stream event as seen by ReasoningWrapper.
type EventClass int

const (
	ClassReasoning EventClass = iota
	ClassText
	ClassError
	ClassDone
)

type reasoningState int

const (
	notReasoning reasoningState = iota
	inReasoning
)

type reasoningAction int

const (
	actNone reasoningAction = iota
	actOpen
	actClose
)

type reasoningTransition struct {
	next   reasoningState
	action reasoningAction
}

// reasoningTransitions is the complete state machine. Any non-reasoning
// event closes an open think_deeply pseudo-call.
var reasoningTransitions = map[reasoningState]map[EventClass]reasoningTransition{
	notReasoning: {
		ClassReasoning: {inReasoning, actOpen},
		ClassText:      {notReasoning, actNone},
		ClassError:     {notReasoning, actNone},
		ClassDone:      {notReasoning, actNone},
	},
	inReasoning: {
		ClassReasoning: {inReasoning, actNone},
		ClassText:      {notReasoning, actClose},
		ClassError:     {notReasoning, actClose},
		ClassDone:      {notReasoning, actClose},
	},
}

// ReasoningWrapper renders model reasoning as a think_deeply tool call so
// that a display expecting tagged output can show it.
type ReasoningWrapper struct {
	open  string
	close string
	state reasoningState
}

func NewReasoningWrapper(m Markers) *ReasoningWrapper {
	return &ReasoningWrapper{
		open:  "\n\n" + m.Start + "{\n  \"" + ToolNameKey + "\": \"" + string(KindThinkDeeply) + "\",\n  \"thought\": \"",
		close: "\"\n}" + m.End + "\n\n",
	}
}

// Apply advances the state machine and returns the text to display. For
// reasoning that is the escaped reasoning text, preceded by the opening
// marker on the first event. For other classes it is the closing marker
// when reasoning was open, or "".
func (w *ReasoningWrapper) Apply(class EventClass, text string) string {
	t := reasoningTransitions[w.state][class]
	w.state = t.next

	var out strings.Builder
	switch t.action {
	case actOpen:
		out.WriteString(w.open)
	case actClose:
		out.WriteString(w.close)
	}
	if class == ClassReasoning {
		out.WriteString(escapeJSONString(text))
	}
	return out.String()
}

// Reasoning reports whether a think_deeply pseudo-call is open.
func (w *ReasoningWrapper) Reasoning() bool {
	return w.state == inReasoning
}

// escapeJSONString returns s encoded as the inside of a JSON string.
func escapeJSONString(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return ""
	}
	out := strings.TrimSuffix(buf.String(), "\n")
	return out[1 : len(out)-1]
}
