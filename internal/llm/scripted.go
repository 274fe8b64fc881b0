package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ScriptChunk is one recorded stream event. Exactly one field is set.
type ScriptChunk struct {
	Text      string `yaml:"text,omitempty"`
	Reasoning string `yaml:"reasoning,omitempty"`
	Error     string `yaml:"error,omitempty"`
}

// ScriptUsage is the usage reported at the end of a turn.
type ScriptUsage struct {
	InputTokens  int     `yaml:"input_tokens"`
	OutputTokens int     `yaml:"output_tokens"`
	CostDollars  float64 `yaml:"cost_dollars"`
}

// ScriptTurn is the output of one Stream call.
type ScriptTurn struct {
	MessageID string        `yaml:"message_id"`
	Chunks    []ScriptChunk `yaml:"chunks"`
	Usage     *ScriptUsage  `yaml:"usage,omitempty"`
	Delay     time.Duration `yaml:"delay,omitempty"` // before each chunk
}

// Script is a recorded conversation replayed by ScriptedProvider.
type Script struct {
	Name  string       `yaml:"name"`
	Speed string       `yaml:"speed,omitempty"` // fast, normal, slow, realtime, burst
	Turns []ScriptTurn `yaml:"turns"`
}

// replayPreset controls how text chunks are re-split during replay.
type replayPreset struct {
	ChunkSize int
	Delay     time.Duration
}

// presets maps speed names to their streaming configurations. An empty
// speed replays chunks exactly as recorded.
var presets = map[string]replayPreset{
	"fast":     {ChunkSize: 50, Delay: 5 * time.Millisecond},
	"normal":   {ChunkSize: 20, Delay: 20 * time.Millisecond},
	"slow":     {ChunkSize: 10, Delay: 50 * time.Millisecond},
	"realtime": {ChunkSize: 5, Delay: 30 * time.Millisecond},
	"burst":    {ChunkSize: 200, Delay: 100 * time.Millisecond},
}

// ErrScriptExhausted is returned when Stream is called after the last turn.
var ErrScriptExhausted = errors.New("script has no more turns")

// ScriptedProvider replays recorded turns, one per Stream call.
type ScriptedProvider struct {
	script Script
	preset replayPreset

	mu       sync.Mutex
	next     int
	Requests []Request
}

// LoadScript reads a YAML script from path.
func LoadScript(path string) (Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

// ParseScript decodes a YAML script.
func ParseScript(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, fmt.Errorf("parse script: %w", err)
	}
	if len(s.Turns) == 0 {
		return Script{}, fmt.Errorf("parse script: no turns")
	}
	if s.Speed != "" {
		if _, ok := presets[s.Speed]; !ok {
			return Script{}, fmt.Errorf("parse script: unknown speed %q", s.Speed)
		}
	}
	return s, nil
}

func NewScriptedProvider(script Script) *ScriptedProvider {
	return &ScriptedProvider{script: script, preset: presets[script.Speed]}
}

// NewTextScript builds a script whose turns each stream one text chunk.
func NewTextScript(turns ...string) Script {
	s := Script{Name: "inline"}
	for i, text := range turns {
		s.Turns = append(s.Turns, ScriptTurn{
			MessageID: fmt.Sprintf("msg-%d", i+1),
			Chunks:    []ScriptChunk{{Text: text}},
		})
	}
	return s
}

func (p *ScriptedProvider) Name() string {
	if p.script.Name == "" {
		return "scripted"
	}
	return "scripted:" + p.script.Name
}

// Remaining reports how many turns are left.
func (p *ScriptedProvider) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.script.Turns) - p.next
}

// Reset rewinds the script to the first turn.
func (p *ScriptedProvider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = 0
	p.Requests = nil
}

func (p *ScriptedProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	if p.next >= len(p.script.Turns) {
		p.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	turn := p.script.Turns[p.next]
	p.next++
	p.mu.Unlock()

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		for _, chunk := range turn.Chunks {
			if err := p.wait(ctx, turn.Delay); err != nil {
				return err
			}
			switch {
			case chunk.Error != "":
				return errors.New(chunk.Error)
			case chunk.Reasoning != "":
				if err := send(ctx, events, Event{Type: EventReasoningDelta, Text: chunk.Reasoning}); err != nil {
					return err
				}
			default:
				if err := p.streamText(ctx, events, chunk.Text); err != nil {
					return err
				}
			}
		}
		if turn.Usage != nil {
			if err := send(ctx, events, Event{Type: EventUsage, Use: &Usage{
				InputTokens:  turn.Usage.InputTokens,
				OutputTokens: turn.Usage.OutputTokens,
				CostDollars:  turn.Usage.CostDollars,
			}}); err != nil {
				return err
			}
		}
		return send(ctx, events, Event{Type: EventDone, MessageID: turn.MessageID})
	}), nil
}

func (p *ScriptedProvider) streamText(ctx context.Context, events chan<- Event, text string) error {
	if p.preset.ChunkSize == 0 {
		if text == "" {
			return nil
		}
		return send(ctx, events, Event{Type: EventTextDelta, Text: text})
	}
	chunks := chunkText(text, p.preset.ChunkSize)
	for i, c := range chunks {
		if err := send(ctx, events, Event{Type: EventTextDelta, Text: c}); err != nil {
			return err
		}
		if i < len(chunks)-1 {
			if err := p.wait(ctx, p.preset.Delay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *ScriptedProvider) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// chunkText splits text into pieces of at most size bytes without
// splitting a UTF-8 sequence.
func chunkText(text string, size int) []string {
	var out []string
	for len(text) > 0 {
		end := size
		if end >= len(text) {
			out = append(out, text)
			break
		}
		for end > 0 && !isRuneStart(text[end]) {
			end--
		}
		if end == 0 {
			end = size
		}
		out = append(out, text[:end])
		text = text[end:]
	}
	return out
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }
