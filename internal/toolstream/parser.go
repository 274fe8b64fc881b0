package toolstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var (
	// ErrMalformedBody is returned when a tagged body is not a JSON object.
	ErrMalformedBody = errors.New("malformed tool call body")
	// ErrUnknownTool is returned when no handler serves a tool name.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidInput is returned when arguments fail schema validation.
	ErrInvalidInput = errors.New("invalid tool input")
)

// ParseReason classifies a ParseError.
type ParseReason string

const (
	ReasonMalformed    ParseReason = "malformed"
	ReasonMissingName  ParseReason = "missing_name"
	ReasonUnknownTool  ParseReason = "unknown_tool"
	ReasonInvalidInput ParseReason = "invalid_input"
)

// ParseError describes a tagged body that could not become a ToolCall.
type ParseError struct {
	Reason     ParseReason
	ToolName   string
	Body       string
	Suggestion string // closest known tool name, for unknown tools
	Err        error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	switch e.Reason {
	case ReasonMissingName:
		fmt.Fprintf(&b, "tool call is missing the %q key", ToolNameKey)
	case ReasonUnknownTool:
		fmt.Fprintf(&b, "tool %q not found", e.ToolName)
		if e.Suggestion != "" {
			fmt.Fprintf(&b, "; did you mean %q?", e.Suggestion)
		}
	case ReasonInvalidInput:
		fmt.Fprintf(&b, "invalid input for tool %q", e.ToolName)
	default:
		b.WriteString("could not parse tool call")
	}
	if e.Err != nil && e.Reason != ReasonUnknownTool {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parser turns tagged bodies into ToolCalls. A Parser is immutable after
// construction and safe for concurrent use.
type Parser struct {
	custom  map[string]CustomToolDefinition
	schemas map[string]*jsonschema.Schema
	names   []string
}

// NewParser compiles the argument schemas for the built-in kinds and for any
// custom definitions that carry one.
func NewParser(custom map[string]CustomToolDefinition) (*Parser, error) {
	p := &Parser{
		custom:  make(map[string]CustomToolDefinition, len(custom)),
		schemas: make(map[string]*jsonschema.Schema),
	}

	c := jsonschema.NewCompiler()
	for kind, doc := range builtinSchemas {
		if err := addSchema(c, string(kind), []byte(doc)); err != nil {
			return nil, err
		}
	}
	for name, def := range custom {
		if IsBuiltin(name) {
			return nil, fmt.Errorf("custom tool %q shadows a built-in tool", name)
		}
		if def.Name == "" {
			def.Name = name
		}
		p.custom[name] = def
		if len(def.Schema) == 0 {
			continue
		}
		raw, err := json.Marshal(def.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
		}
		if err := addSchema(c, name, raw); err != nil {
			return nil, err
		}
	}

	for kind := range builtinSchemas {
		if err := p.compile(c, string(kind)); err != nil {
			return nil, err
		}
	}
	for name, def := range p.custom {
		if len(def.Schema) > 0 {
			if err := p.compile(c, name); err != nil {
				return nil, err
			}
		}
	}

	for _, k := range BuiltinKinds {
		p.names = append(p.names, string(k))
	}
	customNames := make([]string, 0, len(p.custom))
	for name := range p.custom {
		customNames = append(customNames, name)
	}
	sort.Strings(customNames)
	p.names = append(p.names, customNames...)
	return p, nil
}

func addSchema(c *jsonschema.Compiler, name string, raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("unmarshal schema for %s: %w", name, err)
	}
	if err := c.AddResource(schemaURL(name), doc); err != nil {
		return fmt.Errorf("add schema resource for %s: %w", name, err)
	}
	return nil
}

func (p *Parser) compile(c *jsonschema.Compiler, name string) error {
	schema, err := c.Compile(schemaURL(name))
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", name, err)
	}
	p.schemas[name] = schema
	return nil
}

func schemaURL(name string) string {
	return name + ".json"
}

// ToolNames returns every name the parser accepts, built-ins first.
func (p *Parser) ToolNames() []string {
	return append([]string(nil), p.names...)
}

// Custom returns the custom definition for name, if any.
func (p *Parser) Custom(name string) (CustomToolDefinition, bool) {
	def, ok := p.custom[name]
	return def, ok
}

// Parse decodes a tagged body. index is the call's position in the stream.
func (p *Parser) Parse(body string, index int) (ToolCall, error) {
	body = strings.TrimSpace(body)

	decoded, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return ToolCall{}, &ParseError{Reason: ReasonMalformed, Body: body, Err: fmt.Errorf("%w: %v", ErrMalformedBody, err)}
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return ToolCall{}, &ParseError{Reason: ReasonMalformed, Body: body, Err: fmt.Errorf("%w: expected a JSON object", ErrMalformedBody)}
	}

	name, _ := obj[ToolNameKey].(string)
	if name == "" {
		return ToolCall{}, &ParseError{Reason: ReasonMissingName, Body: body, Err: ErrMalformedBody}
	}
	delete(obj, ToolNameKey)

	if schema := p.schemas[name]; schema != nil {
		if err := schema.Validate(obj); err != nil {
			return ToolCall{}, &ParseError{Reason: ReasonInvalidInput, ToolName: name, Body: body, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
		}
	}

	raw, err := json.Marshal(obj)
	if err != nil {
		return ToolCall{}, &ParseError{Reason: ReasonMalformed, ToolName: name, Body: body, Err: err}
	}
	call := ToolCall{ID: NewCallID(), Name: name, Raw: raw, Index: index}

	if IsBuiltin(name) {
		input := newInput(Kind(name))
		if err := json.Unmarshal(raw, input); err != nil {
			return ToolCall{}, &ParseError{Reason: ReasonInvalidInput, ToolName: name, Body: body, Err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
		}
		call.Input = input
		return call, nil
	}

	// Names without a definition still go to the custom handler, which
	// decides whether anything serves them.
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return ToolCall{}, &ParseError{Reason: ReasonInvalidInput, ToolName: name, Body: body, Err: err}
	}
	custom := &CustomCall{Name: name, Args: args}
	if _, ok := p.custom[name]; !ok {
		custom.Suggestion = p.suggest(name)
	}
	call.Input = custom
	return call, nil
}

// suggest returns the known tool name closest to name, or "".
func (p *Parser) suggest(name string) string {
	if matches := fuzzy.Find(name, p.names); len(matches) > 0 {
		return matches[0].Str
	}
	// The name may contain a known one, as in "read_files_now".
	best, bestScore := "", 0
	for _, candidate := range p.names {
		for _, m := range fuzzy.Find(candidate, []string{name}) {
			if best == "" || m.Score > bestScore {
				best, bestScore = candidate, m.Score
			}
		}
	}
	return best
}
