package toolstream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser(map[string]CustomToolDefinition{
		"deploy": {
			Description: "Deploy a service",
			Schema: map[string]any{
				"type":     "object",
				"required": []any{"service"},
				"properties": map[string]any{
					"service": map[string]any{"type": "string"},
				},
			},
		},
		"ping": {Description: "No schema"},
	})
	require.NoError(t, err)
	return p
}

func TestParseBuiltins(t *testing.T) {
	p := newTestParser(t)
	cases := []struct {
		body string
		want Input
	}{
		{`{"tool_name": "read_files", "paths": ["a.go", "b.go"]}`, &ReadFiles{Paths: []string{"a.go", "b.go"}}},
		{`{"tool_name": "write_file", "path": "x.txt", "content": "hi"}`, &WriteFile{Path: "x.txt", Content: "hi"}},
		{`{"tool_name": "str_replace", "path": "x.txt", "replacements": [{"old": "a", "new": "b", "allow_multiple": true}]}`,
			&StrReplace{Path: "x.txt", Replacements: []Replacement{{Old: "a", New: "b", AllowMultiple: true}}}},
		{`{"tool_name": "run_terminal_command", "command": "ls", "timeout_seconds": 5}`, &RunTerminalCommand{Command: "ls", TimeoutSeconds: 5}},
		{`{"tool_name": "code_search", "pattern": "func main", "max_results": 3}`, &CodeSearch{Pattern: "func main", MaxResults: 3}},
		{`{"tool_name": "find_files", "pattern": "**/*.go"}`, &FindFiles{Pattern: "**/*.go"}},
		{`{"tool_name": "web_search", "query": "go generics", "depth": "deep"}`, &WebSearch{Query: "go generics", Depth: "deep"}},
		{`{"tool_name": "think_deeply", "thought": "hmm"}`, &ThinkDeeply{Thought: "hmm"}},
		{`{"tool_name": "create_plan", "path": "plan.md", "plan": "1. do it"}`, &CreatePlan{Path: "plan.md", Plan: "1. do it"}},
		{`{"tool_name": "set_messages", "messages": [{"role": "user", "content": "hi"}]}`, &SetMessages{Messages: []MessageInput{{Role: "user", Content: "hi"}}}},
		{`{"tool_name": "end_turn"}`, &EndTurn{}},
	}
	for i, tc := range cases {
		call, err := p.Parse("\n"+tc.body+"\n", i)
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.want, call.Input)
		assert.Equal(t, string(tc.want.Kind()), call.Name)
		assert.Equal(t, i, call.Index)
		assert.Len(t, call.ID, 16)
		assert.NotContains(t, string(call.Raw), ToolNameKey)
	}
}

func TestParseCustom(t *testing.T) {
	p := newTestParser(t)

	call, err := p.Parse(`{"tool_name": "deploy", "service": "api", "dry_run": true}`, 0)
	require.NoError(t, err)
	custom, ok := call.Input.(*CustomCall)
	require.True(t, ok)
	assert.Equal(t, "deploy", custom.Name)
	assert.Equal(t, map[string]any{"service": "api", "dry_run": true}, custom.Args)
	assert.Equal(t, KindCustom, call.Input.Kind())

	call, err = p.Parse(`{"tool_name": "ping"}`, 1)
	require.NoError(t, err)
	assert.Equal(t, &CustomCall{Name: "ping", Args: map[string]any{}}, call.Input)

	_, err = p.Parse(`{"tool_name": "deploy"}`, 2)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonInvalidInput, pe.Reason)
}

func TestParseErrors(t *testing.T) {
	p := newTestParser(t)
	cases := []struct {
		name     string
		body     string
		reason   ParseReason
		sentinel error
	}{
		{"not json", `{"tool_name": "read_files"`, ReasonMalformed, ErrMalformedBody},
		{"array", `["read_files"]`, ReasonMalformed, ErrMalformedBody},
		{"empty", ``, ReasonMalformed, ErrMalformedBody},
		{"missing name", `{"paths": ["a"]}`, ReasonMissingName, ErrMalformedBody},
		{"non-string name", `{"tool_name": 3}`, ReasonMissingName, ErrMalformedBody},
		{"schema failure", `{"tool_name": "read_files", "paths": []}`, ReasonInvalidInput, ErrInvalidInput},
		{"wrong type", `{"tool_name": "write_file", "path": "a", "content": 5}`, ReasonInvalidInput, ErrInvalidInput},
		{"bad enum", `{"tool_name": "web_search", "query": "q", "depth": "extreme"}`, ReasonInvalidInput, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := p.Parse(tc.body, 0)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.reason, pe.Reason)
			assert.True(t, errors.Is(err, tc.sentinel), "errors.Is(%v, %v)", err, tc.sentinel)
		})
	}
}

func TestParseUnknownToolRoutesToCustom(t *testing.T) {
	p := newTestParser(t)

	call, err := p.Parse(`{"tool_name": "read_file", "paths": ["a"]}`, 0)
	require.NoError(t, err)
	custom, ok := call.Input.(*CustomCall)
	require.True(t, ok, "input is %T", call.Input)
	assert.Equal(t, "read_file", custom.Name)
	assert.Equal(t, []any{"a"}, custom.Args["paths"])
	assert.Equal(t, "read_files", custom.Suggestion)

	err = UnknownToolError(custom)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), `did you mean "read_files"?`)

	call, err = p.Parse(`{"tool_name": "deploy_now"}`, 0)
	require.NoError(t, err)
	assert.Equal(t, "deploy", call.Input.(*CustomCall).Suggestion)

	call, err = p.Parse(`{"tool_name": "zzzz"}`, 0)
	require.NoError(t, err)
	custom = call.Input.(*CustomCall)
	assert.Empty(t, custom.Suggestion)
	assert.Equal(t, `tool "zzzz" not found`, UnknownToolError(custom).Error())
}

func TestParseDefinedCustomToolHasNoSuggestion(t *testing.T) {
	p := newTestParser(t)
	call, err := p.Parse(`{"tool_name": "deploy", "service": "api"}`, 0)
	require.NoError(t, err)
	assert.Empty(t, call.Input.(*CustomCall).Suggestion)
}

func TestNewParserRejectsShadowing(t *testing.T) {
	_, err := NewParser(map[string]CustomToolDefinition{"read_files": {}})
	assert.ErrorContains(t, err, "shadows a built-in")

	_, err = NewParser(map[string]CustomToolDefinition{"bad": {Schema: map[string]any{"type": 12}}})
	assert.Error(t, err)
}

func TestToolNames(t *testing.T) {
	p := newTestParser(t)
	names := p.ToolNames()
	require.Len(t, names, len(BuiltinKinds)+2)
	assert.Equal(t, "read_files", names[0])
	assert.Equal(t, []string{"deploy", "ping"}, names[len(names)-2:])

	def, ok := p.Custom("deploy")
	require.True(t, ok)
	assert.Equal(t, "deploy", def.Name)
}

func TestBuiltinDescriptions(t *testing.T) {
	for _, kind := range BuiltinKinds {
		assert.NotEmpty(t, Description(kind), kind)
	}
	assert.Empty(t, Description(KindCustom))
}
