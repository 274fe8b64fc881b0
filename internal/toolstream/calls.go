package toolstream

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies a tool. Built-in kinds form a closed set; everything else
// is KindCustom.
type Kind string

const (
	KindReadFiles          Kind = "read_files"
	KindWriteFile          Kind = "write_file"
	KindStrReplace         Kind = "str_replace"
	KindRunTerminalCommand Kind = "run_terminal_command"
	KindCodeSearch         Kind = "code_search"
	KindFindFiles          Kind = "find_files"
	KindWebSearch          Kind = "web_search"
	KindThinkDeeply        Kind = "think_deeply"
	KindCreatePlan         Kind = "create_plan"
	KindSetMessages        Kind = "set_messages"
	KindEndTurn            Kind = "end_turn"
	KindCustom             Kind = "custom"
)

// BuiltinKinds lists every built-in kind in a stable order.
var BuiltinKinds = []Kind{
	KindReadFiles,
	KindWriteFile,
	KindStrReplace,
	KindRunTerminalCommand,
	KindCodeSearch,
	KindFindFiles,
	KindWebSearch,
	KindThinkDeeply,
	KindCreatePlan,
	KindSetMessages,
	KindEndTurn,
}

// IsBuiltin reports whether name is a built-in tool name.
func IsBuiltin(name string) bool {
	for _, k := range BuiltinKinds {
		if string(k) == name {
			return true
		}
	}
	return false
}

var builtinDescriptions = map[Kind]string{
	KindReadFiles:          "Read one or more files under the project root",
	KindWriteFile:          "Create or overwrite a file",
	KindStrReplace:         "Replace exact strings in a file",
	KindRunTerminalCommand: "Run an allowed shell command in the project",
	KindCodeSearch:         "Search file contents with a regular expression",
	KindFindFiles:          "Find files matching a glob pattern",
	KindWebSearch:          "Search the web",
	KindThinkDeeply:        "Record a private thought",
	KindCreatePlan:         "Write or replace the current plan",
	KindSetMessages:        "Replace the conversation history",
	KindEndTurn:            "Finish the turn",
}

// Description returns a one-line summary of a built-in kind.
func Description(kind Kind) string {
	return builtinDescriptions[kind]
}

// Input is the decoded argument record of a tool call. The set of
// implementations is closed to this package.
type Input interface {
	Kind() Kind
	isInput()
}

type ReadFiles struct {
	Paths []string `json:"paths"`
}

type WriteFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Replacement is a single find/replace inside StrReplace.
type Replacement struct {
	Old           string `json:"old"`
	New           string `json:"new"`
	AllowMultiple bool   `json:"allow_multiple,omitempty"`
}

type StrReplace struct {
	Path         string        `json:"path"`
	Replacements []Replacement `json:"replacements"`
}

type RunTerminalCommand struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	Cwd            string `json:"cwd,omitempty"`
}

type CodeSearch struct {
	Pattern    string `json:"pattern"`
	Flags      string `json:"flags,omitempty"`
	Cwd        string `json:"cwd,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type FindFiles struct {
	Pattern string `json:"pattern"`
}

type WebSearch struct {
	Query string `json:"query"`
	Depth string `json:"depth,omitempty"` // "standard" or "deep"
}

type ThinkDeeply struct {
	Thought string `json:"thought"`
}

type CreatePlan struct {
	Path string `json:"path"`
	Plan string `json:"plan"`
}

// MessageInput is a transcript entry supplied by set_messages.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type SetMessages struct {
	Messages []MessageInput `json:"messages"`
}

type EndTurn struct{}

// CustomCall invokes a tool that is not built in. Args is the body without
// the tool name key.
type CustomCall struct {
	Name string
	Args map[string]any
	// Suggestion is the closest known tool name when Name has no
	// definition.
	Suggestion string
}

// UnknownToolError reports that no handler knows call.Name. It wraps
// ErrUnknownTool.
func UnknownToolError(call *CustomCall) error {
	return &ParseError{
		Reason:     ReasonUnknownTool,
		ToolName:   call.Name,
		Suggestion: call.Suggestion,
		Err:        ErrUnknownTool,
	}
}

func (*ReadFiles) Kind() Kind          { return KindReadFiles }
func (*WriteFile) Kind() Kind          { return KindWriteFile }
func (*StrReplace) Kind() Kind         { return KindStrReplace }
func (*RunTerminalCommand) Kind() Kind { return KindRunTerminalCommand }
func (*CodeSearch) Kind() Kind         { return KindCodeSearch }
func (*FindFiles) Kind() Kind          { return KindFindFiles }
func (*WebSearch) Kind() Kind          { return KindWebSearch }
func (*ThinkDeeply) Kind() Kind        { return KindThinkDeeply }
func (*CreatePlan) Kind() Kind         { return KindCreatePlan }
func (*SetMessages) Kind() Kind        { return KindSetMessages }
func (*EndTurn) Kind() Kind            { return KindEndTurn }
func (*CustomCall) Kind() Kind         { return KindCustom }

func (*ReadFiles) isInput()          {}
func (*WriteFile) isInput()          {}
func (*StrReplace) isInput()         {}
func (*RunTerminalCommand) isInput() {}
func (*CodeSearch) isInput()         {}
func (*FindFiles) isInput()          {}
func (*WebSearch) isInput()          {}
func (*ThinkDeeply) isInput()        {}
func (*CreatePlan) isInput()         {}
func (*SetMessages) isInput()        {}
func (*EndTurn) isInput()            {}
func (*CustomCall) isInput()         {}

// newInput returns an empty input value for a built-in kind.
func newInput(k Kind) Input {
	switch k {
	case KindReadFiles:
		return &ReadFiles{}
	case KindWriteFile:
		return &WriteFile{}
	case KindStrReplace:
		return &StrReplace{}
	case KindRunTerminalCommand:
		return &RunTerminalCommand{}
	case KindCodeSearch:
		return &CodeSearch{}
	case KindFindFiles:
		return &FindFiles{}
	case KindWebSearch:
		return &WebSearch{}
	case KindThinkDeeply:
		return &ThinkDeeply{}
	case KindCreatePlan:
		return &CreatePlan{}
	case KindSetMessages:
		return &SetMessages{}
	case KindEndTurn:
		return &EndTurn{}
	}
	return nil
}

// ToolCall is a parsed tool invocation.
type ToolCall struct {
	ID    string
	Name  string
	Input Input
	Raw   json.RawMessage // arguments, without the tool name key
	Index int             // position in the stream, starting at 0
}

// CustomToolDefinition describes a tool supplied by the caller rather than
// built in. Schema is an optional JSON Schema for the arguments.
type CustomToolDefinition struct {
	Name        string         `mapstructure:"name" yaml:"name"`
	Description string         `mapstructure:"description" yaml:"description"`
	Schema      map[string]any `mapstructure:"schema" yaml:"schema,omitempty"`
}

// NewCallID returns a short random identifier for a tool call.
func NewCallID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
