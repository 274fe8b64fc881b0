package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/samsaffron/toolstream/internal/config"
	"github.com/samsaffron/toolstream/internal/mcp"
	"github.com/samsaffron/toolstream/internal/telemetry"
	"github.com/samsaffron/toolstream/internal/toolstream"
)

// validCustomToolNameRE matches valid custom tool names.
var validCustomToolNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// MCPCaller calls tools on MCP servers. *mcp.Manager implements it.
type MCPCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any) (string, error)
	CallQualified(ctx context.Context, fullName string, args map[string]any) (string, error)
}

// CustomDispatcher runs tools that are not built in. Configured tools are
// backed by a script or by a tool on an MCP server; tools discovered on MCP
// servers are called by their qualified "<server>__<tool>" name.
type CustomDispatcher struct {
	root   string
	tools  map[string]config.CustomToolConfig
	mcp    MCPCaller
	limits OutputLimits
	logger telemetry.Logger
}

// NewCustomDispatcher validates the configured tools. caller may be nil
// when no MCP servers are configured.
func NewCustomDispatcher(root string, defs []config.CustomToolConfig, caller MCPCaller, logger telemetry.Logger) (*CustomDispatcher, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	d := &CustomDispatcher{
		root:   abs,
		tools:  make(map[string]config.CustomToolConfig, len(defs)),
		mcp:    caller,
		limits: DefaultOutputLimits(),
		logger: logger,
	}
	for _, def := range defs {
		if !validCustomToolNameRE.MatchString(def.Name) {
			return nil, fmt.Errorf("custom tool %q: name must match ^[a-z][a-z0-9_]*$", def.Name)
		}
		if toolstream.IsBuiltin(def.Name) {
			return nil, fmt.Errorf("custom tool %q collides with a built-in tool name", def.Name)
		}
		if (def.Command == "") == (def.MCP == "") {
			return nil, fmt.Errorf("custom tool %q: set exactly one of command and mcp", def.Name)
		}
		if def.MCP != "" && caller == nil {
			return nil, fmt.Errorf("custom tool %q: no MCP servers configured", def.Name)
		}
		d.tools[def.Name] = def
	}
	return d, nil
}

// Definitions returns the parser definitions of the configured tools.
func (d *CustomDispatcher) Definitions() []toolstream.CustomToolDefinition {
	defs := make([]toolstream.CustomToolDefinition, 0, len(d.tools))
	for _, t := range d.tools {
		defs = append(defs, toolstream.CustomToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      t.Schema,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// HandleCustom implements toolstream.CustomHandler.
func (d *CustomDispatcher) HandleCustom(ctx context.Context, inv *toolstream.Invocation, call *toolstream.CustomCall) (toolstream.Outcome, error) {
	// Custom tools may have side effects, so they run in call order.
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}

	def, ok := d.tools[call.Name]
	switch {
	case ok && def.Command != "":
		out, err := d.runScript(ctx, inv, def, call.Args)
		return toolstream.Outcome{Output: out}, err
	case ok:
		out, err := d.mcp.CallTool(ctx, def.MCP, def.Name, call.Args)
		if err != nil {
			return toolstream.Outcome{}, NewToolError(ErrExecutionFailed, err.Error())
		}
		return toolstream.Outcome{Output: out}, nil
	case d.mcp != nil:
		if server, _ := mcp.ParseToolName(call.Name); server != "" {
			out, err := d.mcp.CallQualified(ctx, call.Name, call.Args)
			if err != nil {
				return toolstream.Outcome{}, NewToolError(ErrExecutionFailed, err.Error())
			}
			return toolstream.Outcome{Output: out}, nil
		}
	}
	return toolstream.Outcome{}, toolstream.UnknownToolError(call)
}

// runScript runs the tool command in the project root with the arguments
// as JSON on stdin. Stdout is the tool output; a non-zero exit is an error
// carrying stderr.
func (d *CustomDispatcher) runScript(ctx context.Context, inv *toolstream.Invocation, def config.CustomToolConfig, args map[string]any) (string, error) {
	timeout := defaultShellTimeout
	if def.Timeout > 0 {
		timeout = time.Duration(def.Timeout) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	if args == nil {
		args = map[string]any{}
	}
	stdin, err := json.Marshal(args)
	if err != nil {
		return "", NewToolErrorf(ErrInvalidParams, "encode arguments: %v", err)
	}

	argv := []string{"sh", "-c", def.Command}
	if len(def.Args) > 0 {
		argv = append([]string{def.Command}, def.Args...)
	}

	env := os.Environ()
	env = append(env,
		"TOOLSTREAM_TOOL_NAME="+def.Name,
		"TOOLSTREAM_TOOL_CALL_ID="+inv.Call.ID,
		"TOOLSTREAM_PROJECT_ROOT="+d.root,
		"TOOLSTREAM_SESSION_ID="+inv.State.SessionID,
		"TOOLSTREAM_USER_INPUT_ID="+inv.State.UserInputID,
	)
	for k, v := range def.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	result, err := runCommand(ctx, argv, d.root, env, stdin, timeout)
	if err != nil {
		return "", err
	}
	if result.TimedOut {
		return "", NewToolErrorf(ErrTimeout, "%s timed out after %s", def.Name, timeout)
	}
	if result.ExitCode != 0 {
		msg := strings.TrimSpace(result.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(result.Stdout)
		}
		d.logger.Warn(ctx, "custom tool failed", "tool_name", def.Name, "tool_call_id", inv.Call.ID, "exit_code", result.ExitCode)
		return "", NewToolErrorf(ErrExecutionFailed, "%s exited with status %d: %s", def.Name, result.ExitCode, msg)
	}

	out := result.Stdout
	if int64(len(out)) > d.limits.MaxBytes {
		out = out[:d.limits.MaxBytes] + "\n\n[Output truncated due to size limit]"
	}
	return strings.TrimRight(out, "\n"), nil
}
