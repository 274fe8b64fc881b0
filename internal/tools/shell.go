package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/x/ansi"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

func (h *handlers) runTerminalCommand(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.RunTerminalCommand)
	command := strings.TrimSpace(in.Command)
	if command == "" {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "command is required")
	}
	if !h.allow.Allows(command) {
		h.opts.Logger.Warn(ctx, "shell command denied", "command", truncateCommand(command), "tool_call_id", inv.Call.ID)
		return toolstream.Outcome{}, NewToolErrorf(ErrPermissionDenied, "command not allowed: %s", truncateCommand(command))
	}

	workDir := h.opts.Root
	if in.Cwd != "" {
		dir, err := resolvePath(h.opts.Root, in.Cwd)
		if err != nil {
			return toolstream.Outcome{}, err
		}
		workDir = dir
	}

	timeout := h.opts.ShellTimeout
	if in.TimeoutSeconds > 0 {
		timeout = time.Duration(in.TimeoutSeconds) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	// Commands may depend on files written by earlier calls.
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}

	result, err := runCommand(ctx, []string{"sh", "-c", command}, workDir, nil, nil, timeout)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	return toolstream.Outcome{Output: formatShellResult(result, h.opts.Limits)}, nil
}

// runCommand runs argv with output ANSI-stripped. A non-zero exit status
// or a timeout is reported in the result, not as an error.
func runCommand(ctx context.Context, argv []string, dir string, env []string, stdin []byte, timeout time.Duration) (ShellResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	// Children that inherit the pipes must not hold Run open past the deadline.
	cmd.WaitDelay = time.Second
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ShellResult{
		Stdout: ansi.Strip(stdout.String()),
		Stderr: ansi.Strip(stderr.String()),
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		return result, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, NewToolErrorf(ErrExecutionFailed, "command error: %v", err)
	}
	return result, nil
}

// formatShellResult formats the shell result for the model.
func formatShellResult(result ShellResult, limits OutputLimits) string {
	var sb strings.Builder

	stdout := result.Stdout
	stderr := result.Stderr
	truncated := false

	if int64(len(stdout)) > limits.MaxBytes {
		stdout = stdout[:limits.MaxBytes]
		truncated = true
	}
	if int64(len(stderr)) > limits.MaxBytes {
		stderr = stderr[:limits.MaxBytes]
		truncated = true
	}

	if result.TimedOut {
		sb.WriteString("[Command timed out]\n\n")
	}

	if stdout != "" {
		sb.WriteString("stdout:\n")
		sb.WriteString(stdout)
		if !strings.HasSuffix(stdout, "\n") {
			sb.WriteString("\n")
		}
	}

	if stderr != "" {
		if stdout != "" {
			sb.WriteString("\n")
		}
		sb.WriteString("stderr:\n")
		sb.WriteString(stderr)
		if !strings.HasSuffix(stderr, "\n") {
			sb.WriteString("\n")
		}
	}

	fmt.Fprintf(&sb, "\nexit_code: %d", result.ExitCode)

	if truncated {
		sb.WriteString("\n\n[Output truncated due to size limit]")
	}

	return sb.String()
}

// truncateCommand truncates a command for error messages.
func truncateCommand(cmd string) string {
	if len(cmd) > 50 {
		return cmd[:47] + "..."
	}
	return cmd
}
