package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

func (h *handlers) writeFile(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.WriteFile)
	abs, err := resolvePath(h.opts.Root, in.Path)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	// Earlier calls may touch the same file.
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}

	existing, existed, err := readExisting(abs)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	if err := atomicWrite(abs, in.Content); err != nil {
		return toolstream.Outcome{}, err
	}

	rel := relPath(h.opts.Root, abs)
	if !existed {
		return toolstream.Outcome{Output: fmt.Sprintf("Created new file: %s (%d lines).", rel, countLines(in.Content))}, nil
	}
	out := fmt.Sprintf("Updated %s: %d lines -> %d lines.", rel, countLines(existing), countLines(in.Content))
	if d := unifiedDiff(rel, existing, in.Content); d != "" {
		out += "\n\n" + d
	}
	return toolstream.Outcome{Output: out}, nil
}

func readExisting(abs string) (content string, existed bool, err error) {
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, NewToolErrorf(ErrExecutionFailed, "stat %s: %v", abs, err)
	}
	if info.IsDir() {
		return "", false, NewToolErrorf(ErrInvalidParams, "%s is a directory", abs)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false, NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}
	return string(data), true, nil
}

// atomicWrite writes to a uniquely named temp file, then renames it over
// the destination. Existing permissions are kept; new files get 0644.
func atomicWrite(absPath, content string) error {
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return NewToolErrorf(ErrExecutionFailed, "failed to create directory: %v", err)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(absPath); err == nil {
		mode = info.Mode()
	}

	tf, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".*.tmp")
	if err != nil {
		return NewToolErrorf(ErrExecutionFailed, "failed to create temp file: %v", err)
	}
	tempPath := tf.Name()

	if _, err := tf.WriteString(content); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return NewToolErrorf(ErrExecutionFailed, "failed to write temp file: %v", err)
	}
	if err := tf.Sync(); err != nil {
		tf.Close()
		os.Remove(tempPath)
		return NewToolErrorf(ErrExecutionFailed, "failed to sync temp file: %v", err)
	}
	if err := tf.Close(); err != nil {
		os.Remove(tempPath)
		return NewToolErrorf(ErrExecutionFailed, "failed to close temp file: %v", err)
	}
	if err := os.Chmod(tempPath, mode); err != nil {
		os.Remove(tempPath)
		return NewToolErrorf(ErrExecutionFailed, "failed to set file permissions: %v", err)
	}
	if err := os.Rename(tempPath, absPath); err != nil {
		os.Remove(tempPath)
		return NewToolErrorf(ErrExecutionFailed, "failed to rename temp file: %v", err)
	}
	return nil
}

// countLines counts the number of lines in a string.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	count := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		count++
	}
	return count
}
