package tools

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

// readFiles reads every requested file. A file that cannot be read gets an
// error entry; the call itself only fails on bad input.
func (h *handlers) readFiles(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.ReadFiles)
	if len(in.Paths) == 0 {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "paths is required")
	}
	if len(in.Paths) > h.opts.Limits.MaxFiles {
		return toolstream.Outcome{}, NewToolErrorf(ErrInvalidParams, "at most %d files per call", h.opts.Limits.MaxFiles)
	}
	// Earlier calls in the turn may write these files.
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}

	out := make([]FileContent, 0, len(in.Paths))
	for _, p := range in.Paths {
		if err := ctx.Err(); err != nil {
			return toolstream.Outcome{}, err
		}
		content, err := h.readFile(p)
		entry := FileContent{Path: p, Content: content}
		if err != nil {
			entry.Error = err.Error()
		}
		out = append(out, entry)
	}
	return toolstream.Outcome{Output: out}, nil
}

func (h *handlers) readFile(p string) (string, error) {
	abs, err := resolvePath(h.opts.Root, p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", NewToolError(ErrFileNotFound, p)
		}
		return "", NewToolErrorf(ErrExecutionFailed, "read error: %v", err)
	}

	if isBinaryContent(data) {
		return "", NewToolErrorf(ErrBinaryFile, "%s appears to be a binary file", p)
	}

	lines := strings.Split(string(data), "\n")
	truncated := false
	if len(lines) > h.opts.Limits.MaxLines {
		lines = lines[:h.opts.Limits.MaxLines]
		truncated = true
	}
	content := strings.Join(lines, "\n")
	if int64(len(content)) > h.opts.Limits.MaxBytes {
		content = content[:h.opts.Limits.MaxBytes]
		truncated = true
	}
	if truncated {
		content += fmt.Sprintf("\n\n[File truncated. Total lines: %d]", strings.Count(string(data), "\n")+1)
	}
	return content, nil
}

// isBinaryContent detects if content is binary using http.DetectContentType.
func isBinaryContent(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	sample := data
	if len(sample) > 512 {
		sample = sample[:512]
	}

	contentType := http.DetectContentType(sample)
	if strings.HasPrefix(contentType, "text/") {
		return false
	}
	if strings.Contains(contentType, "json") || strings.Contains(contentType, "xml") {
		return false
	}

	for _, b := range sample {
		if b == 0 {
			return true
		}
	}
	return false
}
