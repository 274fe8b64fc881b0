package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

// FileEntry represents a file in find_files results.
type FileEntry struct {
	Path      string
	IsDir     bool
	SizeBytes int64
	ModTime   time.Time
}

// findFiles matches a doublestar pattern against paths relative to the
// project root. Hidden files and directories are skipped.
func (h *handlers) findFiles(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.FindFiles)
	pattern := strings.TrimPrefix(filepath.ToSlash(in.Pattern), "./")
	if pattern == "" {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "pattern is required")
	}
	if !doublestar.ValidatePattern(pattern) {
		return toolstream.Outcome{}, NewToolErrorf(ErrInvalidParams, "invalid glob pattern: %s", in.Pattern)
	}

	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	limit := h.opts.Limits.MaxResults
	var entries []FileEntry
	err := filepath.WalkDir(h.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || path == h.opts.Root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(h.opts.Root, path)
		if err != nil {
			return nil
		}
		if matched, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); !matched {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, FileEntry{
			Path:      filepath.ToSlash(rel),
			IsDir:     d.IsDir(),
			SizeBytes: info.Size(),
			ModTime:   info.ModTime(),
		})
		if len(entries) >= limit {
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return toolstream.Outcome{}, NewToolErrorf(ErrExecutionFailed, "walk error: %v", err)
	}

	if len(entries) == 0 {
		return toolstream.Outcome{Output: "No files matched the pattern."}, nil
	}
	// Newest first.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ModTime.After(entries[j].ModTime)
	})
	return toolstream.Outcome{Output: formatGlobResults(entries, len(entries) >= limit, limit)}, nil
}

func formatGlobResults(entries []FileEntry, truncated bool, limit int) string {
	var sb strings.Builder
	for _, e := range entries {
		typeIndicator := "f"
		if e.IsDir {
			typeIndicator = "d"
		}
		fmt.Fprintf(&sb, "[%s] %s  %s  %s\n", typeIndicator, formatSize(e.SizeBytes), e.ModTime.Format("2006-01-02 15:04"), e.Path)
	}
	if truncated {
		fmt.Fprintf(&sb, "\n[Results truncated at %d files]", limit)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// formatSize formats a byte count as human-readable.
func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%4dB", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%4.0f%c", float64(bytes)/float64(div), "KMGTPE"[exp])
}
