package tools

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

const codeSearchTimeout = time.Minute

// GrepMatch is one matching line.
type GrepMatch struct {
	FilePath   string
	LineNumber int
	Line       string
}

type codeSearchFlags struct {
	ignoreCase bool
	include    string
}

// parseCodeSearchFlags accepts the ripgrep-style flags models commonly
// pass: -i, and -g/--glob with a pattern.
func parseCodeSearchFlags(flags string) (codeSearchFlags, error) {
	var out codeSearchFlags
	fields := strings.Fields(flags)
	for i := 0; i < len(fields); i++ {
		switch f := fields[i]; {
		case f == "-i" || f == "--ignore-case":
			out.ignoreCase = true
		case f == "-g" || f == "--glob":
			if i+1 >= len(fields) {
				return out, NewToolErrorf(ErrInvalidParams, "flag %s needs a pattern", f)
			}
			i++
			out.include = strings.Trim(fields[i], `"'`)
		case strings.HasPrefix(f, "--glob="):
			out.include = strings.Trim(strings.TrimPrefix(f, "--glob="), `"'`)
		default:
			return out, NewToolErrorf(ErrInvalidParams, "unsupported flag %q", f)
		}
	}
	return out, nil
}

// codeSearch walks the project with a Go regexp. Binary files and hidden
// directories such as .git are skipped.
func (h *handlers) codeSearch(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.CodeSearch)
	if in.Pattern == "" {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "pattern is required")
	}
	flags, err := parseCodeSearchFlags(in.Flags)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	pattern := in.Pattern
	if flags.ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return toolstream.Outcome{}, NewToolErrorf(ErrInvalidParams, "invalid regex pattern: %v", err)
	}

	searchPath := h.opts.Root
	if in.Cwd != "" {
		if searchPath, err = resolvePath(h.opts.Root, in.Cwd); err != nil {
			return toolstream.Outcome{}, err
		}
	}

	maxResults := in.MaxResults
	if maxResults <= 0 || maxResults > h.opts.Limits.MaxResults {
		maxResults = h.opts.Limits.MaxResults
	}

	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, codeSearchTimeout)
	defer cancel()

	files, err := collectFiles(ctx, searchPath, flags.include)
	if err != nil {
		if ctx.Err() != nil {
			return toolstream.Outcome{}, NewToolError(ErrTimeout, "code_search timed out; try a more specific pattern or cwd")
		}
		return toolstream.Outcome{}, NewToolErrorf(ErrExecutionFailed, "failed to collect files: %v", err)
	}

	var matches []GrepMatch
	for _, file := range files {
		if ctx.Err() != nil {
			return toolstream.Outcome{}, NewToolError(ErrTimeout, "code_search timed out; try a more specific pattern or cwd")
		}
		if len(matches) >= maxResults {
			break
		}
		fileMatches, err := searchFile(file, re, maxResults-len(matches))
		if err != nil {
			continue
		}
		matches = append(matches, fileMatches...)
	}

	if len(matches) == 0 {
		return toolstream.Outcome{Output: "No matches found."}, nil
	}
	return toolstream.Outcome{Output: formatGrepResults(h.opts.Root, matches, len(matches) >= maxResults)}, nil
}

// collectFiles lists regular files under searchPath in lexical order,
// filtered by an optional doublestar pattern on the relative path.
func collectFiles(ctx context.Context, searchPath, include string) ([]string, error) {
	info, err := os.Stat(searchPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{searchPath}, nil
	}

	var files []string
	err = filepath.WalkDir(searchPath, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != searchPath && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if include != "" {
			rel, _ := filepath.Rel(searchPath, path)
			matchRel, _ := doublestar.Match(include, filepath.ToSlash(rel))
			matchName, _ := doublestar.Match(include, d.Name())
			if !matchRel && !matchName {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// searchFile searches a single file for matching lines.
func searchFile(path string, re *regexp.Regexp, maxMatches int) ([]GrepMatch, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	contentType := http.DetectContentType(buf[:n])
	if !strings.HasPrefix(contentType, "text/") &&
		!strings.Contains(contentType, "json") &&
		!strings.Contains(contentType, "xml") {
		return nil, fmt.Errorf("binary file")
	}
	if _, err := file.Seek(0, 0); err != nil {
		return nil, err
	}

	var matches []GrepMatch
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if line := scanner.Text(); re.MatchString(line) {
			matches = append(matches, GrepMatch{FilePath: path, LineNumber: lineNum, Line: line})
			if len(matches) >= maxMatches {
				break
			}
		}
	}
	return matches, scanner.Err()
}

// formatGrepResults groups matches by file:
//
//	path/to/file.go:
//	12: matching line
//
// with a blank line between files.
func formatGrepResults(root string, matches []GrepMatch, truncated bool) string {
	var sb strings.Builder
	current := ""
	for _, m := range matches {
		if m.FilePath != current {
			if current != "" {
				sb.WriteString("\n")
			}
			current = m.FilePath
			sb.WriteString(relPath(root, m.FilePath))
			sb.WriteString(":\n")
		}
		fmt.Fprintf(&sb, "%d: %s\n", m.LineNumber, m.Line)
	}
	if truncated {
		sb.WriteString("\n[Results truncated at limit]")
	}
	return strings.TrimSuffix(sb.String(), "\n")
}
