package tools

import (
	"context"
	"fmt"
	"strings"

	diff "github.com/shogoki/gotextdiff"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

// maxDiffSize skips diffs of very large files.
const maxDiffSize = 256 * 1024

// strReplace applies the replacements in order. Each old string must
// occur exactly once unless AllowMultiple is set; nothing is written when
// any replacement fails.
func (h *handlers) strReplace(ctx context.Context, inv *toolstream.Invocation) (toolstream.Outcome, error) {
	in := inv.Call.Input.(*toolstream.StrReplace)
	abs, err := resolvePath(h.opts.Root, in.Path)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	if len(in.Replacements) == 0 {
		return toolstream.Outcome{}, NewToolError(ErrInvalidParams, "replacements is required")
	}
	if err := inv.Wait(ctx); err != nil {
		return toolstream.Outcome{}, err
	}

	original, existed, err := readExisting(abs)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	if !existed {
		return toolstream.Outcome{}, NewToolError(ErrFileNotFound, in.Path)
	}

	updated, err := applyReplacements(original, in.Replacements)
	if err != nil {
		return toolstream.Outcome{}, err
	}
	if updated == original {
		return toolstream.Outcome{Output: "No changes made."}, nil
	}
	if err := atomicWrite(abs, updated); err != nil {
		return toolstream.Outcome{}, err
	}

	rel := relPath(h.opts.Root, abs)
	out := fmt.Sprintf("Edited %s.", rel)
	if d := unifiedDiff(rel, original, updated); d != "" {
		out += "\n\n" + d
	}
	return toolstream.Outcome{Output: out}, nil
}

func applyReplacements(content string, reps []toolstream.Replacement) (string, error) {
	for i, r := range reps {
		if r.Old == "" {
			return "", NewToolErrorf(ErrInvalidParams, "replacement %d: old is empty", i+1)
		}
		n := strings.Count(content, r.Old)
		switch {
		case n == 0:
			return "", NewToolErrorf(ErrNoMatch, "replacement %d: old string not found", i+1)
		case n > 1 && !r.AllowMultiple:
			return "", NewToolErrorf(ErrInvalidParams, "replacement %d: old string occurs %d times; add context or set allow_multiple", i+1, n)
		}
		content = strings.ReplaceAll(content, r.Old, r.New)
	}
	return content, nil
}

// unifiedDiff renders a unified diff, or "" when the inputs are equal or
// too large.
func unifiedDiff(name, oldContent, newContent string) string {
	if oldContent == newContent || len(oldContent) > maxDiffSize || len(newContent) > maxDiffSize {
		return ""
	}
	return strings.TrimRight(string(diff.Diff("a/"+name, []byte(oldContent), "b/"+name, []byte(newContent))), "\n")
}
