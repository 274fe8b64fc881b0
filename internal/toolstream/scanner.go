// Package toolstream separates prose from inline tool calls in a streamed
// model response and executes those calls in the order they were written.
package toolstream

import (
	"errors"
	"strings"
)

// Markers delimit an inline tool call in model output.
type Markers struct {
	Start string
	End   string
}

// DefaultMarkers are the markers used when none are configured.
var DefaultMarkers = Markers{Start: "<tool_call>", End: "</tool_call>"}

// ToolNameKey is the reserved key naming the tool inside a tagged body.
const ToolNameKey = "tool_name"

// Validate reports whether the markers can be scanned for.
func (m Markers) Validate() error {
	if m.Start == "" || m.End == "" {
		return errors.New("toolstream: start and end markers must be non-empty")
	}
	if m.Start == m.End {
		return errors.New("toolstream: start and end markers must differ")
	}
	return nil
}

// Segment is a fully delimited tool call found in the stream.
type Segment struct {
	Raw  string // markers included
	Body string
}

// Token is one classified piece of the stream: plain text or a segment.
type Token struct {
	Text    string
	Segment *Segment
}

// IsText reports whether the token is plain text.
func (t Token) IsText() bool { return t.Segment == nil }

// PlainText returns the plain-text emissions among tokens, in order.
func PlainText(tokens []Token) []string {
	var out []string
	for _, t := range tokens {
		if t.IsText() {
			out = append(out, t.Text)
		}
	}
	return out
}

// Scan classifies buffer+chunk into tokens and returns the suffix that must
// be held back until more of the stream arrives. The returned buffer is either
// empty, an open tag waiting for its end marker, or a partial start marker.
// Scan is pure; callers own the buffer between calls.
func Scan(m Markers, buffer, chunk string) ([]Token, string) {
	if chunk == "" {
		return nil, buffer
	}
	work := buffer + chunk

	var tokens []Token
	emit := func(s string) {
		if s != "" {
			tokens = append(tokens, Token{Text: s})
		}
	}

	for {
		end := strings.Index(work, m.End)
		if end < 0 {
			break
		}
		stop := end + len(m.End)
		start := strings.Index(work, m.Start)
		if start < 0 || start > end {
			// Stray end marker: it cannot close anything, so it is prose.
			emit(work[:stop])
			work = work[stop:]
			continue
		}
		// The region always closes at the first end marker. When the
		// markers overlap there is no room for a body.
		bodyStart := start + len(m.Start)
		if bodyStart > end {
			bodyStart = end
		}
		emit(work[:start])
		tokens = append(tokens, Token{Segment: &Segment{
			Raw:  work[start:stop],
			Body: work[bodyStart:end],
		}})
		work = work[stop:]
	}

	if start := strings.Index(work, m.Start); start >= 0 {
		emit(work[:start])
		return tokens, work[start:]
	}

	overlap := SuffixPrefixOverlap(work, m.Start)
	emit(work[:len(work)-len(overlap)])
	return tokens, overlap
}

// SuffixPrefixOverlap returns the longest suffix of s that is also a prefix
// of prefix.
func SuffixPrefixOverlap(s, prefix string) string {
	n := len(prefix)
	if len(s) < n {
		n = len(s)
	}
	for ; n > 0; n-- {
		if strings.HasSuffix(s, prefix[:n]) {
			return s[len(s)-n:]
		}
	}
	return ""
}

// Scanner is a push-based wrapper around Scan. It is not safe for
// concurrent use.
type Scanner struct {
	Markers   Markers
	OnText    func(text string)
	OnSegment func(seg Segment)

	buf string
}

// NewScanner creates a scanner for the given markers.
func NewScanner(m Markers) *Scanner {
	return &Scanner{Markers: m}
}

// Feed processes a chunk of text from the stream.
func (s *Scanner) Feed(chunk string) {
	tokens, next := Scan(s.Markers, s.buf, chunk)
	s.buf = next
	for _, t := range tokens {
		if t.IsText() {
			if s.OnText != nil {
				s.OnText(t.Text)
			}
			continue
		}
		if s.OnSegment != nil {
			s.OnSegment(*t.Segment)
		}
	}
}

// Flush ends the stream. Anything still held back, including an unterminated
// tag, is emitted as plain text and returned.
func (s *Scanner) Flush() string {
	rest := s.buf
	s.buf = ""
	if rest != "" && s.OnText != nil {
		s.OnText(rest)
	}
	return rest
}

// Buffer returns the text currently held back.
func (s *Scanner) Buffer() string {
	return s.buf
}
