package toolstream

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tagOpen  = DefaultMarkers.Start
	tagClose = DefaultMarkers.End
)

// feedAll scans chunks in order and collects everything the scanner produced.
func feedAll(m Markers, chunks ...string) (texts []string, segs []Segment, buffer string) {
	for _, c := range chunks {
		var tokens []Token
		tokens, buffer = Scan(m, buffer, c)
		for _, tok := range tokens {
			if tok.IsText() {
				texts = append(texts, tok.Text)
			} else {
				segs = append(segs, *tok.Segment)
			}
		}
	}
	return texts, segs, buffer
}

func TestScan(t *testing.T) {
	tests := []struct {
		name       string
		chunks     []string
		wantText   []string
		wantBodies []string
		wantBuffer string
	}{
		{
			name:     "plain text",
			chunks:   []string{"Hello, world!"},
			wantText: []string{"Hello, world!"},
		},
		{
			name:     "plain text across chunks",
			chunks:   []string{"First chunk ", "second chunk"},
			wantText: []string{"First chunk ", "second chunk"},
		},
		{
			name:       "complete call in one chunk",
			chunks:     []string{tagOpen + `{"tool_name": "end_turn"}` + tagClose},
			wantBodies: []string{`{"tool_name": "end_turn"}`},
		},
		{
			name:       "text around a call",
			chunks:     []string{"Before text" + tagOpen + "{}" + tagClose + "After text"},
			wantText:   []string{"Before text", "After text"},
			wantBodies: []string{"{}"},
		},
		{
			name:       "multiple sequential calls",
			chunks:     []string{"Text1" + tagOpen + "a" + tagClose + "Text2" + tagOpen + "b" + tagClose + "Text3"},
			wantText:   []string{"Text1", "Text2", "Text3"},
			wantBodies: []string{"a", "b"},
		},
		{
			name:       "incomplete start marker",
			chunks:     []string{"Some text<tool_ca"},
			wantText:   []string{"Some text"},
			wantBuffer: "<tool_ca",
		},
		{
			name:       "single angle bracket held",
			chunks:     []string{"Text<"},
			wantText:   []string{"Text"},
			wantBuffer: "<",
		},
		{
			name:     "overlap resolves to prose",
			chunks:   []string{"Text<tool", "word"},
			wantText: []string{"Text", "<toolword"},
		},
		{
			name:       "open tag is buffered",
			chunks:     []string{tagOpen + `{"tool_name": "x"`},
			wantBuffer: tagOpen + `{"tool_name": "x"`,
		},
		{
			name:       "buffered call completes",
			chunks:     []string{tagOpen + `{"tool_name": "x"`, `}` + tagClose},
			wantBodies: []string{`{"tool_name": "x"}`},
		},
		{
			name:       "text split around a call",
			chunks:     []string{"Before" + tagOpen + "{", "}" + tagClose + "After"},
			wantText:   []string{"Before", "After"},
			wantBodies: []string{"{}"},
		},
		{
			name:     "empty chunk",
			chunks:   []string{""},
			wantText: nil,
		},
		{
			name:       "only start marker",
			chunks:     []string{tagOpen},
			wantBuffer: tagOpen,
		},
		{
			name:     "only end marker",
			chunks:   []string{tagClose},
			wantText: []string{tagClose},
		},
		{
			name:     "orphan end marker",
			chunks:   []string{"text" + tagClose + "more"},
			wantText: []string{"text" + tagClose, "more"},
		},
		{
			name:       "start after orphan end",
			chunks:     []string{"a" + tagClose + "b" + tagOpen + "c" + tagClose + "d"},
			wantText:   []string{"a" + tagClose, "b", "d"},
			wantBodies: []string{"c"},
		},
		{
			name:     "angle brackets in code",
			chunks:   []string{"if (x < 5 && y > 3) { }"},
			wantText: []string{"if (x < 5 && y > 3) { }"},
		},
		{
			name: "call split across many small chunks",
			chunks: []string{
				"<to", "ol_", "call>", "{\"tool_", "name\": ", "\"find_files\"", "}</tool", "_call", ">",
			},
			wantBodies: []string{`{"tool_name": "find_files"}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			texts, segs, buffer := feedAll(DefaultMarkers, tt.chunks...)
			assert.Equal(t, tt.wantText, texts)
			var bodies []string
			for _, s := range segs {
				bodies = append(bodies, s.Body)
			}
			assert.Equal(t, tt.wantBodies, bodies)
			assert.Equal(t, tt.wantBuffer, buffer)
		})
	}
}

func TestScanEndToEnd(t *testing.T) {
	m := Markers{Start: "<TAG>", End: "</TAG>"}
	texts, segs, buffer := feedAll(m,
		"Let me help.\n\n", "<TAG>\n", "{\"name\":\"x\"}\n", "</TAG>\n", "Done.")

	require.Equal(t, []string{"Let me help.\n\n", "\n", "Done."}, texts)
	require.Len(t, segs, 1)
	assert.Equal(t, `{"name":"x"}`, strings.TrimSpace(segs[0].Body))
	assert.Equal(t, "<TAG>\n{\"name\":\"x\"}\n</TAG>", segs[0].Raw)
	assert.Empty(t, buffer)
}

func TestScanOverlappingMarkersCloseAtFirstEnd(t *testing.T) {
	m := Markers{Start: "[[", End: "[]"}
	texts, segs, buffer := feedAll(m, "a[[]b")

	assert.Equal(t, []string{"a", "b"}, texts)
	require.Len(t, segs, 1)
	assert.Equal(t, "[[]", segs[0].Raw)
	assert.Empty(t, segs[0].Body)
	assert.Empty(t, buffer)
}

func TestScanSplitAtEveryBoundary(t *testing.T) {
	full := tagOpen + `{"tool_name": "read_files", "paths": ["a.go"]}` + tagClose
	for i := 0; i <= len(full); i++ {
		texts, segs, buffer := feedAll(DefaultMarkers, full[:i], full[i:])
		require.Empty(t, texts, "split at %d", i)
		require.Empty(t, buffer, "split at %d", i)
		require.Len(t, segs, 1, "split at %d", i)
	}
}

func TestSuffixPrefixOverlap(t *testing.T) {
	tests := []struct {
		s, prefix, want string
	}{
		{"Text<", "<tool_call>", "<"},
		{"Text<tool", "<tool_call>", "<tool"},
		{"Text", "<tool_call>", ""},
		{"", "<tool_call>", ""},
		{"<tool_cal", "<tool_call>", "<tool_cal"},
		{"a<b<tool", "<tool_call>", "<tool"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SuffixPrefixOverlap(tt.s, tt.prefix), "overlap(%q)", tt.s)
	}
}

func TestScannerFlushEmitsUnterminatedTag(t *testing.T) {
	var texts []string
	var segs []Segment
	s := NewScanner(DefaultMarkers)
	s.OnText = func(text string) { texts = append(texts, text) }
	s.OnSegment = func(seg Segment) { segs = append(segs, seg) }

	s.Feed("Working on it. ")
	s.Feed(tagOpen + `{"tool_name": "write_file", "path": "a`)
	require.Equal(t, tagOpen+`{"tool_name": "write_file", "path": "a`, s.Buffer())

	rest := s.Flush()
	assert.Equal(t, tagOpen+`{"tool_name": "write_file", "path": "a`, rest)
	assert.Equal(t, []string{"Working on it. ", rest}, texts)
	assert.Empty(t, segs)
	assert.Empty(t, s.Buffer())
	assert.Empty(t, s.Flush())
}

func TestScannerFlushEmitsPartialMarker(t *testing.T) {
	var out strings.Builder
	s := NewScanner(DefaultMarkers)
	s.OnText = func(text string) { out.WriteString(text) }
	s.Feed("a < b and b <to")
	s.Flush()
	assert.Equal(t, "a < b and b <to", out.String())
}

func TestMarkersValidate(t *testing.T) {
	require.NoError(t, DefaultMarkers.Validate())
	require.Error(t, Markers{Start: "", End: "x"}.Validate())
	require.Error(t, Markers{Start: "<x>", End: "<x>"}.Validate())
}

// chunked splits s into consecutive pieces using sizes, cycling through them.
// An empty chunk follows every piece.
func chunked(s string, sizes []int) []string {
	var out []string
	for k := 0; len(s) > 0; k++ {
		n := 1
		if len(sizes) > 0 {
			n = sizes[k%len(sizes)]
		}
		if n > len(s) {
			n = len(s)
		}
		out = append(out, s[:n], "")
		s = s[n:]
	}
	return out
}

func TestScanProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	fragment := gen.OneConstOf("a", "b", " ", "\n", "<", ">", "/", "tool", "_call", "<tool", "</", "<tool_call")

	properties.Property("chunk splitting preserves plain text", prop.ForAll(
		func(pieces []string, sizes []int) bool {
			s := strings.Join(pieces, "")
			if strings.Contains(s, tagClose) {
				return true
			}
			texts, segs, buffer := feedAll(DefaultMarkers, chunked(s, sizes)...)
			return len(segs) == 0 && strings.Join(texts, "")+buffer == s
		},
		gen.SliceOf(fragment),
		gen.SliceOf(gen.IntRange(1, 7)),
	))

	properties.Property("tag bodies never reach plain text", prop.ForAll(
		func(prefix, body, suffix string) bool {
			texts, segs, buffer := feedAll(DefaultMarkers, prefix+tagOpen+"#"+body+"#"+tagClose+suffix)
			if buffer != "" || len(segs) != 1 || segs[0].Body != "#"+body+"#" {
				return false
			}
			joined := strings.Join(texts, "")
			return joined == prefix+suffix && !strings.Contains(joined, "#")
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.Property("split point does not change the outcome", prop.ForAll(
		func(body string, cut int) bool {
			full := tagOpen + body + tagClose
			if cut > len(full) {
				cut = len(full)
			}
			texts, segs, buffer := feedAll(DefaultMarkers, full[:cut], full[cut:])
			return len(texts) == 0 && buffer == "" && len(segs) == 1 && segs[0].Body == body
		},
		gen.AlphaString(),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}
