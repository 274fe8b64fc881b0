package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/samsaffron/toolstream/internal/toolstream"
)

var (
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

const defaultWrapWidth = 100

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return defaultWrapWidth
	}
	return width
}

// chunkPrinter writes live output. On a terminal, text is held until the
// next tool call or the end of the run and then rendered as markdown;
// otherwise it is written as it arrives.
type chunkPrinter struct {
	w        io.Writer
	markdown bool
	width    int
	text     strings.Builder
}

func newChunkPrinter(w io.Writer, markdown bool, width int) *chunkPrinter {
	return &chunkPrinter{w: w, markdown: markdown, width: width}
}

func (p *chunkPrinter) handle(c toolstream.Chunk) {
	switch c.Kind {
	case toolstream.ChunkText:
		if p.markdown {
			p.text.WriteString(c.Text)
			return
		}
		fmt.Fprint(p.w, c.Text)
	case toolstream.ChunkReasoning:
		p.flush()
		fmt.Fprint(p.w, reasoningStyle.Render(c.Text))
	case toolstream.ChunkToolCall:
		p.flush()
		fmt.Fprintln(p.w, toolStyle.Render("→ "+c.Call.Name))
	case toolstream.ChunkToolResult:
		p.flush()
		r := c.Record
		if r.Err != nil {
			fmt.Fprintln(p.w, errorStyle.Render(fmt.Sprintf("✗ %s: %s", r.Call.Name, r.Err.Message)))
			return
		}
		fmt.Fprintln(p.w, okStyle.Render("✓ "+r.Call.Name))
	case toolstream.ChunkError:
		p.flush()
		fmt.Fprintln(p.w, errorStyle.Render("error: "+c.Err.Error()))
	}
}

// flush writes held text.
func (p *chunkPrinter) flush() {
	if p.text.Len() == 0 {
		return
	}
	content := p.text.String()
	p.text.Reset()
	if strings.TrimSpace(content) == "" {
		return
	}
	fmt.Fprint(p.w, renderMarkdown(content, p.width))
}

// renderMarkdown renders content with glamour, returning it unchanged if
// rendering fails.
func renderMarkdown(content string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}
