package cmd

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/samsaffron/toolstream/internal/signal"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the model can call",
	Long: `List built-in tools, configured custom tools and the tools of every
configured MCP server. MCP servers are started to list their tools.`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Session.Enabled = false
	ctx = logContext(ctx, cfg)

	rt, err := newToolRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Print(formatToolTable(rt.toolList()))
	return nil
}

func formatToolTable(list []toolInfo) string {
	nameWidth, sourceWidth := runewidth.StringWidth("NAME"), runewidth.StringWidth("SOURCE")
	for _, t := range list {
		nameWidth = max(nameWidth, runewidth.StringWidth(t.name))
		sourceWidth = max(sourceWidth, runewidth.StringWidth(t.source))
	}

	var b strings.Builder
	writeRow := func(name, source, description string) {
		b.WriteString(runewidth.FillRight(name, nameWidth))
		b.WriteString("  ")
		b.WriteString(runewidth.FillRight(source, sourceWidth))
		b.WriteString("  ")
		b.WriteString(description)
		b.WriteString("\n")
	}
	writeRow("NAME", "SOURCE", "DESCRIPTION")
	for _, t := range list {
		writeRow(t.name, t.source, t.description)
	}
	return b.String()
}
