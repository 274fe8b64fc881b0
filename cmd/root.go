package cmd

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	debugLog   bool
	noColor    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.config/toolstream/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
}

var rootCmd = &cobra.Command{
	Use:   "toolstream",
	Short: "Stream model turns and run the tool calls written inline",
	Long: `toolstream streams model output, picks the tagged tool calls out of the
text as it arrives and runs them in the order they were written. Tool results
are fed back to the model until it ends the turn.

Examples:
  toolstream ask "why does the build fail?"
  toolstream ask -p openai:gpt-4.1 "summarize README.md"
  toolstream replay testdata/edit.yaml

  toolstream sessions list
  toolstream tools
  toolstream config init`,
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	SilenceUsage:      true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColor {
			lipgloss.SetColorProfile(termenv.Ascii)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
