package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/signal"
)

var (
	replayPrompt string
	replaySave   bool
	replayPlain  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <script.yaml>",
	Short: "Run a recorded model script through the tool pipeline",
	Long: `Replay feeds the chunks of a recorded script through the same scanner,
dispatcher and tools that live output goes through. Each model turn in the
script answers one step of the run.

Script format:
  name: edit-readme
  speed: normal            # optional: fast, normal, slow, realtime, burst
  turns:
    - chunks:
        - reasoning: "check the file first"
        - text: 'Looking. <tool_call>{"tool_name": "read_files", "paths": ["README.md"]}</tool_call>'
      usage: {input_tokens: 120, output_tokens: 40}
    - chunks:
        - text: 'Done. <tool_call>{"tool_name": "end_turn"}</tool_call>'`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayPrompt, "prompt", "replay", "User prompt recorded for the run")
	replayCmd.Flags().BoolVar(&replaySave, "save", false, "Store the run as a session")
	replayCmd.Flags().BoolVar(&replayPlain, "plain", false, "Write raw text instead of rendered markdown")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Provider = "scripted"
	cfg.Scripted.Path = args[0]
	cfg.Session.Enabled = replaySave
	ctx = logContext(ctx, cfg)

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}

	rt, err := newToolRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	return rt.runPrompt(ctx, provider, promptRun{
		prompt:   replayPrompt,
		userID:   localUser,
		markdown: !replayPlain && stdoutIsTerminal(),
		out:      os.Stdout,
	})
}
