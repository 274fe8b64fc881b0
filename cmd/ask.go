package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/samsaffron/toolstream/internal/agent"
	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/session"
	"github.com/samsaffron/toolstream/internal/signal"
)

// localUser is charged for CLI runs.
const localUser = "local"

var (
	askProvider string
	askSession  string
	askUser     string
	askPlain    bool
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask the model and run the tools it calls",
	Long: `Send a prompt to the configured provider. Tool calls in the reply run as
they are streamed and their results are fed back until the model ends the
turn.

Examples:
  toolstream ask "list the TODOs in internal/"
  toolstream ask -p anthropic:claude-sonnet-4-5 "fix the failing test"
  toolstream ask -s 3f2a... "and now add a test"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProvider, "provider", "p", "", "Override provider, optionally with model (e.g. openai:gpt-4.1)")
	askCmd.Flags().StringVarP(&askSession, "session", "s", "", "Continue a stored session")
	askCmd.Flags().StringVar(&askUser, "user", localUser, "User charged for the run (empty disables billing)")
	askCmd.Flags().BoolVar(&askPlain, "plain", false, "Write raw text instead of rendered markdown")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := strings.Join(args, " ")
	ctx, stop := signal.NotifyContext(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyProviderOverride(cfg, askProvider); err != nil {
		return err
	}
	ctx = logContext(ctx, cfg)

	rt, err := newToolRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	provider, err := llm.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return rt.runPrompt(ctx, provider, promptRun{
		prompt:    prompt,
		sessionID: askSession,
		userID:    askUser,
		markdown:  !askPlain && stdoutIsTerminal(),
		out:       os.Stdout,
	})
}

type promptRun struct {
	prompt    string
	sessionID string
	userID    string
	markdown  bool
	out       io.Writer
}

// runPrompt runs one user input to completion, printing live output to
// r.out and a summary line to stderr.
func (rt *toolRuntime) runPrompt(ctx context.Context, provider llm.Provider, r promptRun) error {
	runner, err := rt.newRunner(provider)
	if err != nil {
		return err
	}

	sess, history, err := rt.openSession(ctx, provider, r)
	if err != nil {
		return err
	}
	history = append([]llm.Message{llm.SystemText(rt.systemPrompt())}, history...)

	// Anonymous runs cannot be gated per user.
	inputID := uuid.NewString()
	if r.userID != "" {
		rt.live.EnableInputCheck()
		rt.live.StartUserInput(r.userID, inputID)
		defer rt.live.EndUserInput(r.userID, inputID)
	}

	printer := newChunkPrinter(r.out, r.markdown, terminalWidth())
	res, err := runner.Run(ctx, agent.RunParams{
		SessionID:   sess.ID,
		UserID:      r.userID,
		UserInputID: inputID,
		History:     history,
		Input:       []llm.Message{llm.UserText(r.prompt)},
		OnChunk:     printer.handle,
	})
	printer.flush()
	if !r.markdown {
		fmt.Fprintln(r.out)
	}
	if err != nil {
		return err
	}

	summary := fmt.Sprintf("%d step(s) · %s", res.Steps, res.StopReason)
	if res.Credits > 0 {
		summary += fmt.Sprintf(" · %d credits", res.Credits)
	}
	if rt.cfg.Session.Enabled {
		summary += " · session " + sess.ID
	}
	fmt.Fprintln(os.Stderr, mutedStyle.Render(summary))
	if res.StreamErr != nil {
		return fmt.Errorf("stream failed: %w", res.StreamErr)
	}
	return nil
}

// openSession loads the session to continue, or creates a new one.
func (rt *toolRuntime) openSession(ctx context.Context, provider llm.Provider, r promptRun) (*session.Session, []llm.Message, error) {
	if r.sessionID == "" {
		cwd, _ := os.Getwd()
		sess := &session.Session{
			Summary:  session.TruncateSummary(r.prompt),
			Provider: provider.Name(),
			Model:    activeModel(rt.cfg),
			UserID:   r.userID,
			CWD:      cwd,
		}
		// Failures are logged by the store; the run goes on unsaved.
		_ = rt.store.Create(ctx, sess)
		return sess, nil, nil
	}

	sess, err := rt.store.Get(ctx, r.sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return nil, nil, fmt.Errorf("session '%s' not found", r.sessionID)
	}
	stored, err := rt.store.Messages(ctx, sess.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}
	history := make([]llm.Message, 0, len(stored))
	for i := range stored {
		history = append(history, stored[i].ToLLMMessage())
	}
	_ = rt.store.UpdateStatus(ctx, sess.ID, session.StatusActive)
	return sess, history, nil
}
