package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/samsaffron/toolstream/internal/llm"
	"github.com/samsaffron/toolstream/internal/session"
)

var (
	sessionsLimit int
	sessionsJSON  bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsListCmd.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum sessions to list")
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output as JSON")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Session.Enabled {
		return nil, fmt.Errorf("sessions are disabled (session.enabled: false)")
	}
	store, err := session.NewStore(session.ConfigFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	return store, nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), sessionsLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-36s %-30s %4s %5s %7s %-9s %s\n",
		"ID", "SUMMARY", "MSGS", "TURNS", "CREDITS", "STATUS", "AGE")
	fmt.Println(strings.Repeat("-", 104))
	for _, s := range summaries {
		summary := runewidth.FillRight(runewidth.Truncate(s.Summary, 30, "..."), 30)
		fmt.Printf("%-36s %s %4d %5d %7d %-9s %s\n",
			s.ID, summary, s.MessageCount, s.Turns, s.Credits, s.Status, formatRelativeTime(s.UpdatedAt))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if sess == nil {
		return fmt.Errorf("session '%s' not found", args[0])
	}
	messages, err := store.Messages(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	if sessionsJSON {
		data := struct {
			Session  *session.Session  `json:"session"`
			Messages []session.Message `json:"messages"`
		}{
			Session:  sess,
			Messages: messages,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	}

	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("Provider: %s\n", sess.Provider)
	if sess.Model != "" {
		fmt.Printf("Model: %s\n", sess.Model)
	}
	fmt.Printf("Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated: %s\n", sess.UpdatedAt.Format(time.RFC3339))
	if sess.CWD != "" {
		fmt.Printf("CWD: %s\n", sess.CWD)
	}
	fmt.Printf("Status: %s\n", sess.Status)
	fmt.Printf("Turns: %d\n", sess.Turns)
	fmt.Printf("Tool Calls: %d\n", sess.ToolCalls)
	fmt.Printf("Tokens: %s (input: %d, output: %d)\n",
		formatSessionTokens(sess.InputTokens, sess.OutputTokens), sess.InputTokens, sess.OutputTokens)
	fmt.Printf("Credits: %d\n", sess.Credits)
	fmt.Println()

	for _, msg := range messages {
		role := string(msg.Role)
		switch msg.Role {
		case llm.RoleUser:
			role = "❯"
		case llm.RoleTool:
			role = "⚙"
		}
		content := runewidth.Truncate(msg.TextContent, 500, "...")
		fmt.Printf("%s %s\n\n", mutedStyle.Render(role), content)
	}
	return nil
}

func formatSessionTokens(input, output int) string {
	if input == 0 && output == 0 {
		return "-"
	}
	return fmt.Sprintf("%s/%s", formatCount(input), formatCount(output))
}

func formatCount(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}
