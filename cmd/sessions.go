package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/output"
	"github.com/joescharf/revd/internal/store"
)

var (
	sessionsOwner  string
	sessionsRepo   string
	sessionsPull   int
	sessionsStatus string
	sessionsLimit  int

	cleanupOlderThan time.Duration
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List and inspect review sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsListRun()
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show one session and its comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsShowRun(cmd.Context(), args[0])
	},
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old terminal sessions and their comments",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionsCleanupRun(cmd.Context())
	},
}

func init() {
	sessionsCmd.PersistentFlags().StringVar(&sessionsOwner, "owner", "", "Filter by repository owner")
	sessionsCmd.PersistentFlags().StringVar(&sessionsRepo, "repo", "", "Filter by repository name")
	sessionsCmd.PersistentFlags().IntVar(&sessionsPull, "pull", 0, "Filter by pull request number")
	sessionsCmd.PersistentFlags().StringVar(&sessionsStatus, "status", "", "Filter by status (pending|running|completed|failed|snoozed)")
	sessionsCmd.PersistentFlags().IntVar(&sessionsLimit, "limit", 20, "Maximum sessions to list")

	sessionsCleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 30*24*time.Hour, "Purge terminal sessions created before this age")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	sessions, err := s.ListSessions(ctx, store.SessionFilter{
		Owner:      sessionsOwner,
		Repo:       sessionsRepo,
		PullNumber: sessionsPull,
		Status:     models.SessionStatus(sessionsStatus),
		Limit:      sessionsLimit,
	})
	if err != nil {
		return err
	}

	if len(sessions) == 0 {
		ui.Info("No review sessions found.")
		return nil
	}

	table := ui.Table([]string{"ID", "Pull", "Commit", "Status", "Comments", "Created", "Duration"})
	for _, sess := range sessions {
		table.Append([]string{
			sess.ID,
			models.PullKey(sess.Owner, sess.Repo, sess.PullNumber),
			shortCommit(sess.HeadCommit),
			output.StatusColor(string(sess.Status)),
			fmt.Sprintf("%d", sess.CommentCount),
			timeAgo(sess.CreatedAt),
			formatDuration(sess.Duration),
		})
	}
	return table.Render()
}

func sessionsShowRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	ui.Info("Session %s", sess.ID)
	fmt.Fprintf(ui.Out, "  Pull:     %s @ %s\n", models.PullKey(sess.Owner, sess.Repo, sess.PullNumber), shortCommit(sess.HeadCommit))
	fmt.Fprintf(ui.Out, "  Status:   %s\n", output.StatusColor(string(sess.Status)))
	if sess.FocusArea != "" {
		fmt.Fprintf(ui.Out, "  Focus:    %s\n", sess.FocusArea)
	}
	if sess.Reason != "" {
		fmt.Fprintf(ui.Out, "  Reason:   %s\n", sess.Reason)
	}
	fmt.Fprintf(ui.Out, "  Created:  %s\n", sess.CreatedAt.Local().Format(time.RFC822))
	if sess.CompletedAt != nil {
		fmt.Fprintf(ui.Out, "  Finished: %s (%s)\n", sess.CompletedAt.Local().Format(time.RFC822), formatDuration(sess.Duration))
	}
	fmt.Fprintln(ui.Out)

	return printSessionResult(ctx, s, sess.ID)
}

func sessionsCleanupRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-cleanupOlderThan)
	purged, err := s.PurgeSessionsBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	ui.Success("Purged %d sessions older than %s", purged, cleanupOlderThan)
	return nil
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return d.Round(time.Millisecond).String()
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
