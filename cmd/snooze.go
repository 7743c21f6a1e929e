package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

var snoozeCmd = &cobra.Command{
	Use:   "snooze <owner> <repo> <pull>",
	Short: "Suppress automatic reviews for a pull request",
	Long: `Suppress automatic reviews for a pull request. Incoming webhook
events for the pull are acknowledged but no sessions run until the
pull is unsnoozed.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid pull number %q", args[2])
		}
		return snoozeRun(cmd.Context(), args[0], args[1], pull)
	},
}

var unsnoozeCmd = &cobra.Command{
	Use:   "unsnooze <owner> <repo> <pull>",
	Short: "Re-enable automatic reviews for a snoozed pull request",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid pull number %q", args[2])
		}
		return unsnoozeRun(cmd.Context(), args[0], args[1], pull)
	},
}

func init() {
	rootCmd.AddCommand(snoozeCmd)
	rootCmd.AddCommand(unsnoozeCmd)
}

func snoozeRun(ctx context.Context, owner, repo string, pull int) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	machine := session.NewMachine(s)

	sess, err := latestPullSession(ctx, s, owner, repo, pull)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no review sessions for %s", models.PullKey(owner, repo, pull))
	}

	// A terminal session cannot transition, so park a fresh one in
	// snoozed to carry the suppression.
	if sess.Status.Terminal() {
		sess = &models.ReviewSession{
			Owner: owner, Repo: repo, PullNumber: pull,
			HeadCommit: sess.HeadCommit,
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			return err
		}
	}
	if err := machine.Snooze(ctx, sess.ID); err != nil {
		return err
	}

	ui.Success("Snoozed %s (session %s)", models.PullKey(owner, repo, pull), sess.ID)
	return nil
}

func unsnoozeRun(ctx context.Context, owner, repo string, pull int) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	machine := session.NewMachine(s)

	snoozed, err := s.ListSessions(ctx, store.SessionFilter{
		Owner: owner, Repo: repo, PullNumber: pull, Status: models.SessionSnoozed,
	})
	if err != nil {
		return err
	}
	if len(snoozed) == 0 {
		return fmt.Errorf("%s is not snoozed", models.PullKey(owner, repo, pull))
	}

	for _, sess := range snoozed {
		if err := machine.Unsnooze(ctx, sess.ID); err != nil {
			return err
		}
	}

	ui.Success("Unsnoozed %s (%d sessions re-armed)", models.PullKey(owner, repo, pull), len(snoozed))
	return nil
}

func latestPullSession(ctx context.Context, s store.Store, owner, repo string, pull int) (*models.ReviewSession, error) {
	sessions, err := s.ListSessions(ctx, store.SessionFilter{
		Owner: owner, Repo: repo, PullNumber: pull, Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}
	return sessions[0], nil
}
