package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/output"
	"github.com/joescharf/revd/internal/pipeline"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

var (
	reviewCommit string
	reviewFocus  string
)

var reviewCmd = &cobra.Command{
	Use:   "review <owner> <repo> <pull>",
	Short: "Review a pull request now",
	Long: `Run a review of the given pull request in this process and print
the resulting comments. Reuses the pending session for the head commit
if one exists, otherwise creates a new one.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pull, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("invalid pull number %q", args[2])
		}
		return reviewRun(cmd.Context(), args[0], args[1], pull, reviewCommit, reviewFocus)
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewCommit, "commit", "", "Head commit SHA (default: current head of the pull request)")
	reviewCmd.Flags().StringVar(&reviewFocus, "focus", "", "Focus area for this review (e.g. security)")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context, owner, repo string, pull int, headCommit, focus string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if headCommit == "" {
		client, _ := newPlatformClient()
		headCommit, err = client.HeadCommit(ctx, owner, repo, pull)
		if err != nil {
			return err
		}
		ui.VerboseLog("resolved head commit %s", headCommit)
	}

	machine := session.NewMachine(s)
	pipe, err := buildPipeline(s, machine)
	if err != nil {
		return err
	}

	sess, err := s.GetActiveSession(ctx, owner, repo, pull, headCommit)
	if errors.Is(err, store.ErrNotFound) {
		sess = &models.ReviewSession{
			Owner: owner, Repo: repo, PullNumber: pull,
			HeadCommit: headCommit, FocusArea: focus,
		}
		if err := s.CreateSession(ctx, sess); err != nil {
			return err
		}
	} else if err != nil {
		return err
	} else if focus != "" && sess.FocusArea != focus {
		if err := s.SetSessionFocus(ctx, sess.ID, focus); err != nil {
			return err
		}
	}

	job := dispatch.Job{
		SessionID:  sess.ID,
		Owner:      owner,
		Repo:       repo,
		PullNumber: pull,
		HeadCommit: headCommit,
		FocusArea:  focus,
	}

	if err := runWithRetries(ctx, pipe, machine, job); err != nil {
		return err
	}
	return printSessionResult(ctx, s, sess.ID)
}

// runWithRetries mirrors the dispatcher's retry contract for an inline
// run: transient diff-source failures back off and retry, then fail
// the session when attempts are exhausted.
func runWithRetries(ctx context.Context, pipe *pipeline.Pipeline, machine *session.Machine, job dispatch.Job) error {
	maxAttempts := viper.GetInt("dispatch.max_attempts")
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	backoff := time.Second
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = pipe.Run(ctx, job)
		if err == nil || !pipeline.Retryable(err) {
			return err
		}
		if attempt < maxAttempts {
			ui.Warning("Diff source unavailable, retrying in %s (attempt %d/%d)", backoff, attempt, maxAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
	}

	reason := fmt.Sprintf("retries exhausted after %d attempts: %v", maxAttempts, err)
	if failErr := machine.Fail(ctx, job.SessionID, reason, 0); failErr != nil {
		return failErr
	}
	return fmt.Errorf("review failed: %w", err)
}

func printSessionResult(ctx context.Context, s store.Store, sessionID string) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	switch sess.Status {
	case models.SessionCompleted:
		ui.Success("Review %s completed in %s: %d comments", sess.ID, sess.Duration.Round(time.Millisecond), sess.CommentCount)
	case models.SessionFailed:
		ui.Error("Review %s failed: %s", sess.ID, sess.Reason)
		return nil
	default:
		ui.Info("Review %s is %s", sess.ID, sess.Status)
		return nil
	}

	comments, err := s.ListComments(ctx, sess.ID)
	if err != nil {
		return err
	}
	if len(comments) == 0 {
		return nil
	}

	table := ui.Table([]string{"File", "Line", "Severity", "Category", "Source", "Message"})
	for _, c := range comments {
		line := ""
		if c.Line > 0 {
			line = strconv.Itoa(c.Line)
		}
		table.Append([]string{
			c.FilePath,
			line,
			output.SeverityColor(string(c.Severity)),
			c.Category,
			string(c.Source),
			truncateMessage(c.Message, 80),
		})
	}
	return table.Render()
}

func truncateMessage(msg string, max int) string {
	if len(msg) <= max {
		return msg
	}
	return msg[:max-3] + "..."
}
