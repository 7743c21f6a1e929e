package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/revd/internal/feedback"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

var (
	feedbackUser string
	feedbackNote string
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback <comment-id> <reaction>",
	Short: "Record developer feedback on a review comment",
	Long: `Record a reaction to a review comment. Reactions: helpful,
not_helpful, resolved, ignored.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return feedbackRun(cmd.Context(), args[0], args[1])
	},
}

func init() {
	feedbackCmd.Flags().StringVar(&feedbackUser, "user", "", "User recording the feedback")
	feedbackCmd.Flags().StringVar(&feedbackNote, "note", "", "Optional free-form note")
	rootCmd.AddCommand(feedbackCmd)
}

func feedbackRun(ctx context.Context, commentID, reaction string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	if _, err := s.GetComment(ctx, commentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("comment %s not found", commentID)
		}
		return err
	}

	rec := feedback.NewRecorder(s, 0, logger)
	defer rec.Close()

	err = rec.Record(ctx, &models.FeedbackEvent{
		CommentID: commentID,
		Reaction:  reaction,
		User:      feedbackUser,
		Note:      feedbackNote,
	})
	if err != nil {
		return err
	}

	ui.Success("Feedback recorded on %s: %s", commentID, reaction)
	return nil
}
