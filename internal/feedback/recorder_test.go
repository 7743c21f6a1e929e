package feedback

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

func setup(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedComment(t *testing.T, s store.Store) string {
	t.Helper()
	ctx := context.Background()
	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 1, HeadCommit: "abc"}
	if err := s.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	comments := []*models.ReviewComment{{
		FilePath: "a.go", Line: 1,
		Severity: models.SeverityLow, Category: "style",
		Source: models.SourceAIModel, Message: "x",
	}}
	if err := s.CompleteSession(ctx, sess.ID, models.SessionCompleted, "", time.Second, comments); err != nil {
		t.Fatal(err)
	}
	stored, err := s.ListComments(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	return stored[0].ID
}

func TestRecord_DurableAfterClose(t *testing.T) {
	s := setup(t)
	commentID := seedComment(t, s)
	r := NewRecorder(s, 8, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := r.Record(ctx, &models.FeedbackEvent{
			CommentID: commentID,
			Reaction:  models.ReactionHelpful,
			User:      fmt.Sprintf("dev%d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListFeedback(ctx, commentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Errorf("feedback rows = %d, want 5", len(got))
	}
}

func TestRecord_FullBufferFallsBackToDirectWrite(t *testing.T) {
	s := setup(t)
	commentID := seedComment(t, s)
	r := NewRecorder(s, 1, nil)
	defer func() { _ = r.Close() }()

	// More events than the buffer can hold; none may be lost.
	ctx := context.Background()
	const n = 20
	for i := 0; i < n; i++ {
		err := r.Record(ctx, &models.FeedbackEvent{
			CommentID: commentID,
			Reaction:  models.ReactionResolved,
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListFeedback(ctx, commentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != n {
		t.Errorf("feedback rows = %d, want %d", len(got), n)
	}
}

func TestRecord_InvalidReaction(t *testing.T) {
	s := setup(t)
	r := NewRecorder(s, 8, nil)
	defer func() { _ = r.Close() }()

	err := r.Record(context.Background(), &models.FeedbackEvent{
		CommentID: "c1",
		Reaction:  "meh",
	})
	if err == nil {
		t.Fatal("expected error for invalid reaction")
	}
}

func TestRecord_AfterCloseWritesSynchronously(t *testing.T) {
	s := setup(t)
	commentID := seedComment(t, s)
	r := NewRecorder(s, 8, nil)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	err := r.Record(ctx, &models.FeedbackEvent{CommentID: commentID, Reaction: models.ReactionIgnored})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.ListFeedback(ctx, commentID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("feedback rows = %d, want 1", len(got))
	}
}
