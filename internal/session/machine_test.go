package session

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

func setupMachine(t *testing.T) (*Machine, store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewMachine(s), s
}

func createSession(t *testing.T, s store.Store) *models.ReviewSession {
	t.Helper()
	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 1, HeadCommit: "abc"}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestLifecycle_Completed(t *testing.T) {
	m, s := setupMachine(t)
	ctx := context.Background()
	sess := createSession(t, s)

	started, err := m.Start(ctx, sess.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.IsZero() {
		t.Error("expected start timestamp")
	}

	if err := m.Complete(ctx, sess.ID, 2*time.Second, nil); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestPendingCanFailDirectly(t *testing.T) {
	// A diff over the hard ceiling fails the session before it starts.
	m, s := setupMachine(t)
	ctx := context.Background()
	sess := createSession(t, s)

	if err := m.Fail(ctx, sess.ID, "diff too large", 0); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != models.SessionFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Reason != "diff too large" {
		t.Errorf("reason = %q, want diff too large", got.Reason)
	}
	if got.CompletedAt == nil {
		t.Error("failed session must record a timestamp")
	}
}

func TestNoTransitionOutOfTerminal(t *testing.T) {
	m, s := setupMachine(t)
	ctx := context.Background()
	sess := createSession(t, s)

	if _, err := m.Start(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Complete(ctx, sess.ID, time.Second, nil); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Start(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start after complete: got %v, want ErrInvalidTransition", err)
	}
	if err := m.Fail(ctx, sess.ID, "x", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("fail after complete: got %v, want ErrInvalidTransition", err)
	}
	if err := m.Snooze(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("snooze after complete: got %v, want ErrInvalidTransition", err)
	}
}

func TestSnoozeAndUnsnooze(t *testing.T) {
	m, s := setupMachine(t)
	ctx := context.Background()
	sess := createSession(t, s)

	if err := m.Snooze(ctx, sess.ID); err != nil {
		t.Fatalf("snooze: %v", err)
	}
	got, _ := s.GetSession(ctx, sess.ID)
	if got.Status != models.SessionSnoozed {
		t.Fatalf("status = %s, want snoozed", got.Status)
	}

	// Snoozed admits no automatic transitions.
	if _, err := m.Start(ctx, sess.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start while snoozed: got %v", err)
	}

	if err := m.Unsnooze(ctx, sess.ID); err != nil {
		t.Fatalf("unsnooze: %v", err)
	}
	got, _ = s.GetSession(ctx, sess.ID)
	if got.Status != models.SessionPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestSnoozeWhileRunning(t *testing.T) {
	m, s := setupMachine(t)
	ctx := context.Background()
	sess := createSession(t, s)

	if _, err := m.Start(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.Snooze(ctx, sess.ID); err != nil {
		t.Fatalf("snooze running session: %v", err)
	}
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to models.SessionStatus
		want     bool
	}{
		{models.SessionPending, models.SessionRunning, true},
		{models.SessionPending, models.SessionFailed, true},
		{models.SessionPending, models.SessionCompleted, false},
		{models.SessionRunning, models.SessionCompleted, true},
		{models.SessionRunning, models.SessionFailed, true},
		{models.SessionRunning, models.SessionPending, false},
		{models.SessionCompleted, models.SessionRunning, false},
		{models.SessionFailed, models.SessionRunning, false},
		{models.SessionFailed, models.SessionPending, false},
		{models.SessionSnoozed, models.SessionPending, true},
		{models.SessionSnoozed, models.SessionRunning, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
