package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revd/internal/models"
)

func TestSnoozeRun_NoSessions(t *testing.T) {
	testEnv(t)

	err := snoozeRun(context.Background(), "octo", "widgets", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no review sessions")
}

func TestSnoozeRun_SuppressesPull(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	s, err := getStore()
	require.NoError(t, err)

	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc123"}
	require.NoError(t, s.CreateSession(ctx, sess))

	require.NoError(t, snoozeRun(ctx, "octo", "widgets", 7))

	snoozed, err := s.IsPullSnoozed(ctx, "octo", "widgets", 7)
	require.NoError(t, err)
	assert.True(t, snoozed)
}

func TestSnoozeRun_TerminalSessionGetsFreshOne(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	s, err := getStore()
	require.NoError(t, err)

	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc123"}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.CompleteSession(ctx, sess.ID, models.SessionCompleted, "", 0, nil))

	require.NoError(t, snoozeRun(ctx, "octo", "widgets", 7))

	// The completed session must be untouched; a new snoozed one carries it.
	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, got.Status)

	snoozed, err := s.IsPullSnoozed(ctx, "octo", "widgets", 7)
	require.NoError(t, err)
	assert.True(t, snoozed)
}

func TestUnsnoozeRun(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	s, err := getStore()
	require.NoError(t, err)

	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc123"}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, snoozeRun(ctx, "octo", "widgets", 7))

	require.NoError(t, unsnoozeRun(ctx, "octo", "widgets", 7))

	snoozed, err := s.IsPullSnoozed(ctx, "octo", "widgets", 7)
	require.NoError(t, err)
	assert.False(t, snoozed)

	got, err := s.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)
}

func TestUnsnoozeRun_NotSnoozed(t *testing.T) {
	testEnv(t)

	err := unsnoozeRun(context.Background(), "octo", "widgets", 7)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not snoozed")
}
