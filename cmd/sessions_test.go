package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/revd/internal/models"
)

func TestSessionsListRun_Empty(t *testing.T) {
	testEnv(t)

	assert.NoError(t, sessionsListRun())
}

func TestSessionsShowRun(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	s, err := getStore()
	require.NoError(t, err)

	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc123def"}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.CompleteSession(ctx, sess.ID, models.SessionCompleted, "", 2*time.Second, []*models.ReviewComment{{
		FilePath: "main.go", Line: 10, Severity: models.SeverityHigh,
		Category: "security", Source: models.SourceAIModel, Message: "unchecked input",
	}}))

	assert.NoError(t, sessionsShowRun(ctx, sess.ID))
}

func TestSessionsShowRun_NotFound(t *testing.T) {
	testEnv(t)

	err := sessionsShowRun(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSessionsCleanupRun(t *testing.T) {
	testEnv(t)
	ctx := context.Background()

	s, err := getStore()
	require.NoError(t, err)

	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc123"}
	require.NoError(t, s.CreateSession(ctx, sess))
	require.NoError(t, s.CompleteSession(ctx, sess.ID, models.SessionFailed, "boom", 0, nil))

	// Cutoff in the future purges everything terminal.
	cleanupOlderThan = -time.Hour
	t.Cleanup(func() { cleanupOlderThan = 30 * 24 * time.Hour })

	require.NoError(t, sessionsCleanupRun(ctx))

	_, err = s.GetSession(ctx, sess.ID)
	assert.Error(t, err)
}

func TestShortCommit(t *testing.T) {
	assert.Equal(t, "abc123de", shortCommit("abc123def456"))
	assert.Equal(t, "abc", shortCommit("abc"))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "1.5s", formatDuration(1500*time.Millisecond))
}

func TestTimeAgo(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", timeAgo(now.Add(-10*time.Second)))
	assert.Equal(t, "5m ago", timeAgo(now.Add(-5*time.Minute)))
	assert.Equal(t, "3h ago", timeAgo(now.Add(-3*time.Hour)))
	assert.Equal(t, "2d ago", timeAgo(now.Add(-49*time.Hour)))
}

func TestTruncateMessage(t *testing.T) {
	assert.Equal(t, "short", truncateMessage("short", 80))
	long := truncateMessage("aaaaaaaaaaaaaaaaaaaa", 10)
	assert.Len(t, long, 10)
	assert.Contains(t, long, "...")
}
