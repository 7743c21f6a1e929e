package store

import (
	"context"
	"errors"
	"time"

	"github.com/joescharf/revd/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SessionFilter narrows ListSessions results.
type SessionFilter struct {
	Owner      string
	Repo       string
	PullNumber int
	Status     models.SessionStatus
	Limit      int
}

// Store is the persistence interface for the review pipeline.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	// Sessions. A session is created pending, mutated only through the
	// status operations below, and never deleted by the pipeline itself.
	CreateSession(ctx context.Context, s *models.ReviewSession) error
	GetSession(ctx context.Context, id string) (*models.ReviewSession, error)
	// GetActiveSession returns the single non-terminal session for the
	// given target, or ErrNotFound.
	GetActiveSession(ctx context.Context, owner, repo string, pull int, headCommit string) (*models.ReviewSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.ReviewSession, error)
	SetSessionStatus(ctx context.Context, id string, status models.SessionStatus, startedAt *time.Time) error
	SetSessionFocus(ctx context.Context, id, focusArea string) error
	// CompleteSession writes the terminal status, reason, duration, and
	// the full comment set in a single transaction.
	CompleteSession(ctx context.Context, id string, status models.SessionStatus, reason string, duration time.Duration, comments []*models.ReviewComment) error
	// PurgeSessionsBefore removes sessions (and their comments) created
	// before the cutoff. Retention only; never called by the pipeline.
	PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Comments.
	ListComments(ctx context.Context, sessionID string) ([]*models.ReviewComment, error)
	GetComment(ctx context.Context, id string) (*models.ReviewComment, error)

	// Webhook events. InsertEvent reports false when the delivery ID was
	// already recorded (idempotent ingestion).
	InsertEvent(ctx context.Context, e *models.WebhookEvent) (bool, error)

	// IncrementRateLimit performs an atomic increment-and-check against a
	// fixed window. Returns false when the counter would exceed limit.
	// Counters reset when the window rolls over and are never negative.
	IncrementRateLimit(ctx context.Context, resourceType, resourceID string, windowStart time.Time, limit int) (bool, error)

	// IsPullSnoozed reports whether any snoozed session suppresses
	// automatic processing for the pull request.
	IsPullSnoozed(ctx context.Context, owner, repo string, pull int) (bool, error)

	// Per-repository configuration overrides (nil when none stored).
	GetRepoConfig(ctx context.Context, owner, repo string) (*RepoConfig, error)
	SetRepoConfig(ctx context.Context, cfg *RepoConfig) error

	// Feedback effectiveness log (durable append).
	AppendFeedback(ctx context.Context, f *models.FeedbackEvent) error
	ListFeedback(ctx context.Context, commentID string) ([]*models.FeedbackEvent, error)
}

// RepoConfig holds stored per-repository overrides. Zero values mean
// "no override"; merging over system defaults happens in internal/config.
type RepoConfig struct {
	Owner         string
	Repo          string
	MaxComments   int
	FocusAreas    []string
	ExcludedFiles []string
	Rules         map[string]models.Strictness
	UpdatedAt     time.Time
}
