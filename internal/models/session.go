package models

import (
	"fmt"
	"time"
)

// SessionStatus represents the lifecycle state of a review session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
	SessionSnoozed   SessionStatus = "snoozed"
)

// Terminal reports whether no further automatic transitions are allowed.
// Snoozed is terminal until explicitly cleared by an operator.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed || s == SessionSnoozed
}

// ReviewSession tracks one end-to-end review attempt for a specific
// commit of a pull request.
type ReviewSession struct {
	ID           string
	Owner        string
	Repo         string
	PullNumber   int
	HeadCommit   string
	Status       SessionStatus
	FocusArea    string // optional, set by focus command or event
	EventID      string // delivery ID of the triggering webhook event
	Reason       string // failure reason for failed sessions
	CommentCount int
	Duration     time.Duration
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// Key returns the dedup/coalescing key for this session's target.
func (s *ReviewSession) Key() string {
	return ReviewKey(s.Owner, s.Repo, s.PullNumber, s.HeadCommit)
}

// ReviewKey builds the canonical (owner, repo, pull, commit) job key.
func ReviewKey(owner, repo string, pull int, headCommit string) string {
	return fmt.Sprintf("%s/%s#%d@%s", owner, repo, pull, headCommit)
}

// PullKey identifies a pull request independent of commit, used for
// snooze suppression and PR-wide cancellation.
func PullKey(owner, repo string, pull int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, pull)
}
