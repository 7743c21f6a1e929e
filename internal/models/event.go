package models

import "time"

// WebhookEvent is a normalized, already-authenticated inbound trigger.
// DeliveryID is globally unique; a retried delivery with the same ID is
// treated as already processed.
type WebhookEvent struct {
	DeliveryID string
	Owner      string
	Repo       string
	PullNumber int
	HeadCommit string
	EventType  string // pull_request.opened, pull_request.synchronize, manual, ...
	FocusArea  string
	ReceivedAt time.Time
}

// Reactions a developer can attach to a posted comment.
const (
	ReactionHelpful    = "helpful"
	ReactionNotHelpful = "not_helpful"
	ReactionResolved   = "resolved"
	ReactionIgnored    = "ignored"
)

// FeedbackEvent records a downstream reaction to a posted review comment.
type FeedbackEvent struct {
	ID        string
	CommentID string
	Reaction  string
	User      string
	Note      string
	CreatedAt time.Time
}
