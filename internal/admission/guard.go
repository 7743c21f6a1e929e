// Package admission gates review jobs before any session exists:
// idempotent event ingestion, per-resource rate limiting, and snooze
// suppression.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

// ErrRateLimited rejects a job whose resource exceeded the window
// ceiling. No session is created.
var ErrRateLimited = errors.New("rate limit exceeded")

// Decision is the admission outcome for one inbound event.
type Decision int

const (
	// Admitted: proceed to enqueue a review job.
	Admitted Decision = iota
	// Duplicate: delivery already processed; silent no-op success.
	Duplicate
	// Suppressed: the pull request is snoozed; no automatic processing.
	Suppressed
)

// Guard performs admission checks backed by the store. Counter updates
// use the store's atomic increment-and-check so two concurrent jobs can
// never both slip past the same limit.
type Guard struct {
	store  store.Store
	window time.Duration
	limit  int
	logger *slog.Logger
}

// NewGuard creates a guard with a fixed rate window. limit <= 0
// disables rate limiting.
func NewGuard(s store.Store, window time.Duration, limit int, logger *slog.Logger) *Guard {
	if window <= 0 {
		window = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{store: s, window: window, limit: limit, logger: logger}
}

// Admit runs the checks in order: idempotency, snooze suppression, rate
// limit. Only a rate-limit rejection is an error; duplicates and
// snoozed pulls are quiet non-admissions.
func (g *Guard) Admit(ctx context.Context, e *models.WebhookEvent) (Decision, error) {
	inserted, err := g.store.InsertEvent(ctx, e)
	if err != nil {
		return 0, fmt.Errorf("record event: %w", err)
	}
	if !inserted {
		g.logger.Info("duplicate delivery ignored", "delivery_id", e.DeliveryID)
		return Duplicate, nil
	}

	snoozed, err := g.store.IsPullSnoozed(ctx, e.Owner, e.Repo, e.PullNumber)
	if err != nil {
		return 0, err
	}
	if snoozed {
		g.logger.Info("pull snoozed, suppressing review",
			"pull", models.PullKey(e.Owner, e.Repo, e.PullNumber))
		return Suppressed, nil
	}

	if g.limit > 0 {
		windowStart := time.Now().UTC().Truncate(g.window)
		resource := fmt.Sprintf("%s/%s", e.Owner, e.Repo)
		allowed, err := g.store.IncrementRateLimit(ctx, "repo", resource, windowStart, g.limit)
		if err != nil {
			return 0, err
		}
		if !allowed {
			return 0, fmt.Errorf("%w: %s (%d per %s)", ErrRateLimited, resource, g.limit, g.window)
		}
	}

	return Admitted, nil
}
