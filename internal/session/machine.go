// Package session enforces the review session lifecycle:
// pending -> running -> {completed, failed}, with snoozed reachable from
// pending or running by explicit command. Failed sessions are never
// reused; a re-review creates a brand-new session.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

// ErrInvalidTransition indicates a programming invariant violation; it
// is never expected during correct operation.
var ErrInvalidTransition = errors.New("invalid session transition")

// allowed maps each state to the states it may move to. The snoozed ->
// pending edge is only reachable through Unsnooze (manual clear).
var allowed = map[models.SessionStatus][]models.SessionStatus{
	models.SessionPending: {models.SessionRunning, models.SessionFailed, models.SessionSnoozed},
	models.SessionRunning: {models.SessionCompleted, models.SessionFailed, models.SessionSnoozed},
	models.SessionSnoozed: {models.SessionPending},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to models.SessionStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine applies validated transitions against the store.
type Machine struct {
	store store.Store
}

// NewMachine creates a state machine bound to the given store.
func NewMachine(s store.Store) *Machine {
	return &Machine{store: s}
}

// Start moves a pending session to running and records the start time.
func (m *Machine) Start(ctx context.Context, id string) (time.Time, error) {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	if err := check(sess.Status, models.SessionRunning); err != nil {
		return time.Time{}, err
	}
	now := time.Now().UTC()
	if err := m.store.SetSessionStatus(ctx, id, models.SessionRunning, &now); err != nil {
		return time.Time{}, err
	}
	return now, nil
}

// Complete writes the terminal completed status together with the final
// comment set; both are persisted in one transaction by the store.
func (m *Machine) Complete(ctx context.Context, id string, duration time.Duration, comments []*models.ReviewComment) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := check(sess.Status, models.SessionCompleted); err != nil {
		return err
	}
	return m.store.CompleteSession(ctx, id, models.SessionCompleted, "", duration, comments)
}

// Fail marks the session failed with an explanatory reason. A failed
// session always carries the reason and completion timestamp so the
// failure is never a silent drop.
func (m *Machine) Fail(ctx context.Context, id, reason string, duration time.Duration) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := check(sess.Status, models.SessionFailed); err != nil {
		return err
	}
	return m.store.CompleteSession(ctx, id, models.SessionFailed, reason, duration, nil)
}

// Snooze suppresses a pending or running session.
func (m *Machine) Snooze(ctx context.Context, id string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := check(sess.Status, models.SessionSnoozed); err != nil {
		return err
	}
	return m.store.SetSessionStatus(ctx, id, models.SessionSnoozed, nil)
}

// Unsnooze re-arms a snoozed session back to pending. This is the only
// way out of snoozed and is always operator-initiated.
func (m *Machine) Unsnooze(ctx context.Context, id string) error {
	sess, err := m.store.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status != models.SessionSnoozed {
		return fmt.Errorf("%w: %s -> pending", ErrInvalidTransition, sess.Status)
	}
	return m.store.SetSessionStatus(ctx, id, models.SessionPending, nil)
}

func check(from, to models.SessionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
