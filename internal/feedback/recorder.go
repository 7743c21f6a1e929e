// Package feedback records developer reactions to posted comments so
// future tuning has an effectiveness signal to work from.
package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

// Recorder appends feedback events to the store. Writes normally go
// through a buffered background worker so the caller never waits on
// disk; when the buffer is full the write happens synchronously instead
// of being dropped.
type Recorder struct {
	store  store.Store
	logger *slog.Logger

	ch     chan *models.FeedbackEvent
	done   chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewRecorder starts the background writer. buffer <= 0 gets a small
// default.
func NewRecorder(s store.Store, buffer int, logger *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  s,
		logger: logger,
		ch:     make(chan *models.FeedbackEvent, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for f := range r.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := r.store.AppendFeedback(ctx, f); err != nil {
			r.logger.Error("append feedback", "comment_id", f.CommentID, "error", err)
		}
		cancel()
	}
}

// Record accepts one feedback event. Invalid reactions are rejected;
// everything accepted is eventually durable.
func (r *Recorder) Record(ctx context.Context, f *models.FeedbackEvent) error {
	switch f.Reaction {
	case models.ReactionHelpful, models.ReactionNotHelpful, models.ReactionResolved, models.ReactionIgnored:
	default:
		return fmt.Errorf("invalid reaction %q", f.Reaction)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return r.store.AppendFeedback(ctx, f)
	}
	select {
	case r.ch <- f:
		r.mu.Unlock()
		return nil
	default:
		r.mu.Unlock()
		// Buffer full: fall back to a direct write rather than drop.
		return r.store.AppendFeedback(ctx, f)
	}
}

// Close drains the buffer and stops the worker. Events accepted before
// Close are written before it returns.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.ch)
	r.mu.Unlock()
	<-r.done
	return nil
}
