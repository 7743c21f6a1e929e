// Package dispatch owns the asynchronous execution of review jobs: a
// bounded queue feeding a fixed worker pool, per-key coalescing, and
// retry with exponential backoff for transient failures.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
)

// ErrQueueFull is the backpressure signal: the queue is at capacity and
// the job was not accepted.
var ErrQueueFull = errors.New("dispatch queue full")

// ErrClosed rejects submissions after Close.
var ErrClosed = errors.New("dispatcher closed")

// Job is one unit of review work, keyed by (owner, repo, pull,
// head commit). SessionID references the pending session created at
// admission.
type Job struct {
	SessionID  string
	Owner      string
	Repo       string
	PullNumber int
	HeadCommit string
	FocusArea  string
}

// Key returns the coalescing key for the job.
func (j Job) Key() string {
	return models.ReviewKey(j.Owner, j.Repo, j.PullNumber, j.HeadCommit)
}

// Runner executes one review job. A Runner must honor ctx cancellation
// at stage boundaries and is responsible for its session's terminal
// state except when retries are exhausted, which the dispatcher
// records.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Options tune the dispatcher. Zero values get working defaults.
type Options struct {
	Workers     int
	QueueDepth  int
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// Retryable reports whether an error from the Runner is transient.
	// Nil means nothing is retried.
	Retryable func(error) bool
}

type task struct {
	mu         sync.Mutex
	job        Job
	started    bool
	superseded bool
	cancel     context.CancelFunc
	ctx        context.Context
}

// Dispatcher runs review jobs. One instance is constructed at startup
// and passed to whatever submits jobs; there is no package-level state.
type Dispatcher struct {
	runner  Runner
	machine *session.Machine
	opts    Options
	logger  *slog.Logger

	queue chan *task
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]*task
	closed   bool
}

// New creates a dispatcher and starts its worker pool.
func New(runner Runner, machine *session.Machine, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 64
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		runner:   runner,
		machine:  machine,
		opts:     opts,
		logger:   logger,
		queue:    make(chan *task, opts.QueueDepth),
		inflight: make(map[string]*task),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit enqueues a job. Per-key coalescing rules:
//   - a queued job for the same key that has not started is superseded
//     in place by the newer payload;
//   - a running job for the same key is cancelled and the newer job is
//     enqueued behind it.
//
// A full queue returns ErrQueueFull without side effects.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	key := job.Key()
	var running *task
	if existing, ok := d.inflight[key]; ok {
		existing.mu.Lock()
		if !existing.started {
			existing.job = job
			existing.mu.Unlock()
			d.mu.Unlock()
			d.logger.Info("coalesced pending job", "key", key)
			return nil
		}
		existing.mu.Unlock()
		running = existing
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &task{job: job, ctx: ctx, cancel: cancel}
	select {
	case d.queue <- t:
	default:
		d.mu.Unlock()
		cancel()
		return fmt.Errorf("%w: depth %d", ErrQueueFull, d.opts.QueueDepth)
	}
	d.inflight[key] = t

	// The running predecessor is cancelled only after its replacement
	// holds a queue slot; a rejected submission leaves it untouched.
	if running != nil {
		running.mu.Lock()
		running.superseded = true
		running.cancel()
		running.mu.Unlock()
		d.logger.Info("cancelled running job for newer submission", "key", key)
	}
	d.mu.Unlock()
	return nil
}

// CancelPull cancels every queued or running job for the pull request,
// regardless of head commit. Used by snooze.
func (d *Dispatcher) CancelPull(owner, repo string, pull int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, t := range d.inflight {
		t.mu.Lock()
		if t.job.Owner == owner && t.job.Repo == repo && t.job.PullNumber == pull && !t.superseded {
			t.superseded = true
			t.cancel()
			n++
		}
		t.mu.Unlock()
	}
	return n
}

// Close stops accepting jobs and waits for in-flight work to finish.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for t := range d.queue {
		t.mu.Lock()
		if t.superseded || t.ctx.Err() != nil {
			t.mu.Unlock()
			d.release(t)
			continue
		}
		t.started = true
		job := t.job
		t.mu.Unlock()

		d.execute(t.ctx, job)
		t.cancel()
		d.release(t)
	}
}

// release removes the task from the inflight map unless a newer task
// already replaced it under the same key.
func (d *Dispatcher) release(t *task) {
	d.mu.Lock()
	key := t.job.Key()
	if d.inflight[key] == t {
		delete(d.inflight, key)
	}
	d.mu.Unlock()
}

func (d *Dispatcher) execute(ctx context.Context, job Job) {
	backoff := d.opts.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := d.runner.Run(ctx, job)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			d.logger.Info("job cancelled", "key", job.Key())
			return
		}
		if d.opts.Retryable == nil || !d.opts.Retryable(err) {
			// Fatal errors terminate the session inside the runner.
			d.logger.Error("job failed", "key", job.Key(), "attempt", attempt, "error", err)
			return
		}
		if attempt >= d.opts.MaxAttempts {
			d.logger.Error("job retries exhausted", "key", job.Key(), "attempts", attempt, "error", err)
			d.failSession(job, fmt.Sprintf("retries exhausted after %d attempts: %v", attempt, err))
			return
		}
		d.logger.Warn("job failed, retrying", "key", job.Key(), "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > d.opts.MaxBackoff {
			backoff = d.opts.MaxBackoff
		}
	}
}

func (d *Dispatcher) failSession(job Job, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.machine.Fail(ctx, job.SessionID, reason, 0); err != nil {
		d.logger.Error("record session failure", "session_id", job.SessionID, "error", err)
	}
}
