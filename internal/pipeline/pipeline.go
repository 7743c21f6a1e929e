// Package pipeline runs one review session end to end: config
// resolution, diff fetch, concurrent static and AI analysis,
// aggregation, terminal state, and posting handoff.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/joescharf/revd/internal/aggregate"
	"github.com/joescharf/revd/internal/ai"
	"github.com/joescharf/revd/internal/analyzer"
	"github.com/joescharf/revd/internal/config"
	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

// Poster hands the computed comment set to the platform collaborator.
// The pipeline guarantees the set was computed once and handed off once
// per session; delivery retries are the poster's concern.
type Poster interface {
	Post(ctx context.Context, sess *models.ReviewSession, comments []*models.ReviewComment) error
}

// Options tune a pipeline.
type Options struct {
	// DeepThreshold is the diff byte size below which the deep AI tier
	// may be selected.
	DeepThreshold int
}

// Pipeline executes review jobs. It satisfies dispatch.Runner.
type Pipeline struct {
	store     store.Store
	machine   *session.Machine
	resolver  *config.Resolver
	fetcher   *diff.Fetcher
	analyzers *analyzer.Runner
	backend   ai.Backend
	poster    Poster
	opts      Options
	logger    *slog.Logger
}

// New wires a pipeline. backend and poster may be nil (static-only
// review, no posting).
func New(s store.Store, machine *session.Machine, resolver *config.Resolver, fetcher *diff.Fetcher, analyzers *analyzer.Runner, backend ai.Backend, poster Poster, opts Options, logger *slog.Logger) *Pipeline {
	if opts.DeepThreshold <= 0 {
		opts.DeepThreshold = 50_000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     s,
		machine:   machine,
		resolver:  resolver,
		fetcher:   fetcher,
		analyzers: analyzers,
		backend:   backend,
		poster:    poster,
		opts:      opts,
		logger:    logger,
	}
}

// Run executes one review job. Transient diff-source failures are
// returned for the dispatcher to retry; fatal conditions terminate the
// session here. Cancellation is honored at each stage boundary and
// discards partial results.
func (p *Pipeline) Run(ctx context.Context, job dispatch.Job) error {
	cfg, err := p.resolver.Resolve(ctx, job.Owner, job.Repo)
	if err != nil {
		return err
	}

	focus := job.FocusArea
	if focus == "" && len(cfg.FocusAreas) > 0 {
		focus = strings.Join(cfg.FocusAreas, ", ")
	}

	// Fetch before starting so a transient retry finds the session still
	// pending and an oversized diff fails it without ever running.
	files, err := p.fetcher.Fetch(ctx, job.Owner, job.Repo, job.PullNumber, job.HeadCommit, cfg.ExcludedFiles)
	if err != nil {
		if Retryable(err) {
			return err
		}
		if err := p.machine.Fail(ctx, job.SessionID, err.Error(), 0); err != nil {
			return fmt.Errorf("record fatal diff error: %w", err)
		}
		p.logger.Warn("session failed at diff fetch", "session_id", job.SessionID, "error", err)
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	started, err := p.start(ctx, job.SessionID)
	if err != nil {
		return err
	}

	staticFindings, aiFindings := p.analyze(ctx, files, focus)
	if err := ctx.Err(); err != nil {
		return err
	}

	aiFindings = ai.Validate(aiFindings, files, p.logger)
	comments := aggregate.Aggregate(aiFindings, staticFindings, cfg)
	duration := time.Since(started)

	if err := p.machine.Complete(ctx, job.SessionID, duration, comments); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	p.logger.Info("review completed",
		"session_id", job.SessionID,
		"pull", models.PullKey(job.Owner, job.Repo, job.PullNumber),
		"comments", len(comments),
		"duration", duration)

	if p.poster != nil {
		sess, err := p.store.GetSession(ctx, job.SessionID)
		if err != nil {
			return err
		}
		if err := p.poster.Post(ctx, sess, comments); err != nil {
			// The comment set is persisted; delivery is the sink's contract.
			p.logger.Error("posting handoff failed", "session_id", job.SessionID, "error", err)
		}
	}
	return nil
}

// start moves the session to running, or resumes one already running
// (a retried job after a cancelled attempt).
func (p *Pipeline) start(ctx context.Context, sessionID string) (time.Time, error) {
	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return time.Time{}, err
	}
	switch sess.Status {
	case models.SessionRunning:
		if sess.StartedAt != nil {
			return *sess.StartedAt, nil
		}
		return time.Now().UTC(), nil
	case models.SessionPending:
		return p.machine.Start(ctx, sessionID)
	default:
		return time.Time{}, fmt.Errorf("session %s is %s, cannot run", sessionID, sess.Status)
	}
}

// analyze runs the static adapters and the AI passes concurrently and
// joins on both. AI failures degrade to static-only output.
func (p *Pipeline) analyze(ctx context.Context, files []diff.File, focus string) (static, aiOut []models.Finding) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, res := range p.analyzers.Run(ctx, files) {
			static = append(static, res.Findings...)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		aiOut = p.review(ctx, files, focus)
	}()

	wg.Wait()
	return static, aiOut
}

// review runs the fast pass and escalates to the deep tier per policy.
func (p *Pipeline) review(ctx context.Context, files []diff.File, focus string) []models.Finding {
	if p.backend == nil {
		return nil
	}
	diffContext := diff.Context(files)

	fast, err := p.backend.Invoke(ctx, ai.TierFast, diffContext, focus)
	if err != nil {
		p.logger.Warn("ai fast pass failed, degrading to static-only", "error", err)
		return nil
	}
	// Escalation reads only validated findings; a hallucinated high on a
	// path outside the diff must not buy a deep-tier call.
	fast = ai.Validate(fast, files, p.logger)

	tier := ai.SelectTier(diff.TotalSize(files), p.opts.DeepThreshold, focus, ai.HasHighSeverity(fast))
	if tier != ai.TierDeep {
		return fast
	}

	deep, err := p.backend.Invoke(ctx, ai.TierDeep, diffContext, focus)
	if err != nil {
		p.logger.Warn("ai deep pass failed, keeping fast-pass findings", "error", err)
		return fast
	}
	return deep
}

// Retryable is the dispatcher's transient-error predicate: only an
// unavailable diff source is worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, diff.ErrSourceUnavailable)
}
