package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

// Runner executes matching adapters concurrently on a bounded worker
// pool, each under its own timeout.
type Runner struct {
	registry *Registry
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRunner creates a runner. workers <= 0 defaults to 4.
func NewRunner(registry *Registry, workers int, timeout time.Duration, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{registry: registry, workers: workers, timeout: timeout, logger: logger}
}

// Result holds one adapter's contribution. Failed or timed-out adapters
// yield an empty finding list and a warning, never an aborted run.
type Result struct {
	Adapter  string
	Findings []models.Finding
	Warning  string
}

// Run invokes every adapter that supports a language in the file set.
// Results come back in adapter registration order so aggregation input
// is deterministic regardless of completion order.
func (r *Runner) Run(ctx context.Context, files []diff.File) []Result {
	adapters := r.registry.For(files)
	if len(adapters) == 0 {
		return nil
	}

	results := make([]Result, len(adapters))
	sem := make(chan struct{}, r.workers)
	var wg sync.WaitGroup

	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = r.runOne(ctx, a, files)
		}(i, a)
	}
	wg.Wait()

	return results
}

// runOne invokes a single adapter with its timeout, recovering panics
// so a crashing adapter cannot take down the worker.
func (r *Runner) runOne(ctx context.Context, a Adapter, files []diff.File) (res Result) {
	res.Adapter = a.Name()

	defer func() {
		if p := recover(); p != nil {
			res.Findings = nil
			res.Warning = fmt.Sprintf("adapter panicked: %v", p)
			r.logger.Warn("analyzer adapter panicked", "adapter", a.Name(), "panic", p)
		}
	}()

	runCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	findings, err := a.Run(runCtx, files)
	if err != nil {
		res.Warning = err.Error()
		r.logger.Warn("analyzer adapter failed", "adapter", a.Name(), "error", err)
		return res
	}

	// Normalize to the common vocabulary and stamp provenance.
	for i := range findings {
		if !findings[i].Severity.Valid() {
			findings[i].Severity = NormalizeSeverity(string(findings[i].Severity))
		}
		findings[i].Source = models.SourceStaticAnalyzer
		if findings[i].Tool == "" {
			findings[i].Tool = a.Name()
		}
	}
	res.Findings = findings
	return res
}
