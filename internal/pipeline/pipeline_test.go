package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/joescharf/revd/internal/ai"
	"github.com/joescharf/revd/internal/analyzer"
	"github.com/joescharf/revd/internal/config"
	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

type fakeSource struct {
	files []diff.File
	err   error
	calls int
}

func (s *fakeSource) FetchDiff(_ context.Context, _, _ string, _ int, _ string) ([]diff.File, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.files, nil
}

type fakeBackend struct {
	mu      sync.Mutex
	byTier  map[ai.Tier][]models.Finding
	err     error
	invoked []ai.Tier
}

func (b *fakeBackend) Invoke(_ context.Context, tier ai.Tier, _, _ string) ([]models.Finding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.invoked = append(b.invoked, tier)
	if b.err != nil {
		return nil, b.err
	}
	return b.byTier[tier], nil
}

type fakeAdapter struct {
	name     string
	findings []models.Finding
	err      error
}

func (a *fakeAdapter) Name() string         { return a.name }
func (a *fakeAdapter) Supports(string) bool { return true }
func (a *fakeAdapter) Run(context.Context, []diff.File) ([]models.Finding, error) {
	return a.findings, a.err
}

type fakePoster struct {
	mu       sync.Mutex
	sessions []*models.ReviewSession
	comments [][]*models.ReviewComment
	err      error
}

func (p *fakePoster) Post(_ context.Context, s *models.ReviewSession, c []*models.ReviewComment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, s)
	p.comments = append(p.comments, c)
	return p.err
}

type env struct {
	store   store.Store
	machine *session.Machine
	source  *fakeSource
	backend *fakeBackend
	poster  *fakePoster
	pipe    *Pipeline
}

func setup(t *testing.T, adapters []analyzer.Adapter, backend *fakeBackend) *env {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	source := &fakeSource{files: []diff.File{{
		Path: "a.py", Change: diff.ChangeModified, Language: "python",
		Hunks: []diff.Hunk{{NewStart: 1, NewLines: 5, Body: "print('hi')\n"}},
		Size:  12,
	}}}
	machine := session.NewMachine(s)
	poster := &fakePoster{}
	pipe := New(
		s,
		machine,
		config.NewResolver(s, models.ReviewConfig{}),
		diff.NewFetcher(source, diff.Limits{}),
		analyzer.NewRunner(analyzer.NewRegistry(adapters...), 2, time.Second, nil),
		backendOrNil(backend),
		poster,
		Options{DeepThreshold: 50_000},
		nil,
	)
	return &env{store: s, machine: machine, source: source, backend: backend, poster: poster, pipe: pipe}
}

func backendOrNil(b *fakeBackend) ai.Backend {
	if b == nil {
		return nil
	}
	return b
}

func seedSession(t *testing.T, s store.Store) *models.ReviewSession {
	t.Helper()
	sess := &models.ReviewSession{Owner: "octo", Repo: "widgets", PullNumber: 7, HeadCommit: "abc"}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

func jobFor(sess *models.ReviewSession) dispatch.Job {
	return dispatch.Job{
		SessionID:  sess.ID,
		Owner:      sess.Owner,
		Repo:       sess.Repo,
		PullNumber: sess.PullNumber,
		HeadCommit: sess.HeadCommit,
	}
}

func TestRun_CompletesWithMergedFindings(t *testing.T) {
	backend := &fakeBackend{byTier: map[ai.Tier][]models.Finding{
		ai.TierFast: {{FilePath: "a.py", Line: 3, Severity: models.SeverityMedium, Category: "bug", Source: models.SourceAIModel, Message: "off by one"}},
	}}
	adapters := []analyzer.Adapter{&fakeAdapter{name: "pylint", findings: []models.Finding{
		{FilePath: "a.py", Line: 1, Severity: models.SeverityNit, Category: "style", Message: "unused import"},
	}}}
	e := setup(t, adapters, backend)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	got, err := e.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CommentCount != 2 {
		t.Errorf("comment count = %d, want 2", got.CommentCount)
	}
	comments, err := e.store.ListComments(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(comments))
	}
	// Posting handoff received the same set.
	if len(e.poster.comments) != 1 || len(e.poster.comments[0]) != 2 {
		t.Errorf("poster did not receive the comment set")
	}
}

func TestRun_OversizedDiffFailsPendingSession(t *testing.T) {
	e := setup(t, nil, nil)
	e.source.files = []diff.File{{
		Path: "big.py", Language: "python",
		Hunks: []diff.Hunk{{Body: string(make([]byte, 2000))}},
	}}
	e.pipe.fetcher = diff.NewFetcher(e.source, diff.Limits{MaxTotalBytes: 100})
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	got, err := e.store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.StartedAt != nil {
		t.Error("oversized diff must fail the session before it starts")
	}
	if got.Reason == "" {
		t.Error("failure reason missing")
	}
	comments, err := e.store.ListComments(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 0 {
		t.Errorf("failed session persisted %d comments", len(comments))
	}
}

func TestRun_TransientFetchErrorPropagates(t *testing.T) {
	e := setup(t, nil, nil)
	e.source.err = fmt.Errorf("%w: connection reset", diff.ErrSourceUnavailable)
	sess := seedSession(t, e.store)

	err := e.pipe.Run(context.Background(), jobFor(sess))
	if !Retryable(err) {
		t.Fatalf("transient error must propagate retryable, got %v", err)
	}

	// Session untouched: a retry starts from pending.
	got, err := e.store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
}

func TestRun_AIFailureDegradesToStaticOnly(t *testing.T) {
	backend := &fakeBackend{err: ai.ErrTimeout}
	adapters := []analyzer.Adapter{&fakeAdapter{name: "pylint", findings: []models.Finding{
		{FilePath: "a.py", Line: 1, Severity: models.SeverityLow, Category: "style", Message: "x"},
	}}}
	e := setup(t, adapters, backend)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	got, err := e.store.GetSession(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	comments, err := e.store.ListComments(context.Background(), sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].Source != models.SourceStaticAnalyzer {
		t.Errorf("expected the one static comment, got %+v", comments)
	}
}

func TestRun_AdapterFailureDegrades(t *testing.T) {
	adapters := []analyzer.Adapter{
		&fakeAdapter{name: "broken", err: errors.New("boom")},
		&fakeAdapter{name: "pylint", findings: []models.Finding{
			{FilePath: "a.py", Line: 2, Severity: models.SeverityMedium, Category: "bug", Message: "kept"},
		}},
	}
	e := setup(t, adapters, nil)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	got, _ := e.store.GetSession(context.Background(), sess.ID)
	if got.Status != models.SessionCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	comments, _ := e.store.ListComments(context.Background(), sess.ID)
	if len(comments) != 1 || comments[0].Message != "kept" {
		t.Errorf("surviving adapter's findings missing: %+v", comments)
	}
}

func TestRun_DeepTierEscalation(t *testing.T) {
	backend := &fakeBackend{byTier: map[ai.Tier][]models.Finding{
		ai.TierFast: {{FilePath: "a.py", Line: 1, Severity: models.SeverityHigh, Category: "security", Source: models.SourceAIModel, Message: "triage hit"}},
		ai.TierDeep: {{FilePath: "a.py", Line: 1, Severity: models.SeverityHigh, Category: "security", Source: models.SourceAIModel, Message: "full analysis"}},
	}}
	e := setup(t, nil, backend)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	if len(backend.invoked) != 2 || backend.invoked[1] != ai.TierDeep {
		t.Fatalf("expected fast then deep, got %v", backend.invoked)
	}
	comments, _ := e.store.ListComments(context.Background(), sess.ID)
	if len(comments) != 1 || comments[0].Message != "full analysis" {
		t.Errorf("deep-tier output should win: %+v", comments)
	}
}

func TestRun_HallucinatedHighDoesNotEscalate(t *testing.T) {
	// The only high-severity fast finding sits on a path outside the
	// diff; validation drops it, so the deep tier must stay cold.
	backend := &fakeBackend{byTier: map[ai.Tier][]models.Finding{
		ai.TierFast: {
			{FilePath: "phantom.py", Line: 1, Severity: models.SeverityHigh, Category: "security", Source: models.SourceAIModel, Message: "hallucinated"},
			{FilePath: "a.py", Line: 2, Severity: models.SeverityLow, Category: "style", Source: models.SourceAIModel, Message: "real"},
		},
		ai.TierDeep: {{FilePath: "a.py", Line: 2, Severity: models.SeverityHigh, Category: "bug", Source: models.SourceAIModel, Message: "expensive"}},
	}}
	e := setup(t, nil, backend)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	if len(backend.invoked) != 1 || backend.invoked[0] != ai.TierFast {
		t.Fatalf("deep tier invoked on a hallucinated high: %v", backend.invoked)
	}
	comments, _ := e.store.ListComments(context.Background(), sess.ID)
	if len(comments) != 1 || comments[0].Message != "real" {
		t.Errorf("expected only the surviving fast finding, got %+v", comments)
	}
}

func TestRun_ValidationDropsUnknownPaths(t *testing.T) {
	backend := &fakeBackend{byTier: map[ai.Tier][]models.Finding{
		ai.TierFast: {
			{FilePath: "a.py", Line: 1, Severity: models.SeverityMedium, Category: "bug", Source: models.SourceAIModel, Message: "real"},
			{FilePath: "phantom.py", Line: 1, Severity: models.SeverityHigh, Category: "bug", Source: models.SourceAIModel, Message: "hallucinated"},
		},
	}}
	e := setup(t, nil, backend)
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(context.Background(), jobFor(sess)); err != nil {
		t.Fatal(err)
	}

	comments, _ := e.store.ListComments(context.Background(), sess.ID)
	if len(comments) != 1 || comments[0].FilePath != "a.py" {
		t.Errorf("validation should drop paths not in the diff: %+v", comments)
	}
}

func TestRun_CancelledContextDiscardsWork(t *testing.T) {
	e := setup(t, nil, nil)
	sess := seedSession(t, e.store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.pipe.Run(ctx, jobFor(sess))
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	comments, _ := e.store.ListComments(context.Background(), sess.ID)
	if len(comments) != 0 {
		t.Errorf("cancelled run persisted %d comments", len(comments))
	}
	got, _ := e.store.GetSession(context.Background(), sess.ID)
	if got.Status.Terminal() {
		t.Errorf("cancelled run must not reach a terminal state, got %s", got.Status)
	}
}

func TestRun_ExcludedFilesSkipAnalysis(t *testing.T) {
	adapters := []analyzer.Adapter{&fakeAdapter{name: "pylint", findings: []models.Finding{
		{FilePath: "a.py", Line: 1, Severity: models.SeverityLow, Category: "style", Message: "x"},
	}}}
	e := setup(t, adapters, nil)
	ctx := context.Background()
	err := e.store.SetRepoConfig(ctx, &store.RepoConfig{
		Owner: "octo", Repo: "widgets", ExcludedFiles: []string{"*.py"},
	})
	if err != nil {
		t.Fatal(err)
	}
	sess := seedSession(t, e.store)

	if err := e.pipe.Run(ctx, jobFor(sess)); err != nil {
		t.Fatal(err)
	}
	comments, _ := e.store.ListComments(ctx, sess.ID)
	if len(comments) != 0 {
		t.Errorf("excluded files produced %d comments", len(comments))
	}
}
