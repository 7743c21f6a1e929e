package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/revd/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// which also makes IncrementRateLimit's increment-and-check a single
	// atomic step across concurrent review jobs.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

const sessionColumns = `id, owner, repo, pull_number, head_commit, status, focus_area, event_id, reason, comment_count, duration_seconds, created_at, started_at, completed_at`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.ReviewSession) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.Status == "" {
		sess.Status = models.SessionPending
	}
	sess.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_sessions (id, owner, repo, pull_number, head_commit, status, focus_area, event_id, reason, comment_count, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Owner, sess.Repo, sess.PullNumber, sess.HeadCommit,
		string(sess.Status), sess.FocusArea, sess.EventID, sess.Reason,
		sess.CommentCount, sess.Duration.Seconds(), sess.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM review_sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetActiveSession(ctx context.Context, owner, repo string, pull int, headCommit string) (*models.ReviewSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM review_sessions
		WHERE owner = ? AND repo = ? AND pull_number = ? AND head_commit = ?
		AND status IN ('pending', 'running')`,
		owner, repo, pull, headCommit)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("active session for %s: %w", models.ReviewKey(owner, repo, pull, headCommit), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.ReviewSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM review_sessions`
	var conditions []string
	var args []any

	if filter.Owner != "" {
		conditions = append(conditions, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Repo != "" {
		conditions = append(conditions, "repo = ?")
		args = append(args, filter.Repo)
	}
	if filter.PullNumber != 0 {
		conditions = append(conditions, "pull_number = ?")
		args = append(args, filter.PullNumber)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.ReviewSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.ReviewSession, error) {
	sess := &models.ReviewSession{}
	var status string
	var durationSeconds float64
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&sess.ID, &sess.Owner, &sess.Repo, &sess.PullNumber, &sess.HeadCommit,
		&status, &sess.FocusArea, &sess.EventID, &sess.Reason,
		&sess.CommentCount, &durationSeconds, &sess.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	sess.Status = models.SessionStatus(status)
	sess.Duration = time.Duration(durationSeconds * float64(time.Second))
	if startedAt.Valid {
		sess.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return sess, nil
}

func (s *SQLiteStore) SetSessionStatus(ctx context.Context, id string, status models.SessionStatus, startedAt *time.Time) error {
	var result sql.Result
	var err error
	if startedAt != nil {
		result, err = s.db.ExecContext(ctx,
			"UPDATE review_sessions SET status = ?, started_at = ? WHERE id = ?",
			string(status), startedAt.UTC(), id)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE review_sessions SET status = ? WHERE id = ?",
			string(status), id)
	}
	if err != nil {
		return fmt.Errorf("set session status: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SetSessionFocus(ctx context.Context, id, focusArea string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE review_sessions SET focus_area = ? WHERE id = ?", focusArea, id)
	if err != nil {
		return fmt.Errorf("set session focus: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

// CompleteSession writes the terminal status and the full comment set in
// one transaction so a crash never leaves a partial comment set behind.
func (s *SQLiteStore) CompleteSession(ctx context.Context, id string, status models.SessionStatus, reason string, duration time.Duration, comments []*models.ReviewComment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE review_sessions SET status = ?, reason = ?, comment_count = ?, duration_seconds = ?, completed_at = ?
		WHERE id = ?`,
		string(status), reason, len(comments), duration.Seconds(), now, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	for _, c := range comments {
		if c.ID == "" {
			c.ID = newULID()
		}
		c.SessionID = id
		c.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO review_comments (id, session_id, file_path, line, severity, category, source, message, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SessionID, c.FilePath, c.Line,
			string(c.Severity), c.Category, string(c.Source), c.Message, c.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM review_sessions WHERE created_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// --- Comments ---

func (s *SQLiteStore) ListComments(ctx context.Context, sessionID string) ([]*models.ReviewComment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_path, line, severity, category, source, message, created_at
		FROM review_comments WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*models.ReviewComment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (s *SQLiteStore) GetComment(ctx context.Context, id string) (*models.ReviewComment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, file_path, line, severity, category, source, message, created_at
		FROM review_comments WHERE id = ?`, id)
	c, err := scanComment(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get comment: %w", err)
	}
	return c, nil
}

func scanComment(row scanner) (*models.ReviewComment, error) {
	c := &models.ReviewComment{}
	var severity, source string
	if err := row.Scan(&c.ID, &c.SessionID, &c.FilePath, &c.Line,
		&severity, &c.Category, &source, &c.Message, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Severity = models.Severity(severity)
	c.Source = models.Source(source)
	return c, nil
}

// --- Webhook events ---

// InsertEvent records the delivery. INSERT OR IGNORE against the
// delivery_id primary key makes retried deliveries report false.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *models.WebhookEvent) (bool, error) {
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO webhook_events (delivery_id, owner, repo, pull_number, head_commit, event_type, focus_area, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.DeliveryID, e.Owner, e.Repo, e.PullNumber, e.HeadCommit, e.EventType, e.FocusArea, e.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// --- Rate limits ---

// IncrementRateLimit rolls the window forward if expired, then performs
// increment-and-check as a single guarded UPDATE inside one transaction.
func (s *SQLiteStore) IncrementRateLimit(ctx context.Context, resourceType, resourceID string, windowStart time.Time, limit int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	start := windowStart.UTC().Unix()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO rate_limits (resource_type, resource_id, window_start, count, updated_at)
		VALUES (?, ?, ?, 0, ?)`,
		resourceType, resourceID, start, now); err != nil {
		return false, fmt.Errorf("init rate limit row: %w", err)
	}

	// Window rollover: reset the counter for a fresh window.
	if _, err := tx.ExecContext(ctx,
		`UPDATE rate_limits SET window_start = ?, count = 0, updated_at = ?
		WHERE resource_type = ? AND resource_id = ? AND window_start < ?`,
		start, now, resourceType, resourceID, start); err != nil {
		return false, fmt.Errorf("roll rate limit window: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE rate_limits SET count = count + 1, updated_at = ?
		WHERE resource_type = ? AND resource_id = ? AND count < ?`,
		now, resourceType, resourceID, limit)
	if err != nil {
		return false, fmt.Errorf("increment rate limit: %w", err)
	}
	n, _ := result.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return n > 0, nil
}

// --- Snooze ---

func (s *SQLiteStore) IsPullSnoozed(ctx context.Context, owner, repo string, pull int) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM review_sessions
		WHERE owner = ? AND repo = ? AND pull_number = ? AND status = 'snoozed'`,
		owner, repo, pull).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check snooze: %w", err)
	}
	return count > 0, nil
}

// --- Repo configs ---

func (s *SQLiteStore) GetRepoConfig(ctx context.Context, owner, repo string) (*RepoConfig, error) {
	cfg := &RepoConfig{Owner: owner, Repo: repo}
	var focusJSON, excludedJSON, rulesJSON string

	err := s.db.QueryRowContext(ctx,
		`SELECT max_comments, focus_areas, excluded_files, rules, updated_at
		FROM repo_configs WHERE owner = ? AND repo = ?`, owner, repo,
	).Scan(&cfg.MaxComments, &focusJSON, &excludedJSON, &rulesJSON, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repo config %s/%s: %w", owner, repo, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repo config: %w", err)
	}

	_ = json.Unmarshal([]byte(focusJSON), &cfg.FocusAreas)
	_ = json.Unmarshal([]byte(excludedJSON), &cfg.ExcludedFiles)
	_ = json.Unmarshal([]byte(rulesJSON), &cfg.Rules)
	return cfg, nil
}

func (s *SQLiteStore) SetRepoConfig(ctx context.Context, cfg *RepoConfig) error {
	cfg.UpdatedAt = time.Now().UTC()

	focusJSON, _ := json.Marshal(cfg.FocusAreas)
	excludedJSON, _ := json.Marshal(cfg.ExcludedFiles)
	rulesJSON, _ := json.Marshal(cfg.Rules)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repo_configs (owner, repo, max_comments, focus_areas, excluded_files, rules, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, repo) DO UPDATE SET
			max_comments = excluded.max_comments,
			focus_areas = excluded.focus_areas,
			excluded_files = excluded.excluded_files,
			rules = excluded.rules,
			updated_at = excluded.updated_at`,
		cfg.Owner, cfg.Repo, cfg.MaxComments, string(focusJSON), string(excludedJSON), string(rulesJSON), cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("set repo config: %w", err)
	}
	return nil
}

// --- Feedback ---

func (s *SQLiteStore) AppendFeedback(ctx context.Context, f *models.FeedbackEvent) error {
	if f.ID == "" {
		f.ID = newULID()
	}
	f.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback_events (id, comment_id, reaction, username, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.CommentID, f.Reaction, f.User, f.Note, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, commentID string) ([]*models.FeedbackEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, comment_id, reaction, username, note, created_at
		FROM feedback_events WHERE comment_id = ? ORDER BY created_at`, commentID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*models.FeedbackEvent
	for rows.Next() {
		f := &models.FeedbackEvent{}
		if err := rows.Scan(&f.ID, &f.CommentID, &f.Reaction, &f.User, &f.Note, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		events = append(events, f)
	}
	return events, rows.Err()
}
