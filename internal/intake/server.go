// Package intake is the HTTP surface: webhook event ingestion, session
// inspection, manual review commands, and feedback capture. Payloads
// arrive already authenticated; the webhook front door is upstream.
package intake

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/revd/internal/admission"
	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/feedback"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

// Server provides the REST API handlers.
type Server struct {
	store      store.Store
	guard      *admission.Guard
	dispatcher *dispatch.Dispatcher
	machine    *session.Machine
	recorder   *feedback.Recorder
}

// NewServer creates a new API server.
func NewServer(s store.Store, guard *admission.Guard, d *dispatch.Dispatcher, m *session.Machine, rec *feedback.Recorder) *Server {
	return &Server{
		store:      s,
		guard:      guard,
		dispatcher: d,
		machine:    m,
		recorder:   rec,
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/events", s.ingestEvent)

	mux.HandleFunc("GET /api/v1/sessions", s.listSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.getSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/comments", s.listComments)

	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/pulls/{number}/re-review", s.reReview)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/pulls/{number}/focus", s.focus)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/pulls/{number}/snooze", s.snooze)
	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/pulls/{number}/unsnooze", s.unsnooze)

	mux.HandleFunc("POST /api/v1/feedback", s.recordFeedback)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Events ---

// EventRequest is the JSON body for POST /api/v1/events.
type EventRequest struct {
	DeliveryID string `json:"delivery_id"`
	Owner      string `json:"owner"`
	Repo       string `json:"repo"`
	PullNumber int    `json:"pull_number"`
	HeadCommit string `json:"head_commit"`
	EventType  string `json:"event_type"`
	FocusArea  string `json:"focus_area,omitempty"`
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeliveryID == "" || req.Owner == "" || req.Repo == "" || req.PullNumber <= 0 || req.HeadCommit == "" {
		writeError(w, http.StatusBadRequest, "delivery_id, owner, repo, pull_number, and head_commit are required")
		return
	}

	event := &models.WebhookEvent{
		DeliveryID: req.DeliveryID,
		Owner:      req.Owner,
		Repo:       req.Repo,
		PullNumber: req.PullNumber,
		HeadCommit: req.HeadCommit,
		EventType:  req.EventType,
		FocusArea:  req.FocusArea,
		ReceivedAt: time.Now().UTC(),
	}

	decision, err := s.guard.Admit(r.Context(), event)
	if err != nil {
		if errors.Is(err, admission.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch decision {
	case admission.Duplicate:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	case admission.Suppressed:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "snoozed"})
		return
	}

	sessionID, err := s.submitReview(r, req.Owner, req.Repo, req.PullNumber, req.HeadCommit, req.FocusArea, req.DeliveryID)
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "session_id": sessionID})
}

// submitReview finds or creates the single non-terminal session for the
// review target and enqueues its job. A same-key resubmission reuses
// the active session; the dispatcher handles coalescing.
func (s *Server) submitReview(r *http.Request, owner, repo string, pull int, headCommit, focusArea, eventID string) (string, error) {
	ctx := r.Context()

	sess, err := s.store.GetActiveSession(ctx, owner, repo, pull, headCommit)
	if errors.Is(err, store.ErrNotFound) {
		sess = &models.ReviewSession{
			Owner:      owner,
			Repo:       repo,
			PullNumber: pull,
			HeadCommit: headCommit,
			FocusArea:  focusArea,
			EventID:    eventID,
		}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else if focusArea != "" && focusArea != sess.FocusArea {
		if err := s.store.SetSessionFocus(ctx, sess.ID, focusArea); err != nil {
			return "", err
		}
	}

	err = s.dispatcher.Submit(dispatch.Job{
		SessionID:  sess.ID,
		Owner:      owner,
		Repo:       repo,
		PullNumber: pull,
		HeadCommit: headCommit,
		FocusArea:  focusArea,
	})
	if errors.Is(err, dispatch.ErrQueueFull) {
		// Don't leave a pending session that will never run; it would
		// also block the next admission for this key.
		_ = s.machine.Fail(ctx, sess.ID, "dispatch queue full", 0)
		return "", err
	}
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// --- Sessions ---

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{
		Owner:  q.Get("owner"),
		Repo:   q.Get("repo"),
		Status: models.SessionStatus(q.Get("status")),
	}
	if v := q.Get("pull"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.PullNumber = n
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []*models.ReviewSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	comments, err := s.store.ListComments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if comments == nil {
		comments = []*models.ReviewComment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// --- Manual commands ---

func (s *Server) pullParams(w http.ResponseWriter, r *http.Request) (owner, repo string, pull int, ok bool) {
	owner = r.PathValue("owner")
	repo = r.PathValue("repo")
	pull, err := strconv.Atoi(r.PathValue("number"))
	if err != nil || pull <= 0 {
		writeError(w, http.StatusBadRequest, "invalid pull request number")
		return "", "", 0, false
	}
	return owner, repo, pull, true
}

// latestSession returns the most recently created session for the pull.
func (s *Server) latestSession(r *http.Request, owner, repo string, pull int) (*models.ReviewSession, error) {
	sessions, err := s.store.ListSessions(r.Context(), store.SessionFilter{
		Owner: owner, Repo: repo, PullNumber: pull, Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, store.ErrNotFound
	}
	return sessions[0], nil
}

func (s *Server) reReview(w http.ResponseWriter, r *http.Request) {
	owner, repo, pull, ok := s.pullParams(w, r)
	if !ok {
		return
	}

	var req struct {
		HeadCommit string `json:"head_commit"`
		FocusArea  string `json:"focus_area"`
	}
	if r.Body != nil && r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	// Without an explicit commit, re-review the last reviewed one.
	if req.HeadCommit == "" {
		last, err := s.latestSession(r, owner, repo, pull)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no prior session for this pull request; provide head_commit")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		req.HeadCommit = last.HeadCommit
	}

	sessionID, err := s.submitReview(r, owner, repo, pull, req.HeadCommit, req.FocusArea, "")
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "session_id": sessionID})
}

func (s *Server) focus(w http.ResponseWriter, r *http.Request) {
	owner, repo, pull, ok := s.pullParams(w, r)
	if !ok {
		return
	}

	var req struct {
		Area string `json:"area"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Area == "" {
		writeError(w, http.StatusBadRequest, "area is required")
		return
	}

	last, err := s.latestSession(r, owner, repo, pull)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no session for this pull request")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sessionID, err := s.submitReview(r, owner, repo, pull, last.HeadCommit, req.Area, "")
	if err != nil {
		if errors.Is(err, dispatch.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "session_id": sessionID, "focus_area": req.Area})
}

func (s *Server) snooze(w http.ResponseWriter, r *http.Request) {
	owner, repo, pull, ok := s.pullParams(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	last, err := s.latestSession(r, owner, repo, pull)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "no session for this pull request")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	sess := last
	if last.Status.Terminal() {
		// Nothing in flight; park a fresh session so future events are
		// suppressed until an explicit unsnooze.
		sess = &models.ReviewSession{
			Owner: owner, Repo: repo, PullNumber: pull, HeadCommit: last.HeadCommit,
		}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if sess.Status != models.SessionSnoozed {
		if err := s.machine.Snooze(ctx, sess.ID); err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	cancelled := s.dispatcher.CancelPull(owner, repo, pull)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "snoozed",
		"session_id":     sess.ID,
		"cancelled_jobs": cancelled,
	})
}

func (s *Server) unsnooze(w http.ResponseWriter, r *http.Request) {
	owner, repo, pull, ok := s.pullParams(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
		Owner: owner, Repo: repo, PullNumber: pull, Status: models.SessionSnoozed,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(sessions) == 0 {
		writeError(w, http.StatusNotFound, "pull request is not snoozed")
		return
	}
	for _, sess := range sessions {
		if err := s.machine.Unsnooze(ctx, sess.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "active", "resumed": len(sessions)})
}

// --- Feedback ---

// FeedbackRequest is the JSON body for POST /api/v1/feedback.
type FeedbackRequest struct {
	CommentID string `json:"comment_id"`
	Reaction  string `json:"reaction"`
	User      string `json:"user,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (s *Server) recordFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.CommentID == "" || req.Reaction == "" {
		writeError(w, http.StatusBadRequest, "comment_id and reaction are required")
		return
	}

	if _, err := s.store.GetComment(r.Context(), req.CommentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "comment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	err := s.recorder.Record(r.Context(), &models.FeedbackEvent{
		CommentID: req.CommentID,
		Reaction:  req.Reaction,
		User:      req.User,
		Note:      req.Note,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
}
