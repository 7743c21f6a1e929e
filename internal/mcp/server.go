package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joescharf/revd/internal/dispatch"
	"github.com/joescharf/revd/internal/feedback"
	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/session"
	"github.com/joescharf/revd/internal/store"
)

// Server wraps the revd data layer and exposes it as MCP tools.
type Server struct {
	store      store.Store
	dispatcher *dispatch.Dispatcher
	machine    *session.Machine
	recorder   *feedback.Recorder
}

// NewServer creates the MCP server wrapper. dispatcher may be nil for a
// read-only surface (status and feedback still work).
func NewServer(s store.Store, d *dispatch.Dispatcher, m *session.Machine, rec *feedback.Recorder) *Server {
	return &Server{store: s, dispatcher: d, machine: m, recorder: rec}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("revd", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.reviewStatusTool())
	srv.AddTool(s.sessionCommentsTool())
	srv.AddTool(s.reReviewTool())
	srv.AddTool(s.focusTool())
	srv.AddTool(s.snoozeTool())
	srv.AddTool(s.unsnoozeTool())
	srv.AddTool(s.feedbackTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// revd_review_status
func (s *Server) reviewStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_review_status",
		mcp.WithDescription("Get review sessions for a pull request, newest first. Each session has id, status (pending/running/completed/failed/snoozed), head_commit, comment count, and failure reason if any."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pull", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handleReviewStatus
}

func (s *Server) handleReviewStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, pull, errResult := pullArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{Owner: owner, Repo: repo, PullNumber: pull})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}

	type sessionOut struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		HeadCommit  string `json:"head_commit"`
		FocusArea   string `json:"focus_area,omitempty"`
		Reason      string `json:"reason,omitempty"`
		Comments    int    `json:"comments"`
		CreatedAt   string `json:"created_at"`
		CompletedAt string `json:"completed_at,omitempty"`
	}

	out := make([]sessionOut, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionOut{
			ID:         sess.ID,
			Status:     string(sess.Status),
			HeadCommit: sess.HeadCommit,
			FocusArea:  sess.FocusArea,
			Reason:     sess.Reason,
			Comments:   sess.CommentCount,
			CreatedAt:  sess.CreatedAt.Format(time.RFC3339),
		}
		if sess.CompletedAt != nil {
			out[i].CompletedAt = sess.CompletedAt.Format(time.RFC3339)
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal sessions: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// revd_session_comments
func (s *Server) sessionCommentsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_session_comments",
		mcp.WithDescription("List the review comments of a session. Each comment has id, file path, line, severity (high/medium/low/nit), category, source (static_analyzer/ai_model), and message."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Review session ID")),
	)
	return tool, s.handleSessionComments
}

func (s *Server) handleSessionComments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session not found: %s", sessionID)), nil
	}

	comments, err := s.store.ListComments(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list comments: %v", err)), nil
	}

	type commentOut struct {
		ID       string `json:"id"`
		FilePath string `json:"file_path"`
		Line     int    `json:"line"`
		Severity string `json:"severity"`
		Category string `json:"category"`
		Source   string `json:"source"`
		Message  string `json:"message"`
	}
	out := make([]commentOut, len(comments))
	for i, c := range comments {
		out[i] = commentOut{
			ID:       c.ID,
			FilePath: c.FilePath,
			Line:     c.Line,
			Severity: string(c.Severity),
			Category: c.Category,
			Source:   string(c.Source),
			Message:  c.Message,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal comments: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// revd_rereview
func (s *Server) reReviewTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_rereview",
		mcp.WithDescription("Queue a fresh review of a pull request. Creates a new session even if a previous one failed. Without head_commit the last reviewed commit is used."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pull", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("head_commit", mcp.Description("Commit SHA to review; defaults to the last reviewed one")),
		mcp.WithString("focus", mcp.Description("Optional focus area, e.g. security or performance")),
	)
	return tool, s.handleReReview
}

func (s *Server) handleReReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, pull, errResult := pullArgs(request)
	if errResult != nil {
		return errResult, nil
	}
	headCommit := request.GetString("head_commit", "")
	focus := request.GetString("focus", "")

	if headCommit == "" {
		last, err := s.latestSession(ctx, owner, repo, pull)
		if err != nil {
			return mcp.NewToolResultError("no prior session for this pull request; provide head_commit"), nil
		}
		headCommit = last.HeadCommit
	}

	sessionID, err := s.submitReview(ctx, owner, repo, pull, headCommit, focus)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to queue review: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"queued","session_id":%q}`, sessionID)), nil
}

// revd_focus
func (s *Server) focusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_focus",
		mcp.WithDescription("Queue a focused review of a pull request's last reviewed commit, concentrating on one area (e.g. security, performance, testing)."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pull", mcp.Required(), mcp.Description("Pull request number")),
		mcp.WithString("area", mcp.Required(), mcp.Description("Focus area")),
	)
	return tool, s.handleFocus
}

func (s *Server) handleFocus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, pull, errResult := pullArgs(request)
	if errResult != nil {
		return errResult, nil
	}
	area, err := request.RequireString("area")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: area"), nil
	}

	last, err := s.latestSession(ctx, owner, repo, pull)
	if err != nil {
		return mcp.NewToolResultError("no session for this pull request"), nil
	}
	sessionID, err := s.submitReview(ctx, owner, repo, pull, last.HeadCommit, area)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to queue focused review: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"queued","session_id":%q,"focus_area":%q}`, sessionID, area)), nil
}

// revd_snooze
func (s *Server) snoozeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_snooze",
		mcp.WithDescription("Suppress automatic reviews for a pull request until unsnoozed. Cancels any in-flight review job."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pull", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handleSnooze
}

func (s *Server) handleSnooze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, pull, errResult := pullArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	last, err := s.latestSession(ctx, owner, repo, pull)
	if err != nil {
		return mcp.NewToolResultError("no session for this pull request"), nil
	}

	sess := last
	if last.Status.Terminal() {
		sess = &models.ReviewSession{Owner: owner, Repo: repo, PullNumber: pull, HeadCommit: last.HeadCommit}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to create session: %v", err)), nil
		}
	}
	if sess.Status != models.SessionSnoozed {
		if err := s.machine.Snooze(ctx, sess.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to snooze: %v", err)), nil
		}
	}
	cancelled := 0
	if s.dispatcher != nil {
		cancelled = s.dispatcher.CancelPull(owner, repo, pull)
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"snoozed","session_id":%q,"cancelled_jobs":%d}`, sess.ID, cancelled)), nil
}

// revd_unsnooze
func (s *Server) unsnoozeTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_unsnooze",
		mcp.WithDescription("Re-enable automatic reviews for a snoozed pull request."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pull", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handleUnsnooze
}

func (s *Server) handleUnsnooze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, repo, pull, errResult := pullArgs(request)
	if errResult != nil {
		return errResult, nil
	}

	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
		Owner: owner, Repo: repo, PullNumber: pull, Status: models.SessionSnoozed,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list sessions: %v", err)), nil
	}
	if len(sessions) == 0 {
		return mcp.NewToolResultError("pull request is not snoozed"), nil
	}
	for _, sess := range sessions {
		if err := s.machine.Unsnooze(ctx, sess.ID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to unsnooze: %v", err)), nil
		}
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"status":"active","resumed":%d}`, len(sessions))), nil
}

// revd_feedback
func (s *Server) feedbackTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("revd_feedback",
		mcp.WithDescription("Record a reaction to a posted review comment: helpful, not_helpful, resolved, or ignored."),
		mcp.WithString("comment_id", mcp.Required(), mcp.Description("Review comment ID")),
		mcp.WithString("reaction", mcp.Required(), mcp.Description("One of: helpful, not_helpful, resolved, ignored")),
		mcp.WithString("user", mcp.Description("Reacting user")),
		mcp.WithString("note", mcp.Description("Optional free-form note")),
	)
	return tool, s.handleFeedback
}

func (s *Server) handleFeedback(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	commentID, err := request.RequireString("comment_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: comment_id"), nil
	}
	reaction, err := request.RequireString("reaction")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: reaction"), nil
	}

	if _, err := s.store.GetComment(ctx, commentID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("comment not found: %s", commentID)), nil
	}

	err = s.recorder.Record(ctx, &models.FeedbackEvent{
		CommentID: commentID,
		Reaction:  reaction,
		User:      request.GetString("user", ""),
		Note:      request.GetString("note", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record feedback: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"status":"recorded"}`), nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func pullArgs(request mcp.CallToolRequest) (owner, repo string, pull int, errResult *mcp.CallToolResult) {
	owner, err := request.RequireString("owner")
	if err != nil {
		return "", "", 0, mcp.NewToolResultError("missing required parameter: owner")
	}
	repo, err = request.RequireString("repo")
	if err != nil {
		return "", "", 0, mcp.NewToolResultError("missing required parameter: repo")
	}
	pull, err = request.RequireInt("pull")
	if err != nil || pull <= 0 {
		return "", "", 0, mcp.NewToolResultError("missing or invalid required parameter: pull")
	}
	return owner, repo, pull, nil
}

func (s *Server) latestSession(ctx context.Context, owner, repo string, pull int) (*models.ReviewSession, error) {
	sessions, err := s.store.ListSessions(ctx, store.SessionFilter{
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

func (s *Server) submitReview(ctx context.Context, owner, repo string, pull int, headCommit, focus string) (string, error) {
	if s.dispatcher == nil {
		return "", errors.New("dispatcher not available")
	}

	sess, err := s.store.GetActiveSession(ctx, owner, repo, pull, headCommit)
	if errors.Is(err, store.ErrNotFound) {
		sess = &models.ReviewSession{
			Owner:      owner,
			Repo:       repo,
			PullNumber: pull,
			HeadCommit: headCommit,
			FocusArea:  focus,
		}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	} else if focus != "" && focus != sess.FocusArea {
		if err := s.store.SetSessionFocus(ctx, sess.ID, focus); err != nil {
			return "", err
		}
	}

	err = s.dispatcher.Submit(dispatch.Job{
		SessionID:  sess.ID,
		Owner:      owner,
		Repo:       repo,
		PullNumber: pull,
		HeadCommit: headCommit,
		FocusArea:  focus,
	})
	if errors.Is(err, dispatch.ErrQueueFull) {
		_ = s.machine.Fail(ctx, sess.ID, "dispatch queue full", 0)
		return "", err
	}
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}
