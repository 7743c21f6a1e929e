// Package platform talks to the GitHub REST API: fetching pull request
// diffs for the pipeline and delivering the finished comment set.
package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

// Client wraps the GitHub API as both the pipeline's diff source and
// its posting sink.
type Client struct {
	gh    *github.Client
	retry RetryConfig
}

// NewClient creates a client. An empty token yields unauthenticated
// access, which is enough for public repositories and tests.
func NewClient(token string) *Client {
	gh := github.NewClient(nil)
	if token != "" {
		gh = gh.WithAuthToken(token)
	}
	return &Client{gh: gh, retry: DefaultRetryConfig()}
}

// FetchDiff implements diff.Source. Transient API failures come back
// wrapping diff.ErrSourceUnavailable so the dispatcher retries them.
func (c *Client) FetchDiff(ctx context.Context, owner, repo string, pull int, headCommit string) ([]diff.File, error) {
	var all []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		var (
			page []*github.CommitFile
			resp *github.Response
		)
		err := executeWithRetry(ctx, c.retry, func() error {
			var err error
			page, resp, err = c.gh.PullRequests.ListFiles(ctx, owner, repo, pull, opts)
			return err
		})
		if err != nil {
			if isRetryableError(err) {
				return nil, fmt.Errorf("%w: list files for %s: %v", diff.ErrSourceUnavailable, models.PullKey(owner, repo, pull), err)
			}
			return nil, fmt.Errorf("list files for %s: %w", models.PullKey(owner, repo, pull), err)
		}
		all = append(all, page...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	files := make([]diff.File, 0, len(all))
	for _, cf := range all {
		files = append(files, diff.File{
			Path:     cf.GetFilename(),
			Change:   changeType(cf.GetStatus()),
			Language: diff.DetectLanguage(cf.GetFilename()),
			Hunks:    parsePatch(cf.GetPatch()),
		})
	}
	return files, nil
}

// HeadCommit returns the current head SHA of the pull request.
func (c *Client) HeadCommit(ctx context.Context, owner, repo string, pull int) (string, error) {
	var pr *github.PullRequest
	err := executeWithRetry(ctx, c.retry, func() error {
		var err error
		pr, _, err = c.gh.PullRequests.Get(ctx, owner, repo, pull)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("get pull %s: %w", models.PullKey(owner, repo, pull), err)
	}
	sha := pr.GetHead().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("pull %s has no head commit", models.PullKey(owner, repo, pull))
	}
	return sha, nil
}

// Post implements the posting sink: comments are delivered as one pull
// request review so they arrive atomically on the GitHub side.
func (c *Client) Post(ctx context.Context, sess *models.ReviewSession, comments []*models.ReviewComment) error {
	if len(comments) == 0 {
		return nil
	}

	draft := make([]*github.DraftReviewComment, 0, len(comments))
	for _, rc := range comments {
		draft = append(draft, &github.DraftReviewComment{
			Path: github.String(rc.FilePath),
			Line: github.Int(rc.Line),
			Side: github.String("RIGHT"),
			Body: github.String(formatComment(rc)),
		})
	}
	review := &github.PullRequestReviewRequest{
		CommitID: github.String(sess.HeadCommit),
		Event:    github.String("COMMENT"),
		Body:     github.String(fmt.Sprintf("Automated review: %d findings.", len(comments))),
		Comments: draft,
	}

	err := executeWithRetry(ctx, c.retry, func() error {
		_, _, err := c.gh.PullRequests.CreateReview(ctx, sess.Owner, sess.Repo, sess.PullNumber, review)
		return err
	})
	if err != nil {
		return fmt.Errorf("post review for %s: %w", models.PullKey(sess.Owner, sess.Repo, sess.PullNumber), err)
	}
	return nil
}

func formatComment(rc *models.ReviewComment) string {
	return fmt.Sprintf("**[%s/%s]** %s", rc.Severity, rc.Category, rc.Message)
}

func changeType(status string) diff.ChangeType {
	switch status {
	case "added":
		return diff.ChangeAdded
	case "removed":
		return diff.ChangeDeleted
	case "renamed":
		return diff.ChangeRenamed
	default:
		return diff.ChangeModified
	}
}

// parsePatch splits a GitHub unified-diff patch string into hunks.
// Malformed headers yield a single hunk holding the raw patch so no
// content is silently lost.
func parsePatch(patch string) []diff.Hunk {
	if patch == "" {
		return nil
	}

	var hunks []diff.Hunk
	var body strings.Builder
	var current *diff.Hunk

	flush := func() {
		if current != nil {
			current.Body = body.String()
			hunks = append(hunks, *current)
			body.Reset()
		}
	}

	for _, line := range strings.SplitAfter(patch, "\n") {
		if strings.HasPrefix(line, "@@") {
			flush()
			h := parseHunkHeader(line)
			current = &h
			continue
		}
		if current == nil {
			current = &diff.Hunk{}
		}
		body.WriteString(line)
	}
	flush()
	return hunks
}

// parseHunkHeader reads "@@ -oldStart,oldLines +newStart,newLines @@".
func parseHunkHeader(line string) diff.Hunk {
	var h diff.Hunk
	fields := strings.Fields(line)
	for _, f := range fields {
		switch {
		case strings.HasPrefix(f, "-"):
			h.OldStart, h.OldLines = parseRange(f[1:])
		case strings.HasPrefix(f, "+"):
			h.NewStart, h.NewLines = parseRange(f[1:])
		}
	}
	return h
}

func parseRange(s string) (start, count int) {
	count = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		count, _ = strconv.Atoi(s[i+1:])
		s = s[:i]
	}
	start, _ = strconv.Atoi(s)
	return start, count
}
