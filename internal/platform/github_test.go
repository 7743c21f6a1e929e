package platform

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/joescharf/revd/internal/diff"
)

func TestParsePatch(t *testing.T) {
	patch := "@@ -1,4 +1,6 @@\n context\n-removed\n+added one\n+added two\n context\n@@ -20,2 +22,3 @@\n more\n+tail\n"
	hunks := parsePatch(patch)
	if len(hunks) != 2 {
		t.Fatalf("hunks = %d, want 2", len(hunks))
	}
	if hunks[0].OldStart != 1 || hunks[0].OldLines != 4 || hunks[0].NewStart != 1 || hunks[0].NewLines != 6 {
		t.Errorf("first header parsed wrong: %+v", hunks[0])
	}
	if hunks[1].NewStart != 22 || hunks[1].NewLines != 3 {
		t.Errorf("second header parsed wrong: %+v", hunks[1])
	}
	if hunks[0].Body == "" || hunks[1].Body != " more\n+tail\n" {
		t.Errorf("bodies parsed wrong: %q / %q", hunks[0].Body, hunks[1].Body)
	}
}

func TestParsePatch_NoCountShorthand(t *testing.T) {
	// "@@ -5 +5 @@" means one line on each side.
	hunks := parsePatch("@@ -5 +5 @@\n-x\n+y\n")
	if len(hunks) != 1 {
		t.Fatalf("hunks = %d, want 1", len(hunks))
	}
	if hunks[0].OldStart != 5 || hunks[0].OldLines != 1 || hunks[0].NewLines != 1 {
		t.Errorf("shorthand header parsed wrong: %+v", hunks[0])
	}
}

func TestParsePatch_Empty(t *testing.T) {
	if hunks := parsePatch(""); hunks != nil {
		t.Errorf("expected nil for empty patch, got %v", hunks)
	}
}

func TestChangeType(t *testing.T) {
	cases := map[string]diff.ChangeType{
		"added":    diff.ChangeAdded,
		"removed":  diff.ChangeDeleted,
		"renamed":  diff.ChangeRenamed,
		"modified": diff.ChangeModified,
		"changed":  diff.ChangeModified,
	}
	for status, want := range cases {
		if got := changeType(status); got != want {
			t.Errorf("changeType(%q) = %s, want %s", status, got, want)
		}
	}
}

func ghError(code int) error {
	return &github.ErrorResponse{Response: &http.Response{StatusCode: code}}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", ghError(http.StatusTooManyRequests), true},
		{"bad gateway", ghError(http.StatusBadGateway), true},
		{"service unavailable", ghError(http.StatusServiceUnavailable), true},
		{"not found", ghError(http.StatusNotFound), false},
		{"unauthorized", ghError(http.StatusUnauthorized), false},
		{"unprocessable", ghError(http.StatusUnprocessableEntity), false},
		{"network timeout", &timeoutError{}, true},
		{"plain error", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := isRetryableError(tc.err); got != tc.want {
				t.Errorf("isRetryableError = %v, want %v", got, tc.want)
			}
		})
	}
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

func TestExecuteWithRetry_EventualSuccess(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	attempts := 0
	err := executeWithRetry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 3 {
			return ghError(http.StatusServiceUnavailable)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestExecuteWithRetry_NonRetryableStopsImmediately(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0
	err := executeWithRetry(context.Background(), cfg, func() error {
		attempts++
		return ghError(http.StatusNotFound)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestExecuteWithRetry_ContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 10, InitialBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := executeWithRetry(ctx, cfg, func() error {
		return ghError(http.StatusBadGateway)
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestCalculateBackoff_JitterAndCap(t *testing.T) {
	cfg := RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	for attempt := 0; attempt < 6; attempt++ {
		b := calculateBackoff(cfg, attempt)
		if b > cfg.MaxBackoff {
			t.Errorf("attempt %d: backoff %v over cap", attempt, b)
		}
		if b <= 0 {
			t.Errorf("attempt %d: non-positive backoff %v", attempt, b)
		}
	}
}
