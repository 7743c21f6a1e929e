// Package ai invokes the two-tier Anthropic backend for review passes
// and validates its structured output.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

var (
	// ErrTimeout means the model call exceeded the review timeout. The
	// pipeline degrades to static-analyzer-only output.
	ErrTimeout = errors.New("ai review timed out")

	// ErrInvalidResponse means the model output could not be parsed as a
	// findings array. Degrades like ErrTimeout.
	ErrInvalidResponse = errors.New("ai response invalid")
)

// Backend is the model invocation boundary, satisfied by the Anthropic
// client and by test fakes.
type Backend interface {
	Invoke(ctx context.Context, tier Tier, diffContext, focusArea string) ([]models.Finding, error)
}

// Client calls the Anthropic Messages API with one model per tier.
type Client struct {
	api     *anthropic.Client
	models  map[Tier]anthropic.Model
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a two-tier review client.
func NewClient(apiKey, fastModel, deepModel string, timeout time.Duration, logger *slog.Logger) *Client {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api: &client,
		models: map[Tier]anthropic.Model{
			TierFast: anthropic.Model(fastModel),
			TierDeep: anthropic.Model(deepModel),
		},
		timeout: timeout,
		logger:  logger,
	}
}

func buildPrompt(diffContext, focusArea string) (system, user string) {
	system = `You review pull request diffs. Return ONLY a JSON array of findings with these fields:
- "path": the file path exactly as it appears in the diff
- "line": the line number the finding refers to (integer, 0 for file-level remarks)
- "severity": one of "high", "medium", "low", "nit"
- "category": one of "security", "performance", "bug", "style", "architecture", "testing"
- "message": a concise, actionable review comment

Rules:
- Only comment on code visible in the diff
- Prefer fewer, higher-value findings over exhaustive nitpicking
- Return valid JSON only, no markdown fencing or explanation`

	var sb strings.Builder
	if focusArea != "" {
		sb.WriteString("Focus this review on: ")
		sb.WriteString(focusArea)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Review this diff:\n\n")
	sb.WriteString(diffContext)
	user = sb.String()
	return
}

// Invoke runs one review pass on the given tier. The call is bounded by
// the configured review timeout.
func (c *Client) Invoke(ctx context.Context, tier Tier, diffContext, focusArea string) ([]models.Finding, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	systemPrompt, userPrompt := buildPrompt(diffContext, focusArea)

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.models[tier],
		MaxTokens: 4096,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: tier %s", ErrTimeout, tier)
		}
		return nil, fmt.Errorf("anthropic API call: %w", err)
	}

	// Extract text from response
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: no text content", ErrInvalidResponse)
	}

	findings, err := parseFindings(text, tier)
	if err != nil {
		return nil, err
	}
	return findings, nil
}

// rawFinding is the JSON structure the model returns.
type rawFinding struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

func parseFindings(text string, tier Tier) ([]models.Finding, error) {
	// Strip markdown fencing if present
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var raw []rawFinding
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	findings := make([]models.Finding, 0, len(raw))
	for _, r := range raw {
		findings = append(findings, models.Finding{
			FilePath: r.Path,
			Line:     r.Line,
			Severity: models.Severity(strings.ToLower(r.Severity)),
			Category: strings.ToLower(strings.TrimSpace(r.Category)),
			Source:   models.SourceAIModel,
			Message:  r.Message,
			Tool:     string(tier),
		})
	}
	return findings, nil
}

// Validate drops findings that fail strict schema validation: unknown
// severity, empty category, or a file path not present in the fetched
// diff. Dropped entries are logged, never surfaced as comments.
func Validate(findings []models.Finding, files []diff.File, logger *slog.Logger) []models.Finding {
	if logger == nil {
		logger = slog.Default()
	}
	known := make(map[string]bool, len(files))
	for _, f := range files {
		known[f.Path] = true
	}

	kept := make([]models.Finding, 0, len(findings))
	for _, f := range findings {
		switch {
		case !f.Severity.Valid():
			logger.Warn("dropping ai finding: bad severity", "severity", f.Severity, "path", f.FilePath)
		case f.Category == "":
			logger.Warn("dropping ai finding: empty category", "path", f.FilePath)
		case !known[f.FilePath]:
			logger.Warn("dropping ai finding: path not in diff", "path", f.FilePath)
		default:
			kept = append(kept, f)
		}
	}
	return kept
}

// HasHighSeverity reports whether any finding is high severity; used as
// the prior signal for tier escalation.
func HasHighSeverity(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityHigh {
			return true
		}
	}
	return false
}
