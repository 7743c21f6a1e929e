package analyzer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

// CommandAdapter wraps an external lint binary. Changed hunks are
// written to a scratch directory and the tool is invoked once per run;
// output lines of the form "path:line:severity:message" become findings.
type CommandAdapter struct {
	name      string
	languages []string
	category  string
	command   string
	args      []string
}

// NewCommandAdapter creates an adapter for an external tool.
func NewCommandAdapter(name, category, command string, args []string, languages ...string) *CommandAdapter {
	return &CommandAdapter{
		name:      name,
		languages: languages,
		category:  category,
		command:   command,
		args:      args,
	}
}

func (c *CommandAdapter) Name() string { return c.name }

func (c *CommandAdapter) Supports(language string) bool {
	for _, l := range c.languages {
		if l == language {
			return true
		}
	}
	return false
}

func (c *CommandAdapter) Run(ctx context.Context, files []diff.File) ([]models.Finding, error) {
	dir, err := os.MkdirTemp("", "revd-"+c.name+"-*")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var targets []string
	for _, f := range files {
		if !c.Supports(f.Language) || f.Change == diff.ChangeDeleted {
			continue
		}
		dst := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, fmt.Errorf("scratch subdir: %w", err)
		}
		var body bytes.Buffer
		for _, h := range f.Hunks {
			body.WriteString(h.Body)
		}
		if err := os.WriteFile(dst, body.Bytes(), 0644); err != nil {
			return nil, fmt.Errorf("write scratch file: %w", err)
		}
		targets = append(targets, dst)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	args := append(append([]string{}, c.args...), targets...)
	cmd := exec.CommandContext(ctx, c.command, args...)
	out, err := cmd.Output()
	// Lint tools exit non-zero when they find issues; only a missing or
	// killed binary is a real failure.
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("run %s: %w", c.command, err)
	}

	return c.parse(out, dir), nil
}

func (c *CommandAdapter) parse(out []byte, dir string) []models.Finding {
	var findings []models.Finding
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 4)
		if len(parts) < 4 {
			continue
		}
		line, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dir, parts[0])
		if err != nil {
			rel = parts[0]
		}
		findings = append(findings, models.Finding{
			FilePath: filepath.ToSlash(rel),
			Line:     line,
			Severity: NormalizeSeverity(parts[2]),
			Category: c.category,
			Source:   models.SourceStaticAnalyzer,
			Message:  strings.TrimSpace(parts[3]),
			Tool:     c.name,
		})
	}
	return findings
}
