// Package aggregate merges analyzer and AI findings into the final,
// bounded, deterministic review comment set.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joescharf/revd/internal/models"
)

// Aggregate merges findings into ReviewComments:
//
//  1. Findings are taken in insertion order, AI first so AI-sourced
//     findings win duplicate resolution.
//  2. Two findings are duplicates when they share a file, their lines
//     are within the configured tolerance, and their categories match.
//     A static duplicate of an AI finding is folded in as supporting
//     evidence on the AI comment's message.
//  3. Stable sort: severity rank desc, then path, then line, ties kept
//     in insertion order, so output is byte-identical for identical
//     inputs regardless of adapter completion order.
//  4. Truncation to max_comments drops the lowest-severity tail.
func Aggregate(aiFindings, staticFindings []models.Finding, cfg models.ReviewConfig) []*models.ReviewComment {
	tolerance := cfg.LineTolerance
	if tolerance < 0 {
		tolerance = 0
	}

	type entry struct {
		finding  models.Finding
		evidence []string
	}

	var accepted []*entry
	add := func(f models.Finding) {
		if !cfg.CategoryEnabled(f.Category) {
			return
		}
		if cfg.Rules[f.Category] == models.StrictnessLenient && f.Severity == models.SeverityNit {
			return
		}
		for _, e := range accepted {
			if !duplicate(e.finding, f, tolerance) {
				continue
			}
			// AI precedence: retain the static source as evidence.
			if e.finding.Source == models.SourceAIModel && f.Source == models.SourceStaticAnalyzer && f.Tool != "" {
				e.evidence = append(e.evidence, f.Tool)
			}
			return
		}
		accepted = append(accepted, &entry{finding: f})
	}

	for _, f := range aiFindings {
		add(f)
	}
	for _, f := range staticFindings {
		add(f)
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i].finding, accepted[j].finding
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.Line < b.Line
	})

	if cfg.MaxComments > 0 && len(accepted) > cfg.MaxComments {
		accepted = accepted[:cfg.MaxComments]
	}

	comments := make([]*models.ReviewComment, 0, len(accepted))
	for _, e := range accepted {
		msg := e.finding.Message
		if len(e.evidence) > 0 {
			msg = fmt.Sprintf("%s (also flagged by %s)", msg, strings.Join(dedupStrings(e.evidence), ", "))
		}
		comments = append(comments, &models.ReviewComment{
			FilePath: e.finding.FilePath,
			Line:     e.finding.Line,
			Severity: e.finding.Severity,
			Category: e.finding.Category,
			Source:   e.finding.Source,
			Message:  msg,
		})
	}
	return comments
}

func duplicate(a, b models.Finding, tolerance int) bool {
	if a.FilePath != b.FilePath {
		return false
	}
	if !strings.EqualFold(a.Category, b.Category) {
		return false
	}
	d := a.Line - b.Line
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}

func dedupStrings(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
