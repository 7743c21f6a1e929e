// Package analyzer defines the uniform contract static analyzers
// satisfy and runs them concurrently over a changed-file set.
package analyzer

import (
	"context"
	"strings"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

// Adapter is the contract each static analyzer implementation satisfies.
// Adapters are black boxes: a crash or timeout degrades that adapter's
// contribution to nothing, never the whole review.
type Adapter interface {
	Name() string
	Supports(language string) bool
	Run(ctx context.Context, files []diff.File) ([]models.Finding, error)
}

// Registry resolves adapters per language at startup; no dynamic
// introspection.
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Register adds an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters = append(r.adapters, a)
}

// For returns the adapters supporting any language present in the file
// set, in registration order.
func (r *Registry) For(files []diff.File) []Adapter {
	langs := map[string]bool{}
	for _, f := range files {
		if f.Language != "" {
			langs[f.Language] = true
		}
	}

	var matched []Adapter
	for _, a := range r.adapters {
		for lang := range langs {
			if a.Supports(lang) {
				matched = append(matched, a)
				break
			}
		}
	}
	return matched
}

// severityTable maps tool-specific severity vocabularies onto the common
// one. Unmapped values default to low.
var severityTable = map[string]models.Severity{
	"error":      models.SeverityHigh,
	"critical":   models.SeverityHigh,
	"high":       models.SeverityHigh,
	"warning":    models.SeverityMedium,
	"warn":       models.SeverityMedium,
	"medium":     models.SeverityMedium,
	"info":       models.SeverityLow,
	"low":        models.SeverityLow,
	"note":       models.SeverityNit,
	"style":      models.SeverityNit,
	"nit":        models.SeverityNit,
	"convention": models.SeverityNit,
}

// NormalizeSeverity maps an adapter-specific severity onto the common
// vocabulary.
func NormalizeSeverity(raw string) models.Severity {
	if sev, ok := severityTable[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return models.SeverityLow
}
