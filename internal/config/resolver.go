// Package config produces the immutable per-session review
// configuration by merging repository overrides over system defaults.
package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

// DefaultMaxComments bounds the comment set when nothing else does.
const DefaultMaxComments = 20

// Resolver loads per-repository overrides from the store and merges
// them over the system defaults captured at construction.
type Resolver struct {
	store    store.Store
	defaults models.ReviewConfig
}

// NewResolver creates a resolver with the given system defaults.
func NewResolver(s store.Store, defaults models.ReviewConfig) *Resolver {
	if defaults.MaxComments <= 0 {
		defaults.MaxComments = DefaultMaxComments
	}
	if defaults.LineTolerance <= 0 {
		defaults.LineTolerance = 1
	}
	return &Resolver{store: s, defaults: defaults}
}

// Resolve returns the configuration snapshot for one session. The
// snapshot is a value: later changes to stored overrides never affect a
// session already in flight.
func (r *Resolver) Resolve(ctx context.Context, owner, repo string) (models.ReviewConfig, error) {
	cfg := r.defaults
	// Copy mutable fields so sessions can't alias the defaults.
	cfg.FocusAreas = append([]string(nil), r.defaults.FocusAreas...)
	cfg.ExcludedFiles = append([]string(nil), r.defaults.ExcludedFiles...)
	cfg.Rules = make(map[string]models.Strictness, len(r.defaults.Rules))
	for k, v := range r.defaults.Rules {
		cfg.Rules[k] = v
	}

	override, err := r.store.GetRepoConfig(ctx, owner, repo)
	if errors.Is(err, store.ErrNotFound) {
		return cfg, nil
	}
	if err != nil {
		return models.ReviewConfig{}, fmt.Errorf("load repo config: %w", err)
	}

	if override.MaxComments > 0 {
		cfg.MaxComments = override.MaxComments
	}
	if len(override.FocusAreas) > 0 {
		cfg.FocusAreas = append([]string(nil), override.FocusAreas...)
	}
	// Exclusions accumulate: system-wide excludes (vendored code, lock
	// files) always apply.
	cfg.ExcludedFiles = append(cfg.ExcludedFiles, override.ExcludedFiles...)
	for k, v := range override.Rules {
		cfg.Rules[k] = v
	}

	return cfg, nil
}
