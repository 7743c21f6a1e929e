package config

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/joescharf/revd/internal/models"
	"github.com/joescharf/revd/internal/store"
)

func setup(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestResolve_DefaultsWhenNoOverride(t *testing.T) {
	s := setup(t)
	r := NewResolver(s, models.ReviewConfig{ExcludedFiles: []string{"vendor/*"}})

	cfg, err := r.Resolve(context.Background(), "octo", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxComments != DefaultMaxComments {
		t.Errorf("max comments = %d, want %d", cfg.MaxComments, DefaultMaxComments)
	}
	if cfg.LineTolerance != 1 {
		t.Errorf("line tolerance = %d, want 1", cfg.LineTolerance)
	}
	if len(cfg.ExcludedFiles) != 1 {
		t.Errorf("excluded = %v", cfg.ExcludedFiles)
	}
}

func TestResolve_MergesOverride(t *testing.T) {
	s := setup(t)
	ctx := context.Background()

	err := s.SetRepoConfig(ctx, &store.RepoConfig{
		Owner:         "octo",
		Repo:          "widgets",
		MaxComments:   5,
		ExcludedFiles: []string{"*.gen.go"},
		Rules:         map[string]models.Strictness{"style": models.StrictnessOff},
	})
	if err != nil {
		t.Fatal(err)
	}

	r := NewResolver(s, models.ReviewConfig{
		ExcludedFiles: []string{"vendor/*"},
		Rules:         map[string]models.Strictness{"style": models.StrictnessStrict, "bug": models.StrictnessStrict},
	})

	cfg, err := r.Resolve(ctx, "octo", "widgets")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxComments != 5 {
		t.Errorf("max comments = %d, want 5", cfg.MaxComments)
	}
	// Exclusions accumulate; rules merge per key.
	if len(cfg.ExcludedFiles) != 2 {
		t.Errorf("excluded = %v, want both patterns", cfg.ExcludedFiles)
	}
	if cfg.Rules["style"] != models.StrictnessOff {
		t.Errorf("style rule = %s, want off", cfg.Rules["style"])
	}
	if cfg.Rules["bug"] != models.StrictnessStrict {
		t.Errorf("bug rule = %s, want strict", cfg.Rules["bug"])
	}

	// Other repos are unaffected.
	other, err := r.Resolve(ctx, "octo", "gadgets")
	if err != nil {
		t.Fatal(err)
	}
	if other.MaxComments != DefaultMaxComments || other.Rules["style"] != models.StrictnessStrict {
		t.Errorf("unexpected config for other repo: %+v", other)
	}
}
