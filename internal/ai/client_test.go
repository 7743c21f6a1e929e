package ai

import (
	"errors"
	"testing"

	"github.com/joescharf/revd/internal/diff"
	"github.com/joescharf/revd/internal/models"
)

func TestSelectTier(t *testing.T) {
	cases := []struct {
		name      string
		size      int
		threshold int
		focus     string
		priorHigh bool
		want      Tier
	}{
		{"small diff with focus", 100, 1000, "security", false, TierDeep},
		{"small diff with high signal", 100, 1000, "", true, TierDeep},
		{"small diff, no signal", 100, 1000, "", false, TierFast},
		{"large diff with focus", 5000, 1000, "security", false, TierFast},
		{"large diff with high signal", 5000, 1000, "", true, TierFast},
		{"at threshold", 1000, 1000, "security", false, TierFast},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SelectTier(tc.size, tc.threshold, tc.focus, tc.priorHigh)
			if got != tc.want {
				t.Errorf("SelectTier = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestParseFindings(t *testing.T) {
	text := `[
		{"path": "a.py", "line": 10, "severity": "HIGH", "category": "Security", "message": "sql injection"},
		{"path": "b.py", "line": 0, "severity": "nit", "category": "style", "message": "naming"}
	]`
	findings, err := parseFindings(text, TierFast)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 2 {
		t.Fatalf("findings = %d, want 2", len(findings))
	}
	if findings[0].Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high (lowercased)", findings[0].Severity)
	}
	if findings[0].Category != "security" {
		t.Errorf("category = %s, want security", findings[0].Category)
	}
	if findings[0].Source != models.SourceAIModel {
		t.Errorf("source = %s, want ai_model", findings[0].Source)
	}
	if findings[0].Tool != "fast" {
		t.Errorf("tool = %s, want fast", findings[0].Tool)
	}
}

func TestParseFindings_StripsFencing(t *testing.T) {
	text := "```json\n[{\"path\": \"a.py\", \"line\": 1, \"severity\": \"low\", \"category\": \"style\", \"message\": \"x\"}]\n```"
	findings, err := parseFindings(text, TierDeep)
	if err != nil {
		t.Fatal(err)
	}
	if len(findings) != 1 {
		t.Fatalf("findings = %d, want 1", len(findings))
	}
}

func TestParseFindings_InvalidJSON(t *testing.T) {
	_, err := parseFindings("I think this code looks fine!", TierFast)
	if !errors.Is(err, ErrInvalidResponse) {
		t.Errorf("expected ErrInvalidResponse, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	files := []diff.File{{Path: "a.py"}, {Path: "b.py"}}
	findings := []models.Finding{
		{FilePath: "a.py", Line: 1, Severity: models.SeverityHigh, Category: "security", Message: "ok"},
		{FilePath: "ghost.py", Line: 1, Severity: models.SeverityHigh, Category: "bug", Message: "path not in diff"},
		{FilePath: "b.py", Line: 2, Severity: "catastrophic", Category: "bug", Message: "bad severity"},
		{FilePath: "b.py", Line: 3, Severity: models.SeverityLow, Category: "", Message: "empty category"},
	}

	kept := Validate(findings, files, nil)
	if len(kept) != 1 {
		t.Fatalf("kept = %d, want 1", len(kept))
	}
	if kept[0].FilePath != "a.py" {
		t.Errorf("kept wrong finding: %+v", kept[0])
	}
}

func TestHasHighSeverity(t *testing.T) {
	if HasHighSeverity([]models.Finding{{Severity: models.SeverityMedium}}) {
		t.Error("medium should not count as high signal")
	}
	if !HasHighSeverity([]models.Finding{{Severity: models.SeverityMedium}, {Severity: models.SeverityHigh}}) {
		t.Error("high finding should count")
	}
}
