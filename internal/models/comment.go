package models

import "time"

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityNit    Severity = "nit"
)

// Rank returns a numeric rank for sorting (higher = more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityNit:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is one of the recognized severities.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// Source identifies which kind of tool produced a finding.
type Source string

const (
	SourceStaticAnalyzer Source = "static_analyzer"
	SourceAIModel        Source = "ai_model"
)

// ReviewComment is one finding attached to a session. Comments are
// immutable once created and owned exclusively by their session.
type ReviewComment struct {
	ID        string
	SessionID string
	FilePath  string
	Line      int // 0 = file-level comment
	Severity  Severity
	Category  string
	Source    Source
	Message   string
	CreatedAt time.Time
}

// Finding is a normalized, not-yet-persisted observation about the diff,
// as returned by an analyzer adapter or the AI backend.
type Finding struct {
	FilePath string
	Line     int
	Severity Severity
	Category string
	Source   Source
	Message  string
	Tool     string // adapter name or model tier, for evidence trails
}
