package models

// Strictness controls how aggressively a finding category is reported.
type Strictness string

const (
	StrictnessOff     Strictness = "off"
	StrictnessLenient Strictness = "lenient"
	StrictnessStrict  Strictness = "strict"
)

// ReviewConfig is the immutable per-session configuration snapshot,
// produced by merging repository overrides over system defaults.
type ReviewConfig struct {
	MaxComments   int
	FocusAreas    []string
	ExcludedFiles []string              // glob patterns removed before analysis
	Rules         map[string]Strictness // category -> strictness
	LineTolerance int                   // dedup line proximity, default 1
}

// CategoryEnabled reports whether findings of the given category should
// be kept. Unknown categories default to enabled.
func (c ReviewConfig) CategoryEnabled(category string) bool {
	return c.Rules[category] != StrictnessOff
}
