package ai

// Tier selects which model backend handles a review pass.
type Tier string

const (
	// TierFast is the cheap triage model.
	TierFast Tier = "fast"
	// TierDeep is the expensive full-analysis model.
	TierDeep Tier = "deep"
)

// SelectTier is the tier selection policy. The deep tier is only worth
// its cost when the diff is small enough to fit useful context and
// either the caller asked for a focused review or the fast pass already
// surfaced high-severity candidates.
func SelectTier(diffSize, deepThreshold int, focusArea string, priorHighSignal bool) Tier {
	if diffSize < deepThreshold && (focusArea != "" || priorHighSignal) {
		return TierDeep
	}
	return TierFast
}
