// Package paywall decides which leading questions of a bank are visible
// without an active entitlement.
package paywall

// DefaultFreeLimit is the number of free questions when none is configured.
const DefaultFreeLimit = 10

// IsVisible reports whether the question at the 1-based position may be
// revealed. An active entitlement reveals everything; otherwise only
// positions 1..freeLimit are free.
func IsVisible(entitlementActive bool, questionPosition, freeLimit int) bool {
	if entitlementActive {
		return true
	}
	return questionPosition >= 1 && questionPosition <= freeLimit
}

// Gate binds IsVisible to a configured free limit.
type Gate struct {
	FreeLimit int
}

func NewGate(freeLimit int) Gate {
	if freeLimit < 0 {
		freeLimit = DefaultFreeLimit
	}
	return Gate{FreeLimit: freeLimit}
}

func (g Gate) Visible(entitlementActive bool, questionPosition int) bool {
	return IsVisible(entitlementActive, questionPosition, g.FreeLimit)
}

// VisibleThrough is the last visible position for a bank of size total.
func (g Gate) VisibleThrough(entitlementActive bool, total int) int {
	if entitlementActive || total <= g.FreeLimit {
		return total
	}
	return g.FreeLimit
}
