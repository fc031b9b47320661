package access

import "subscription-billing/internal/domain/plans"

// CapabilitiesFor lists what a member may use. Only an active membership
// unlocks the tier's features.
func CapabilitiesFor(state AccessState, tier *plans.Tier) []string {
	if state != AccessActive || tier == nil {
		return []string{}
	}
	out := make([]string, len(tier.Features))
	copy(out, tier.Features)
	return out
}
