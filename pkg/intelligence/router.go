package intelligence

import (
	"strings"

	"github.com/oceanbase/recallmem-go/pkg/storage"
)

// DefaultGoalKeywords route a query to the contextual tier when any of them
// appears in it.
var DefaultGoalKeywords = []string{"goal", "plan", "objective", "target", "milestone"}

// TierRouter decides which tiers a query searches.
type TierRouter struct {
	keywords []string
}

// NewTierRouter creates a router. With no keywords it uses DefaultGoalKeywords.
func NewTierRouter(keywords ...string) *TierRouter {
	if len(keywords) == 0 {
		keywords = DefaultGoalKeywords
	}
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			lowered = append(lowered, k)
		}
	}
	return &TierRouter{keywords: lowered}
}

// Route returns explicit unchanged when it is non-empty. Otherwise it returns
// durable and ephemeral, plus contextual when the query mentions a goal
// keyword. Matching is a case-insensitive substring test, so "plans" and
// "targeting" both match.
func (r *TierRouter) Route(query string, explicit []storage.Tier) []storage.Tier {
	if len(explicit) > 0 {
		out := make([]storage.Tier, len(explicit))
		copy(out, explicit)
		return out
	}

	tiers := []storage.Tier{storage.TierDurable, storage.TierEphemeral}
	if r.mentionsGoal(query) {
		tiers = append(tiers, storage.TierContextual)
	}
	return tiers
}

func (r *TierRouter) mentionsGoal(query string) bool {
	q := strings.ToLower(query)
	for _, k := range r.keywords {
		if strings.Contains(q, k) {
			return true
		}
	}
	return false
}
