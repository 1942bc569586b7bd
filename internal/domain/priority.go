package domain

// CasePriority enumerates SLA urgency, ordered LOW < MEDIUM < HIGH < CRITICAL.
type CasePriority string

const (
	PriorityLow      CasePriority = "LOW"
	PriorityMedium   CasePriority = "MEDIUM"
	PriorityHigh     CasePriority = "HIGH"
	PriorityCritical CasePriority = "CRITICAL"
)

// Priorities lists every priority in ascending order.
var Priorities = []CasePriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}

var priorityRank = map[CasePriority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Rank returns the ordinal position, with unknown values treated as MEDIUM.
func (p CasePriority) Rank() int {
	if rank, ok := priorityRank[p]; ok {
		return rank
	}
	return priorityRank[PriorityMedium]
}

// Bump raises priority by the given number of levels, capped at CRITICAL.
func (p CasePriority) Bump(levels int) CasePriority {
	rank := p.Rank() + levels
	if rank >= len(Priorities) {
		rank = len(Priorities) - 1
	}
	if rank < 0 {
		rank = 0
	}
	return Priorities[rank]
}

// PriorityPolicy configures priority derivation. All thresholds come from
// configuration; the zero value is unusable.
type PriorityPolicy struct {
	// CategoryDefaults maps an inquiry category to its base priority.
	CategoryDefaults map[string]CasePriority
	// DefaultPriority applies when the category has no mapping.
	DefaultPriority CasePriority
	// NegativeSentimentThreshold bumps priority one level when
	// sentiment_score <= threshold.
	NegativeSentimentThreshold float64
	// PremiumTiers bump priority one level.
	PremiumTiers map[CustomerTier]bool
}

// DerivePriority computes a case priority from tier, sentiment and category.
// Pure; recomputed whenever sentiment updates.
func DerivePriority(policy PriorityPolicy, tier CustomerTier, sentiment float64, category string) CasePriority {
	priority := policy.DefaultPriority
	if priority == "" {
		priority = PriorityMedium
	}
	if base, ok := policy.CategoryDefaults[category]; ok {
		priority = base
	}
	if sentiment <= policy.NegativeSentimentThreshold {
		priority = priority.Bump(1)
	}
	if policy.PremiumTiers[tier] {
		priority = priority.Bump(1)
	}
	return priority
}
