package domain

import "testing"

func testPolicy() PriorityPolicy {
	return PriorityPolicy{
		CategoryDefaults: map[string]CasePriority{
			"outage":  PriorityCritical,
			"billing": PriorityHigh,
		},
		DefaultPriority:            PriorityMedium,
		NegativeSentimentThreshold: -0.5,
		PremiumTiers:               map[CustomerTier]bool{TierPremium: true},
	}
}

func TestDerivePriority(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name      string
		tier      CustomerTier
		sentiment float64
		category  string
		want      CasePriority
	}{
		{"unknown category uses default", TierStandard, 0, "general", PriorityMedium},
		{"category default applies", TierStandard, 0, "billing", PriorityHigh},
		{"negative sentiment bumps", TierStandard, -0.6, "general", PriorityHigh},
		{"threshold is inclusive", TierStandard, -0.5, "general", PriorityHigh},
		{"premium tier bumps", TierPremium, 0, "general", PriorityHigh},
		{"bumps stack", TierPremium, -0.9, "billing", PriorityCritical},
		{"capped at critical", TierPremium, -0.9, "outage", PriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DerivePriority(policy, tt.tier, tt.sentiment, tt.category)
			if got != tt.want {
				t.Fatalf("DerivePriority() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBumpCapsAtCritical(t *testing.T) {
	if got := PriorityCritical.Bump(1); got != PriorityCritical {
		t.Fatalf("Bump(1) on CRITICAL = %s", got)
	}
	if got := PriorityLow.Bump(10); got != PriorityCritical {
		t.Fatalf("Bump(10) on LOW = %s", got)
	}
	if got := PriorityLow.Bump(-3); got != PriorityLow {
		t.Fatalf("Bump(-3) on LOW = %s", got)
	}
}

func TestDerivePriorityIsPure(t *testing.T) {
	policy := testPolicy()
	first := DerivePriority(policy, TierPremium, -0.7, "billing")
	second := DerivePriority(policy, TierPremium, -0.7, "billing")
	if first != second {
		t.Fatalf("derivation not deterministic: %s vs %s", first, second)
	}
}
