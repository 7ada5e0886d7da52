package promotion

import (
	"fmt"

	"commissionplane/pkg/config"

	"commissionplane/services/referral"
)

// Condition is one qualifying bar for a tier transition. Zero-valued fields
// are not checked; every set field must hold.
type Condition struct {
	TotalSales int64
	MonthSales int64
	TeamCount  int64
}

// FollowStep pulls direct children at FromTier up to ToTier when the owning
// transition fires.
type FollowStep struct {
	FromTier int
	ToTier   int
}

// Rules drives the evaluator. Thresholds is keyed by target tier; the
// conditions for a transition OR together. Follow is keyed "from->to".
type Rules struct {
	Thresholds map[int][]Condition
	Follow     map[string][]FollowStep
}

// DefaultRules is the production promotion table. Sales figures are in minor
// currency units.
func DefaultRules() Rules {
	return Rules{
		Thresholds: map[int][]Condition{
			3: {
				{TotalSales: 500_000},
				{TeamCount: 5},
			},
			2: {
				{TotalSales: 5_000_000},
				{MonthSales: 1_000_000, TeamCount: 30},
			},
			1: {
				{TotalSales: 50_000_000},
				{MonthSales: 10_000_000, TeamCount: 200},
			},
		},
		Follow: map[string][]FollowStep{
			"3->2": {{FromTier: 4, ToTier: 3}},
			"2->1": {{FromTier: 3, ToTier: 2}, {FromTier: 4, ToTier: 3}},
		},
	}
}

// FromAppConfig overlays configured thresholds and follow rules onto the
// defaults. Sections left empty keep the default table.
func FromAppConfig(app *config.Config) Rules {
	rules := DefaultRules()

	if len(app.Promotion.Thresholds) > 0 {
		thresholds := make(map[int][]Condition)
		for key, conds := range app.Promotion.Thresholds {
			var target int
			if _, err := fmt.Sscanf(key, "%d", &target); err != nil {
				continue
			}
			for _, c := range conds {
				thresholds[target] = append(thresholds[target], Condition{
					TotalSales: c.TotalSales,
					MonthSales: c.MonthSales,
					TeamCount:  c.TeamCount,
				})
			}
		}
		if len(thresholds) > 0 {
			rules.Thresholds = thresholds
		}
	}

	if len(app.Promotion.FollowRules) > 0 {
		follow := make(map[string][]FollowStep)
		for _, r := range app.Promotion.FollowRules {
			follow[r.Transition] = append(follow[r.Transition], FollowStep{
				FromTier: r.FromTier,
				ToTier:   r.ToTier,
			})
		}
		rules.Follow = follow
	}

	return rules
}

// Decision is the outcome of a threshold evaluation.
type Decision struct {
	Promote bool
	NewTier int
	Reason  string
}

// Evaluate checks whether an agent qualifies for the next more-senior tier.
// A single call moves at most one tier; tiers are never skipped.
func (r Rules) Evaluate(agent *referral.Agent) Decision {
	if agent.Tier <= referral.TierMin {
		return Decision{}
	}

	target := agent.Tier - 1
	for i, cond := range r.Thresholds[target] {
		if cond.satisfiedBy(agent) {
			return Decision{
				Promote: true,
				NewTier: target,
				Reason:  fmt.Sprintf("threshold %d->%d condition %d", agent.Tier, target, i+1),
			}
		}
	}

	return Decision{}
}

func (c Condition) satisfiedBy(agent *referral.Agent) bool {
	if c.TotalSales == 0 && c.MonthSales == 0 && c.TeamCount == 0 {
		return false
	}
	if c.TotalSales > 0 && agent.TotalSales < c.TotalSales {
		return false
	}
	if c.MonthSales > 0 && agent.MonthSales < c.MonthSales {
		return false
	}
	if c.TeamCount > 0 && agent.TeamCount < c.TeamCount {
		return false
	}
	return true
}
