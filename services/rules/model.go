package rules

// Scheme names. The legacy scheme pays four reward components; the simplified
// scheme pays a single commission split between the promoter and its
// upstream.
const (
	SchemeLegacy     = "legacy"
	SchemeSimplified = "simplified"
)

type RewardType string

const (
	RewardBasicCommission  RewardType = "basic_commission"
	RewardRepurchase       RewardType = "repurchase_reward"
	RewardTeamManagement   RewardType = "team_management"
	RewardNurtureAllowance RewardType = "nurture_allowance"
	RewardCommission       RewardType = "commission"
)

// Ancestor is one chain member as seen by the engine, nearest first.
// MentorID/MentorStar matter only on the nearest member.
type Ancestor struct {
	AgentID    string
	Tier       int
	Star       int
	MentorID   string
	MentorStar int
}

// RewardLine is one computed payout. Amount is in minor currency units,
// RatioBps records the applied rate for audit.
type RewardLine struct {
	BeneficiaryID string
	Level         int
	Type          RewardType
	Amount        int64
	RatioBps      int
}
