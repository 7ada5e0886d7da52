package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig())
	require.NoError(t, err)
	return engine
}

func fullChain() []Ancestor {
	return []Ancestor{
		{AgentID: "a1", Tier: 4},
		{AgentID: "a2", Tier: 3},
		{AgentID: "a3", Tier: 2},
		{AgentID: "a4", Tier: 1},
	}
}

func TestLegacyBasicCommissionExample(t *testing.T) {
	engine := newTestEngine(t)

	lines, err := engine.Compute(SchemeLegacy, 10_000, fullChain(), false)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	expected := []int64{100, 300, 600, 1000}
	var total int64
	for i, line := range lines {
		require.Equal(t, RewardBasicCommission, line.Type)
		require.Equal(t, i+1, line.Level)
		require.Equal(t, expected[i], line.Amount)
		total += line.Amount
	}
	require.Equal(t, int64(2000), total)
}

func TestLegacyConservation(t *testing.T) {
	engine := newTestEngine(t)

	for _, amount := range []int64{1, 99, 10_000, 999_999, 123_457} {
		lines, err := engine.Compute(SchemeLegacy, amount, fullChain(), false)
		require.NoError(t, err)

		var total int64
		for _, line := range lines {
			require.GreaterOrEqual(t, line.Amount, int64(1))
			total += line.Amount
		}
		require.LessOrEqual(t, total, amount*2000/10000)
	}
}

func TestSubUnitLinesDropped(t *testing.T) {
	engine := newTestEngine(t)

	// 1% of 50 is 0.5, floored to 0, so the tier-4 line disappears.
	lines, err := engine.Compute(SchemeLegacy, 50, fullChain(), false)
	require.NoError(t, err)
	for _, line := range lines {
		require.NotEqual(t, "a1", line.BeneficiaryID)
		require.GreaterOrEqual(t, line.Amount, int64(1))
	}
}

func TestRepurchaseRewardStarGated(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "a1", Tier: 4, Star: 2},
		{AgentID: "a2", Tier: 3, Star: 3},
		{AgentID: "a3", Tier: 2, Star: 5},
	}

	lines, err := engine.Compute(SchemeLegacy, 10_000, chain, true)
	require.NoError(t, err)

	var repurchase []RewardLine
	for _, line := range lines {
		if line.Type == RewardRepurchase {
			repurchase = append(repurchase, line)
		}
	}
	require.Len(t, repurchase, 2)
	require.Equal(t, "a2", repurchase[0].BeneficiaryID)
	require.Equal(t, "a3", repurchase[1].BeneficiaryID)
	require.Equal(t, int64(100), repurchase[0].Amount)
}

func TestNoRepurchaseRewardOnFirstOrder(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{{AgentID: "a1", Tier: 4, Star: 5}}
	lines, err := engine.Compute(SchemeLegacy, 10_000, chain, false)
	require.NoError(t, err)
	for _, line := range lines {
		require.NotEqual(t, RewardRepurchase, line.Type)
	}
}

func TestTeamManagementFirstQualifierOnly(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "a1", Tier: 4, Star: 1},
		{AgentID: "a2", Tier: 3, Star: 5},
		{AgentID: "a3", Tier: 2, Star: 6},
	}

	lines, err := engine.Compute(SchemeLegacy, 10_000, chain, false)
	require.NoError(t, err)

	var mgmt []RewardLine
	for _, line := range lines {
		if line.Type == RewardTeamManagement {
			mgmt = append(mgmt, line)
		}
	}
	require.Len(t, mgmt, 1)
	require.Equal(t, "a2", mgmt[0].BeneficiaryID)
	require.Equal(t, int64(200), mgmt[0].Amount)
}

func TestNurtureAllowanceGoesToMentor(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "a1", Tier: 4, MentorID: "mentor", MentorStar: 5},
		{AgentID: "a2", Tier: 3},
	}

	lines, err := engine.Compute(SchemeLegacy, 10_000, chain, false)
	require.NoError(t, err)

	var nurture []RewardLine
	for _, line := range lines {
		if line.Type == RewardNurtureAllowance {
			nurture = append(nurture, line)
		}
	}
	require.Len(t, nurture, 1)
	require.Equal(t, "mentor", nurture[0].BeneficiaryID)
	require.Equal(t, int64(100), nurture[0].Amount)
}

func TestNurtureAllowanceGatedOnMentorStar(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "a1", Tier: 4, MentorID: "mentor", MentorStar: 4},
	}

	lines, err := engine.Compute(SchemeLegacy, 10_000, chain, false)
	require.NoError(t, err)
	for _, line := range lines {
		require.NotEqual(t, RewardNurtureAllowance, line.Type)
	}
}

func TestSimplifiedScheme(t *testing.T) {
	engine := newTestEngine(t)

	// Promoter at tier 2 keeps own(2)=14% and passes 6% to the next ancestor.
	chain := []Ancestor{
		{AgentID: "p", Tier: 2},
		{AgentID: "up1", Tier: 1},
		{AgentID: "up2", Tier: 1},
	}

	lines, err := engine.Compute(SchemeSimplified, 10_000, chain, false)
	require.NoError(t, err)
	require.Len(t, lines, 2)

	require.Equal(t, "p", lines[0].BeneficiaryID)
	require.Equal(t, int64(1400), lines[0].Amount)
	require.Equal(t, "up1", lines[1].BeneficiaryID)
	require.Equal(t, int64(600), lines[1].Amount)
}

func TestSimplifiedTier1KeepsTotal(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "p", Tier: 1},
		{AgentID: "up1", Tier: 1},
	}

	lines, err := engine.Compute(SchemeSimplified, 10_000, chain, false)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(2000), lines[0].Amount)
}

func TestSimplifiedConservationFullChain(t *testing.T) {
	engine := newTestEngine(t)

	chain := []Ancestor{
		{AgentID: "p", Tier: 4},
		{AgentID: "up1", Tier: 3},
		{AgentID: "up2", Tier: 2},
		{AgentID: "up3", Tier: 1},
	}

	lines, err := engine.Compute(SchemeSimplified, 10_000, chain, false)
	require.NoError(t, err)

	var total int64
	for _, line := range lines {
		total += line.Amount
	}
	require.Equal(t, int64(2000), total)
}

func TestComputeRejectsBadInput(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Compute(SchemeLegacy, 0, fullChain(), false)
	require.Error(t, err)

	_, err = engine.Compute("bogus", 10_000, fullChain(), false)
	require.Error(t, err)

	lines, err := engine.Compute(SchemeLegacy, 10_000, nil, false)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestValidateRejectsLeakyTables(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Basic[2] = 700
	_, err := NewEngine(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	delete(cfg.Basic, 3)
	_, err = NewEngine(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Own[4] = 400
	_, err = NewEngine(cfg)
	require.Error(t, err)

	cfg = DefaultConfig()
	cfg.Upstream = []int{600, 500}
	_, err = NewEngine(cfg)
	require.Error(t, err)
}
