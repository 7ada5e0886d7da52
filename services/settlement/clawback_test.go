package settlement_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"commissionplane/services/ledger"
	"commissionplane/services/referral"
	. "commissionplane/services/settlement"
)

// settleSingleReward sets up one ancestor earning a single 1,000 reward from
// a 10,000 order and settles it.
func settleSingleReward(t *testing.T, e *env) {
	t.Helper()
	ctx := context.Background()

	_, err := e.referrals.Register(ctx, referral.RegisterParams{AgentID: "upline"})
	require.NoError(t, err)
	require.NoError(t, e.db.Model(&referral.Agent{}).Where("id = ?", "upline").Update("tier", 1).Error)
	_, err = e.referrals.Register(ctx, referral.RegisterParams{AgentID: "buyer", ReferrerID: "upline"})
	require.NoError(t, err)

	_, err = e.svc.IngestOrderCompleted(ctx, OrderCompletedPayload{
		OrderID: "order-1", BuyerID: "buyer", OrderAmount: 10_000,
	})
	require.NoError(t, err)

	e.orders.completed("order-1")
	require.NoError(t, e.svc.SettleOrder(ctx, "order-1"))
	require.Equal(t, int64(1000), e.balance(t, "upline"))
}

func getReward(t *testing.T, e *env, orderID string) *RewardRecord {
	t.Helper()
	var reward RewardRecord
	require.NoError(t, e.db.Where("order_id = ?", orderID).First(&reward).Error)
	return &reward
}

func TestPartialThenFullClawback(t *testing.T) {
	e := newTestEnv(t)
	settleSingleReward(t, e)
	ctx := context.Background()

	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 0.5))

	reward := getReward(t, e, "order-1")
	require.Equal(t, RewardSettled, reward.Status)
	require.Equal(t, int64(500), reward.DeductedAmount)
	require.Equal(t, int64(500), e.balance(t, "upline"))

	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 1.0))

	reward = getReward(t, e, "order-1")
	require.Equal(t, RewardDeducted, reward.Status)
	require.Equal(t, int64(1000), reward.DeductedAmount)
	require.Zero(t, e.balance(t, "upline"))
}

func TestClawbackNeverExceedsOriginalAmount(t *testing.T) {
	e := newTestEnv(t)
	settleSingleReward(t, e)
	ctx := context.Background()

	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 0.7))
	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 0.7))
	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 1.0))

	reward := getReward(t, e, "order-1")
	require.Equal(t, int64(1000), reward.DeductedAmount)
	require.Equal(t, RewardDeducted, reward.Status)
	require.Zero(t, e.balance(t, "upline"))

	// Negative ledger rows stop once the reward is exhausted.
	var clawbacks int64
	require.NoError(t, e.db.Model(&ledger.WalletTransaction{}).
		Where("reason = ?", ledger.ReasonClawback).Count(&clawbacks).Error)
	require.Equal(t, int64(2), clawbacks)
}

func TestClawbackCancelsPendingRewards(t *testing.T) {
	e := newTestEnv(t)
	e.seedChain(t)
	ctx := context.Background()

	_, err := e.svc.IngestOrderCompleted(ctx, OrderCompletedPayload{
		OrderID: "order-1", BuyerID: "buyer", OrderAmount: 10_000,
	})
	require.NoError(t, err)

	require.NoError(t, e.svc.CancelOrderRewards(ctx, "order-1", 1.0))

	var rewards []*RewardRecord
	require.NoError(t, e.db.Where("order_id = ?", "order-1").Find(&rewards).Error)
	require.Len(t, rewards, 2)
	for _, reward := range rewards {
		require.Equal(t, RewardCancelled, reward.Status)
		require.Zero(t, reward.DeductedAmount)
	}

	require.Zero(t, e.frozen(t, "mid"))
	require.Zero(t, e.frozen(t, "root"))
	require.Zero(t, e.ledgerEntryCount(t))
}

func TestClawbackValidatesRatio(t *testing.T) {
	e := newTestEnv(t)

	require.Error(t, e.svc.CancelOrderRewards(context.Background(), "order-1", 0))
	require.Error(t, e.svc.CancelOrderRewards(context.Background(), "order-1", 1.5))
	require.Error(t, e.svc.CancelOrderRewards(context.Background(), "", 0.5))
}
