package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/errutil"
	"commissionplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &Wallet{}, &WalletTransaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node}), db
}

func applyDelta(t *testing.T, svc *Service, db *gorm.DB, d Delta) {
	t.Helper()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.ApplyDelta(context.Background(), tx, d)
	}))
}

func TestApplyDeltaCreatesWalletAndChains(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: 500, Reason: ReasonCommissionSettle, OrderID: "order-1"})
	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: 300, Reason: ReasonCommissionSettle, OrderID: "order-2"})
	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: -200, Reason: ReasonClawback, OrderID: "order-1"})

	wallet, err := svc.GetWallet(ctx, "agent")
	require.NoError(t, err)
	require.Equal(t, int64(600), wallet.Balance)
	require.Equal(t, int64(600), wallet.TotalCommission)

	entries, err := svc.ListTransactions(ctx, "agent")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, genesisHash, entries[0].PreviousHash)
	require.Equal(t, entries[0].Hash, entries[1].PreviousHash)
	require.Equal(t, entries[1].Hash, entries[2].PreviousHash)

	valid, err := svc.VerifyChain(ctx, "agent")
	require.NoError(t, err)
	require.True(t, valid)
}

func TestApplyDeltaZeroAmountIsNoop(t *testing.T) {
	svc, db := newTestService(t)

	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: 0, Reason: ReasonCommissionSettle})

	entries, err := svc.ListTransactions(context.Background(), "agent")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestApplyDeltaRequiresAgent(t *testing.T) {
	svc, db := newTestService(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.ApplyDelta(context.Background(), tx, Delta{Amount: 100})
	})
	require.Error(t, err)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: 500, Reason: ReasonCommissionSettle})
	applyDelta(t, svc, db, Delta{AgentID: "agent", Amount: 300, Reason: ReasonCommissionSettle})

	require.NoError(t, db.Model(&WalletTransaction{}).
		Where("agent_id = ?", "agent").
		Where("amount = ?", 500).
		Update("amount", 999).Error)

	valid, err := svc.VerifyChain(ctx, "agent")
	require.NoError(t, err)
	require.False(t, valid)
}

func TestFreezeUnfreeze(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Freeze(ctx, tx, "agent", 400)
	}))
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Unfreeze(ctx, tx, "agent", 150)
	}))

	wallet, err := svc.GetWallet(ctx, "agent")
	require.NoError(t, err)
	require.Equal(t, int64(250), wallet.FrozenAmount)
	require.Zero(t, wallet.Balance)

	entries, err := svc.ListTransactions(ctx, "agent")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGetWalletNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetWallet(context.Background(), "nobody")
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestVerifyChainEmptyIsValid(t *testing.T) {
	svc, _ := newTestService(t)

	valid, err := svc.VerifyChain(context.Background(), "nobody")
	require.NoError(t, err)
	require.True(t, valid)
}
