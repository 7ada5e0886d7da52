package ledger

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/db/option"
	"commissionplane/pkg/errutil"
	"commissionplane/pkg/repository"
)

const genesisHash = "GENESIS"

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	wallets repository.Repository[Wallet]
	entries repository.Repository[WalletTransaction]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		wallets: repository.ProvideStore[Wallet](p.DB),
		entries: repository.ProvideStore[WalletTransaction](p.DB),
	}
}

// Delta is a signed balance movement emitted by the settlement engine.
type Delta struct {
	AgentID     string
	Amount      int64
	Reason      string
	OrderID     string
	RewardID    string
	Description string
}

// ApplyDelta moves an agent's balance and lifetime-earned counter and appends
// a hash-chained transaction row. It must run inside the caller's settlement
// transaction so reward status, balance and audit row commit together.
func (s *Service) ApplyDelta(ctx context.Context, tx *gorm.DB, d Delta) error {
	if d.AgentID == "" {
		return errutil.ValidationFailed("delta missing agent id", nil)
	}
	if d.Amount == 0 {
		return nil
	}

	walletTx := s.wallets.WithTrx(tx)
	entryTx := s.entries.WithTrx(tx)

	wallet, err := s.lockedWallet(ctx, tx, d.AgentID)
	if err != nil {
		return err
	}

	// Snowflake ids are time-ordered, so id order is chain order even when
	// two entries land in the same timestamp.
	lastEntry, err := entryTx.FindOne(ctx, &WalletTransaction{AgentID: d.AgentID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "desc",
			Allow:   map[string]bool{"id": true},
		}),
	)
	if err != nil {
		return err
	}

	previousHash := genesisHash
	if lastEntry != nil {
		previousHash = lastEntry.Hash
	}

	// CreatedAt participates in the hash, so it must be fixed before hashing
	// rather than left to autoCreateTime.
	entry := &WalletTransaction{
		ID:           s.node.Generate().String(),
		AgentID:      d.AgentID,
		Amount:       d.Amount,
		Reason:       d.Reason,
		OrderID:      d.OrderID,
		RewardID:     d.RewardID,
		Description:  d.Description,
		PreviousHash: previousHash,
		CreatedAt:    time.Now().UTC(),
	}
	entry.Hash = entry.GenerateHash()

	if err := entryTx.Create(ctx, entry); err != nil {
		return err
	}

	return walletTx.Update(ctx, wallet.ID, map[string]any{
		"balance":          gorm.Expr("balance + ?", d.Amount),
		"total_commission": gorm.Expr("total_commission + ?", d.Amount),
	})
}

// Freeze adds a computed-but-unsettled reward to the agent's pending
// earnings.
func (s *Service) Freeze(ctx context.Context, tx *gorm.DB, agentID string, amount int64) error {
	return s.moveFrozen(ctx, tx, agentID, amount)
}

// Unfreeze releases pending earnings, either into a settlement credit or a
// cancellation.
func (s *Service) Unfreeze(ctx context.Context, tx *gorm.DB, agentID string, amount int64) error {
	return s.moveFrozen(ctx, tx, agentID, -amount)
}

func (s *Service) moveFrozen(ctx context.Context, tx *gorm.DB, agentID string, amount int64) error {
	if amount == 0 {
		return nil
	}

	wallet, err := s.lockedWallet(ctx, tx, agentID)
	if err != nil {
		return err
	}

	return s.wallets.WithTrx(tx).Update(ctx, wallet.ID, map[string]any{
		"frozen_amount": gorm.Expr("frozen_amount + ?", amount),
	})
}

// lockedWallet fetches the agent's wallet FOR UPDATE, creating it on first
// touch.
func (s *Service) lockedWallet(ctx context.Context, tx *gorm.DB, agentID string) (*Wallet, error) {
	walletTx := s.wallets.WithTrx(tx)

	wallet, err := walletTx.FindOne(ctx, &Wallet{AgentID: agentID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet = &Wallet{
		ID:      s.node.Generate().String(),
		AgentID: agentID,
	}
	if err := walletTx.Create(ctx, wallet); err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Service) GetWallet(ctx context.Context, agentID string) (*Wallet, error) {
	wallet, err := s.wallets.FindOne(ctx, &Wallet{AgentID: agentID})
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, errutil.NotFound("wallet not found", nil)
	}
	return wallet, nil
}

// ListTransactions returns an agent's audit trail, oldest first.
func (s *Service) ListTransactions(ctx context.Context, agentID string) ([]*WalletTransaction, error) {
	return s.entries.Find(ctx, &WalletTransaction{AgentID: agentID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "id",
			OrderBy: "asc",
			Allow:   map[string]bool{"id": true},
		}),
	)
}

// VerifyChain walks an agent's transaction chain and reports whether every
// hash links to its predecessor.
func (s *Service) VerifyChain(ctx context.Context, agentID string) (bool, error) {
	entries, err := s.ListTransactions(ctx, agentID)
	if err != nil {
		return false, err
	}

	lastHash := genesisHash
	for _, entry := range entries {
		if entry.Hash != entry.GenerateHash() || entry.PreviousHash != lastHash {
			zap.L().Warn("wallet transaction chain broken",
				zap.String("agent_id", agentID),
				zap.String("entry_id", entry.ID),
			)
			return false, nil
		}
		lastHash = entry.Hash
	}

	return true, nil
}
