package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/config"
	"commissionplane/pkg/db/option"
	"commissionplane/pkg/errutil"
	"commissionplane/pkg/featureflags"
	"commissionplane/pkg/logger"
	"commissionplane/pkg/repository"

	"commissionplane/services/ledger"
	"commissionplane/services/promotion"
	"commissionplane/services/referral"
	"commissionplane/services/rules"
)

// FlagSimplifiedScheme switches reward computation to the simplified scheme
// regardless of static configuration, for gradual rollout.
const FlagSimplifiedScheme = "commission-scheme-simplified"

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    *config.Config
	engine *rules.Engine
	flags  featureflags.FeatureFlag

	referrals  *referral.Service
	wallet     *ledger.Service
	promotions *promotion.Service
	orders     OrderService

	settlements repository.Repository[OrderSettlement]
	rewards     repository.Repository[RewardRecord]
}

type ServiceParams struct {
	fx.In
	DB         *gorm.DB
	Node       *snowflake.Node
	Config     *config.Config
	Engine     *rules.Engine
	Flags      featureflags.FeatureFlag
	Referrals  *referral.Service
	Wallet     *ledger.Service
	Promotions *promotion.Service
	Orders     OrderService
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config,
		engine: p.Engine,
		flags:  p.Flags,

		referrals:  p.Referrals,
		wallet:     p.Wallet,
		promotions: p.Promotions,
		orders:     p.Orders,

		settlements: repository.ProvideStore[OrderSettlement](p.DB),
		rewards:     repository.ProvideStore[RewardRecord](p.DB),
	}
}

func (s *Service) scheme(ctx context.Context) string {
	if s.flags != nil && s.flags.IsEnabled(ctx, FlagSimplifiedScheme) {
		return rules.SchemeSimplified
	}
	return s.cfg.Commission.Scheme
}

// IngestOrderCompleted turns an order-completed fact into a pending
// settlement with computed reward lines. A buyer without referral ancestry is
// a no-op, and a replayed fact for a known order returns the existing record
// untouched. Self-purchase lines are persisted already cancelled so the audit
// trail keeps them visible.
func (s *Service) IngestOrderCompleted(ctx context.Context, p OrderCompletedPayload) (*OrderSettlement, error) {
	if p.OrderID == "" || p.BuyerID == "" {
		return nil, errutil.ValidationFailed("order id and buyer id are required", nil)
	}
	if p.OrderAmount <= 0 {
		return nil, errutil.ValidationFailed("order amount must be positive", nil)
	}

	if existing, err := s.settlements.FindOne(ctx, &OrderSettlement{OrderID: p.OrderID}); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	chain, err := s.referrals.AncestorChain(ctx, p.BuyerID)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		zap.L().Debug("order has no referral ancestry, skipping",
			zap.String("order_id", p.OrderID),
			zap.String("buyer_id", p.BuyerID),
		)
		return nil, nil
	}

	// Refunded orders do not count as a first purchase.
	prior, err := s.settlements.Count(ctx, &OrderSettlement{BuyerID: p.BuyerID},
		option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: StatusInvalid}))
	if err != nil {
		return nil, err
	}
	isRepurchase := prior >= 1

	lines, err := s.engine.Compute(s.scheme(ctx), p.OrderAmount, toAncestors(chain), isRepurchase)
	if err != nil {
		return nil, err
	}

	rec := &OrderSettlement{
		ID:          s.node.Generate().String(),
		OrderID:     p.OrderID,
		BuyerID:     p.BuyerID,
		OrderAmount: p.OrderAmount,
		Status:      StatusPending,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.settlements.WithTrx(tx).Create(ctx, rec); err != nil {
			return err
		}

		for _, line := range lines {
			reward := &RewardRecord{
				ID:            s.node.Generate().String(),
				OrderID:       p.OrderID,
				BeneficiaryID: line.BeneficiaryID,
				SourceUserID:  p.BuyerID,
				Level:         line.Level,
				Type:          line.Type,
				Amount:        line.Amount,
				RatioBps:      line.RatioBps,
				Status:        RewardPending,
			}
			if line.BeneficiaryID == p.BuyerID {
				reward.Status = RewardCancelled
			}

			if err := s.rewards.WithTrx(tx).Create(ctx, reward); err != nil {
				return err
			}
			if reward.Status == RewardPending {
				if err := s.wallet.Freeze(ctx, tx, reward.BeneficiaryID, reward.Amount); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("order ingested for settlement",
		zap.String("order_id", p.OrderID),
		zap.String("buyer_id", p.BuyerID),
		zap.Int64("order_amount", p.OrderAmount),
		zap.Int("reward_lines", len(lines)),
		zap.Bool("repurchase", isRepurchase),
	)
	return rec, nil
}

func toAncestors(chain []referral.ChainMember) []rules.Ancestor {
	ancestors := make([]rules.Ancestor, 0, len(chain))
	for _, m := range chain {
		ancestors = append(ancestors, rules.Ancestor{
			AgentID:    m.AgentID,
			Tier:       m.Tier,
			Star:       m.Star,
			MentorID:   m.MentorID,
			MentorStar: m.MentorStar,
		})
	}
	return ancestors
}

// RunResult summarizes one scheduled settlement pass.
type RunResult struct {
	Processed int `json:"processed"`
	Settled   int `json:"settled"`
	Invalid   int `json:"invalid"`
	Retried   int `json:"retried"`
}

// RunScheduledSettlement processes the next batch of pending orders older
// than the settlement delay. Transient failures leave the record pending for
// the next run and are only logged.
func (s *Service) RunScheduledSettlement(ctx context.Context) (*RunResult, error) {
	cutoff := time.Now().Add(-s.cfg.Settlement.SettleDelay)

	pendings, err := s.settlements.Find(ctx, &OrderSettlement{Status: StatusPending},
		option.ApplyOperator(option.Condition{Field: "create_time", Operator: option.LTE, Value: cutoff}),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "create_time",
			OrderBy: "asc",
			Allow:   map[string]bool{"create_time": true},
		}),
		option.WithLimit(s.cfg.Settlement.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Processed: len(pendings)}
	for _, rec := range pendings {
		status, err := s.processOrder(ctx, rec.OrderID)
		if err != nil {
			result.Retried++
			zap.L().Warn("settlement deferred to next run",
				zap.String("order_id", rec.OrderID),
				zap.Error(err),
			)
			continue
		}
		switch status {
		case StatusSettled:
			result.Settled++
		case StatusInvalid:
			result.Invalid++
		}
	}

	zap.L().Info("settlement run finished",
		zap.Int("processed", result.Processed),
		zap.Int("settled", result.Settled),
		zap.Int("invalid", result.Invalid),
		zap.Int("retried", result.Retried),
	)
	return result, nil
}

// SettleOrder forces settlement of a single order outside the schedule,
// with the same validation and atomicity as the scheduled path. Settling an
// order that already left pending is a no-op.
func (s *Service) SettleOrder(ctx context.Context, orderID string) error {
	rec, err := s.settlements.FindOne(ctx, &OrderSettlement{OrderID: orderID})
	if err != nil {
		return err
	}
	if rec == nil {
		return errutil.NotFound("order settlement not found", nil)
	}
	if rec.Status != StatusPending {
		return nil
	}

	_, err = s.processOrder(ctx, orderID)
	return err
}

// processOrder validates one pending order against the order service and
// either settles it or marks it invalid. A returned error means the order
// stayed pending.
func (s *Service) processOrder(ctx context.Context, orderID string) (string, error) {
	fact, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		var base errutil.BaseError
		if errors.As(err, &base) && base.Code == errutil.StatusNotFound {
			return StatusInvalid, s.invalidate(ctx, orderID)
		}
		return "", err
	}

	if fact.Status != OrderStatusCompleted || fact.RefundAmount > 0 {
		return StatusInvalid, s.invalidate(ctx, orderID)
	}

	if err := s.settleOne(ctx, orderID); err != nil {
		return "", err
	}
	return StatusSettled, nil
}

// invalidate marks the order invalid and cancels its pending rewards. Both
// commit together so a half-cancelled order cannot be observed.
func (s *Service) invalidate(ctx context.Context, orderID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&OrderSettlement{}).
			Where("order_id = ? AND status = ?", orderID, StatusPending).
			Update("status", StatusInvalid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		_, err := s.cancelPendingRewards(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return err
	}

	zap.L().Warn("order failed validation, marked invalid", zap.String("order_id", orderID))
	return nil
}

// settleOne applies the atomic settlement step for one order: reward rows to
// settled, wallet credits and ledger rows, the settlement record to settled.
// Records no longer pending are skipped, which makes retries idempotent.
// Performance counters and promotion checks run after commit, best effort.
func (s *Service) settleOne(ctx context.Context, orderID string) error {
	var (
		rec           *OrderSettlement
		beneficiaries []string
		applied       bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rec, err = s.settlements.WithTrx(tx).FindOne(ctx,
			&OrderSettlement{OrderID: orderID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if rec == nil {
			return errutil.NotFound("order settlement not found", nil)
		}
		if rec.Status != StatusPending {
			return nil
		}

		pending, err := s.rewards.WithTrx(tx).Find(ctx,
			&RewardRecord{OrderID: orderID, Status: RewardPending})
		if err != nil {
			return err
		}

		now := time.Now()
		seen := make(map[string]bool, len(pending))
		for _, reward := range pending {
			if err := s.rewards.WithTrx(tx).Update(ctx, reward.ID, map[string]any{
				"status":     RewardSettled,
				"updated_at": now,
			}); err != nil {
				return err
			}

			if err := s.wallet.Unfreeze(ctx, tx, reward.BeneficiaryID, reward.Amount); err != nil {
				return err
			}
			if err := s.wallet.ApplyDelta(ctx, tx, ledger.Delta{
				AgentID:     reward.BeneficiaryID,
				Amount:      reward.Amount,
				Reason:      ledger.ReasonCommissionSettle,
				OrderID:     orderID,
				RewardID:    reward.ID,
				Description: string(reward.Type),
			}); err != nil {
				return err
			}

			if !seen[reward.BeneficiaryID] {
				seen[reward.BeneficiaryID] = true
				beneficiaries = append(beneficiaries, reward.BeneficiaryID)
			}
		}

		if err := s.settlements.WithTrx(tx).Update(ctx, rec.ID, map[string]any{
			"status":      StatusSettled,
			"settle_time": now,
		}); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil || !applied {
		return err
	}

	// Follow-on steps must not undo the committed settlement.
	monthTag := rec.CreateTime.Format("200601")
	for _, beneficiaryID := range beneficiaries {
		if err := s.referrals.RecordPerformance(ctx, beneficiaryID, rec.OrderAmount, monthTag); err != nil {
			zap.L().Error("performance update failed",
				zap.String("order_id", orderID),
				zap.String("agent_id", beneficiaryID),
				zap.Error(err),
			)
			continue
		}
		if _, err := s.promotions.EvaluateAndPromote(ctx, beneficiaryID); err != nil {
			zap.L().Error("promotion evaluation failed",
				zap.String("order_id", orderID),
				zap.String("agent_id", beneficiaryID),
				zap.Error(err),
			)
		}
	}

	logger.FromContext(ctx).Info("order settled",
		zap.String("order_id", orderID),
		zap.Int("beneficiaries", len(beneficiaries)),
	)
	return nil
}

// cancelPendingRewards cancels every pending reward line on the order and
// releases its frozen earnings. Returns the number of lines cancelled.
func (s *Service) cancelPendingRewards(ctx context.Context, tx *gorm.DB, orderID string) (int, error) {
	pending, err := s.rewards.WithTrx(tx).Find(ctx,
		&RewardRecord{OrderID: orderID, Status: RewardPending})
	if err != nil {
		return 0, err
	}

	now := time.Now()
	for _, reward := range pending {
		if err := s.rewards.WithTrx(tx).Update(ctx, reward.ID, map[string]any{
			"status":     RewardCancelled,
			"updated_at": now,
		}); err != nil {
			return 0, err
		}
		if err := s.wallet.Unfreeze(ctx, tx, reward.BeneficiaryID, reward.Amount); err != nil {
			return 0, err
		}
	}
	return len(pending), nil
}
