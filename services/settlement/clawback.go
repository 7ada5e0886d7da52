package settlement

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/db/option"
	"commissionplane/pkg/errutil"
	"commissionplane/pkg/logger"

	"commissionplane/services/ledger"
)

// CancelOrderRewards claws back an order's rewards after a refund. Pending
// lines are cancelled outright and their frozen earnings released. Settled
// lines are deducted by floor(amount * refundRatio), cumulatively across
// partial refunds, and flip to deducted only once fully clawed back. The
// cumulative deduction never exceeds the original amount.
func (s *Service) CancelOrderRewards(ctx context.Context, orderID string, refundRatio float64) error {
	if orderID == "" {
		return errutil.ValidationFailed("order id is required", nil)
	}
	if refundRatio <= 0 || refundRatio > 1 {
		return errutil.ValidationFailed("refund ratio must be in (0, 1]", nil)
	}

	var cancelled, deducted int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		cancelled, err = s.cancelPendingRewards(ctx, tx, orderID)
		if err != nil {
			return err
		}

		settled, err := s.rewards.WithTrx(tx).Find(ctx,
			&RewardRecord{OrderID: orderID, Status: RewardSettled},
			option.WithLockingUpdate(),
		)
		if err != nil {
			return err
		}

		now := time.Now()
		for _, reward := range settled {
			amount := int64(math.Floor(float64(reward.Amount) * refundRatio))
			if remaining := reward.Amount - reward.DeductedAmount; amount > remaining {
				amount = remaining
			}
			if amount <= 0 {
				continue
			}

			if err := s.wallet.ApplyDelta(ctx, tx, ledger.Delta{
				AgentID:     reward.BeneficiaryID,
				Amount:      -amount,
				Reason:      ledger.ReasonClawback,
				OrderID:     orderID,
				RewardID:    reward.ID,
				Description: string(reward.Type),
			}); err != nil {
				return err
			}

			update := map[string]any{
				"deducted_amount": reward.DeductedAmount + amount,
				"updated_at":      now,
			}
			if reward.DeductedAmount+amount == reward.Amount {
				update["status"] = RewardDeducted
			}
			if err := s.rewards.WithTrx(tx).Update(ctx, reward.ID, update); err != nil {
				return err
			}
			deducted++
		}

		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx).Info("order rewards clawed back",
		zap.String("order_id", orderID),
		zap.Float64("refund_ratio", refundRatio),
		zap.Int("cancelled", cancelled),
		zap.Int("deducted", deducted),
	)
	return nil
}
