package fraud

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/config"
	"commissionplane/pkg/repository"

	"commissionplane/services/ledger"
	"commissionplane/services/referral"
	"commissionplane/services/settlement"
)

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	cfg    *config.Config
	wallet *ledger.Service

	flags repository.Repository[FraudFlag]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Wallet *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		cfg:    p.Config,
		wallet: p.Wallet,

		flags: repository.ProvideStore[FraudFlag](p.DB),
	}
}

// SweepResult summarizes one fraud sweep pass.
type SweepResult struct {
	IPFlags       int `json:"ip_flags"`
	SelfPurchases int `json:"self_purchases"`
}

// Sweep runs both heuristics: registration bursts from a single network
// address within the trailing window are flagged, and self-purchase rewards
// still pending are cancelled outright, not merely flagged.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}

	ipFlags, err := s.sweepRegistrationIPs(ctx)
	if err != nil {
		return nil, err
	}
	result.IPFlags = ipFlags

	selfPurchases, err := s.sweepSelfPurchases(ctx)
	if err != nil {
		return nil, err
	}
	result.SelfPurchases = selfPurchases

	zap.L().Info("fraud sweep finished",
		zap.Int("ip_flags", result.IPFlags),
		zap.Int("self_purchases", result.SelfPurchases),
	)
	return result, nil
}

func (s *Service) sweepRegistrationIPs(ctx context.Context) (int, error) {
	since := time.Now().Add(-s.cfg.Fraud.Window)

	var bursts []struct {
		RegistrationIP string
		Registrations  int64
	}
	if err := s.db.WithContext(ctx).Model(&referral.Agent{}).
		Select("registration_ip, COUNT(*) AS registrations").
		Where("registration_ip <> '' AND created_at >= ?", since).
		Group("registration_ip").
		Having("COUNT(*) > ?", s.cfg.Fraud.MaxRegistrationsPerIP).
		Scan(&bursts).Error; err != nil {
		return 0, err
	}

	flagged := 0
	for _, burst := range bursts {
		agents, err := repository.ProvideStore[referral.Agent](s.db).Find(ctx,
			&referral.Agent{RegistrationIP: burst.RegistrationIP})
		if err != nil {
			return flagged, err
		}

		for _, agent := range agents {
			if agent.CreatedAt.Before(since) {
				continue
			}
			exists, err := s.flags.FindOne(ctx, &FraudFlag{AgentID: agent.ID, Kind: KindIPBurst})
			if err != nil {
				return flagged, err
			}
			if exists != nil {
				continue
			}

			if err := s.flags.Create(ctx, &FraudFlag{
				ID:      s.node.Generate().String(),
				AgentID: agent.ID,
				Kind:    KindIPBurst,
				Detail:  fmt.Sprintf("%d registrations from %s within window", burst.Registrations, burst.RegistrationIP),
			}); err != nil {
				return flagged, err
			}
			flagged++
		}
	}

	return flagged, nil
}

// sweepSelfPurchases catches self-purchase rewards that slipped past ingest
// (rows written before the guard existed, or replayed from other systems).
func (s *Service) sweepSelfPurchases(ctx context.Context) (int, error) {
	var rewards []*settlement.RewardRecord
	if err := s.db.WithContext(ctx).Model(&settlement.RewardRecord{}).
		Where("beneficiary_id = source_user_id AND status = ?", settlement.RewardPending).
		Find(&rewards).Error; err != nil {
		return 0, err
	}

	cancelled := 0
	for _, reward := range rewards {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&settlement.RewardRecord{}).
				Where("id = ? AND status = ?", reward.ID, settlement.RewardPending).
				Updates(map[string]any{
					"status":     settlement.RewardCancelled,
					"updated_at": time.Now(),
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return nil
			}

			if err := s.wallet.Unfreeze(ctx, tx, reward.BeneficiaryID, reward.Amount); err != nil {
				return err
			}

			return s.flags.WithTrx(tx).Create(ctx, &FraudFlag{
				ID:       s.node.Generate().String(),
				AgentID:  reward.BeneficiaryID,
				Kind:     KindSelfPurchase,
				Detail:   "reward beneficiary equals order buyer",
				OrderID:  reward.OrderID,
				RewardID: reward.ID,
			})
		})
		if err != nil {
			return cancelled, err
		}
		cancelled++
	}

	return cancelled, nil
}

// Flags lists an agent's fraud flags.
func (s *Service) Flags(ctx context.Context, agentID string) ([]*FraudFlag, error) {
	return s.flags.Find(ctx, &FraudFlag{AgentID: agentID})
}
