package promotion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/repository"

	"commissionplane/services/referral"
)

// errCascadeConflict aborts a cascade that lost an optimistic version race.
// The whole transaction rolls back and the caller treats it as a no-op; the
// next settlement re-evaluates naturally.
var errCascadeConflict = errors.New("promotion cascade version conflict")

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	rules Rules

	agents repository.Repository[referral.Agent]
	events repository.Repository[referral.PromotionEvent]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Rules Rules
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		rules: p.Rules,

		agents: repository.ProvideStore[referral.Agent](p.DB),
		events: repository.ProvideStore[referral.PromotionEvent](p.DB),
	}
}

// EvaluateAndPromote checks the agent against the threshold table and, on a
// qualifying result, promotes it one tier and runs the follow-upgrade
// cascade. Promoter and followers commit as one unit; a concurrent promotion
// detected through the version column rolls the whole cascade back and the
// call reports no promotion.
func (s *Service) EvaluateAndPromote(ctx context.Context, agentID string) (*referral.PromotionEvent, error) {
	agent, err := s.agents.FindOne(ctx, &referral.Agent{ID: agentID})
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, nil
	}

	decision := s.rules.Evaluate(agent)
	if !decision.Promote {
		return nil, nil
	}

	var event *referral.PromotionEvent
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err = s.promote(ctx, tx, agent, decision)
		return err
	})
	if errors.Is(err, errCascadeConflict) {
		zap.L().Warn("promotion lost version race, skipping",
			zap.String("agent_id", agentID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	zap.L().Info("agent promoted",
		zap.String("agent_id", agentID),
		zap.Int("from_tier", agent.Tier),
		zap.Int("to_tier", decision.NewTier),
		zap.String("reason", decision.Reason),
	)
	return event, nil
}

func (s *Service) promote(ctx context.Context, tx *gorm.DB, agent *referral.Agent, decision Decision) (*referral.PromotionEvent, error) {
	newPath := referral.DetachPath(agent.Path(), decision.NewTier)

	if err := s.retier(ctx, tx, agent, decision.NewTier, newPath); err != nil {
		return nil, err
	}

	event := &referral.PromotionEvent{
		ID:       s.node.Generate().String(),
		AgentID:  agent.ID,
		FromTier: agent.Tier,
		ToTier:   decision.NewTier,
		Kind:     referral.PromotionThreshold,
		OldPath:  agent.AncestorPath,
		NewPath:  referral.MarshalPath(newPath),
	}
	if err := s.events.WithTrx(tx).Create(ctx, event); err != nil {
		return nil, err
	}

	transition := fmt.Sprintf("%d->%d", agent.Tier, decision.NewTier)
	for _, step := range s.rules.Follow[transition] {
		if err := s.cascadeFollowers(ctx, tx, agent.ID, step); err != nil {
			return nil, err
		}
	}

	return event, nil
}

// cascadeFollowers pulls the promoter's direct children at step.FromTier up
// to step.ToTier, each with its own path detachment and follow event.
func (s *Service) cascadeFollowers(ctx context.Context, tx *gorm.DB, promoterID string, step FollowStep) error {
	children, err := s.agents.WithTrx(tx).Find(ctx, &referral.Agent{
		ReferrerID: promoterID,
		Tier:       step.FromTier,
	})
	if err != nil {
		return err
	}

	for _, child := range children {
		newPath := referral.DetachPath(child.Path(), step.ToTier)
		if err := s.retier(ctx, tx, child, step.ToTier, newPath); err != nil {
			return err
		}

		event := &referral.PromotionEvent{
			ID:          s.node.Generate().String(),
			AgentID:     child.ID,
			FromTier:    child.Tier,
			ToTier:      step.ToTier,
			Kind:        referral.PromotionFollow,
			TriggeredBy: promoterID,
			OldPath:     child.AncestorPath,
			NewPath:     referral.MarshalPath(newPath),
		}
		if err := s.events.WithTrx(tx).Create(ctx, event); err != nil {
			return err
		}
	}

	return nil
}

// retier applies one tier change guarded by the agent's version column.
func (s *Service) retier(ctx context.Context, tx *gorm.DB, agent *referral.Agent, newTier int, newPath []string) error {
	res := tx.Model(&referral.Agent{}).
		Where("id = ? AND tier = ? AND version = ?", agent.ID, agent.Tier, agent.Version).
		Updates(map[string]any{
			"tier":          newTier,
			"ancestor_path": referral.MarshalPath(newPath),
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errCascadeConflict
	}
	return nil
}
