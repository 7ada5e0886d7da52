package referral

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/errutil"
	"commissionplane/pkg/repository"
)

const maxPathLen = TierMax - 1

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	agents repository.Repository[Agent]
	events repository.Repository[PromotionEvent]
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

		agents: repository.ProvideStore[Agent](p.DB),
		events: repository.ProvideStore[PromotionEvent](p.DB),
	}
}

type RegisterParams struct {
	AgentID        string
	ReferrerID     string
	MentorID       string
	RegistrationIP string
}

// Register creates a new agent at the least-senior tier and links it under
// its referrer. The ancestor path is the referrer followed by the referrer's
// own path, capped at three entries.
func (s *Service) Register(ctx context.Context, p RegisterParams) (*Agent, error) {
	if p.AgentID == "" {
		p.AgentID = s.node.Generate().String()
	}

	if exist, err := s.agents.FindOne(ctx, &Agent{ID: p.AgentID}); err != nil {
		return nil, err
	} else if exist != nil {
		return nil, errutil.Conflict("agent already registered", nil)
	}

	var path []string
	if p.ReferrerID != "" {
		referrer, err := s.agents.FindOne(ctx, &Agent{ID: p.ReferrerID})
		if err != nil {
			return nil, err
		}
		if referrer == nil {
			return nil, errutil.NotFound("referrer not found", nil)
		}

		path = append([]string{p.ReferrerID}, referrer.Path()...)
		if len(path) > maxPathLen {
			path = path[:maxPathLen]
		}
	}

	agent := &Agent{
		ID:             p.AgentID,
		ReferrerID:     p.ReferrerID,
		MentorID:       p.MentorID,
		Tier:           TierMax,
		AncestorPath:   MarshalPath(path),
		RegistrationIP: p.RegistrationIP,
		Version:        1,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.agents.WithTrx(tx).Create(ctx, agent); err != nil {
			return err
		}

		if p.ReferrerID != "" {
			if err := tx.Model(&Agent{}).Where("id = ?", p.ReferrerID).
				Update("direct_count", gorm.Expr("direct_count + 1")).Error; err != nil {
				return err
			}
		}
		if len(path) > 0 {
			if err := tx.Model(&Agent{}).Where("id IN ?", path).
				Update("team_count", gorm.Expr("team_count + 1")).Error; err != nil {
				return err
			}
		}

		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("referrer_id", p.ReferrerID),
		zap.Int("path_len", len(path)),
	)
	return agent, nil
}

func (s *Service) Get(ctx context.Context, agentID string) (*Agent, error) {
	agent, err := s.agents.FindOne(ctx, &Agent{ID: agentID})
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, errutil.NotFound("agent not found", nil)
	}
	return agent, nil
}

// ChainMember is one ancestor in a buyer's referral chain, nearest first.
// MentorStar is resolved only for the nearest member, which is the only one
// whose mentor can earn a nurture allowance.
type ChainMember struct {
	AgentID    string
	Tier       int
	Star       int
	MentorID   string
	MentorStar int
}

// AncestorChain resolves the buyer's ordered ancestor chain. A buyer with no
// referral ancestry yields an empty chain.
func (s *Service) AncestorChain(ctx context.Context, buyerID string) ([]ChainMember, error) {
	buyer, err := s.agents.FindOne(ctx, &Agent{ID: buyerID})
	if err != nil {
		return nil, err
	}
	if buyer == nil {
		return nil, nil
	}

	path := buyer.Path()
	if len(path) == 0 {
		return nil, nil
	}

	chain := make([]ChainMember, 0, len(path))
	for _, ancestorID := range path {
		ancestor, err := s.agents.FindOne(ctx, &Agent{ID: ancestorID})
		if err != nil {
			return nil, err
		}
		if ancestor == nil {
			// Stale path entry; the chain is cut at the first hole.
			zap.L().Warn("ancestor missing from graph", zap.String("agent_id", buyerID), zap.String("ancestor_id", ancestorID))
			break
		}

		member := ChainMember{
			AgentID:  ancestor.ID,
			Tier:     ancestor.Tier,
			Star:     ancestor.Star,
			MentorID: ancestor.MentorID,
		}

		if len(chain) == 0 && ancestor.MentorID != "" {
			mentor, err := s.agents.FindOne(ctx, &Agent{ID: ancestor.MentorID})
			if err != nil {
				return nil, err
			}
			if mentor != nil {
				member.MentorStar = mentor.Star
			}
		}

		chain = append(chain, member)
	}

	return chain, nil
}

// RecordPerformance credits a settled order against an agent's rolling sales
// counters. The month counter is guarded by month_tag, a sortable yyyymm
// string: a matching tag increments, an older tag rolls the counter forward
// to this order's month, and a newer tag means the order settled late, so
// only lifetime sales move. The rollover guard can never move the tag
// backwards; a miss caused by a concurrent roll is retried.
func (s *Service) RecordPerformance(ctx context.Context, agentID string, amount int64, monthTag string) error {
	for attempt := 0; attempt < 3; attempt++ {
		res := s.db.WithContext(ctx).Model(&Agent{}).
			Where("id = ? AND month_tag = ?", agentID, monthTag).
			Updates(map[string]any{
				"total_sales": gorm.Expr("total_sales + ?", amount),
				"month_sales": gorm.Expr("month_sales + ?", amount),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		res = s.db.WithContext(ctx).Model(&Agent{}).
			Where("id = ? AND month_tag < ?", agentID, monthTag).
			Updates(map[string]any{
				"total_sales": gorm.Expr("total_sales + ?", amount),
				"month_sales": amount,
				"month_tag":   monthTag,
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}

		res = s.db.WithContext(ctx).Model(&Agent{}).
			Where("id = ? AND month_tag > ?", agentID, monthTag).
			Updates(map[string]any{
				"total_sales": gorm.Expr("total_sales + ?", amount),
				"updated_at":  time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
	}
	return errutil.NotFound("agent not found", nil)
}

// PromotionHistory lists an agent's promotion events, oldest first.
func (s *Service) PromotionHistory(ctx context.Context, agentID string) ([]*PromotionEvent, error) {
	return s.events.Find(ctx, &PromotionEvent{AgentID: agentID})
}
