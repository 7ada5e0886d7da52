package promotion

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"commissionplane/pkg/db/option"
	"commissionplane/pkg/repository"
	"commissionplane/services/referral"
	"commissionplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t, &referral.Agent{}, &referral.PromotionEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(ServiceParams{DB: db, Node: node, Rules: DefaultRules()}), db
}

func seedAgent(t *testing.T, db *gorm.DB, agent *referral.Agent) {
	t.Helper()
	if agent.Version == 0 {
		agent.Version = 1
	}
	require.NoError(t, db.Create(agent).Error)
}

func getAgent(t *testing.T, db *gorm.DB, id string) *referral.Agent {
	t.Helper()
	var agent referral.Agent
	require.NoError(t, db.Where("id = ?", id).First(&agent).Error)
	return &agent
}

func TestThresholdPromotionDetachesPath(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedAgent(t, db, &referral.Agent{
		ID:           "promoter",
		Tier:         3,
		TotalSales:   5_000_000,
		AncestorPath: referral.MarshalPath([]string{"p1", "p2", "p3"}),
	})

	event, err := svc.EvaluateAndPromote(ctx, "promoter")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, 3, event.FromTier)
	require.Equal(t, 2, event.ToTier)
	require.Equal(t, referral.PromotionThreshold, event.Kind)

	promoted := getAgent(t, db, "promoter")
	require.Equal(t, 2, promoted.Tier)
	require.Equal(t, []string{"p2", "p3"}, promoted.Path())
	require.Equal(t, int64(2), promoted.Version)
}

func TestNoPromotionBelowThreshold(t *testing.T) {
	svc, db := newTestService(t)

	seedAgent(t, db, &referral.Agent{ID: "agent", Tier: 4, TotalSales: 100})

	event, err := svc.EvaluateAndPromote(context.Background(), "agent")
	require.NoError(t, err)
	require.Nil(t, event)
	require.Equal(t, 4, getAgent(t, db, "agent").Tier)
}

func TestUnknownAgentIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	event, err := svc.EvaluateAndPromote(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, event)
}

func TestFollowUpgradeCascade(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedAgent(t, db, &referral.Agent{
		ID:           "promoter",
		Tier:         3,
		TotalSales:   5_000_000,
		AncestorPath: referral.MarshalPath([]string{"p1", "p2"}),
	})
	seedAgent(t, db, &referral.Agent{
		ID:           "child",
		ReferrerID:   "promoter",
		Tier:         4,
		AncestorPath: referral.MarshalPath([]string{"promoter", "p1", "p2"}),
	})
	// Children outside the rule's originating tier stay untouched.
	seedAgent(t, db, &referral.Agent{
		ID:         "senior-child",
		ReferrerID: "promoter",
		Tier:       3,
	})

	event, err := svc.EvaluateAndPromote(ctx, "promoter")
	require.NoError(t, err)
	require.NotNil(t, event)

	child := getAgent(t, db, "child")
	require.Equal(t, 3, child.Tier)
	require.Equal(t, []string{"p2"}, child.Path())

	require.Equal(t, 3, getAgent(t, db, "senior-child").Tier)

	var followEvents []*referral.PromotionEvent
	require.NoError(t, db.Where("agent_id = ?", "child").Find(&followEvents).Error)
	require.Len(t, followEvents, 1)
	require.Equal(t, referral.PromotionFollow, followEvents[0].Kind)
	require.Equal(t, "promoter", followEvents[0].TriggeredBy)
	require.Equal(t, 4, followEvents[0].FromTier)
	require.Equal(t, 3, followEvents[0].ToTier)
}

func TestTwoToOneCascadePullsTwoTiers(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedAgent(t, db, &referral.Agent{ID: "promoter", Tier: 2, TotalSales: 50_000_000})
	seedAgent(t, db, &referral.Agent{
		ID:           "c3",
		ReferrerID:   "promoter",
		Tier:         3,
		AncestorPath: referral.MarshalPath([]string{"promoter"}),
	})
	seedAgent(t, db, &referral.Agent{
		ID:           "c4",
		ReferrerID:   "promoter",
		Tier:         4,
		AncestorPath: referral.MarshalPath([]string{"promoter"}),
	})

	event, err := svc.EvaluateAndPromote(ctx, "promoter")
	require.NoError(t, err)
	require.NotNil(t, event)
	require.Equal(t, 1, event.ToTier)

	require.Equal(t, 2, getAgent(t, db, "c3").Tier)
	require.Equal(t, 3, getAgent(t, db, "c4").Tier)
}

// staleRepo serves reads from canned rows while delegating everything else,
// simulating a concurrent writer that bumped versions between read and write.
type staleRepo struct {
	repository.Repository[referral.Agent]
	stale []*referral.Agent
}

func (r *staleRepo) WithTrx(tx *gorm.DB) repository.Repository[referral.Agent] {
	return &staleRepo{Repository: r.Repository.WithTrx(tx), stale: r.stale}
}

func (r *staleRepo) FindOne(ctx context.Context, query *referral.Agent, opts ...option.QueryOption) (*referral.Agent, error) {
	for _, a := range r.stale {
		if a.ID == query.ID {
			copied := *a
			return &copied, nil
		}
	}
	return r.Repository.FindOne(ctx, query, opts...)
}

func (r *staleRepo) Find(ctx context.Context, query *referral.Agent, opts ...option.QueryOption) ([]*referral.Agent, error) {
	var out []*referral.Agent
	for _, a := range r.stale {
		if a.ReferrerID == query.ReferrerID && a.Tier == query.Tier {
			copied := *a
			out = append(out, &copied)
		}
	}
	if len(out) > 0 {
		return out, nil
	}
	return r.Repository.Find(ctx, query, opts...)
}

func TestVersionConflictNoopsWholeCascade(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedAgent(t, db, &referral.Agent{ID: "promoter", Tier: 4, TotalSales: 500_000, Version: 7})

	svc.agents = &staleRepo{
		Repository: repository.ProvideStore[referral.Agent](db),
		stale: []*referral.Agent{
			{ID: "promoter", Tier: 4, TotalSales: 500_000, Version: 6},
		},
	}

	event, err := svc.EvaluateAndPromote(ctx, "promoter")
	require.NoError(t, err)
	require.Nil(t, event)

	require.Equal(t, 4, getAgent(t, db, "promoter").Tier)

	var count int64
	require.NoError(t, db.Model(&referral.PromotionEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMidCascadeConflictRollsBackPromoter(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seedAgent(t, db, &referral.Agent{ID: "promoter", Tier: 3, TotalSales: 5_000_000, Version: 1})
	seedAgent(t, db, &referral.Agent{ID: "child", ReferrerID: "promoter", Tier: 4, Version: 3})

	svc.agents = &staleRepo{
		Repository: repository.ProvideStore[referral.Agent](db),
		stale: []*referral.Agent{
			// Promoter read is current; the child listing is stale.
			{ID: "promoter", Tier: 3, TotalSales: 5_000_000, Version: 1},
			{ID: "child", ReferrerID: "promoter", Tier: 4, Version: 2},
		},
	}

	event, err := svc.EvaluateAndPromote(ctx, "promoter")
	require.NoError(t, err)
	require.Nil(t, event)

	require.Equal(t, 3, getAgent(t, db, "promoter").Tier)
	require.Equal(t, 4, getAgent(t, db, "child").Tier)

	var count int64
	require.NoError(t, db.Model(&referral.PromotionEvent{}).Count(&count).Error)
	require.Zero(t, count)
}
