package rules

import (
	"fmt"

	"commissionplane/pkg/config"
	"commissionplane/pkg/errutil"
)

const bpsDenominator = 10000

// StarGated is a flat rate paid only to beneficiaries at or above MinStar.
type StarGated struct {
	MinStar int
	Bps     int
}

// Config is the injected rate table. Rates are basis points of the order
// amount; all shares round down to the minor unit.
type Config struct {
	TotalRateBps int

	// legacy scheme
	Basic      map[int]int // tier -> bps
	Repurchase StarGated
	TeamMgmt   StarGated
	Nurture    StarGated

	// simplified scheme
	Own      map[int]int // promoter tier -> bps kept by the promoter
	Upstream []int       // shares for the 1st..3rd ancestor above the promoter
}

// DefaultConfig is the production rate table: a 20% total take split across
// the chain under both schemes.
func DefaultConfig() Config {
	return Config{
		TotalRateBps: 2000,
		Basic:        map[int]int{1: 1000, 2: 600, 3: 300, 4: 100},
		Repurchase:   StarGated{MinStar: 3, Bps: 100},
		TeamMgmt:     StarGated{MinStar: 5, Bps: 200},
		Nurture:      StarGated{MinStar: 5, Bps: 100},
		Own:          map[int]int{1: 2000, 2: 1400, 3: 900, 4: 500},
		Upstream:     []int{600, 500, 400},
	}
}

// FromAppConfig builds an engine Config from application configuration,
// falling back to the defaults for any section left empty.
func FromAppConfig(app *config.Config) Config {
	cfg := DefaultConfig()

	c := app.Commission
	if c.TotalRateBps > 0 {
		cfg.TotalRateBps = c.TotalRateBps
	}
	if len(c.Basic) > 0 {
		cfg.Basic = tierMap(c.Basic)
	}
	if len(c.Own) > 0 {
		cfg.Own = tierMap(c.Own)
	}
	if len(c.Upstream) > 0 {
		cfg.Upstream = c.Upstream
	}
	if c.Repurchase.Bps > 0 {
		cfg.Repurchase = StarGated{MinStar: c.Repurchase.MinStar, Bps: c.Repurchase.Bps}
	}
	if c.TeamMgmt.Bps > 0 {
		cfg.TeamMgmt = StarGated{MinStar: c.TeamMgmt.MinStar, Bps: c.TeamMgmt.Bps}
	}
	if c.Nurture.Bps > 0 {
		cfg.Nurture = StarGated{MinStar: c.Nurture.MinStar, Bps: c.Nurture.Bps}
	}

	return cfg
}

func tierMap(rates []config.TierRate) map[int]int {
	m := make(map[int]int, len(rates))
	for _, r := range rates {
		m[r.Tier] = r.Bps
	}
	return m
}

// Validate enforces the conservation identity: for a fully populated chain
// the per-tier rates must sum to exactly TotalRateBps under both schemes.
// A missing tier entry is a fatal configuration error.
func (c Config) Validate() error {
	var basicSum int
	for tier := 1; tier <= 4; tier++ {
		bps, ok := c.Basic[tier]
		if !ok {
			return fmt.Errorf("basic rate table missing tier %d", tier)
		}
		basicSum += bps
	}
	if basicSum != c.TotalRateBps {
		return fmt.Errorf("basic rates sum to %d bps, want %d", basicSum, c.TotalRateBps)
	}

	if len(c.Upstream) < 3 {
		return fmt.Errorf("upstream table has %d entries, want 3", len(c.Upstream))
	}
	for tier := 1; tier <= 4; tier++ {
		own, ok := c.Own[tier]
		if !ok {
			return fmt.Errorf("own rate table missing tier %d", tier)
		}
		total := own
		for i := 0; i < tier-1; i++ {
			total += c.Upstream[i]
		}
		if total != c.TotalRateBps {
			return fmt.Errorf("simplified rates for tier %d sum to %d bps, want %d", tier, total, c.TotalRateBps)
		}
	}

	return nil
}

// Engine computes reward line items from an order amount and an ancestor
// chain. It performs no I/O.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// Compute returns the reward lines for one completed order. Every amount is
// floored to the minor unit; lines below one minor unit are dropped.
func (e *Engine) Compute(scheme string, orderAmount int64, chain []Ancestor, isRepurchase bool) ([]RewardLine, error) {
	if orderAmount <= 0 {
		return nil, errutil.ValidationFailed("order amount must be positive", nil)
	}
	if len(chain) == 0 {
		return nil, nil
	}

	switch scheme {
	case SchemeLegacy:
		return e.computeLegacy(orderAmount, chain, isRepurchase)
	case SchemeSimplified:
		return e.computeSimplified(orderAmount, chain)
	default:
		return nil, fmt.Errorf("unknown commission scheme %q", scheme)
	}
}

func (e *Engine) computeLegacy(orderAmount int64, chain []Ancestor, isRepurchase bool) ([]RewardLine, error) {
	lines := make([]RewardLine, 0, len(chain)+2)

	for d, a := range chain {
		bps, ok := e.cfg.Basic[a.Tier]
		if !ok {
			return nil, fmt.Errorf("no basic rate configured for tier %d", a.Tier)
		}
		appendLine(&lines, RewardLine{
			BeneficiaryID: a.AgentID,
			Level:         d + 1,
			Type:          RewardBasicCommission,
			Amount:        share(orderAmount, bps),
			RatioBps:      bps,
		})
	}

	if isRepurchase {
		for d, a := range chain {
			if a.Star < e.cfg.Repurchase.MinStar {
				continue
			}
			appendLine(&lines, RewardLine{
				BeneficiaryID: a.AgentID,
				Level:         d + 1,
				Type:          RewardRepurchase,
				Amount:        share(orderAmount, e.cfg.Repurchase.Bps),
				RatioBps:      e.cfg.Repurchase.Bps,
			})
		}
	}

	// Level-difference rule: only the first qualifying ancestor walking
	// nearest to farthest earns the management override.
	for d, a := range chain {
		if a.Star < e.cfg.TeamMgmt.MinStar {
			continue
		}
		appendLine(&lines, RewardLine{
			BeneficiaryID: a.AgentID,
			Level:         d + 1,
			Type:          RewardTeamManagement,
			Amount:        share(orderAmount, e.cfg.TeamMgmt.Bps),
			RatioBps:      e.cfg.TeamMgmt.Bps,
		})
		break
	}

	// The nurture allowance goes to the nearest ancestor's mentor, who need
	// not be in the chain at all.
	nearest := chain[0]
	if nearest.MentorID != "" && nearest.MentorStar >= e.cfg.Nurture.MinStar {
		appendLine(&lines, RewardLine{
			BeneficiaryID: nearest.MentorID,
			Level:         1,
			Type:          RewardNurtureAllowance,
			Amount:        share(orderAmount, e.cfg.Nurture.Bps),
			RatioBps:      e.cfg.Nurture.Bps,
		})
	}

	return lines, nil
}

func (e *Engine) computeSimplified(orderAmount int64, chain []Ancestor) ([]RewardLine, error) {
	promoter := chain[0]
	own, ok := e.cfg.Own[promoter.Tier]
	if !ok {
		return nil, fmt.Errorf("no own rate configured for tier %d", promoter.Tier)
	}

	lines := make([]RewardLine, 0, promoter.Tier)
	appendLine(&lines, RewardLine{
		BeneficiaryID: promoter.AgentID,
		Level:         1,
		Type:          RewardCommission,
		Amount:        share(orderAmount, own),
		RatioBps:      own,
	})

	for i := 1; i < len(chain) && i <= promoter.Tier-1; i++ {
		bps := e.cfg.Upstream[i-1]
		appendLine(&lines, RewardLine{
			BeneficiaryID: chain[i].AgentID,
			Level:         i + 1,
			Type:          RewardCommission,
			Amount:        share(orderAmount, bps),
			RatioBps:      bps,
		})
	}

	return lines, nil
}

func share(amount int64, bps int) int64 {
	return amount * int64(bps) / bpsDenominator
}

func appendLine(lines *[]RewardLine, line RewardLine) {
	if line.Amount < 1 {
		return
	}
	*lines = append(*lines, line)
}
