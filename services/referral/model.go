package referral

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Tier values: 1 is the most senior, 4 the least. New agents start at 4 and
// a tier value only ever decreases.
const (
	TierMin = 1
	TierMax = 4
)

const (
	PromotionThreshold = "threshold"
	PromotionFollow    = "follow"
)

// Agent is one referral participant. AncestorPath is the ordered chain of
// referrers above the agent, nearest first, at most 3 entries.
type Agent struct {
	ID             string         `gorm:"column:id;primaryKey"`
	ReferrerID     string         `gorm:"column:referrer_id;index"`
	MentorID       string         `gorm:"column:mentor_id"`
	Tier           int            `gorm:"column:tier;not null;default:4"`
	Star           int            `gorm:"column:star;not null;default:0"`
	AncestorPath   datatypes.JSON `gorm:"column:ancestor_path"`
	TotalSales     int64          `gorm:"column:total_sales;not null;default:0"`
	MonthSales     int64          `gorm:"column:month_sales;not null;default:0"`
	MonthTag       string         `gorm:"column:month_tag;type:varchar(6)"`
	TeamCount      int64          `gorm:"column:team_count;not null;default:0"`
	DirectCount    int64          `gorm:"column:direct_count;not null;default:0"`
	RegistrationIP string         `gorm:"column:registration_ip;index"`
	Version        int64          `gorm:"column:version;not null;default:1"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// PromotionEvent is the append-only promotion history of an agent.
type PromotionEvent struct {
	ID          string         `gorm:"column:id;primaryKey"`
	AgentID     string         `gorm:"column:agent_id;index;not null"`
	FromTier    int            `gorm:"column:from_tier;not null"`
	ToTier      int            `gorm:"column:to_tier;not null"`
	Kind        string         `gorm:"column:kind;type:varchar(20);not null"` // threshold | follow
	TriggeredBy string         `gorm:"column:triggered_by"`
	OldPath     datatypes.JSON `gorm:"column:old_path"`
	NewPath     datatypes.JSON `gorm:"column:new_path"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime"`
}

// Path decodes AncestorPath; a missing or malformed column reads as empty.
func (a *Agent) Path() []string {
	if len(a.AncestorPath) == 0 {
		return nil
	}
	var path []string
	if err := json.Unmarshal(a.AncestorPath, &path); err != nil {
		return nil
	}
	return path
}

func (a *Agent) SetPath(path []string) {
	if path == nil {
		path = []string{}
	}
	raw, _ := json.Marshal(path)
	a.AncestorPath = datatypes.JSON(raw)
}

// MarshalPath encodes an ancestor path for storage.
func MarshalPath(path []string) datatypes.JSON {
	if path == nil {
		path = []string{}
	}
	raw, _ := json.Marshal(path)
	return datatypes.JSON(raw)
}

// DetachPath rewrites a promoted agent's ancestor path: an agent at tier T
// sits T-1 hops from the root, so the T-1 nearest ancestors are skipped.
// Skipping past the end leaves the agent root-adjacent.
func DetachPath(path []string, newTier int) []string {
	skip := newTier - 1
	if skip < 0 {
		skip = 0
	}
	if skip >= len(path) {
		return []string{}
	}
	return path[skip:]
}
