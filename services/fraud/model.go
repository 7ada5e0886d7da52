package fraud

import (
	"time"
)

// Flag kinds.
const (
	KindIPBurst      = "ip_burst"
	KindSelfPurchase = "self_purchase"
)

// FraudFlag marks an account or reward caught by the periodic sweep. Flags
// are append-only; resolution is an operator concern.
type FraudFlag struct {
	ID        string    `gorm:"column:id;primaryKey"`
	AgentID   string    `gorm:"column:agent_id;index;not null"`
	Kind      string    `gorm:"column:kind;type:varchar(20);index;not null"`
	Detail    string    `gorm:"column:detail;type:text"`
	OrderID   string    `gorm:"column:order_id"`
	RewardID  string    `gorm:"column:reward_id"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
