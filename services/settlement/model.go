package settlement

import (
	"time"

	"commissionplane/services/rules"
)

// Order settlement states.
const (
	StatusPending = "pending"
	StatusSettled = "settled"
	StatusInvalid = "invalid"
)

// Reward record states.
const (
	RewardPending   = "pending"
	RewardSettled   = "settled"
	RewardCancelled = "cancelled"
	RewardDeducted  = "deducted"
)

// OrderSettlement tracks one completed order through the payout pipeline.
// Rows are created when an order-completed fact arrives with referral
// ancestry and are never deleted; clawback acts on the reward records, not
// on this row.
type OrderSettlement struct {
	ID          string     `gorm:"column:id;primaryKey"`
	OrderID     string     `gorm:"column:order_id;uniqueIndex;not null"`
	BuyerID     string     `gorm:"column:buyer_id;index;not null"`
	OrderAmount int64      `gorm:"column:order_amount;not null"`
	Status      string     `gorm:"column:status;type:varchar(20);index;not null;default:pending"`
	CreateTime  time.Time  `gorm:"column:create_time;autoCreateTime"`
	SettleTime  *time.Time `gorm:"column:settle_time"`
}

// RewardRecord is one computed payout line, one row per (order, beneficiary,
// reward type). DeductedAmount accumulates partial clawbacks and never
// exceeds Amount.
type RewardRecord struct {
	ID             string           `gorm:"column:id;primaryKey"`
	OrderID        string           `gorm:"column:order_id;index;not null"`
	BeneficiaryID  string           `gorm:"column:beneficiary_id;index;not null"`
	SourceUserID   string           `gorm:"column:source_user_id;not null"`
	Level          int              `gorm:"column:level;not null"`
	Type           rules.RewardType `gorm:"column:type;type:varchar(30);not null"`
	Amount         int64            `gorm:"column:amount;not null"`
	RatioBps       int              `gorm:"column:ratio_bps;not null"`
	Status         string           `gorm:"column:status;type:varchar(20);index;not null;default:pending"`
	DeductedAmount int64            `gorm:"column:deducted_amount;not null;default:0"`
	CreatedAt      time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderCompletedPayload is the inbound order-completed fact.
type OrderCompletedPayload struct {
	OrderID     string `json:"order_id"`
	BuyerID     string `json:"buyer_id"`
	OrderAmount int64  `json:"order_amount"`
}

// OrderRefundedPayload is the inbound refund fact.
type OrderRefundedPayload struct {
	OrderID     string  `json:"order_id"`
	RefundRatio float64 `json:"refund_ratio"`
}
