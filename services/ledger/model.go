package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Reasons recorded on wallet transactions.
const (
	ReasonCommissionSettle = "commission_settle"
	ReasonClawback         = "commission_clawback"
)

// Wallet is an agent's commission account. FrozenAmount tracks rewards that
// are computed but not yet settled; the engine only ever emits deltas against
// it, never reads it for authorization.
type Wallet struct {
	ID              string    `gorm:"column:id;primaryKey"`
	AgentID         string    `gorm:"column:agent_id;uniqueIndex;not null"`
	Balance         int64     `gorm:"column:balance;not null;default:0"`
	FrozenAmount    int64     `gorm:"column:frozen_amount;not null;default:0"`
	TotalCommission int64     `gorm:"column:total_commission;not null;default:0"`
	TotalWithdrawn  int64     `gorm:"column:total_withdrawn;not null;default:0"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// WalletTransaction is one signed balance movement, hash-chained per agent
// for a tamper-evident audit trail.
type WalletTransaction struct {
	ID           string         `gorm:"column:id;primaryKey"`
	AgentID      string         `gorm:"column:agent_id;index;not null"`
	Amount       int64          `gorm:"column:amount;not null"`
	Reason       string         `gorm:"column:reason;type:varchar(40);not null"`
	OrderID      string         `gorm:"column:order_id;index"`
	RewardID     string         `gorm:"column:reward_id;index"`
	Description  string         `gorm:"column:description;type:text"`
	PreviousHash string         `gorm:"column:previous_hash"`
	Hash         string         `gorm:"column:hash"`
	Metadata     datatypes.JSON `gorm:"column:metadata"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
}

func (t *WalletTransaction) HashFields() map[string]string {
	return map[string]string{
		"id":            t.ID,
		"agent_id":      t.AgentID,
		"amount":        fmt.Sprintf("%d", t.Amount),
		"reason":        t.Reason,
		"order_id":      t.OrderID,
		"reward_id":     t.RewardID,
		"description":   t.Description,
		"created_at":    t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"previous_hash": t.PreviousHash,
	}
}

func (t *WalletTransaction) GenerateHash() string {
	fields := t.HashFields()
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, fields[k]))
	}

	joined := strings.Join(parts, "|")
	hash := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(hash[:])
}
