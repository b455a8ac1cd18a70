package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type RuleType string

const (
	RuleMinAmount RuleType = "min_amount"
	RuleMaxAmount RuleType = "max_amount"
	RuleFeeRate   RuleType = "fee_rate"
)

// TransactionRule is a limit or fee applied to transfers. A nil TokenID
// makes the rule global.
type TransactionRule struct {
	ID        string          `gorm:"primaryKey;size:36" json:"id"`
	RuleName  string          `gorm:"size:64;not null" json:"rule_name"`
	RuleType  RuleType        `gorm:"size:32;not null;index" json:"rule_type"`
	TokenID   *string         `gorm:"size:36;index" json:"token_id,omitempty"`
	Value     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"value"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (TransactionRule) TableName() string { return "transaction_rules" }
