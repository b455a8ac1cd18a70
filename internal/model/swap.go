package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Swap is a two-leg exchange stored as a single row.
type Swap struct {
	ID           string          `gorm:"primaryKey;size:36" json:"id"`
	SwapHash     string          `gorm:"size:64;not null;uniqueIndex" json:"swap_hash"`
	FromWallet   string          `gorm:"size:42;not null;index" json:"from_wallet"`
	ToWallet     string          `gorm:"size:42;not null" json:"to_wallet"`
	FromTokenID  string          `gorm:"size:36;not null" json:"from_token_id"`
	ToTokenID    string          `gorm:"size:36;not null" json:"to_token_id"`
	FromAmount   decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"from_amount"`
	ToAmount     decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"to_amount"`
	ExchangeRate decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"exchange_rate"`
	Status       Status          `gorm:"size:16;not null" json:"status"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (Swap) TableName() string { return "swaps" }
