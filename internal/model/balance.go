package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance is the amount of one token held by one wallet. Rows are
// created on first credit and never deleted.
type WalletBalance struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	WalletAddress string          `gorm:"size:42;not null;uniqueIndex:idx_wallet_token" json:"wallet_address"`
	TokenID       string          `gorm:"size:36;not null;uniqueIndex:idx_wallet_token" json:"token_id"`
	Balance       decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"balance"`
	LockedBalance decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"locked_balance"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (WalletBalance) TableName() string { return "wallet_balances" }

// AccountNonce holds the last nonce handed out to a sending wallet.
type AccountNonce struct {
	WalletAddress string    `gorm:"primaryKey;size:42"`
	CurrentNonce  int64     `gorm:"not null;default:0"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

func (AccountNonce) TableName() string { return "account_nonces" }
