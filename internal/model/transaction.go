package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status of a transaction or swap record. Records leave StatusPending
// exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// Transaction is a completed transfer. A sender can use an idempotency key
// once; rows without a key are not constrained.
type Transaction struct {
	ID             string          `gorm:"primaryKey;size:36" json:"id"`
	TxHash         string          `gorm:"size:64;not null;uniqueIndex" json:"tx_hash"`
	FromAddress    string          `gorm:"size:42;not null;uniqueIndex:idx_tx_from_nonce;uniqueIndex:idx_tx_from_idem" json:"from_address"`
	ToAddress      string          `gorm:"size:42;not null;index" json:"to_address"`
	TokenID        string          `gorm:"size:36;not null" json:"token_id"`
	Amount         decimal.Decimal `gorm:"type:numeric(38,18);not null" json:"amount"`
	Fee            decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"fee"`
	Nonce          int64           `gorm:"not null;uniqueIndex:idx_tx_from_nonce" json:"nonce"`
	Signature      string          `gorm:"type:text;not null" json:"signature"`
	PublicKey      string          `gorm:"type:text" json:"public_key,omitempty"`
	Status         Status          `gorm:"size:16;not null" json:"status"`
	IdempotencyKey *string         `gorm:"size:64;uniqueIndex:idx_tx_from_idem" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	ConfirmedAt    *time.Time      `json:"confirmed_at,omitempty"`
}

func (Transaction) TableName() string { return "transactions" }
