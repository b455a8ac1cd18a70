package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Token struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Symbol      string          `gorm:"size:16;not null;uniqueIndex" json:"symbol"`
	Name        string          `gorm:"size:64;not null" json:"name"`
	Decimals    int             `gorm:"not null;default:18" json:"decimals"`
	TotalSupply decimal.Decimal `gorm:"type:numeric(38,18);not null;default:0" json:"total_supply"`
	IsStable    bool            `gorm:"not null;default:false" json:"is_stable"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Token) TableName() string { return "tokens" }
