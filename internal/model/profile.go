package model

import "time"

// Profile links an authenticated user to the wallet they registered.
type Profile struct {
	ID            string    `gorm:"primaryKey;size:36"`
	UserID        string    `gorm:"size:64;not null;uniqueIndex"`
	Username      string    `gorm:"size:64"`
	WalletAddress string    `gorm:"size:42;not null"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (Profile) TableName() string { return "profiles" }
