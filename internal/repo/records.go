package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"gorm.io/gorm"
)

// CreateTransaction inserts a transfer record. A hash that already exists
// is rejected with ErrConflict and never overwritten.
func (r *Repository) CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error {
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	var n int64
	if err := db.Model(&model.Transaction{}).Where("tx_hash = ?", t.TxHash).Count(&n).Error; err != nil {
		return apperr.Storage("check tx hash", err)
	}
	if n > 0 {
		return fmt.Errorf("tx_hash %s: %w", t.TxHash, apperr.ErrConflict)
	}
	if t.ID == "" {
		t.ID = newID()
	}
	return r.mapInsert("create transaction", db.Create(t).Error)
}

// TxByIdempotencyKey finds an earlier transfer submitted by the same
// sender under the same key.
func (r *Repository) TxByIdempotencyKey(ctx context.Context, fromAddress, key string) (*model.Transaction, error) {
	if key == "" {
		return nil, nil
	}
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var t model.Transaction
	err := db.Where("from_address = ? AND idempotency_key = ?", fromAddress, key).First(&t).Error
	if err == nil {
		return &t, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, apperr.Storage("tx by idempotency key", err)
}

// TransactionsByAddress lists transfers sent or received by a wallet,
// newest first.
func (r *Repository) TransactionsByAddress(ctx context.Context, address string, limit int, since time.Time) ([]model.Transaction, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var txs []model.Transaction
	err := db.Where("(from_address = ? OR to_address = ?) AND created_at >= ?", address, address, since).
		Order("created_at desc").
		Limit(limit).
		Find(&txs).Error
	return txs, apperr.Storage("list transactions", err)
}

// CreateSwap inserts a swap record; duplicate hashes are ErrConflict.
func (r *Repository) CreateSwap(ctx context.Context, tx *gorm.DB, s *model.Swap) error {
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	var n int64
	if err := db.Model(&model.Swap{}).Where("swap_hash = ?", s.SwapHash).Count(&n).Error; err != nil {
		return apperr.Storage("check swap hash", err)
	}
	if n > 0 {
		return fmt.Errorf("swap_hash %s: %w", s.SwapHash, apperr.ErrConflict)
	}
	if s.ID == "" {
		s.ID = newID()
	}
	return r.mapInsert("create swap", db.Create(s).Error)
}

// ResolveSwap moves a pending swap to a terminal status. A swap that has
// already left pending is not touched and ErrConflict is returned.
func (r *Repository) ResolveSwap(ctx context.Context, tx *gorm.DB, id string, status model.Status, at time.Time) error {
	if !status.Terminal() {
		return apperr.Invalid("swap %s cannot move to %s", id, status)
	}
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	updates := map[string]interface{}{"status": status}
	if status == model.StatusCompleted {
		updates["completed_at"] = at
	}
	res := db.Model(&model.Swap{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(updates)
	if res.Error != nil {
		return apperr.Storage("resolve swap", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("swap %s is not pending: %w", id, apperr.ErrConflict)
	}
	return nil
}

// GetSwap loads a swap by id.
func (r *Repository) GetSwap(ctx context.Context, id string) (*model.Swap, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var s model.Swap
	if err := db.Where("id = ?", id).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("swap %s: %w", id, apperr.ErrNotFound)
		}
		return nil, apperr.Storage("get swap", err)
	}
	return &s, nil
}
