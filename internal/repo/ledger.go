package repo

import (
	"context"
	"fmt"
	"sort"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Posting is one balance change: negative amounts debit, positive credit.
type Posting struct {
	Wallet  string
	TokenID string
	Amount  decimal.Decimal
}

func DebitOf(wallet, tokenID string, amt decimal.Decimal) Posting {
	return Posting{Wallet: wallet, TokenID: tokenID, Amount: amt.Neg()}
}

func CreditOf(wallet, tokenID string, amt decimal.Decimal) Posting {
	return Posting{Wallet: wallet, TokenID: tokenID, Amount: amt}
}

// Debit subtracts amt from the balance in one conditional statement. A
// missing row or a balance below amt yields ErrInsufficientBalance and
// leaves the row untouched.
func (r *Repository) Debit(ctx context.Context, tx *gorm.DB, wallet, tokenID string, amt decimal.Decimal) error {
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	return r.debit(db, wallet, tokenID, amt)
}

// Credit adds amt, creating the balance row first if needed.
func (r *Repository) Credit(ctx context.Context, tx *gorm.DB, wallet, tokenID string, amt decimal.Decimal) error {
	if tx == nil {
		return r.InTx(ctx, func(tx *gorm.DB) error { return r.Credit(ctx, tx, wallet, tokenID, amt) })
	}
	if err := r.ensureRow(tx, wallet, tokenID); err != nil {
		return err
	}
	return r.credit(tx, wallet, tokenID, amt)
}

// EnsureBalance creates a zero balance row when none exists.
func (r *Repository) EnsureBalance(ctx context.Context, tx *gorm.DB, wallet, tokenID string) error {
	db, cancel := r.conn(ctx, tx)
	defer cancel()
	return r.ensureRow(db, wallet, tokenID)
}

// Transfer debits `debit` from one wallet and credits `credit` to another
// for the same token, plus any extra postings (fees), as one unit. With a
// nil tx it opens its own transaction.
func (r *Repository) Transfer(ctx context.Context, tx *gorm.DB, from, to, tokenID string, debit, credit decimal.Decimal, extra ...Posting) error {
	ps := append([]Posting{DebitOf(from, tokenID, debit), CreditOf(to, tokenID, credit)}, extra...)
	return r.Post(ctx, tx, ps...)
}

// TransferCrossToken is the two-leg primitive used by swaps.
func (r *Repository) TransferCrossToken(ctx context.Context, tx *gorm.DB, fromWallet, fromToken string, fromAmount decimal.Decimal, toWallet, toToken string, toAmount decimal.Decimal) error {
	return r.Post(ctx, tx,
		DebitOf(fromWallet, fromToken, fromAmount),
		CreditOf(toWallet, toToken, toAmount),
	)
}

// Post applies postings all-or-nothing. Rows are created for credit legs,
// then every touched row is locked in (wallet, token) order so concurrent
// posters cannot deadlock, then legs are applied in the order given.
func (r *Repository) Post(ctx context.Context, tx *gorm.DB, postings ...Posting) error {
	if tx == nil {
		return r.InTx(ctx, func(tx *gorm.DB) error { return r.Post(ctx, tx, postings...) })
	}
	for _, p := range postings {
		if p.Amount.IsPositive() {
			if err := r.ensureRow(tx, p.Wallet, p.TokenID); err != nil {
				return err
			}
		}
	}
	if err := r.lockRows(tx, postings); err != nil {
		return err
	}
	for _, p := range postings {
		var err error
		switch {
		case p.Amount.IsNegative():
			err = r.debit(tx, p.Wallet, p.TokenID, p.Amount.Neg())
		case p.Amount.IsPositive():
			err = r.credit(tx, p.Wallet, p.TokenID, p.Amount)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// GetBalance reads the current balance; a wallet without a row holds zero.
func (r *Repository) GetBalance(ctx context.Context, wallet, tokenID string) (decimal.Decimal, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var rows []model.WalletBalance
	if err := db.Where("wallet_address = ? AND token_id = ?", wallet, tokenID).Limit(1).Find(&rows).Error; err != nil {
		return decimal.Zero, apperr.Storage("get balance", err)
	}
	if len(rows) == 0 {
		return decimal.Zero, nil
	}
	return rows[0].Balance, nil
}

// NextNonce hands out the next value of the wallet's sequence. It must run
// inside the transaction that consumes the nonce so a rollback returns it.
func (r *Repository) NextNonce(ctx context.Context, tx *gorm.DB, wallet string) (int64, error) {
	if tx == nil {
		return 0, fmt.Errorf("next nonce requires a transaction: %w", apperr.ErrInvalidRequest)
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		DoNothing: true,
	}).Create(&model.AccountNonce{WalletAddress: wallet}).Error
	if err != nil {
		return 0, apperr.Storage("init nonce", err)
	}
	res := tx.Model(&model.AccountNonce{}).
		Where("wallet_address = ?", wallet).
		Update("current_nonce", gorm.Expr("current_nonce + 1"))
	if res.Error != nil {
		return 0, apperr.Storage("increment nonce", res.Error)
	}
	var n model.AccountNonce
	if err := tx.Where("wallet_address = ?", wallet).First(&n).Error; err != nil {
		return 0, apperr.Storage("read nonce", err)
	}
	return n.CurrentNonce, nil
}

func (r *Repository) debit(db *gorm.DB, wallet, tokenID string, amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return apperr.Invalid("debit amount must be positive, got %s", amt)
	}
	res := db.Model(&model.WalletBalance{}).
		Where("wallet_address = ? AND token_id = ? AND balance >= ?", wallet, tokenID, amt).
		Update("balance", gorm.Expr("balance - ?", amt))
	if res.Error != nil {
		return apperr.Storage("debit", res.Error)
	}
	if res.RowsAffected == 0 {
		r.log.Debugw("debit rejected", "wallet", wallet, "token", tokenID, "amount", amt)
		return fmt.Errorf("wallet %s needs %s: %w", wallet, amt, apperr.ErrInsufficientBalance)
	}
	return nil
}

func (r *Repository) credit(db *gorm.DB, wallet, tokenID string, amt decimal.Decimal) error {
	if amt.IsNegative() {
		return apperr.Invalid("credit amount must not be negative, got %s", amt)
	}
	if amt.IsZero() {
		return nil
	}
	res := db.Model(&model.WalletBalance{}).
		Where("wallet_address = ? AND token_id = ?", wallet, tokenID).
		Update("balance", gorm.Expr("balance + ?", amt))
	if res.Error != nil {
		return apperr.Storage("credit", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.Storage("credit", fmt.Errorf("balance row %s/%s vanished", wallet, tokenID))
	}
	return nil
}

func (r *Repository) ensureRow(db *gorm.DB, wallet, tokenID string) error {
	row := model.WalletBalance{
		ID:            newID(),
		WalletAddress: wallet,
		TokenID:       tokenID,
		Balance:       decimal.Zero,
		LockedBalance: decimal.Zero,
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}, {Name: "token_id"}},
		DoNothing: true,
	}).Create(&row).Error
	return apperr.Storage("ensure balance row", err)
}

// lockRows takes row locks on every touched balance in a fixed order.
// Drivers without row locking (sqlite) serialize whole transactions.
func (r *Repository) lockRows(tx *gorm.DB, postings []Posting) error {
	keys := make([][2]string, 0, len(postings))
	seen := map[[2]string]bool{}
	for _, p := range postings {
		k := [2]string{p.Wallet, p.TokenID}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})
	for _, k := range keys {
		var rows []model.WalletBalance
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("wallet_address = ? AND token_id = ?", k[0], k[1]).
			Find(&rows).Error
		if err != nil {
			return apperr.Storage("lock balance", err)
		}
	}
	return nil
}
