package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultTimeout bounds every storage call that is not already running
// inside a caller's transaction.
const DefaultTimeout = 5 * time.Second

// LedgerStore restricts Repository to what the processors need (keeps
// them mockable in unit tests).
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	TokenBySymbol(ctx context.Context, symbol string) (*model.Token, error)
	ActiveRules(ctx context.Context, tokenID string) ([]model.TransactionRule, error)
	GetBalance(ctx context.Context, wallet, tokenID string) (decimal.Decimal, error)
	EnsureBalance(ctx context.Context, tx *gorm.DB, wallet, tokenID string) error
	Transfer(ctx context.Context, tx *gorm.DB, from, to, tokenID string, debit, credit decimal.Decimal, extra ...Posting) error
	TransferCrossToken(ctx context.Context, tx *gorm.DB, fromWallet, fromToken string, fromAmount decimal.Decimal, toWallet, toToken string, toAmount decimal.Decimal) error
	NextNonce(ctx context.Context, tx *gorm.DB, wallet string) (int64, error)
	CreateTransaction(ctx context.Context, tx *gorm.DB, t *model.Transaction) error
	TxByIdempotencyKey(ctx context.Context, fromAddress, key string) (*model.Transaction, error)
	TransactionsByAddress(ctx context.Context, address string, limit int, since time.Time) ([]model.Transaction, error)
	CreateSwap(ctx context.Context, tx *gorm.DB, s *model.Swap) error
	ResolveSwap(ctx context.Context, tx *gorm.DB, id string, status model.Status, at time.Time) error
	CreateOutboxEvent(ctx context.Context, tx *gorm.DB, evt *model.OutboxEvent) error
}

var _ LedgerStore = (*Repository)(nil)

// Repository is the gorm-backed ledger store. It owns every balance
// mutation; see ledger.go.
type Repository struct {
	db      *gorm.DB
	writer  *kafka.Writer
	log     *zap.SugaredLogger
	timeout time.Duration
}

type Option func(*Repository)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// NewRepository constructs repo.
func NewRepository(db *gorm.DB, w *kafka.Writer, logger *zap.SugaredLogger, opts ...Option) *Repository {
	r := &Repository{db: db, writer: w, log: logger, timeout: DefaultTimeout}
	for _, o := range opts {
		o(r)
	}
	return r
}

// DB returns underlying *gorm.DB
func (r *Repository) DB(ctx context.Context) *gorm.DB { return r.db.WithContext(ctx) }

// InTx runs fn inside one database transaction bounded by the store
// timeout. Any error from fn rolls back every statement fn issued.
func (r *Repository) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	err := r.db.WithContext(ctx).Transaction(fn)
	if err != nil && ctx.Err() != nil && !apperr.IsKnown(err) {
		return apperr.Storage("transaction", ctx.Err())
	}
	return apperr.Storage("transaction", err)
}

// conn picks the caller's transaction when there is one, otherwise a
// timeout-bounded session on the pool.
func (r *Repository) conn(ctx context.Context, tx *gorm.DB) (*gorm.DB, context.CancelFunc) {
	if tx != nil {
		return tx, func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

func newID() string { return uuid.NewString() }

// TokenBySymbol resolves a token; unknown symbols are ErrNotFound.
func (r *Repository) TokenBySymbol(ctx context.Context, symbol string) (*model.Token, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var t model.Token
	if err := db.Where("symbol = ?", symbol).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("token %q: %w", symbol, apperr.ErrNotFound)
		}
		return nil, apperr.Storage("token by symbol", err)
	}
	return &t, nil
}

// CreateToken inserts token metadata.
func (r *Repository) CreateToken(ctx context.Context, t *model.Token) error {
	if t.ID == "" {
		t.ID = newID()
	}
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	return r.mapInsert("create token", db.Create(t).Error)
}

// ActiveRules returns the active rules scoped to tokenID plus the active
// global ones.
func (r *Repository) ActiveRules(ctx context.Context, tokenID string) ([]model.TransactionRule, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var rows []model.TransactionRule
	err := db.Where("is_active = ? AND (token_id = ? OR token_id IS NULL)", true, tokenID).
		Order("created_at").
		Find(&rows).Error
	return rows, apperr.Storage("active rules", err)
}

// CreateRule inserts a transaction rule.
func (r *Repository) CreateRule(ctx context.Context, rule *model.TransactionRule) error {
	if rule.ID == "" {
		rule.ID = newID()
	}
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	return r.mapInsert("create rule", db.Create(rule).Error)
}

// WalletForUser returns the wallet registered in the caller's profile.
func (r *Repository) WalletForUser(ctx context.Context, userID string) (string, error) {
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	var p model.Profile
	if err := db.Where("user_id = ?", userID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("no profile for user %s: %w", userID, apperr.ErrUnauthorized)
		}
		return "", apperr.Storage("profile lookup", err)
	}
	return p.WalletAddress, nil
}

// CreateProfile registers a user's wallet.
func (r *Repository) CreateProfile(ctx context.Context, p *model.Profile) error {
	if p.ID == "" {
		p.ID = newID()
	}
	db, cancel := r.conn(ctx, nil)
	defer cancel()
	return r.mapInsert("create profile", db.Create(p).Error)
}

// mapInsert turns unique-key violations into ErrConflict.
func (r *Repository) mapInsert(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, apperr.ErrConflict)
	}
	return apperr.Storage(op, err)
}
