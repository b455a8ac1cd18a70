package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/hash"
	"github.com/richardliu001/token-ledger/internal/metrics"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/richardliu001/token-ledger/internal/repo"
	"github.com/richardliu001/token-ledger/internal/rules"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TransferRequest is a single-token transfer as submitted by a wallet owner.
type TransferRequest struct {
	FromAddress    string
	ToAddress      string
	TokenSymbol    string
	Amount         decimal.Decimal
	Signature      string
	PublicKey      string
	IdempotencyKey string
}

// TransactionProcessor turns transfer requests into ledger mutations.
type TransactionProcessor struct {
	store   repo.LedgerStore
	rules   *rules.Engine
	hasher  *hash.Service
	owners  *Owners
	feeSink string
	metrics *metrics.Recorder
	log     *zap.SugaredLogger
	now     func() time.Time
}

type TransferOption func(*TransactionProcessor)

func WithTransferMetrics(m *metrics.Recorder) TransferOption {
	return func(p *TransactionProcessor) { p.metrics = m }
}

// NewTransactionProcessor wires the processor. Fees are credited to
// feeSink.
func NewTransactionProcessor(store repo.LedgerStore, engine *rules.Engine, hasher *hash.Service, owners *Owners, feeSink string, logger *zap.SugaredLogger, opts ...TransferOption) *TransactionProcessor {
	p := &TransactionProcessor{
		store:   store,
		rules:   engine,
		hasher:  hasher,
		owners:  owners,
		feeSink: strings.ToLower(feeSink),
		log:     logger,
		now:     time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CreateTransfer validates, prices and applies a transfer. The returned
// record is always completed; any error means the ledger was not changed.
func (p *TransactionProcessor) CreateTransfer(ctx context.Context, credential string, req TransferRequest) (*model.Transaction, error) {
	start := time.Now()
	tx, err := p.createTransfer(ctx, credential, req)
	p.metrics.Transfer(err, time.Since(start).Seconds())
	if err != nil {
		if apperr.Retryable(err) {
			p.log.Errorw("transfer failed", "from", req.FromAddress, "to", req.ToAddress, "token", req.TokenSymbol, "error", err)
		} else {
			p.log.Infow("transfer rejected", "from", req.FromAddress, "token", req.TokenSymbol, "amount", req.Amount, "error", err)
		}
		return nil, err
	}
	p.log.Infow("transfer completed", "tx_hash", tx.TxHash, "from", tx.FromAddress, "nonce", tx.Nonce, "amount", tx.Amount, "fee", tx.Fee)
	return tx, nil
}

func (p *TransactionProcessor) createTransfer(ctx context.Context, credential string, req TransferRequest) (*model.Transaction, error) {
	req.FromAddress = strings.ToLower(req.FromAddress)
	req.ToAddress = strings.ToLower(req.ToAddress)
	if err := validateTransfer(req); err != nil {
		return nil, err
	}
	if _, err := p.owners.RequireOwner(ctx, credential, req.FromAddress); err != nil {
		return nil, err
	}
	token, err := p.store.TokenBySymbol(ctx, req.TokenSymbol)
	if err != nil {
		return nil, err
	}
	if err := withinPrecision("amount", req.Amount, token); err != nil {
		return nil, err
	}
	if prior, err := p.replay(ctx, req, token.ID); prior != nil || err != nil {
		return prior, err
	}

	decision, err := p.rules.Evaluate(ctx, token.ID, req.Amount)
	if err != nil {
		return nil, err
	}
	decision.Fee = decision.Fee.Truncate(scale(token.Decimals))
	fee := decision.Fee
	total := decision.Total(req.Amount)
	submitted := p.now()

	var record *model.Transaction
	err = p.store.InTx(ctx, func(tx *gorm.DB) error {
		nonce, err := p.store.NextNonce(ctx, tx, req.FromAddress)
		if err != nil {
			return err
		}
		var extra []repo.Posting
		if fee.IsPositive() {
			extra = append(extra, repo.CreditOf(p.feeSink, token.ID, fee))
		}
		if err := p.store.Transfer(ctx, tx, req.FromAddress, req.ToAddress, token.ID, total, req.Amount, extra...); err != nil {
			return err
		}

		confirmed := p.now()
		rec := &model.Transaction{
			TxHash:      p.hasher.FingerprintAt(submitted, req.FromAddress, req.ToAddress, req.Amount),
			FromAddress: req.FromAddress,
			ToAddress:   req.ToAddress,
			TokenID:     token.ID,
			Amount:      req.Amount,
			Fee:         fee,
			Nonce:       nonce,
			Signature:   req.Signature,
			PublicKey:   req.PublicKey,
			Status:      model.StatusCompleted,
			ConfirmedAt: &confirmed,
		}
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			rec.IdempotencyKey = &key
		}
		if err := p.store.CreateTransaction(ctx, tx, rec); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]interface{}{
			"tx_hash": rec.TxHash, "from": rec.FromAddress, "to": rec.ToAddress,
			"token": token.Symbol, "amount": rec.Amount, "fee": rec.Fee, "nonce": rec.Nonce,
		})
		if err != nil {
			return fmt.Errorf("encode transfer event: %w", err)
		}
		evt := &model.OutboxEvent{
			Aggregate: model.AggregateTransaction, AggregateID: rec.ID,
			EventType: model.EventTransferCompleted, Payload: string(payload),
		}
		if err := p.store.CreateOutboxEvent(ctx, tx, evt); err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		// a concurrent request with the same key may have committed first
		if req.IdempotencyKey != "" && errors.Is(err, apperr.ErrConflict) {
			if prior, rerr := p.replay(ctx, req, token.ID); prior != nil || rerr != nil {
				return prior, rerr
			}
		}
		return nil, err
	}
	return record, nil
}

// replay returns the transfer recorded earlier under the same idempotency
// key. Reusing a key for a different transfer is a conflict.
func (p *TransactionProcessor) replay(ctx context.Context, req TransferRequest, tokenID string) (*model.Transaction, error) {
	if req.IdempotencyKey == "" {
		return nil, nil
	}
	prior, err := p.store.TxByIdempotencyKey(ctx, req.FromAddress, req.IdempotencyKey)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.ToAddress != req.ToAddress || prior.TokenID != tokenID || !prior.Amount.Equal(req.Amount) {
		return nil, fmt.Errorf("idempotency key %q reused for a different transfer: %w", req.IdempotencyKey, apperr.ErrConflict)
	}
	return prior, nil
}

// History lists transfers touching address; only its owner may read it.
func (p *TransactionProcessor) History(ctx context.Context, credential, address string, limit int, since time.Time) ([]model.Transaction, error) {
	address = strings.ToLower(address)
	if err := validAddress("address", address); err != nil {
		return nil, err
	}
	if _, err := p.owners.RequireOwner(ctx, credential, address); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		return nil, apperr.Invalid("limit must be between 1 and 500, got %d", limit)
	}
	return p.store.TransactionsByAddress(ctx, address, limit, since)
}

// Balance reads the owner's current balance of a token.
func (p *TransactionProcessor) Balance(ctx context.Context, credential, address, symbol string) (decimal.Decimal, error) {
	address = strings.ToLower(address)
	if err := validAddress("address", address); err != nil {
		return decimal.Zero, err
	}
	if _, err := p.owners.RequireOwner(ctx, credential, address); err != nil {
		return decimal.Zero, err
	}
	token, err := p.store.TokenBySymbol(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return p.store.GetBalance(ctx, address, token.ID)
}

func validateTransfer(req TransferRequest) error {
	if err := validAddress("fromAddress", req.FromAddress); err != nil {
		return err
	}
	if err := validAddress("toAddress", req.ToAddress); err != nil {
		return err
	}
	if req.FromAddress == req.ToAddress {
		return apperr.Invalid("cannot transfer to self")
	}
	if req.TokenSymbol == "" {
		return apperr.Invalid("tokenSymbol is required")
	}
	if req.Signature == "" {
		return apperr.Invalid("signature is required")
	}
	return positive("amount", req.Amount)
}
