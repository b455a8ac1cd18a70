package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/hash"
	"github.com/richardliu001/token-ledger/internal/metrics"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/richardliu001/token-ledger/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// resolveTimeout bounds the status update that closes a failed swap. It
// runs detached from the caller so a disconnect cannot strand the record.
const resolveTimeout = 5 * time.Second

type SwapRequest struct {
	FromWallet      string
	ToWallet        string
	FromTokenSymbol string
	ToTokenSymbol   string
	FromAmount      decimal.Decimal
	ExchangeRate    decimal.Decimal
}

// SwapProcessor exchanges one token for another between two wallets at a
// caller-supplied rate. No transaction rules apply to swaps.
type SwapProcessor struct {
	store   repo.LedgerStore
	hasher  *hash.Service
	owners  *Owners
	metrics *metrics.Recorder
	log     *zap.SugaredLogger
	now     func() time.Time
}

type SwapOption func(*SwapProcessor)

func WithSwapMetrics(m *metrics.Recorder) SwapOption {
	return func(p *SwapProcessor) { p.metrics = m }
}

func NewSwapProcessor(store repo.LedgerStore, hasher *hash.Service, owners *Owners, logger *zap.SugaredLogger, opts ...SwapOption) *SwapProcessor {
	p := &SwapProcessor{store: store, hasher: hasher, owners: owners, log: logger, now: time.Now}
	for _, o := range opts {
		o(p)
	}
	return p
}

// CreateSwap records the swap as pending, applies both legs atomically and
// resolves the record to completed or failed before returning. When a
// swap record exists and an error is returned, the record is failed and
// the ledger is as it was before the call.
func (p *SwapProcessor) CreateSwap(ctx context.Context, credential string, req SwapRequest) (*model.Swap, error) {
	start := time.Now()
	s, err := p.createSwap(ctx, credential, req)
	p.metrics.Swap(err, time.Since(start).Seconds())
	if err != nil {
		p.log.Infow("swap rejected", "from", req.FromWallet, "to", req.ToWallet,
			"pair", req.FromTokenSymbol+"/"+req.ToTokenSymbol, "error", err)
		return s, err
	}
	p.log.Infow("swap completed", "swap_hash", s.SwapHash, "from_amount", s.FromAmount, "to_amount", s.ToAmount)
	return s, nil
}

func (p *SwapProcessor) createSwap(ctx context.Context, credential string, req SwapRequest) (*model.Swap, error) {
	req.FromWallet = strings.ToLower(req.FromWallet)
	req.ToWallet = strings.ToLower(req.ToWallet)
	if err := validateSwap(req); err != nil {
		return nil, err
	}
	if _, err := p.owners.RequireOwner(ctx, credential, req.FromWallet); err != nil {
		return nil, err
	}
	fromToken, err := p.store.TokenBySymbol(ctx, req.FromTokenSymbol)
	if err != nil {
		return nil, err
	}
	toToken, err := p.store.TokenBySymbol(ctx, req.ToTokenSymbol)
	if err != nil {
		return nil, err
	}
	if err := withinPrecision("fromAmount", req.FromAmount, fromToken); err != nil {
		return nil, err
	}
	toAmount := req.FromAmount.Mul(req.ExchangeRate).Truncate(scale(toToken.Decimals))
	if !toAmount.IsPositive() {
		return nil, apperr.Invalid("swap of %s at rate %s rounds to zero %s", req.FromAmount, req.ExchangeRate, toToken.Symbol)
	}

	have, err := p.store.GetBalance(ctx, req.FromWallet, fromToken.ID)
	if err != nil {
		return nil, err
	}
	if have.LessThan(req.FromAmount) {
		return nil, fmt.Errorf("wallet %s holds %s %s, needs %s: %w",
			req.FromWallet, have, fromToken.Symbol, req.FromAmount, apperr.ErrInsufficientBalance)
	}
	if err := p.store.EnsureBalance(ctx, nil, req.ToWallet, toToken.ID); err != nil {
		return nil, err
	}

	s := &model.Swap{
		SwapHash:     p.hasher.Fingerprint(req.FromWallet, req.ToWallet, req.FromAmount),
		FromWallet:   req.FromWallet,
		ToWallet:     req.ToWallet,
		FromTokenID:  fromToken.ID,
		ToTokenID:    toToken.ID,
		FromAmount:   req.FromAmount,
		ToAmount:     toAmount,
		ExchangeRate: req.ExchangeRate,
		Status:       model.StatusPending,
	}
	if err := p.store.CreateSwap(ctx, nil, s); err != nil {
		return nil, err
	}

	completed := p.now()
	err = p.store.InTx(ctx, func(tx *gorm.DB) error {
		if err := p.store.TransferCrossToken(ctx, tx, s.FromWallet, s.FromTokenID, s.FromAmount, s.ToWallet, s.ToTokenID, s.ToAmount); err != nil {
			return err
		}
		if err := p.store.ResolveSwap(ctx, tx, s.ID, model.StatusCompleted, completed); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]interface{}{
			"swap_hash": s.SwapHash, "from": s.FromWallet, "to": s.ToWallet,
			"from_token": fromToken.Symbol, "to_token": toToken.Symbol,
			"from_amount": s.FromAmount, "to_amount": s.ToAmount, "rate": s.ExchangeRate,
		})
		if err != nil {
			return fmt.Errorf("encode swap event: %w", err)
		}
		return p.store.CreateOutboxEvent(ctx, tx, &model.OutboxEvent{
			Aggregate: model.AggregateSwap, AggregateID: s.ID,
			EventType: model.EventSwapCompleted, Payload: string(payload),
		})
	})
	if err != nil {
		p.fail(ctx, s, err)
		return s, err
	}
	s.Status = model.StatusCompleted
	s.CompletedAt = &completed
	return s, nil
}

// fail moves s to failed. The ledger mutation was rolled back by InTx, so
// only the record needs closing; if even that fails the swap is left
// pending and flagged for manual reconciliation.
func (p *SwapProcessor) fail(ctx context.Context, s *model.Swap, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
	defer cancel()
	if err := p.store.ResolveSwap(ctx, nil, s.ID, model.StatusFailed, p.now()); err != nil {
		p.log.Errorw("swap requires manual reconciliation",
			"swap_id", s.ID, "swap_hash", s.SwapHash, "cause", cause, "error", err)
		return
	}
	s.Status = model.StatusFailed
}

func validateSwap(req SwapRequest) error {
	if err := validAddress("fromWallet", req.FromWallet); err != nil {
		return err
	}
	if err := validAddress("toWallet", req.ToWallet); err != nil {
		return err
	}
	if req.FromTokenSymbol == "" || req.ToTokenSymbol == "" {
		return apperr.Invalid("fromTokenSymbol and toTokenSymbol are required")
	}
	if req.FromTokenSymbol == req.ToTokenSymbol {
		return apperr.Invalid("swap requires two different tokens")
	}
	if err := positive("fromAmount", req.FromAmount); err != nil {
		return err
	}
	return positive("exchangeRate", req.ExchangeRate)
}
