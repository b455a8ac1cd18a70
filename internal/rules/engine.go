// Package rules evaluates the transaction rules configured for a token.
package rules

import (
	"context"
	"fmt"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// DefaultFeeRate applies when no fee_rate rule is active for a token.
var DefaultFeeRate = decimal.NewFromFloat(0.001)

type ViolationKind string

const (
	BelowMinimum ViolationKind = "BelowMinimum"
	AboveMaximum ViolationKind = "AboveMaximum"
)

// Violation is returned when an amount breaks a limit rule.
type Violation struct {
	Kind  ViolationKind
	Limit decimal.Decimal
}

func (v *Violation) Error() string {
	switch v.Kind {
	case BelowMinimum:
		return fmt.Sprintf("amount below minimum: %s", v.Limit)
	case AboveMaximum:
		return fmt.Sprintf("amount exceeds maximum: %s", v.Limit)
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Limit)
}

func (v *Violation) Unwrap() error { return apperr.ErrRuleViolation }

// Decision is the outcome of a successful evaluation.
type Decision struct {
	FeeRate decimal.Decimal
	Fee     decimal.Decimal
}

// Total is the amount the sender must be debited.
func (d Decision) Total(amount decimal.Decimal) decimal.Decimal { return amount.Add(d.Fee) }

// Snapshot is an immutable view of the rules in force for one token.
type Snapshot struct {
	min, max, fee *decimal.Decimal
}

// NewSnapshot resolves the active rules for tokenID. Token-scoped rules win
// over global ones of the same type; inactive rules and rules scoped to
// other tokens are ignored.
func NewSnapshot(tokenID string, rows []model.TransactionRule) Snapshot {
	var s Snapshot
	scoped := map[model.RuleType]bool{}
	for _, r := range rows {
		if !r.IsActive {
			continue
		}
		isScoped := r.TokenID != nil
		if isScoped && *r.TokenID != tokenID {
			continue
		}
		if !isScoped && scoped[r.RuleType] {
			continue
		}
		v := r.Value
		switch r.RuleType {
		case model.RuleMinAmount:
			s.min = &v
		case model.RuleMaxAmount:
			s.max = &v
		case model.RuleFeeRate:
			s.fee = &v
		default:
			continue
		}
		if isScoped {
			scoped[r.RuleType] = true
		}
	}
	return s
}

// Evaluate checks amount against the snapshot and computes the fee.
func (s Snapshot) Evaluate(amount decimal.Decimal) (Decision, error) {
	if s.min != nil && amount.LessThan(*s.min) {
		return Decision{}, &Violation{Kind: BelowMinimum, Limit: *s.min}
	}
	if s.max != nil && amount.GreaterThan(*s.max) {
		return Decision{}, &Violation{Kind: AboveMaximum, Limit: *s.max}
	}
	rate := DefaultFeeRate
	if s.fee != nil {
		rate = *s.fee
	}
	return Decision{FeeRate: rate, Fee: amount.Mul(rate)}, nil
}

// Source loads the active rules that may apply to a token, global ones
// included.
type Source interface {
	ActiveRules(ctx context.Context, tokenID string) ([]model.TransactionRule, error)
}

// Engine fetches a fresh snapshot for every evaluation.
type Engine struct {
	src Source
}

func NewEngine(src Source) *Engine { return &Engine{src: src} }

func (e *Engine) Evaluate(ctx context.Context, tokenID string, amount decimal.Decimal) (Decision, error) {
	rows, err := e.src.ActiveRules(ctx, tokenID)
	if err != nil {
		return Decision{}, err
	}
	return NewSnapshot(tokenID, rows).Evaluate(amount)
}
