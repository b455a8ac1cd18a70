package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/auth"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/shopspring/decimal"
)

// ProfileLookup returns the wallet address a user registered.
type ProfileLookup interface {
	WalletForUser(ctx context.Context, userID string) (string, error)
}

// Owners answers "does the bearer of this credential own that wallet".
// It checks ownership only; authentication is the provider's job.
type Owners struct {
	identity auth.IdentityProvider
	profiles ProfileLookup
}

func NewOwners(identity auth.IdentityProvider, profiles ProfileLookup) *Owners {
	return &Owners{identity: identity, profiles: profiles}
}

// RequireOwner fails with apperr.ErrUnauthorized unless the caller's
// registered wallet is wallet.
func (o *Owners) RequireOwner(ctx context.Context, credential, wallet string) (auth.Identity, error) {
	id, err := o.identity.Identify(ctx, credential)
	if err != nil {
		return auth.Identity{}, err
	}
	registered, err := o.profiles.WalletForUser(ctx, id.UserID)
	if err != nil {
		return auth.Identity{}, err
	}
	if !sameAddress(registered, wallet) {
		return auth.Identity{}, fmt.Errorf("wallet address mismatch: %w", apperr.ErrUnauthorized)
	}
	return id, nil
}

func sameAddress(a, b string) bool { return strings.EqualFold(a, b) }

func validAddress(field, addr string) error {
	if !common.IsHexAddress(addr) || !strings.HasPrefix(addr, "0x") {
		return apperr.Invalid("%s %q must be 0x followed by 40 hex characters", field, addr)
	}
	return nil
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperr.Invalid("%s must be positive, got %s", field, v)
	}
	return nil
}

// scale clamps a token's decimals into what the numeric columns hold.
func scale(decimals int) int32 {
	switch {
	case decimals < 0:
		return 0
	case decimals > 18:
		return 18
	}
	return int32(decimals)
}

// withinPrecision rejects amounts finer than the token's smallest unit;
// the ledger would otherwise round them away.
func withinPrecision(field string, v decimal.Decimal, token *model.Token) error {
	places := scale(token.Decimals)
	if !v.Equal(v.Truncate(places)) {
		return apperr.Invalid("%s %s has more than %d decimal places for %s", field, v, places, token.Symbol)
	}
	return nil
}
