package repo

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/richardliu001/token-ledger/internal/apperr"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
	tokX  = "token-x"
	tokY  = "token-y"
)

func TestCredit_CreatesRowLazily(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()

	requireBalance(t, r, alice, tokX, "0")
	var n int64
	require.NoError(t, db.Model(&model.WalletBalance{}).Count(&n).Error)
	assert.Zero(t, n)

	require.NoError(t, r.Credit(ctx, nil, alice, tokX, dec("10")))
	require.NoError(t, r.Credit(ctx, nil, alice, tokX, dec("2.5")))
	requireBalance(t, r, alice, tokX, "12.5")

	require.NoError(t, db.Model(&model.WalletBalance{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestDebit_InsufficientBalanceNoMutation(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seedBalance(t, r, alice, tokX, "10")

	err := r.Debit(ctx, nil, alice, tokX, dec("15"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	requireBalance(t, r, alice, tokX, "10")

	err = r.Debit(ctx, nil, bob, tokX, dec("1"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance, "missing row counts as zero")

	require.NoError(t, r.Debit(ctx, nil, alice, tokX, dec("10")))
	requireBalance(t, r, alice, tokX, "0")
}

func TestDebit_RejectsNonPositive(t *testing.T) {
	r, _ := newTestRepo(t)
	err := r.Debit(context.Background(), nil, alice, tokX, dec("0"))
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestTransfer_ConservesSupply(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	seedBalance(t, r, alice, tokX, "1000")
	seedBalance(t, r, bob, tokX, "5")

	err := r.Transfer(ctx, nil, alice, bob, tokX, dec("500.5"), dec("500"), CreditOf(carol, tokX, dec("0.5")))
	require.NoError(t, err)

	requireBalance(t, r, alice, tokX, "499.5")
	requireBalance(t, r, bob, tokX, "505")
	requireBalance(t, r, carol, tokX, "0.5")
	total := balanceOf(t, r, alice, tokX).Add(balanceOf(t, r, bob, tokX)).Add(balanceOf(t, r, carol, tokX))
	assert.True(t, total.Equal(dec("1005")), total.String())
}

func TestTransfer_ShortfallLeavesBothSidesUntouched(t *testing.T) {
	r, db := newTestRepo(t)
	seedBalance(t, r, alice, tokX, "10")

	err := r.Transfer(context.Background(), nil, alice, bob, tokX, dec("15"), dec("15"))
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	requireBalance(t, r, alice, tokX, "10")

	var n int64
	require.NoError(t, db.Model(&model.WalletBalance{}).Where("wallet_address = ?", bob).Count(&n).Error)
	assert.Zero(t, n, "receiver row creation must roll back too")
}

func TestTransferCrossToken_SecondLegFailureRollsBack(t *testing.T) {
	r, db := newTestRepo(t)
	ctx := context.Background()
	seedBalance(t, r, alice, tokX, "100")
	seedBalance(t, r, bob, tokY, "7")

	updates := 0
	require.NoError(t, db.Callback().Update().Before("gorm:update").Register("test:fail_credit_leg", func(tx *gorm.DB) {
		if tx.Statement.Table != "wallet_balances" {
			return
		}
		updates++
		if updates == 2 {
			_ = tx.AddError(errors.New("injected credit failure"))
		}
	}))

	err := r.TransferCrossToken(ctx, nil, alice, tokX, dec("40"), bob, tokY, dec("80"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrStorageFailure)
	assert.Equal(t, 2, updates)

	requireBalance(t, r, alice, tokX, "100")
	requireBalance(t, r, bob, tokY, "7")
}

func TestTransferCrossToken_AppliesBothLegs(t *testing.T) {
	r, _ := newTestRepo(t)
	seedBalance(t, r, alice, tokX, "100")

	require.NoError(t, r.TransferCrossToken(context.Background(), nil, alice, tokX, dec("40"), bob, tokY, dec("80")))
	requireBalance(t, r, alice, tokX, "60")
	requireBalance(t, r, bob, tokY, "80")
	requireBalance(t, r, bob, tokX, "0")
}

func TestConcurrentDebit_NoDoubleSpend(t *testing.T) {
	r, _ := newTestRepo(t)
	seedBalance(t, r, alice, tokX, "100")

	var (
		wg                   sync.WaitGroup
		mu                   sync.Mutex
		successes, shortfall int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.Transfer(context.Background(), nil, alice, bob, tokX, dec("100"), dec("100"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, apperr.ErrInsufficientBalance):
				shortfall++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes, "only one full-balance transfer may succeed")
	assert.Equal(t, 1, shortfall)
	requireBalance(t, r, alice, tokX, "0")
	requireBalance(t, r, bob, tokX, "100")
}

func TestNextNonce_ConcurrentGapFree(t *testing.T) {
	r, _ := newTestRepo(t)
	const n = 20

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		nonces []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := r.InTx(context.Background(), func(tx *gorm.DB) error {
				nonce, err := r.NextNonce(context.Background(), tx, alice)
				if err != nil {
					return err
				}
				mu.Lock()
				nonces = append(nonces, nonce)
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	sort.Slice(nonces, func(i, j int) bool { return nonces[i] < nonces[j] })
	require.Len(t, nonces, n)
	for i, got := range nonces {
		assert.EqualValues(t, i+1, got)
	}
}

func TestNextNonce_RolledBackWithTransaction(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	boom := errors.New("later step failed")

	err := r.InTx(ctx, func(tx *gorm.DB) error {
		n, err := r.NextNonce(ctx, tx, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return boom
	})
	assert.ErrorIs(t, err, apperr.ErrStorageFailure)

	err = r.InTx(ctx, func(tx *gorm.DB) error {
		n, err := r.NextNonce(ctx, tx, alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n, "rolled back nonce is handed out again")
		return nil
	})
	require.NoError(t, err)

	_, err = r.NextNonce(ctx, nil, alice)
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
}

func TestInTx_PassesLedgerKindsThrough(t *testing.T) {
	r, _ := newTestRepo(t)
	err := r.InTx(context.Background(), func(tx *gorm.DB) error { return apperr.ErrRuleViolation })
	assert.ErrorIs(t, err, apperr.ErrRuleViolation)
	assert.NotErrorIs(t, err, apperr.ErrStorageFailure)
}
