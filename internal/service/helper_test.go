package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/token-ledger/internal/auth"
	"github.com/richardliu001/token-ledger/internal/hash"
	"github.com/richardliu001/token-ledger/internal/logger"
	"github.com/richardliu001/token-ledger/internal/metrics"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/richardliu001/token-ledger/internal/repo"
	"github.com/richardliu001/token-ledger/internal/rules"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	alice   = "0x1111111111111111111111111111111111111111"
	bob     = "0x2222222222222222222222222222222222222222"
	feeSink = "0x0000000000000000000000000000000000000fee"
	secret  = "test-secret"
)

type fixture struct {
	repo   *repo.Repository
	db     *gorm.DB
	jwt    *auth.JWTProvider
	hasher *hash.Service
	tp     *TransactionProcessor
	sp     *SwapProcessor

	usdc, weth   *model.Token
	aliceCred    string
	bobCred      string
	strangerCred string
}

// newFixture builds both processors on a private sqlite database with two
// tokens and two registered wallets. A single connection serialises
// concurrent transactions.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", t.Name(), time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err, "open sqlite")
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.Tables()...))

	log, err := logger.NewLogger("error")
	require.NoError(t, err)
	r := repo.NewRepository(db, nil, log)

	f := &fixture{repo: r, db: db, jwt: auth.NewJWTProvider(secret, "ledger-test"), hasher: hash.NewService()}
	ctx := context.Background()

	f.usdc = &model.Token{Symbol: "USDC", Name: "USD Coin", Decimals: 6, IsStable: true}
	f.weth = &model.Token{Symbol: "WETH", Name: "Wrapped Ether", Decimals: 18}
	require.NoError(t, r.CreateToken(ctx, f.usdc))
	require.NoError(t, r.CreateToken(ctx, f.weth))

	require.NoError(t, r.CreateProfile(ctx, &model.Profile{UserID: "u-alice", Username: "alice", WalletAddress: alice}))
	require.NoError(t, r.CreateProfile(ctx, &model.Profile{UserID: "u-bob", Username: "bob", WalletAddress: bob}))
	f.aliceCred = f.issue(t, "u-alice")
	f.bobCred = f.issue(t, "u-bob")
	f.strangerCred = f.issue(t, "u-nobody")

	owners := NewOwners(f.jwt, r)
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	f.tp = NewTransactionProcessor(r, rules.NewEngine(r), f.hasher, owners, feeSink, log, WithTransferMetrics(rec))
	f.sp = NewSwapProcessor(r, f.hasher, owners, log, WithSwapMetrics(rec))
	return f
}

func (f *fixture) issue(t *testing.T, userID string) string {
	t.Helper()
	tok, err := f.jwt.Issue(userID, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (f *fixture) seed(t *testing.T, wallet string, token *model.Token, amt string) {
	t.Helper()
	require.NoError(t, f.repo.Credit(context.Background(), nil, wallet, token.ID, dec(amt)))
}

func (f *fixture) rule(t *testing.T, typ model.RuleType, token *model.Token, value string) {
	t.Helper()
	var scope *string
	if token != nil {
		id := token.ID
		scope = &id
	}
	require.NoError(t, f.repo.CreateRule(context.Background(), &model.TransactionRule{
		RuleName: string(typ), RuleType: typ, TokenID: scope, Value: dec(value),
	}))
}

func (f *fixture) requireBalance(t *testing.T, wallet string, token *model.Token, want string) {
	t.Helper()
	got, err := f.repo.GetBalance(context.Background(), wallet, token.ID)
	require.NoError(t, err)
	require.True(t, got.Equal(dec(want)), "balance of %s in %s: want %s, got %s", wallet, token.Symbol, want, got)
}

func (f *fixture) transfer(to, symbol, amt string) TransferRequest {
	return TransferRequest{
		FromAddress: alice,
		ToAddress:   to,
		TokenSymbol: symbol,
		Amount:      dec(amt),
		Signature:   "0xsig",
		PublicKey:   "0xpub",
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
