package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/richardliu001/token-ledger/internal/logger"
	"github.com/richardliu001/token-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// newTestRepo opens a private in-memory sqlite database. A single
// connection makes concurrent transactions queue instead of failing with
// SQLITE_LOCKED.
func newTestRepo(t *testing.T) (*Repository, *gorm.DB) {
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
	return NewRepository(db, nil, log), db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedBalance(t *testing.T, r *Repository, wallet, tokenID, amt string) {
	t.Helper()
	require.NoError(t, r.Credit(context.Background(), nil, wallet, tokenID, dec(amt)))
}

func balanceOf(t *testing.T, r *Repository, wallet, tokenID string) decimal.Decimal {
	t.Helper()
	b, err := r.GetBalance(context.Background(), wallet, tokenID)
	require.NoError(t, err)
	return b
}

func requireBalance(t *testing.T, r *Repository, wallet, tokenID, want string) {
	t.Helper()
	got := balanceOf(t, r, wallet, tokenID)
	require.True(t, got.Equal(dec(want)), "balance of %s/%s: want %s, got %s", wallet, tokenID, want, got)
}
