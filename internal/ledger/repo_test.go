package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
	"github.com/meridianpay/ledger-core/pkg/pagination"
)

func setupLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS assets (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  updated_at DATETIME,
  CONSTRAINT uq_assets_name UNIQUE (name)
);`,
		`CREATE TABLE IF NOT EXISTS ledger_balance (
  id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  asset_id INTEGER NOT NULL,
  available NUMERIC NOT NULL,
  locked NUMERIC NOT NULL,
  updated_at DATETIME,
  CONSTRAINT uq_ledger_balance_account_asset UNIQUE (account_id, asset_id)
);`,
		`CREATE TABLE IF NOT EXISTS ledger_event (
  id TEXT PRIMARY KEY,
  idempotency_key TEXT NOT NULL,
  account_id TEXT NOT NULL,
  asset_id INTEGER NOT NULL,
  delta NUMERIC NOT NULL,
  event_type TEXT NOT NULL,
  reference_type TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  created_at DATETIME,
  CONSTRAINT uq_ledger_event_idempotency_key UNIQUE (idempotency_key)
);`,
		`CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func seedAsset(t *testing.T, db *gorm.DB, name string) int64 {
	t.Helper()
	asset := models.Asset{Name: name}
	require.NoError(t, db.Create(&asset).Error)
	return asset.ID
}

func TestRepository_BalanceLifecycle(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID := uuid.New()
	assetID := seedAsset(t, db, "USDC")

	_, err := repo.FindBalance(ctx, accountID, assetID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	balance := &models.Balance{
		AccountID: accountID,
		AssetID:   assetID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	require.NoError(t, repo.CreateBalance(ctx, balance))
	require.NotEqual(t, uuid.Nil, balance.ID)

	balance.Available = decimal.RequireFromString("42.5")
	balance.Locked = decimal.RequireFromString("7.5")
	require.NoError(t, repo.SaveBalance(ctx, balance))

	loaded, err := repo.FindBalanceForUpdate(ctx, accountID, assetID)
	require.NoError(t, err)
	require.True(t, loaded.Available.Equal(decimal.RequireFromString("42.5")))
	require.True(t, loaded.Locked.Equal(decimal.RequireFromString("7.5")))
	require.True(t, loaded.Total().Equal(decimal.RequireFromString("50")))
}

func TestRepository_ListBalancesByAccount(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID := uuid.New()
	usdcID := seedAsset(t, db, "USDC")
	btcID := seedAsset(t, db, "BTC")

	for assetID, available := range map[int64]string{usdcID: "100", btcID: "0.5"} {
		require.NoError(t, repo.CreateBalance(ctx, &models.Balance{
			AccountID: accountID,
			AssetID:   assetID,
			Available: decimal.RequireFromString(available),
			Locked:    decimal.Zero,
		}))
	}
	// Row for another account must not leak into the listing.
	require.NoError(t, repo.CreateBalance(ctx, &models.Balance{
		AccountID: uuid.New(),
		AssetID:   usdcID,
		Available: decimal.RequireFromString("9"),
		Locked:    decimal.Zero,
	}))

	rows, err := repo.ListBalancesByAccount(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "BTC", rows[0].Asset)
	require.True(t, rows[0].Available.Equal(decimal.RequireFromString("0.5")))
	require.Equal(t, "USDC", rows[1].Asset)
	require.True(t, rows[1].Available.Equal(decimal.RequireFromString("100")))
}

func TestRepository_EventAppendAndIdempotencyLookup(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID := uuid.New()
	assetID := seedAsset(t, db, "USDC")

	event := &models.LedgerEvent{
		IdempotencyKey: "dep-1",
		AccountID:      accountID,
		AssetID:        assetID,
		Delta:          decimal.RequireFromString("25"),
		Type:           enums.LedgerEventTypeDeposit,
		ReferenceType:  "external_tx",
		ReferenceID:    "tx-9",
	}
	require.NoError(t, repo.CreateEvent(ctx, event))

	found, err := repo.FindEventByIdempotencyKey(ctx, "dep-1")
	require.NoError(t, err)
	require.Equal(t, event.ID, found.ID)
	require.Equal(t, enums.LedgerEventTypeDeposit, found.Type)

	_, err = repo.FindEventByIdempotencyKey(ctx, "missing")
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	duplicate := &models.LedgerEvent{
		IdempotencyKey: "dep-1",
		AccountID:      accountID,
		AssetID:        assetID,
		Delta:          decimal.RequireFromString("25"),
		Type:           enums.LedgerEventTypeDeposit,
	}
	require.Error(t, repo.CreateEvent(ctx, duplicate))
}

func TestRepository_ListEventsByAccountPagination(t *testing.T) {
	db := setupLedgerTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	accountID := uuid.New()
	assetID := seedAsset(t, db, "USDC")

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 5; i++ {
		event := &models.LedgerEvent{
			ID:             uuid.New(),
			IdempotencyKey: fmt.Sprintf("dep-%d", i),
			AccountID:      accountID,
			AssetID:        assetID,
			Delta:          decimal.NewFromInt(int64(i + 1)),
			Type:           enums.LedgerEventTypeDeposit,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, db.Create(event).Error)
	}

	page, err := repo.ListEventsByAccount(ctx, accountID, &assetID, pagination.Params{Limit: 2})
	require.NoError(t, err)
	// Buffer row included so the caller can detect the next page.
	require.Len(t, page, 3)
	require.Equal(t, "dep-4", page[0].IdempotencyKey)
	require.Equal(t, "dep-3", page[1].IdempotencyKey)

	cursor := pagination.EncodeCursor(pagination.Cursor{
		CreatedAt: page[1].CreatedAt,
		ID:        page[1].ID,
	})
	next, err := repo.ListEventsByAccount(ctx, accountID, &assetID, pagination.Params{Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, next, 3)
	require.Equal(t, "dep-2", next[0].IdempotencyKey)

	otherAsset := assetID + 99
	empty, err := repo.ListEventsByAccount(ctx, accountID, &otherAsset, pagination.Params{Limit: 10})
	require.NoError(t, err)
	require.Empty(t, empty)
}
