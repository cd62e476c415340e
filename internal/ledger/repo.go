package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/pagination"
)

// AssetBalance is a balance row joined with its catalog name for read APIs.
type AssetBalance struct {
	AssetID   int64           `json:"asset_id"`
	Asset     string          `json:"asset"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
}

// Repository manages persistence for balances and ledger events.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBalance(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error)
	FindBalanceForUpdate(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error)
	CreateBalance(ctx context.Context, balance *models.Balance) error
	SaveBalance(ctx context.Context, balance *models.Balance) error
	ListBalancesByAccount(ctx context.Context, accountID uuid.UUID) ([]AssetBalance, error)
	FindEventByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEvent, error)
	CreateEvent(ctx context.Context, event *models.LedgerEvent) error
	ListEventsByAccount(ctx context.Context, accountID uuid.UUID, assetID *int64, params pagination.Params) ([]models.LedgerEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBalance(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error) {
	var balance models.Balance
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND asset_id = ?", accountID, assetID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// FindBalanceForUpdate retrieves the balance row under an exclusive row lock.
// The lock is scoped to the caller's transaction and is the sole serialization
// point for concurrent mutation of one balance.
func (r *repository) FindBalanceForUpdate(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error) {
	q := r.db.WithContext(ctx)
	// sqlite has no FOR UPDATE; its single-writer lock serializes anyway.
	if q.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var balance models.Balance
	err := q.Where("account_id = ? AND asset_id = ?", accountID, assetID).
		First(&balance).Error
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

func (r *repository) CreateBalance(ctx context.Context, balance *models.Balance) error {
	if balance.ID == uuid.Nil {
		balance.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(balance).Error
}

func (r *repository) SaveBalance(ctx context.Context, balance *models.Balance) error {
	return r.db.WithContext(ctx).
		Model(&models.Balance{}).
		Where("id = ?", balance.ID).
		Updates(map[string]any{
			"available": balance.Available,
			"locked":    balance.Locked,
		}).Error
}

func (r *repository) ListBalancesByAccount(ctx context.Context, accountID uuid.UUID) ([]AssetBalance, error) {
	var rows []AssetBalance
	err := r.db.WithContext(ctx).
		Table("ledger_balance").
		Select("ledger_balance.asset_id AS asset_id, assets.name AS asset, ledger_balance.available AS available, ledger_balance.locked AS locked").
		Joins("JOIN assets ON assets.id = ledger_balance.asset_id").
		Where("ledger_balance.account_id = ?", accountID).
		Order("assets.name ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindEventByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEvent, error) {
	var event models.LedgerEvent
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repository) CreateEvent(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListEventsByAccount pages newest-first on (created_at, id).
func (r *repository) ListEventsByAccount(ctx context.Context, accountID uuid.UUID, assetID *int64, params pagination.Params) ([]models.LedgerEvent, error) {
	q := r.db.WithContext(ctx).
		Where("account_id = ?", accountID)
	if assetID != nil {
		q = q.Where("asset_id = ?", *assetID)
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		q = q.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var events []models.LedgerEvent
	err = q.Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
