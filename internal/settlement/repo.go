package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
)

// Repository manages persistence for settlement rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, settlement *models.Settlement) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Settlement, error)
	MarkSent(ctx context.Context, id uuid.UUID, txHash string) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, confirmedAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, settlement *models.Settlement) error {
	if settlement.ID == uuid.Nil {
		settlement.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(settlement).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	if err := r.db.WithContext(ctx).First(&settlement, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &settlement, nil
}

func (r *repository) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Settlement, error) {
	var rows []models.Settlement
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repository) MarkSent(ctx context.Context, id uuid.UUID, txHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  enums.SettlementStatusSent,
			"tx_hash": txHash,
		}).Error
}

func (r *repository) MarkConfirmed(ctx context.Context, id uuid.UUID, confirmedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Settlement{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.SettlementStatusConfirmed,
			"confirmed_at": confirmedAt,
		}).Error
}
