package assets

import (
	"context"

	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/pkg/db/models"
)

// Repository manages persistence for the asset catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, asset *models.Asset) error
	FindByID(ctx context.Context, id int64) (*models.Asset, error)
	FindByName(ctx context.Context, name string) (*models.Asset, error)
	List(ctx context.Context) ([]models.Asset, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an asset repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, asset *models.Asset) error {
	return r.db.WithContext(ctx).Create(asset).Error
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) FindByName(ctx context.Context, name string) (*models.Asset, error) {
	var asset models.Asset
	if err := r.db.WithContext(ctx).First(&asset, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *repository) List(ctx context.Context) ([]models.Asset, error) {
	var rows []models.Asset
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
