package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	dbpkg "github.com/meridianpay/ledger-core/pkg/db"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
)

const maxAssetNameLen = 16

// Service resolves asset names to catalog rows, creating them on first use.
type Service interface {
	GetOrCreate(ctx context.Context, tx *gorm.DB, name string) (*models.Asset, error)
	GetByID(ctx context.Context, id int64) (*models.Asset, error)
	List(ctx context.Context) ([]models.Asset, error)
}

type service struct {
	repo Repository
}

// NewService wires an asset service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("assets repository required")
	}
	return &service{repo: repo}, nil
}

// GetOrCreate looks the asset up by name and inserts it when missing. Two
// transactions racing on the same first-seen name both succeed: the loser of
// the insert re-reads the row the winner committed.
func (s *service) GetOrCreate(ctx context.Context, tx *gorm.DB, name string) (*models.Asset, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset name required")
	}
	if len(normalized) > maxAssetNameLen {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset name too long")
	}

	repo := s.repo.WithTx(tx)
	asset, err := repo.FindByName(ctx, normalized)
	if err == nil {
		return asset, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load asset")
	}

	created := &models.Asset{Name: normalized}
	if err := repo.Create(ctx, created); err != nil {
		if dbpkg.IsUniqueViolation(err, "uq_assets_name") {
			existing, readErr := repo.FindByName(ctx, normalized)
			if readErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, readErr, "reload asset after conflict")
			}
			return existing, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create asset")
	}
	return created, nil
}

func (s *service) GetByID(ctx context.Context, id int64) (*models.Asset, error) {
	if id <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset id required")
	}
	asset, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "asset not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load asset")
	}
	return asset, nil
}

func (s *service) List(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list assets")
	}
	return rows, nil
}
