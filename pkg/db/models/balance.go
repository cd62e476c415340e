package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance holds the available/locked pair for one (account, asset).
// Exactly one row exists per pair; rows are created lazily at zero and
// never deleted. Both fields are non-negative at all times, enforced by
// the ledger engine before commit.
type Balance struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID       `gorm:"column:account_id;type:uuid;not null;uniqueIndex:uq_ledger_balance_account_asset"`
	AssetID   int64           `gorm:"column:asset_id;not null;uniqueIndex:uq_ledger_balance_account_asset"`
	Available decimal.Decimal `gorm:"column:available;type:numeric(20,8);not null"`
	Locked    decimal.Decimal `gorm:"column:locked;type:numeric(20,8);not null"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (Balance) TableName() string {
	return "ledger_balance"
}

// Total returns available+locked, the quantity conserved by lock/unlock.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Locked)
}
