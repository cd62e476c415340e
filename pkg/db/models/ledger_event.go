package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/ledger-core/pkg/enums"
)

// UniqueLedgerEventIdempotencyKey is the constraint rejecting a second
// append with an already-used idempotency key.
const UniqueLedgerEventIdempotencyKey = "uq_ledger_event_idempotency_key"

// LedgerEvent records an immutable money movement. One row is appended per
// accepted operation and rows are never updated or deleted; the sum of
// deposit/withdraw deltas per (account, asset) always equals that pair's
// available+locked.
type LedgerEvent struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	IdempotencyKey string                `gorm:"column:idempotency_key;size:120;not null;uniqueIndex:uq_ledger_event_idempotency_key"`
	AccountID      uuid.UUID             `gorm:"column:account_id;type:uuid;not null;index"`
	AssetID        int64                 `gorm:"column:asset_id;not null;index"`
	Delta          decimal.Decimal       `gorm:"column:delta;type:numeric(20,8);not null"`
	Type           enums.LedgerEventType `gorm:"column:event_type;type:ledger_event_type_enum;not null;index"`
	ReferenceType  string                `gorm:"column:reference_type;size:32;not null"`
	ReferenceID    string                `gorm:"column:reference_id;size:128;not null;index"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

// TableName overrides the default pluralization.
func (LedgerEvent) TableName() string {
	return "ledger_event"
}
