package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/ledger-core/pkg/enums"
)

// Settlement represents an off-ledger payout consuming locked funds.
// Lifecycle: PENDING -> SENT (broadcaster records the tx hash) ->
// CONFIRMED (locked balance decremented, settlement event appended).
type Settlement struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID   uuid.UUID              `gorm:"column:account_id;type:uuid;not null;index"`
	AssetID     int64                  `gorm:"column:asset_id;not null;index"`
	Amount      decimal.Decimal        `gorm:"column:amount;type:numeric(20,8);not null"`
	Status      enums.SettlementStatus `gorm:"column:status;type:settlement_status_enum;not null;index"`
	FromAddress string                 `gorm:"column:from_address;size:128;not null"`
	ToAddress   string                 `gorm:"column:to_address;size:128;not null"`
	Blockchain  string                 `gorm:"column:blockchain;size:32;not null;index"`
	TxHash      *string                `gorm:"column:tx_hash;size:128;index"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
	ConfirmedAt *time.Time             `gorm:"column:confirmed_at"`
}

// TableName overrides the default pluralization.
func (Settlement) TableName() string {
	return "settlement"
}
