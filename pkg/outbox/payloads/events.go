package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/ledger-core/pkg/enums"
)

// BalanceMovementEvent is shared by every balance-affecting ledger operation.
// The event type on the outbox row disambiguates the operation.
type BalanceMovementEvent struct {
	EventID        uuid.UUID             `json:"event_id"`
	AccountID      uuid.UUID             `json:"account_id"`
	AssetID        int64                 `json:"asset_id"`
	Amount         decimal.Decimal       `json:"amount"`
	Type           enums.LedgerEventType `json:"type"`
	Available      decimal.Decimal       `json:"available"`
	Locked         decimal.Decimal       `json:"locked"`
	IdempotencyKey string                `json:"idempotency_key"`
	ReferenceType  *string               `json:"reference_type,omitempty"`
	ReferenceID    *string               `json:"reference_id,omitempty"`
}

// SettlementCreatedEvent is emitted when a settlement enters PENDING.
type SettlementCreatedEvent struct {
	SettlementID uuid.UUID       `json:"settlement_id"`
	AccountID    uuid.UUID       `json:"account_id"`
	AssetID      int64           `json:"asset_id"`
	Amount       decimal.Decimal `json:"amount"`
	FromAddress  string          `json:"from_address"`
	ToAddress    string          `json:"to_address"`
	Blockchain   string          `json:"blockchain"`
}

// SettlementSentEvent is emitted when a settlement is marked as broadcast.
type SettlementSentEvent struct {
	SettlementID uuid.UUID `json:"settlement_id"`
	AccountID    uuid.UUID `json:"account_id"`
	TxHash       string    `json:"tx_hash"`
}

// SettlementConfirmedEvent is emitted when confirmation releases the locked funds.
type SettlementConfirmedEvent struct {
	SettlementID  uuid.UUID       `json:"settlement_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	AssetID       int64           `json:"asset_id"`
	Amount        decimal.Decimal `json:"amount"`
	LedgerEventID uuid.UUID       `json:"ledger_event_id"`
	ConfirmedAt   time.Time       `json:"confirmed_at"`
}
