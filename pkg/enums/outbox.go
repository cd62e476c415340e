package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateBalance    OutboxAggregateType = "balance"
	AggregateSettlement OutboxAggregateType = "settlement"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateBalance,
	AggregateSettlement,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventDepositRecorded     OutboxEventType = "deposit_recorded"
	EventFundsLocked         OutboxEventType = "funds_locked"
	EventFundsUnlocked       OutboxEventType = "funds_unlocked"
	EventWithdrawalRecorded  OutboxEventType = "withdrawal_recorded"
	EventSettlementCreated   OutboxEventType = "settlement_created"
	EventSettlementSent      OutboxEventType = "settlement_sent"
	EventSettlementConfirmed OutboxEventType = "settlement_confirmed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventDepositRecorded,
	EventFundsLocked,
	EventFundsUnlocked,
	EventWithdrawalRecorded,
	EventSettlementCreated,
	EventSettlementSent,
	EventSettlementConfirmed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
