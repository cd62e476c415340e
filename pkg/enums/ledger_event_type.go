package enums

import "fmt"

// LedgerEventType maps to the ledger_event_type_enum enum in Postgres.
type LedgerEventType string

const (
	LedgerEventTypeDeposit    LedgerEventType = "deposit"
	LedgerEventTypeLock       LedgerEventType = "lock"
	LedgerEventTypeUnlock     LedgerEventType = "unlock"
	LedgerEventTypeWithdraw   LedgerEventType = "withdraw"
	LedgerEventTypeSettlement LedgerEventType = "settlement"
)

var validLedgerEventTypes = []LedgerEventType{
	LedgerEventTypeDeposit,
	LedgerEventTypeLock,
	LedgerEventTypeUnlock,
	LedgerEventTypeWithdraw,
	LedgerEventTypeSettlement,
}

// String implements fmt.Stringer.
func (t LedgerEventType) String() string {
	return string(t)
}

// IsValid reports whether the value matches the canonical ledger event enum.
func (t LedgerEventType) IsValid() bool {
	for _, candidate := range validLedgerEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// MovesTotal reports whether events of this type change available+locked.
// Lock and unlock shuffle funds between the two buckets; a settlement is
// accounted for by its own bucket transition.
func (t LedgerEventType) MovesTotal() bool {
	return t == LedgerEventTypeDeposit || t == LedgerEventTypeWithdraw
}

// ParseLedgerEventType converts raw input into LedgerEventType.
func ParseLedgerEventType(value string) (LedgerEventType, error) {
	for _, candidate := range validLedgerEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger event type %q", value)
}
