package enums

import "fmt"

// SettlementStatus maps to the settlement_status_enum enum in Postgres.
type SettlementStatus string

const (
	SettlementStatusPending   SettlementStatus = "PENDING"
	SettlementStatusSent      SettlementStatus = "SENT"
	SettlementStatusConfirmed SettlementStatus = "CONFIRMED"
)

var validSettlementStatuses = []SettlementStatus{
	SettlementStatusPending,
	SettlementStatusSent,
	SettlementStatusConfirmed,
}

// String implements fmt.Stringer.
func (s SettlementStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s SettlementStatus) IsValid() bool {
	for _, candidate := range validSettlementStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the lifecycle permits moving to target.
// The only legal path is PENDING -> SENT -> CONFIRMED; no state is skipped
// and CONFIRMED is terminal.
func (s SettlementStatus) CanTransitionTo(target SettlementStatus) bool {
	switch s {
	case SettlementStatusPending:
		return target == SettlementStatusSent
	case SettlementStatusSent:
		return target == SettlementStatusConfirmed
	default:
		return false
	}
}

// ParseSettlementStatus converts raw input into a SettlementStatus.
func ParseSettlementStatus(value string) (SettlementStatus, error) {
	for _, candidate := range validSettlementStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid settlement status %q", value)
}
