package enums

import "fmt"

// TransactionStatus tracks a seller-level settlement ledger entry.
type TransactionStatus string

const (
	TransactionStatusPending       TransactionStatus = "pending"
	TransactionStatusHeld          TransactionStatus = "held"
	TransactionStatusProcessing    TransactionStatus = "processing"
	TransactionStatusReleased      TransactionStatus = "released"
	TransactionStatusWaitingRefund TransactionStatus = "waiting_refund"
	TransactionStatusRefunded      TransactionStatus = "refunded"
	TransactionStatusFailedRefund  TransactionStatus = "failed_refund"
	TransactionStatusFailed        TransactionStatus = "failed"
	TransactionStatusDisputed      TransactionStatus = "disputed"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusPending,
	TransactionStatusHeld,
	TransactionStatusProcessing,
	TransactionStatusReleased,
	TransactionStatusWaitingRefund,
	TransactionStatusRefunded,
	TransactionStatusFailedRefund,
	TransactionStatusFailed,
	TransactionStatusDisputed,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the ledger entry can no longer change status.
func (t TransactionStatus) IsTerminal() bool {
	switch t {
	case TransactionStatusRefunded, TransactionStatusFailed:
		return true
	default:
		return false
	}
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
