package enums

import "fmt"

// TrackerKind distinguishes which provider-side object a tracker row audits.
type TrackerKind string

const (
	TrackerKindPaymentIntent TrackerKind = "payment_intent"
	TrackerKindTransfer      TrackerKind = "transfer"
	TrackerKindPayout        TrackerKind = "payout"
	TrackerKindRefund        TrackerKind = "refund"
)

var validTrackerKinds = []TrackerKind{
	TrackerKindPaymentIntent,
	TrackerKindTransfer,
	TrackerKindPayout,
	TrackerKindRefund,
}

// IsValid reports whether the value is a known TrackerKind.
func (t TrackerKind) IsValid() bool {
	for _, candidate := range validTrackerKinds {
		if candidate == t {
			return true
		}
	}
	return false
}

// TrackerStatus records the outcome observed for a provider-side action.
type TrackerStatus string

const (
	TrackerStatusPending       TrackerStatus = "pending"
	TrackerStatusSucceeded     TrackerStatus = "succeeded"
	TrackerStatusFailed        TrackerStatus = "failed"
	TrackerStatusPayoutSuccess TrackerStatus = "payout_success"
	TrackerStatusPayoutFailed  TrackerStatus = "payout_failed"
	TrackerStatusSuccessRefund TrackerStatus = "success_refund"
	TrackerStatusFailedRefund  TrackerStatus = "failed_refund"
)

var validTrackerStatuses = []TrackerStatus{
	TrackerStatusPending,
	TrackerStatusSucceeded,
	TrackerStatusFailed,
	TrackerStatusPayoutSuccess,
	TrackerStatusPayoutFailed,
	TrackerStatusSuccessRefund,
	TrackerStatusFailedRefund,
}

// IsValid reports whether the value is a known TrackerStatus.
func (t TrackerStatus) IsValid() bool {
	for _, candidate := range validTrackerStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseTrackerStatus converts raw input into a TrackerStatus.
func ParseTrackerStatus(value string) (TrackerStatus, error) {
	for _, candidate := range validTrackerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid tracker status %q", value)
}
