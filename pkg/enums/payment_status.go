package enums

import "fmt"

// PaymentStatus tracks a payment from creation to end-of-shift archival.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusValidated PaymentStatus = "validated"
	PaymentStatusArchived  PaymentStatus = "archived"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusValidated,
	PaymentStatusArchived,
}

var paymentTransitions = map[PaymentStatus]PaymentStatus{
	PaymentStatusPending:   PaymentStatusValidated,
	PaymentStatusValidated: PaymentStatusArchived,
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is the single legal successor of p.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	successor, ok := paymentTransitions[p]
	return ok && successor == next
}

// IsSettled reports whether the payment counts towards the bill.
func (p PaymentStatus) IsSettled() bool {
	return p == PaymentStatusValidated || p == PaymentStatusArchived
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
