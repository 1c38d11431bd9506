package enums

import "fmt"

// PaymentState tracks where an order sits in its payment lifecycle.
type PaymentState string

const (
	PaymentStatePending           PaymentState = "pending"
	PaymentStatePaid              PaymentState = "paid"
	PaymentStateCancelled         PaymentState = "cancelled"
	PaymentStatePayableOnDelivery PaymentState = "payable_on_delivery"
)

var validPaymentStates = []PaymentState{
	PaymentStatePending,
	PaymentStatePaid,
	PaymentStateCancelled,
	PaymentStatePayableOnDelivery,
}

// String implements fmt.Stringer.
func (s PaymentState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentState.
func (s PaymentState) IsValid() bool {
	for _, candidate := range validPaymentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further payment transition is allowed.
func (s PaymentState) IsTerminal() bool {
	return s != PaymentStatePending
}

// ParsePaymentState converts raw input into a PaymentState.
func ParsePaymentState(value string) (PaymentState, error) {
	for _, candidate := range validPaymentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment state %q", value)
}
