package enums

import "fmt"

// FulfillmentState tracks shipping progress for an order.
type FulfillmentState string

const (
	FulfillmentStatePending   FulfillmentState = "pending"
	FulfillmentStateShipped   FulfillmentState = "shipped"
	FulfillmentStateDelivered FulfillmentState = "delivered"
)

var validFulfillmentStates = []FulfillmentState{
	FulfillmentStatePending,
	FulfillmentStateShipped,
	FulfillmentStateDelivered,
}

// String implements fmt.Stringer.
func (s FulfillmentState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known FulfillmentState.
func (s FulfillmentState) IsValid() bool {
	for _, candidate := range validFulfillmentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFulfillmentState converts raw input into a FulfillmentState.
func ParseFulfillmentState(value string) (FulfillmentState, error) {
	for _, candidate := range validFulfillmentStates {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fulfillment state %q", value)
}
