package orders

import (
	"errors"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ErrAlreadyTerminal is returned when a transition finds the order outside pending.
var ErrAlreadyTerminal = errors.New("order payment state already terminal")

// CanTransition reports whether an order paid with method may move from one
// payment state to another. Hosted orders settle from pending to paid or
// cancelled. Cash orders become payable on delivery and then paid once the
// seller collects the cash.
func CanTransition(method enums.PaymentMethod, from, to enums.PaymentState) bool {
	switch method {
	case enums.PaymentMethodHosted:
		return from == enums.PaymentStatePending &&
			(to == enums.PaymentStatePaid || to == enums.PaymentStateCancelled)
	case enums.PaymentMethodCashOnDelivery:
		return (from == enums.PaymentStatePending && to == enums.PaymentStatePayableOnDelivery) ||
			(from == enums.PaymentStatePayableOnDelivery && to == enums.PaymentStatePaid)
	default:
		return false
	}
}
