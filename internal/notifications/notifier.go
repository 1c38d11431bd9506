package notifications

import (
	"context"
	"errors"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Notifier sends order receipts. Delivery is best-effort: every failure is
// logged and swallowed so the order outcome never depends on it.
type Notifier struct {
	addresses  addressLoader
	users      userLoader
	dispatcher Dispatcher
	logg       *logger.Logger
}

func NewNotifier(addresses addressLoader, users userLoader, dispatcher Dispatcher, logg *logger.Logger) (*Notifier, error) {
	if addresses == nil {
		return nil, errors.New("address loader required")
	}
	if users == nil {
		return nil, errors.New("user loader required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Notifier{addresses: addresses, users: users, dispatcher: dispatcher, logg: logg}, nil
}

// SendReceipt builds and dispatches the receipt for order. It reports whether
// a receipt was handed to the dispatcher successfully.
func (n *Notifier) SendReceipt(ctx context.Context, order *models.Order) bool {
	if order == nil {
		return false
	}
	ctx = n.logg.WithOrderID(ctx, order.ID.String())

	address, err := n.addresses.FindByID(ctx, order.ShippingAddressID)
	if err != nil {
		n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "receipt: shipping address lookup failed")
		address = nil
	}
	var buyer *models.User
	if address == nil || address.Email == "" {
		buyer, err = n.users.FindByID(ctx, order.BuyerID)
		if err != nil {
			n.logg.Warn(n.logg.WithField(ctx, "error", err.Error()), "receipt: buyer lookup failed")
			buyer = nil
		}
	}

	receipt := buildReceipt(order, address, buyer)
	if receipt.Recipient == "" {
		n.logg.Warn(ctx, "receipt skipped: no recipient email")
		return false
	}
	if err := n.dispatcher.Dispatch(ctx, receipt); err != nil {
		n.logg.Error(ctx, "receipt dispatch failed", err)
		return false
	}
	return true
}
