package helpers

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// ItemInput is one requested product line.
type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

// ValidateOrderRequest rejects malformed checkout input before any stock moves.
func ValidateOrderRequest(buyerID, addressID uuid.UUID, method enums.PaymentMethod, items []ItemInput) error {
	if buyerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	if addressID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "address id required")
	}
	if !method.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"payment_method": string(method)})
	}
	if len(items) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: product id required", i)
		}
		if item.Quantity < 1 {
			return pkgerrors.Newf(pkgerrors.CodeValidation, "items[%d]: quantity must be at least 1", i).
				WithDetails(map[string]any{"product_id": item.ProductID.String(), "quantity": item.Quantity})
		}
	}
	return nil
}
