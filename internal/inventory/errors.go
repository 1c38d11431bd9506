package inventory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// ErrProductNotFound is returned when no inventory row exists for the product.
var ErrProductNotFound = errors.New("product not found")

// InsufficientStockError reports a reservation that exceeded the sellable count.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

func productNotFound(productID uuid.UUID) error {
	return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrProductNotFound, "product not found").
		WithDetails(map[string]any{"product_id": productID.String()})
}

func outOfStock(productID uuid.UUID, requested, available int) error {
	cause := &InsufficientStockError{ProductID: productID, Requested: requested, Available: available}
	return pkgerrors.Wrap(pkgerrors.CodeOutOfStock, cause, "insufficient stock").
		WithDetails(map[string]any{
			"product_id": productID.String(),
			"requested":  requested,
			"available":  available,
		})
}
