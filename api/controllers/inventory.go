package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type inventoryLedger interface {
	FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	Restock(ctx context.Context, productID uuid.UUID, qty int) (*models.InventoryItem, error)
	SetStock(ctx context.Context, productID uuid.UUID, stock int) (*models.InventoryItem, error)
	SetVisibility(ctx context.Context, productID uuid.UUID, hidden bool) (*models.InventoryItem, error)
	Delete(ctx context.Context, productID uuid.UUID) error
}

type restockRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

type stockRequest struct {
	Stock *int `json:"stock" validate:"required,min=0"`
}

type visibilityRequest struct {
	Hidden *bool `json:"hidden" validate:"required"`
}

type inventoryResponse struct {
	ProductID      uuid.UUID `json:"product_id"`
	AvailableStock int       `json:"available_stock"`
	ReservedStock  int       `json:"reserved_stock"`
	HiddenStock    int       `json:"hidden_stock"`
	ForceHidden    bool      `json:"force_hidden"`
	DisplayedStock int       `json:"displayed_stock"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func newInventoryResponse(item *models.InventoryItem) inventoryResponse {
	return inventoryResponse{
		ProductID:      item.ProductID,
		AvailableStock: item.AvailableQty,
		ReservedStock:  item.ReservedQty,
		HiddenStock:    item.HiddenQty,
		ForceHidden:    item.ForceHidden,
		DisplayedStock: item.DisplayedQty(),
		UpdatedAt:      item.UpdatedAt,
	}
}

// RestockProduct adds units to a product the caller sells.
func RestockProduct(ledger inventoryLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := ownedProduct(w, r, ledger, logg)
		if !ok {
			return
		}
		var payload restockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := ledger.Restock(r.Context(), productID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryResponse(item))
	}
}

// SetProductStock overwrites the unreserved stock count.
func SetProductStock(ledger inventoryLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := ownedProduct(w, r, ledger, logg)
		if !ok {
			return
		}
		var payload stockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := ledger.SetStock(r.Context(), productID, *payload.Stock)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryResponse(item))
	}
}

// SetProductVisibility hides or unhides a product's sellable stock.
func SetProductVisibility(ledger inventoryLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := ownedProduct(w, r, ledger, logg)
		if !ok {
			return
		}
		var payload visibilityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		item, err := ledger.SetVisibility(r.Context(), productID, *payload.Hidden)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newInventoryResponse(item))
	}
}

// DeleteProduct removes a product that has no units on hold.
func DeleteProduct(ledger inventoryLedger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, ok := ownedProduct(w, r, ledger, logg)
		if !ok {
			return
		}
		if err := ledger.Delete(r.Context(), productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteNoContent(w)
	}
}

// ownedProduct resolves the productId path param and checks the caller sells
// it. Admins may act on any product. It writes the error response itself.
func ownedProduct(w http.ResponseWriter, r *http.Request, ledger inventoryLedger, logg *logger.Logger) (uuid.UUID, bool) {
	ctx := r.Context()
	if ledger == nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "inventory ledger unavailable"))
		return uuid.Nil, false
	}

	raw := strings.TrimSpace(chi.URLParam(r, "productId"))
	productID, err := uuid.Parse(raw)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
		return uuid.Nil, false
	}

	callerID := middleware.UserIDFromContext(ctx)
	if callerID == uuid.Nil {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
		return uuid.Nil, false
	}

	product, err := ledger.FindProduct(ctx, productID)
	if err != nil {
		responses.WriteError(ctx, logg, w, err)
		return uuid.Nil, false
	}
	if product.SellerID != callerID && middleware.RoleFromContext(ctx) != enums.UserRoleAdmin {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "product belongs to another seller"))
		return uuid.Nil, false
	}
	return productID, true
}
