package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type checkoutPlacer interface {
	Checkout(ctx context.Context, req checkoutsvc.Request) (*checkoutsvc.Result, error)
}

// Checkout places an order for the authenticated buyer.
func Checkout(svc checkoutPlacer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID := middleware.UserIDFromContext(r.Context())
		if buyerID == uuid.Nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.PaymentMethod)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment method"))
			return
		}

		req := checkoutsvc.Request{
			BuyerID:       buyerID,
			AddressID:     payload.AddressID,
			PaymentMethod: method,
			Items:         make([]checkoutsvc.Item, len(payload.Items)),
		}
		for i, item := range payload.Items {
			req.Items[i] = checkoutsvc.Item{ProductID: item.ProductID, Quantity: item.Quantity}
		}

		result, err := svc.Checkout(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

type checkoutRequest struct {
	AddressID     uuid.UUID             `json:"address_id" validate:"required"`
	Items         []checkoutItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	PaymentMethod string                `json:"payment_method" validate:"required,payment_method"`
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,min=1"`
}

type checkoutResponse struct {
	OrderID      uuid.UUID          `json:"order_id"`
	Subtotal     decimal.Decimal    `json:"subtotal"`
	Surcharge    decimal.Decimal    `json:"surcharge"`
	TotalAmount  decimal.Decimal    `json:"total_amount"`
	Currency     string             `json:"currency"`
	PaymentState enums.PaymentState `json:"payment_state"`
	RedirectURL  string             `json:"redirect_url,omitempty"`
}

func newCheckoutResponse(result *checkoutsvc.Result) checkoutResponse {
	if result == nil || result.Order == nil {
		return checkoutResponse{}
	}
	order := result.Order
	return checkoutResponse{
		OrderID:      order.ID,
		Subtotal:     order.Subtotal,
		Surcharge:    order.Surcharge,
		TotalAmount:  order.TotalAmount,
		Currency:     order.Currency,
		PaymentState: order.PaymentState,
		RedirectURL:  result.RedirectURL,
	}
}
