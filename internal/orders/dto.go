package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ListFilters narrow the order list. A nil BuyerID lists every buyer.
type ListFilters struct {
	BuyerID      *uuid.UUID
	PaymentState *enums.PaymentState
}

// LineItemDTO is the wire form of a captured line item.
type LineItemDTO struct {
	Position  int             `json:"position"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// OrderDTO is the wire form of an order.
type OrderDTO struct {
	ID                      uuid.UUID              `json:"id"`
	BuyerID                 uuid.UUID              `json:"buyer_id"`
	ShippingAddressID       uuid.UUID              `json:"shipping_address_id"`
	Subtotal                decimal.Decimal        `json:"subtotal"`
	Surcharge               decimal.Decimal        `json:"surcharge"`
	TotalAmount             decimal.Decimal        `json:"total_amount"`
	Currency                string                 `json:"currency"`
	PaymentMethod           enums.PaymentMethod    `json:"payment_method"`
	PaymentState            enums.PaymentState     `json:"payment_state"`
	FulfillmentState        enums.FulfillmentState `json:"fulfillment_state"`
	PaymentSessionExpiresAt *time.Time             `json:"payment_session_expires_at,omitempty"`
	PaidAt                  *time.Time             `json:"paid_at,omitempty"`
	CancelledAt             *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt               time.Time              `json:"created_at"`
	LineItems               []LineItemDTO          `json:"line_items,omitempty"`
}

// AddressDTO is the shipping address shown to the seller.
type AddressDTO struct {
	ID       uuid.UUID `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Line1    string    `json:"line1"`
	City     string    `json:"city"`
	State    string    `json:"state"`
	Pincode  string    `json:"pincode"`
}

// SellerOrderDTO is an order plus where it ships.
type SellerOrderDTO struct {
	OrderDTO
	ShippingAddress *AddressDTO `json:"shipping_address,omitempty"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderDTO `json:"orders"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// FromModel maps the persisted order into its wire form.
func FromModel(order models.Order) OrderDTO {
	dto := OrderDTO{
		ID:                      order.ID,
		BuyerID:                 order.BuyerID,
		ShippingAddressID:       order.ShippingAddressID,
		Subtotal:                order.Subtotal,
		Surcharge:               order.Surcharge,
		TotalAmount:             order.TotalAmount,
		Currency:                order.Currency,
		PaymentMethod:           order.PaymentMethod,
		PaymentState:            order.PaymentState,
		FulfillmentState:        order.FulfillmentState,
		PaymentSessionExpiresAt: order.PaymentSessionExpiresAt,
		PaidAt:                  order.PaidAt,
		CancelledAt:             order.CancelledAt,
		CreatedAt:               order.CreatedAt,
	}
	for _, item := range order.LineItems {
		dto.LineItems = append(dto.LineItems, LineItemDTO{
			Position:  item.Position,
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return dto
}

func AddressFromModel(a models.Address) AddressDTO {
	return AddressDTO{
		ID:       a.ID,
		FullName: a.FullName,
		Email:    a.Email,
		Phone:    a.Phone,
		Line1:    a.Line1,
		City:     a.City,
		State:    a.State,
		Pincode:  a.Pincode,
	}
}
