package notifications

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// ReceiptLine is one purchased product on a receipt.
type ReceiptLine struct {
	Name      string
	Quantity  int
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Receipt is the order confirmation sent to the buyer.
type Receipt struct {
	OrderID       uuid.UUID
	Recipient     string
	RecipientName string
	Items         []ReceiptLine
	Subtotal      decimal.Decimal
	Surcharge     decimal.Decimal
	Total         decimal.Decimal
	Currency      string
	PaymentMethod enums.PaymentMethod
	PaymentState  enums.PaymentState
	ShipTo        []string
	PlacedAt      time.Time
}

type addressLoader interface {
	FindByID(ctx context.Context, addressID uuid.UUID) (*models.Address, error)
}

type userLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// buildReceipt resolves the recipient from the shipping address, falling back
// to the buyer account. A receipt without a recipient is returned as-is.
func buildReceipt(order *models.Order, address *models.Address, buyer *models.User) Receipt {
	receipt := Receipt{
		OrderID:       order.ID,
		Subtotal:      order.Subtotal,
		Surcharge:     order.Surcharge,
		Total:         order.TotalAmount,
		Currency:      strings.ToUpper(order.Currency),
		PaymentMethod: order.PaymentMethod,
		PaymentState:  order.PaymentState,
		PlacedAt:      order.CreatedAt,
	}
	for _, li := range order.LineItems {
		receipt.Items = append(receipt.Items, ReceiptLine{
			Name:      li.Name,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice,
			LineTotal: li.LineTotal,
		})
	}

	if address != nil {
		receipt.Recipient = strings.TrimSpace(address.Email)
		receipt.RecipientName = address.FullName
		receipt.ShipTo = shipToLines(address)
	}
	if receipt.Recipient == "" && buyer != nil {
		receipt.Recipient = strings.TrimSpace(buyer.Email)
	}
	if receipt.RecipientName == "" && buyer != nil {
		receipt.RecipientName = buyer.Name
	}
	return receipt
}

func shipToLines(address *models.Address) []string {
	lines := []string{}
	for _, part := range []string{
		address.FullName,
		address.Line1,
		strings.TrimSpace(strings.Join([]string{address.City, address.State, address.Pincode}, " ")),
		address.Phone,
	} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
