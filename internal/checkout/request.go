package checkout

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/checkout/helpers"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Item is one requested product line, processed in submission order.
type Item struct {
	ProductID uuid.UUID
	Quantity  int
}

// Request is a buyer's checkout submission.
type Request struct {
	BuyerID       uuid.UUID
	AddressID     uuid.UUID
	Items         []Item
	PaymentMethod enums.PaymentMethod
}

// Result is the placed order plus, for hosted payments, the page the buyer
// must be sent to.
type Result struct {
	Order       *models.Order
	RedirectURL string
}

func (r Request) itemInputs() []helpers.ItemInput {
	inputs := make([]helpers.ItemInput, len(r.Items))
	for i, item := range r.Items {
		inputs[i] = helpers.ItemInput{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return inputs
}

// reservedLine is a unit hold taken during the current attempt.
type reservedLine struct {
	product  *models.Product
	quantity int
}
