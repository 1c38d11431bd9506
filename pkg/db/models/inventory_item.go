package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks stock buckets per product. Reserved units are held by
// unconfirmed orders; hidden units are withheld by the seller's visibility
// override and never sellable while ForceHidden is set.
type InventoryItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	HiddenQty    int       `gorm:"column:hidden_qty;not null;default:0"`
	ForceHidden  bool      `gorm:"column:force_hidden;not null;default:false"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// DisplayedQty is the stock count shown to buyers.
func (i InventoryItem) DisplayedQty() int {
	if i.ForceHidden {
		return 0
	}
	return i.AvailableQty
}

// OnHand is every unit not yet sold, whichever bucket it sits in.
func (i InventoryItem) OnHand() int {
	return i.AvailableQty + i.ReservedQty + i.HiddenQty
}
