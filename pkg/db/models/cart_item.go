package models

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is one product line in a buyer's cart.
type CartItem struct {
	BuyerID   uuid.UUID `gorm:"column:buyer_id;type:uuid;primaryKey"`
	ProductID uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity  int       `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
