package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Product is the catalog listing. The order workflow only reads its pricing;
// stock lives on the related InventoryItem.
type Product struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SellerID   uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Name       string          `gorm:"column:name;not null"`
	Category   string          `gorm:"column:category;not null"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	OfferPrice decimal.Decimal `gorm:"column:offer_price;type:numeric(12,2);not null;default:0"`
	Specs      types.Specs     `gorm:"column:specs;type:jsonb"`
	Inventory  *InventoryItem  `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// UnitPrice is the price a buyer pays per unit: the offer price when one is
// set, otherwise the list price.
func (p Product) UnitPrice() decimal.Decimal {
	if p.OfferPrice.IsPositive() {
		return p.OfferPrice
	}
	return p.Price
}
