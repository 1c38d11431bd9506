package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Order is created once per checkout attempt. Line items and amounts are
// immutable after creation; payment and fulfillment state move forward only.
type Order struct {
	ID                      uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID                 uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null;index"`
	ShippingAddressID       uuid.UUID              `gorm:"column:shipping_address_id;type:uuid;not null"`
	Subtotal                decimal.Decimal        `gorm:"column:subtotal;type:numeric(12,2);not null"`
	Surcharge               decimal.Decimal        `gorm:"column:surcharge;type:numeric(12,2);not null"`
	TotalAmount             decimal.Decimal        `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency                string                 `gorm:"column:currency;not null"`
	PaymentMethod           enums.PaymentMethod    `gorm:"column:payment_method;type:text;not null"`
	PaymentState            enums.PaymentState     `gorm:"column:payment_state;type:text;not null;default:'pending'"`
	FulfillmentState        enums.FulfillmentState `gorm:"column:fulfillment_state;type:text;not null;default:'pending'"`
	PaymentSessionID        *string                `gorm:"column:payment_session_id"`
	PaymentSessionExpiresAt *time.Time             `gorm:"column:payment_session_expires_at"`
	PaidAt                  *time.Time             `gorm:"column:paid_at"`
	CancelledAt             *time.Time             `gorm:"column:cancelled_at"`
	SweepCheckedAt          *time.Time             `gorm:"column:sweep_checked_at"`
	LineItems               []OrderLineItem        `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt               time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
