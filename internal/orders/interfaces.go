package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for the orders tables.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Order, *pagination.Cursor, error)
	TransitionPaymentState(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentState, at time.Time) (bool, error)
	SetPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID string, expiresAt time.Time) error
	Delete(ctx context.Context, orderID uuid.UUID) error
	FindExpiredHostedPending(ctx context.Context, expiredBefore, createdBefore, checkedBefore time.Time, limit int) ([]models.Order, error)
	MarkSweepChecked(ctx context.Context, orderID uuid.UUID, at time.Time) error
}
