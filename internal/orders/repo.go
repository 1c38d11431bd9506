package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// ErrNotFound is returned when the order does not exist or is not visible to the caller.
var ErrNotFound = errors.New("order not found")

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order and its line items.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, r.db.Where("id = ?", orderID))
}

func (r *repository) FindForBuyer(ctx context.Context, buyerID, orderID uuid.UUID) (*models.Order, error) {
	return r.find(ctx, r.db.Where("id = ? AND buyer_id = ?", orderID, buyerID))
}

func (r *repository) find(ctx context.Context, scope *gorm.DB) (*models.Order, error) {
	var order models.Order
	err := scope.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// List returns orders newest first. The second return value is the cursor of
// the next page, nil on the last page.
func (r *repository) List(ctx context.Context, params pagination.Params, filters ListFilters) ([]models.Order, *pagination.Cursor, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filters.BuyerID != nil {
		query = query.Where("buyer_id = ?", *filters.BuyerID)
	}
	if filters.PaymentState != nil {
		query = query.Where("payment_state = ?", *filters.PaymentState)
	}
	if cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []models.Order
	err = query.
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	page, next := pagination.Trim(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	return page, next, nil
}

// TransitionPaymentState moves an order from one payment state to another in a
// single conditional update. It reports false when the order was no longer in from.
func (r *repository) TransitionPaymentState(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentState, at time.Time) (bool, error) {
	updates := map[string]any{
		"payment_state": to,
		"updated_at":    at,
	}
	switch to {
	case enums.PaymentStatePaid:
		updates["paid_at"] = at
	case enums.PaymentStateCancelled:
		updates["cancelled_at"] = at
	}

	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_state = ?", orderID, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetPaymentSession(ctx context.Context, orderID uuid.UUID, sessionID string, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"payment_session_id":         sessionID,
			"payment_session_expires_at": expiresAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a pending order and its line items.
func (r *repository) Delete(ctx context.Context, orderID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&models.OrderLineItem{}).Error; err != nil {
		return err
	}
	res := r.db.WithContext(ctx).
		Where("id = ? AND payment_state = ?", orderID, enums.PaymentStatePending).
		Delete(&models.Order{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindExpiredHostedPending selects hosted orders still pending after their
// payment session lapsed. Orders without a stored expiry fall back to
// createdBefore. Orders the sweep looked at after checkedBefore are left out.
func (r *repository) FindExpiredHostedPending(ctx context.Context, expiredBefore, createdBefore, checkedBefore time.Time, limit int) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("payment_method = ? AND payment_state = ?", enums.PaymentMethodHosted, enums.PaymentStatePending).
		Where(
			r.db.Where("payment_session_expires_at IS NOT NULL AND payment_session_expires_at < ?", expiredBefore).
				Or("payment_session_expires_at IS NULL AND created_at < ?", createdBefore),
		).
		Where("sweep_checked_at IS NULL OR sweep_checked_at < ?", checkedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkSweepChecked records that the expiry sweep looked at the order and left
// it pending.
func (r *repository) MarkSweepChecked(ctx context.Context, orderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		UpdateColumn("sweep_checked_at", at).Error
}
