package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const clampAttempts = 3

type violationRecorder interface {
	IncViolation(op string)
}

// Ledger owns the per-product stock buckets. Reservations hold units for an
// unconfirmed order, commits consume them and releases return them to sale.
type Ledger struct {
	repo    *Repository
	logg    *logger.Logger
	metrics violationRecorder
}

// NewLedger builds a ledger over the given repository.
func NewLedger(repo *Repository, logg *logger.Logger, metrics violationRecorder) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Ledger{repo: repo, logg: logg, metrics: metrics}, nil
}

// WithTx returns a ledger whose statements run inside tx.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{repo: l.repo.WithTx(tx), logg: l.logg, metrics: l.metrics}
}

// Get returns the stock buckets for a product.
func (l *Ledger) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		return nil, l.lookupErr(productID, err)
	}
	return item, nil
}

// FindProduct returns the product with its inventory row.
func (l *Ledger) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := l.repo.FindProduct(ctx, productID)
	if err != nil {
		return nil, l.lookupErr(productID, err)
	}
	return product, nil
}

// Reserve moves qty units from available to reserved. It fails without side
// effects when fewer than qty units are sellable.
func (l *Ledger) Reserve(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	rows, err := l.repo.reserve(ctx, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve stock")
	}
	if rows == 1 {
		return nil
	}

	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		return l.lookupErr(productID, err)
	}
	return outOfStock(productID, qty, item.DisplayedQty())
}

// Release returns qty reserved units to sale. A release larger than the
// reserved bucket is clamped to what is held and logged as a violation.
func (l *Ledger) Release(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	rows, err := l.repo.release(ctx, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release stock")
	}
	if rows == 1 {
		return nil
	}
	return l.clamp(ctx, "release", productID, qty, l.repo.releaseExact)
}

// Commit consumes qty reserved units once an order is confirmed.
func (l *Ledger) Commit(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	rows, err := l.repo.commit(ctx, productID, qty)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit stock")
	}
	if rows == 1 {
		return nil
	}
	return l.clamp(ctx, "commit", productID, qty, l.repo.commitExact)
}

func (l *Ledger) clamp(
	ctx context.Context,
	op string,
	productID uuid.UUID,
	requested int,
	drain func(context.Context, uuid.UUID, int) (int64, error),
) error {
	for attempt := 0; attempt < clampAttempts; attempt++ {
		item, err := l.repo.Get(ctx, productID)
		if err != nil {
			return l.lookupErr(productID, err)
		}

		observed := item.ReservedQty
		if observed >= requested {
			// a concurrent reserve refilled the bucket; retry the normal path
			var rows int64
			if op == "release" {
				rows, err = l.repo.release(ctx, productID, requested)
			} else {
				rows, err = l.repo.commit(ctx, productID, requested)
			}
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+" stock")
			}
			if rows == 1 {
				return nil
			}
			continue
		}

		l.recordViolation(ctx, op, productID, requested, observed)
		if observed == 0 {
			return nil
		}
		rows, err := drain(ctx, productID, observed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, op+" stock")
		}
		if rows == 1 {
			return nil
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "inventory changed concurrently").
		WithDetails(map[string]any{"product_id": productID.String(), "op": op})
}

func (l *Ledger) recordViolation(ctx context.Context, op string, productID uuid.UUID, requested, held int) {
	if l.metrics != nil {
		l.metrics.IncViolation(op)
	}
	logCtx := l.logg.WithProductID(ctx, productID.String())
	logCtx = l.logg.WithFields(logCtx, map[string]any{
		"op":        op,
		"requested": requested,
		"reserved":  held,
	})
	l.logg.Error(logCtx, "reserved stock underflow clamped", fmt.Errorf("%s of %d exceeds reserved %d", op, requested, held))
}

// SetVisibility hides or unhides a product. Hiding moves every available unit
// into the hidden bucket; unhiding moves them back. Reserved units are untouched.
func (l *Ledger) SetVisibility(ctx context.Context, productID uuid.UUID, hidden bool) (*models.InventoryItem, error) {
	var err error
	if hidden {
		_, err = l.repo.hide(ctx, productID)
	} else {
		_, err = l.repo.unhide(ctx, productID)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update visibility")
	}
	// a no-op toggle is fine; the reload distinguishes it from a missing product
	return l.Get(ctx, productID)
}

// Restock adds qty units to the sellable bucket, or to the hidden bucket while
// the product is hidden.
func (l *Ledger) Restock(ctx context.Context, productID uuid.UUID, qty int) (*models.InventoryItem, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	rows, err := l.repo.restock(ctx, productID, qty)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restock")
	}
	if rows == 0 {
		return nil, productNotFound(productID)
	}
	return l.Get(ctx, productID)
}

// SetStock overwrites the unreserved stock count.
func (l *Ledger) SetStock(ctx context.Context, productID uuid.UUID, stock int) (*models.InventoryItem, error) {
	if stock < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock must not be negative")
	}
	rows, err := l.repo.setStock(ctx, productID, stock)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "set stock")
	}
	if rows == 0 {
		return nil, productNotFound(productID)
	}
	return l.Get(ctx, productID)
}

// Delete removes a product that has no outstanding reservations.
func (l *Ledger) Delete(ctx context.Context, productID uuid.UUID) error {
	rows, err := l.repo.deleteUnreserved(ctx, productID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete product")
	}
	if rows == 1 {
		return nil
	}
	item, err := l.repo.Get(ctx, productID)
	if err != nil {
		return l.lookupErr(productID, err)
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "product has reserved stock").
		WithDetails(map[string]any{"product_id": productID.String(), "reserved": item.ReservedQty})
}

func (l *Ledger) lookupErr(productID uuid.UUID, err error) error {
	if err == ErrProductNotFound {
		return productNotFound(productID)
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load inventory")
}
