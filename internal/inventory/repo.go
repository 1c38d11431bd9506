package inventory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// Repository issues the conditional stock updates. Every mutation is a single
// UPDATE guarded by its precondition, so concurrent writers on one product
// serialize on the row and a failed guard affects zero rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds the repository to a GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindProduct loads the product together with its inventory row.
func (r *Repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Inventory").
		First(&product, "id = ?", productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

// Get returns the inventory row for a product.
func (r *Repository) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).First(&item, "product_id = ?", productID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (r *Repository) reserve(ctx context.Context, productID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty - ?,
			reserved_qty = reserved_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND force_hidden = ? AND available_qty >= ?
	`, qty, qty, productID, false, qty)
	return res.RowsAffected, res.Error
}

// release moves qty out of reserved; hidden products take the units into the
// hidden bucket so they stay off sale.
func (r *Repository) release(ctx context.Context, productID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + CASE WHEN force_hidden THEN 0 ELSE ? END,
			hidden_qty = hidden_qty + CASE WHEN force_hidden THEN ? ELSE 0 END,
			reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
	`, qty, qty, qty, productID, qty)
	return res.RowsAffected, res.Error
}

// releaseExact drains the whole reserved bucket, guarded on the observed value.
func (r *Repository) releaseExact(ctx context.Context, productID uuid.UUID, observed int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + CASE WHEN force_hidden THEN 0 ELSE ? END,
			hidden_qty = hidden_qty + CASE WHEN force_hidden THEN ? ELSE 0 END,
			reserved_qty = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty = ?
	`, observed, observed, productID, observed)
	return res.RowsAffected, res.Error
}

func (r *Repository) commit(ctx context.Context, productID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
	`, qty, productID, qty)
	return res.RowsAffected, res.Error
}

func (r *Repository) commitExact(ctx context.Context, productID uuid.UUID, observed int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET reserved_qty = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty = ?
	`, productID, observed)
	return res.RowsAffected, res.Error
}

func (r *Repository) hide(ctx context.Context, productID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET hidden_qty = hidden_qty + available_qty,
			available_qty = 0,
			force_hidden = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND force_hidden = ?
	`, true, productID, false)
	return res.RowsAffected, res.Error
}

func (r *Repository) unhide(ctx context.Context, productID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + hidden_qty,
			hidden_qty = 0,
			force_hidden = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND force_hidden = ?
	`, false, productID, true)
	return res.RowsAffected, res.Error
}

func (r *Repository) restock(ctx context.Context, productID uuid.UUID, qty int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + CASE WHEN force_hidden THEN 0 ELSE ? END,
			hidden_qty = hidden_qty + CASE WHEN force_hidden THEN ? ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
	`, qty, qty, productID)
	return res.RowsAffected, res.Error
}

func (r *Repository) setStock(ctx context.Context, productID uuid.UUID, stock int) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = CASE WHEN force_hidden THEN 0 ELSE ? END,
			hidden_qty = CASE WHEN force_hidden THEN ? ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
	`, stock, stock, productID)
	return res.RowsAffected, res.Error
}

func (r *Repository) deleteUnreserved(ctx context.Context, productID uuid.UUID) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Exec(`
			DELETE FROM inventory_items
			WHERE product_id = ? AND reserved_qty = 0
		`, productID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		deleted = res.RowsAffected
		return tx.Exec(`DELETE FROM products WHERE id = ?`, productID).Error
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
