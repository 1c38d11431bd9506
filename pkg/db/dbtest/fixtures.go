package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// SeedUser inserts a user with the given role.
func SeedUser(t testing.TB, conn *gorm.DB, role enums.UserRole) models.User {
	t.Helper()
	user := models.User{
		Email: uuid.NewString() + "@example.com",
		Name:  "Test " + string(role),
		Role:  role,
	}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// SeedAddress inserts a shipping address owned by userID.
func SeedAddress(t testing.TB, conn *gorm.DB, userID uuid.UUID, email string) models.Address {
	t.Helper()
	address := models.Address{
		UserID:   userID,
		FullName: "Riya Sharma",
		Email:    email,
		Phone:    "9000000000",
		Line1:    "12 MG Road",
		City:     "Pune",
		State:    "MH",
		Pincode:  "411001",
	}
	if err := conn.Create(&address).Error; err != nil {
		t.Fatalf("seed address: %v", err)
	}
	return address
}

// SeedProduct inserts a product priced at price with available units in stock.
func SeedProduct(t testing.TB, conn *gorm.DB, sellerID uuid.UUID, price decimal.Decimal, available int) models.Product {
	t.Helper()
	product := models.Product{
		SellerID: sellerID,
		Name:     "Product " + uuid.NewString()[:8],
		Category: "general",
		Price:    price,
	}
	if err := conn.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	item := models.InventoryItem{ProductID: product.ID, AvailableQty: available}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	product.Inventory = &item
	return product
}

// Inventory reloads the stock buckets for productID.
func Inventory(t testing.TB, conn *gorm.DB, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := conn.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item
}

// SeedCartItem puts qty units of productID in the buyer's cart.
func SeedCartItem(t testing.TB, conn *gorm.DB, buyerID, productID uuid.UUID, qty int) {
	t.Helper()
	item := models.CartItem{BuyerID: buyerID, ProductID: productID, Quantity: qty}
	if err := conn.Create(&item).Error; err != nil {
		t.Fatalf("seed cart item: %v", err)
	}
}

// CountRows counts rows of model matching the optional where clause.
func CountRows(t testing.TB, conn *gorm.DB, model any, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := conn.Model(model)
	if where != "" {
		query = query.Where(where, args...)
	}
	if err := query.Count(&count).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return count
}
