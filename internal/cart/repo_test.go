package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestClearRemovesOnlyBuyerItems(t *testing.T) {
	t.Parallel()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	ctx := context.Background()

	buyer := dbtest.SeedUser(t, conn, enums.UserRoleBuyer)
	other := dbtest.SeedUser(t, conn, enums.UserRoleBuyer)
	seller := dbtest.SeedUser(t, conn, enums.UserRoleSeller)
	product := dbtest.SeedProduct(t, conn, seller.ID, decimal.NewFromInt(10), 5)

	require.NoError(t, conn.Create(&models.CartItem{BuyerID: buyer.ID, ProductID: product.ID, Quantity: 2}).Error)
	require.NoError(t, conn.Create(&models.CartItem{BuyerID: other.ID, ProductID: product.ID, Quantity: 1}).Error)

	err := conn.Transaction(func(tx *gorm.DB) error {
		return repo.WithTx(tx).Clear(ctx, buyer.ID)
	})
	require.NoError(t, err)

	items, err := repo.ListByBuyer(ctx, buyer.ID)
	require.NoError(t, err)
	require.Empty(t, items)

	items, err = repo.ListByBuyer(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, repo.Clear(ctx, buyer.ID))
}
