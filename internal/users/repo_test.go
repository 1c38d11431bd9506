package users

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

func TestCreateNormalizesEmail(t *testing.T) {
	t.Parallel()
	repo := NewRepository(dbtest.Open(t))

	created, err := repo.Create(context.Background(), &models.User{Email: "  Buyer@Example.com ", Name: "Buyer", Role: enums.UserRoleBuyer})
	require.NoError(t, err)
	assert.Equal(t, "buyer@example.com", created.Email)
	assert.NotEqual(t, uuid.Nil, created.ID)
}

func TestFindByIDReturnsContact(t *testing.T) {
	t.Parallel()
	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.User{Email: "ada@example.com", Name: "Ada", Role: enums.UserRoleBuyer})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", found.Email)
	assert.Equal(t, "Ada", found.Name)
	assert.Equal(t, enums.UserRoleBuyer, found.Role)

	_, err = repo.FindByID(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
