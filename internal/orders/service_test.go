package orders

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

var collectedAt = time.Date(2026, 10, 4, 15, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (Service, Repository, *gorm.DB) {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo := NewRepository(conn)
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Addresses: address.NewRepository(conn),
		Tx:        client,
		Outbox:    outbox.NewService(outbox.NewRepository(conn), logg),
		Logger:    logg,
		Clock:     func() time.Time { return collectedAt },
	})
	require.NoError(t, err)
	return svc, repo, conn
}

// payableOrder stores a cash order that checkout already confirmed.
func payableOrder(t *testing.T, repo Repository, f orderFixture) *models.Order {
	t.Helper()
	ctx := context.Background()
	order := newOrder(f, enums.PaymentMethodCashOnDelivery, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))
	won, err := repo.TransitionPaymentState(ctx, order.ID, enums.PaymentStatePending, enums.PaymentStatePayableOnDelivery, time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)
	return order
}

func TestServiceBuyerScopes(t *testing.T) {
	t.Parallel()
	svc, repo, conn := newTestService(t)
	f := seedFixture(t, conn)
	ctx := context.Background()

	order := newOrder(f, enums.PaymentMethodCashOnDelivery, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	dto, err := svc.GetForBuyer(ctx, f.buyer.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, dto.ID)
	require.Len(t, dto.LineItems, 1)

	_, err = svc.GetForBuyer(ctx, uuid.New(), order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	list, err := svc.ListForBuyer(ctx, f.buyer.ID, pagination.Params{}, nil)
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
	assert.Empty(t, list.NextCursor)

	paid := enums.PaymentStatePaid
	list, err = svc.ListAll(ctx, pagination.Params{}, &paid)
	require.NoError(t, err)
	assert.Empty(t, list.Orders)
}

func TestServiceRejectsBadInput(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t)

	_, err := svc.ListForBuyer(context.Background(), uuid.Nil, pagination.Params{}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.ListAll(context.Background(), pagination.Params{Cursor: "!!not-base64"}, nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.GetForSeller(context.Background(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewService(ServiceParams{})
	require.Error(t, err)
	_, err = NewService(ServiceParams{Repo: NewRepository(dbtest.Open(t))})
	require.Error(t, err)
}

func TestServiceGetForSellerIncludesAddress(t *testing.T) {
	t.Parallel()
	svc, repo, conn := newTestService(t)
	f := seedFixture(t, conn)
	ctx := context.Background()

	order := newOrder(f, enums.PaymentMethodHosted, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, order))

	detail, err := svc.GetForSeller(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, detail.ID)
	require.Len(t, detail.LineItems, 1)
	require.NotNil(t, detail.ShippingAddress)
	assert.Equal(t, f.address.ID, detail.ShippingAddress.ID)
	assert.Equal(t, "Pune", detail.ShippingAddress.City)
	assert.Equal(t, f.address.Pincode, detail.ShippingAddress.Pincode)

	_, err = svc.GetForSeller(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestServiceMarkPaidSettlesCashOrder(t *testing.T) {
	t.Parallel()
	svc, repo, conn := newTestService(t)
	f := seedFixture(t, conn)
	ctx := context.Background()
	order := payableOrder(t, repo, f)
	seller := outbox.ActorRef{UserID: uuid.New(), Role: string(enums.UserRoleSeller)}

	dto, err := svc.MarkPaid(ctx, order.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatePaid, dto.PaymentState)
	require.NotNil(t, dto.PaidAt)
	assert.True(t, collectedAt.Equal(*dto.PaidAt))

	var events []models.OutboxEvent
	require.NoError(t, conn.Where("event_type = ?", enums.EventOrderPaid).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, order.ID, events[0].AggregateID)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(events[0].Payload, &envelope))
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, seller.UserID, envelope.Actor.UserID)
	var data payloads.OrderPaymentEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, enums.PaymentStatePaid, data.PaymentState)
	assert.Equal(t, "cash_collected", data.Reason)

	// repeating the call is a no-op
	again, err := svc.MarkPaid(ctx, order.ID, seller)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatePaid, again.PaymentState)
	assert.Equal(t, int64(1), dbtest.CountRows(t, conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestServiceMarkPaidConcurrentCallsEmitOnce(t *testing.T) {
	t.Parallel()
	svc, repo, conn := newTestService(t)
	f := seedFixture(t, conn)
	order := payableOrder(t, repo, f)
	seller := outbox.ActorRef{UserID: uuid.New(), Role: string(enums.UserRoleSeller)}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.MarkPaid(context.Background(), order.ID, seller)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), dbtest.CountRows(t, conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}

func TestServiceMarkPaidRejectsOtherOrders(t *testing.T) {
	t.Parallel()
	svc, repo, conn := newTestService(t)
	f := seedFixture(t, conn)
	ctx := context.Background()
	seller := outbox.ActorRef{UserID: uuid.New(), Role: string(enums.UserRoleSeller)}

	hosted := newOrder(f, enums.PaymentMethodHosted, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, hosted))
	_, err := svc.MarkPaid(ctx, hosted.ID, seller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	pendingCash := newOrder(f, enums.PaymentMethodCashOnDelivery, time.Now().UTC())
	require.NoError(t, repo.Create(ctx, pendingCash))
	_, err = svc.MarkPaid(ctx, pendingCash.ID, seller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = svc.MarkPaid(ctx, uuid.New(), seller)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	assert.Zero(t, dbtest.CountRows(t, conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderPaid))
}
