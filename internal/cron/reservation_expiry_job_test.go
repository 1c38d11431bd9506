package cron

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/reconciliation"
	"github.com/angelmondragon/storefront-backend/pkg/breaker"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/dbtest"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

var sweepNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

func TestReservationExpiryJobExpiresSessionThenCancels(t *testing.T) {
	t.Parallel()
	withSession := hostedOrder("cs_open")
	withoutSession := hostedOrder("")
	finder := &fakeFinder{orders: []models.Order{withSession, withoutSession}}
	sessions := &fakeSessions{}
	handler := &fakeNotificationHandler{outcome: reconciliation.OutcomeApplied}

	job := newExpiryJob(t, finder, sessions, handler)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, sweepNow.Add(-5*time.Minute), finder.expiredBefore)
	assert.Equal(t, sweepNow.Add(-time.Hour-5*time.Minute), finder.createdBefore)
	assert.Equal(t, sweepNow.Add(-time.Hour), finder.checkedBefore)
	assert.Equal(t, 50, finder.limit)
	assert.Equal(t, []string{"cs_open"}, sessions.expired)
	assert.Empty(t, finder.marked)
	require.Len(t, handler.got, 2)
	for i, order := range []models.Order{withSession, withoutSession} {
		assert.Equal(t, order.ID, handler.got[i].OrderID)
		assert.Equal(t, reconciliation.KindExpired, handler.got[i].Kind)
	}
}

func TestReservationExpiryJobCancelsLapsedSessions(t *testing.T) {
	t.Parallel()
	order := hostedOrder("cs_lapsed")
	finder := &fakeFinder{orders: []models.Order{order}}
	sessions := &fakeSessions{states: map[string]payments.SessionState{"cs_lapsed": payments.SessionClosed}}
	handler := &fakeNotificationHandler{outcome: reconciliation.OutcomeApplied}

	job := newExpiryJob(t, finder, sessions, handler)
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, handler.got, 1)
	assert.Equal(t, reconciliation.KindExpired, handler.got[0].Kind)
	assert.Equal(t, "cs_lapsed", handler.got[0].SessionID)
	assert.Empty(t, finder.marked)
}

func TestReservationExpiryJobSettlesPaidSessions(t *testing.T) {
	t.Parallel()
	order := hostedOrder("cs_paid")
	finder := &fakeFinder{orders: []models.Order{order}}
	sessions := &fakeSessions{states: map[string]payments.SessionState{"cs_paid": payments.SessionPaid}}
	handler := &fakeNotificationHandler{outcome: reconciliation.OutcomeApplied}

	job := newExpiryJob(t, finder, sessions, handler)
	require.NoError(t, job.Run(context.Background()))
	require.Len(t, handler.got, 1)
	assert.Equal(t, reconciliation.KindSucceeded, handler.got[0].Kind)
	assert.Equal(t, order.ID, handler.got[0].OrderID)
	assert.Empty(t, finder.marked)
}

func TestReservationExpiryJobParksSettlingSessions(t *testing.T) {
	t.Parallel()
	order := hostedOrder("cs_async")
	finder := &fakeFinder{orders: []models.Order{order}}
	sessions := &fakeSessions{states: map[string]payments.SessionState{"cs_async": payments.SessionSettling}}
	handler := &fakeNotificationHandler{}

	job := newExpiryJob(t, finder, sessions, handler)
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, handler.got)
	assert.Equal(t, []uuid.UUID{order.ID}, finder.marked)
}

func TestReservationExpiryJobAggregatesFailures(t *testing.T) {
	t.Parallel()
	first, second := hostedOrder("cs_1"), hostedOrder("cs_2")
	finder := &fakeFinder{orders: []models.Order{first, second}}
	sessions := &fakeSessions{err: errors.New("provider unavailable")}
	handler := &fakeNotificationHandler{}

	job := newExpiryJob(t, finder, sessions, handler)
	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), first.ID.String())
	assert.Contains(t, err.Error(), second.ID.String())
	assert.Empty(t, handler.got)
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, finder.marked)
}

func TestReservationExpiryJobQueryFailure(t *testing.T) {
	t.Parallel()
	job := newExpiryJob(t, &fakeFinder{err: errors.New("db down")}, &fakeSessions{}, &fakeNotificationHandler{})
	assert.Error(t, job.Run(context.Background()))
}

func TestReservationExpiryJobReleasesStock(t *testing.T) {
	t.Parallel()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), logg, nil)
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)

	buyer := dbtest.SeedUser(t, conn, enums.UserRoleBuyer)
	seller := dbtest.SeedUser(t, conn, enums.UserRoleSeller)
	address := dbtest.SeedAddress(t, conn, buyer.ID, "buyer@example.com")
	product := dbtest.SeedProduct(t, conn, seller.ID, decimal.NewFromInt(20), 4)
	require.NoError(t, ledger.Reserve(context.Background(), product.ID, 3))

	session := "cs_stale"
	expiresAt := sweepNow.Add(-time.Hour)
	stale := &models.Order{
		BuyerID:                 buyer.ID,
		ShippingAddressID:       address.ID,
		Subtotal:                decimal.NewFromInt(60),
		Surcharge:               decimal.NewFromInt(1),
		TotalAmount:             decimal.NewFromInt(61),
		Currency:                "usd",
		PaymentMethod:           enums.PaymentMethodHosted,
		PaymentState:            enums.PaymentStatePending,
		FulfillmentState:        enums.FulfillmentStatePending,
		PaymentSessionID:        &session,
		PaymentSessionExpiresAt: &expiresAt,
		LineItems: []models.OrderLineItem{{
			ProductID: product.ID,
			Name:      product.Name,
			Quantity:  3,
			UnitPrice: decimal.NewFromInt(20),
			LineTotal: decimal.NewFromInt(60),
		}},
	}
	require.NoError(t, orderRepo.Create(context.Background(), stale))

	handler, err := reconciliation.NewHandler(reconciliation.HandlerParams{
		Tx:       client,
		Ledger:   ledger,
		Orders:   orderRepo,
		Carts:    cart.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Receipts: noReceipts{},
		Logger:   logg,
		Clock:    func() time.Time { return sweepNow },
	})
	require.NoError(t, err)

	sessions := &fakeSessions{}
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:     logg,
		Orders:     orderRepo,
		Sessions:   sessions,
		Handler:    handler,
		SessionTTL: time.Hour,
		Grace:      5 * time.Minute,
		Clock:      func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	item := dbtest.Inventory(t, conn, product.ID)
	assert.Equal(t, 4, item.AvailableQty)
	assert.Equal(t, 0, item.ReservedQty)
	assert.Equal(t, []string{"cs_stale"}, sessions.expired)

	var reloaded models.Order
	require.NoError(t, conn.First(&reloaded, "id = ?", stale.ID).Error)
	assert.Equal(t, enums.PaymentStateCancelled, reloaded.PaymentState)
	assert.Equal(t, int64(1), dbtest.CountRows(t, conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderExpired))

	// a second sweep finds nothing left to do
	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, sessions.expired, 1)
}

// TestReservationExpiryJobReleasesStockForLapsedUpstreamSession runs the real
// Stripe SDK against a server that rejects the expire call and reports the
// session as already expired.
func TestReservationExpiryJobReleasesStockForLapsedUpstreamSession(t *testing.T) {
	var expireCalls, getCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions/cs_lapsed/expire":
			expireCalls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"Only Checkout Sessions with a status of open can be expired."}}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_lapsed":
			getCalls.Add(1)
			_, _ = io.WriteString(w, `{"id":"cs_lapsed","object":"checkout.session","status":"expired","payment_status":"unpaid"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"unexpected request"}}`)
		}
	}))
	t.Cleanup(srv.Close)
	provider := stripeProviderAt(t, srv.URL)

	fx := newSweepFixture(t)
	order := fx.hostedOrder(t, "cs_lapsed", sweepNow.Add(-3*time.Hour))

	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:     fx.logg,
		Orders:     fx.orders,
		Sessions:   provider,
		Handler:    fx.handler,
		SessionTTL: time.Hour,
		Grace:      5 * time.Minute,
		Clock:      func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, int32(1), expireCalls.Load())
	assert.Equal(t, int32(1), getCalls.Load())
	item := dbtest.Inventory(t, fx.conn, fx.product.ID)
	assert.Equal(t, 10, item.AvailableQty)
	assert.Equal(t, 0, item.ReservedQty)
	assert.Equal(t, enums.PaymentStateCancelled, fx.state(t, order.ID))
	assert.Equal(t, int64(1), dbtest.CountRows(t, fx.conn, &models.OutboxEvent{}, "event_type = ?", enums.EventOrderExpired))
}

func TestReservationExpiryJobParkedOrdersDoNotStarveNewerOnes(t *testing.T) {
	t.Parallel()
	fx := newSweepFixture(t)

	var parked []uuid.UUID
	for i := 0; i < 3; i++ {
		sessionID := fmt.Sprintf("cs_async_%d", i)
		order := fx.hostedOrder(t, sessionID, sweepNow.Add(-5*time.Hour+time.Duration(i)*time.Minute))
		parked = append(parked, order.ID)
	}
	newer := fx.hostedOrder(t, "cs_newer", sweepNow.Add(-2*time.Hour))

	sessions := &fakeSessions{states: map[string]payments.SessionState{
		"cs_async_0": payments.SessionSettling,
		"cs_async_1": payments.SessionSettling,
		"cs_async_2": payments.SessionSettling,
		"cs_newer":   payments.SessionClosed,
	}}
	now := sweepNow
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:     fx.logg,
		Orders:     fx.orders,
		Sessions:   sessions,
		Handler:    fx.handler,
		SessionTTL: time.Hour,
		Grace:      5 * time.Minute,
		Batch:      2,
		Recheck:    time.Hour,
		Clock:      func() time.Time { return now },
	})
	require.NoError(t, err)

	// the two oldest parked orders fill the first batch
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"cs_async_0", "cs_async_1"}, sessions.expired)
	assert.Equal(t, enums.PaymentStatePending, fx.state(t, newer.ID))

	now = sweepNow.Add(5 * time.Minute)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"cs_async_0", "cs_async_1", "cs_async_2", "cs_newer"}, sessions.expired)
	assert.Equal(t, enums.PaymentStateCancelled, fx.state(t, newer.ID))
	for _, id := range parked {
		assert.Equal(t, enums.PaymentStatePending, fx.state(t, id))
	}

	// parked orders come back once the recheck interval has passed
	now = sweepNow.Add(2 * time.Hour)
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"cs_async_0", "cs_async_1", "cs_async_2", "cs_newer", "cs_async_0", "cs_async_1"}, sessions.expired)
}

type sweepFixture struct {
	conn    *gorm.DB
	logg    *logger.Logger
	ledger  *inventory.Ledger
	orders  orders.Repository
	handler *reconciliation.Handler
	buyer   models.User
	address models.Address
	product models.Product
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ledger, err := inventory.NewLedger(inventory.NewRepository(conn), logg, nil)
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)

	buyer := dbtest.SeedUser(t, conn, enums.UserRoleBuyer)
	seller := dbtest.SeedUser(t, conn, enums.UserRoleSeller)
	handler, err := reconciliation.NewHandler(reconciliation.HandlerParams{
		Tx:       client,
		Ledger:   ledger,
		Orders:   orderRepo,
		Carts:    cart.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Receipts: noReceipts{},
		Logger:   logg,
		Clock:    func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	return &sweepFixture{
		conn:    conn,
		logg:    logg,
		ledger:  ledger,
		orders:  orderRepo,
		handler: handler,
		buyer:   buyer,
		address: dbtest.SeedAddress(t, conn, buyer.ID, "buyer@example.com"),
		product: dbtest.SeedProduct(t, conn, seller.ID, decimal.NewFromInt(20), 10),
	}
}

// hostedOrder reserves one unit and stores a pending hosted order whose
// session lapsed an hour after createdAt.
func (fx *sweepFixture) hostedOrder(t *testing.T, sessionID string, createdAt time.Time) *models.Order {
	t.Helper()
	require.NoError(t, fx.ledger.Reserve(context.Background(), fx.product.ID, 1))
	expiresAt := createdAt.Add(time.Hour)
	order := &models.Order{
		BuyerID:                 fx.buyer.ID,
		ShippingAddressID:       fx.address.ID,
		Subtotal:                decimal.NewFromInt(20),
		Surcharge:               decimal.Zero,
		TotalAmount:             decimal.NewFromInt(20),
		Currency:                "usd",
		PaymentMethod:           enums.PaymentMethodHosted,
		PaymentState:            enums.PaymentStatePending,
		FulfillmentState:        enums.FulfillmentStatePending,
		PaymentSessionID:        &sessionID,
		PaymentSessionExpiresAt: &expiresAt,
		CreatedAt:               createdAt,
		LineItems: []models.OrderLineItem{{
			ProductID: fx.product.ID,
			Name:      fx.product.Name,
			Quantity:  1,
			UnitPrice: decimal.NewFromInt(20),
			LineTotal: decimal.NewFromInt(20),
		}},
	}
	require.NoError(t, fx.orders.Create(context.Background(), order))
	return order
}

func (fx *sweepFixture) state(t *testing.T, orderID uuid.UUID) enums.PaymentState {
	t.Helper()
	var order models.Order
	require.NoError(t, fx.conn.First(&order, "id = ?", orderID).Error)
	return order.PaymentState
}

// stripeProviderAt points the Stripe SDK at url for the rest of the test.
func stripeProviderAt(t *testing.T, url string) *payments.StripeProvider {
	t.Helper()
	prevKey, prevBackend := stripe.Key, stripe.GetBackend(stripe.APIBackend)
	stripe.Key = "sk_test_sweep"
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}))
	t.Cleanup(func() {
		stripe.Key = prevKey
		stripe.SetBackend(stripe.APIBackend, prevBackend)
	})

	cb := breaker.New("stripe", config.BreakerConfig{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, MinRequests: 3, FailureRatio: 0.6}, nil, nil, payments.IsClientError)
	provider, err := payments.NewStripeProvider(config.CheckoutConfig{SuccessURL: "https://shop.test/ok", CancelURL: "https://shop.test/cart"}, cb)
	require.NoError(t, err)
	return provider
}

func newExpiryJob(t *testing.T, finder *fakeFinder, sessions *fakeSessions, handler *fakeNotificationHandler) Job {
	t.Helper()
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Orders:     finder,
		Sessions:   sessions,
		Handler:    handler,
		SessionTTL: time.Hour,
		Grace:      5 * time.Minute,
		Batch:      50,
		Clock:      func() time.Time { return sweepNow },
	})
	require.NoError(t, err)
	return job
}

func hostedOrder(sessionID string) models.Order {
	order := models.Order{
		ID:            uuid.New(),
		PaymentMethod: enums.PaymentMethodHosted,
		PaymentState:  enums.PaymentStatePending,
	}
	if sessionID != "" {
		order.PaymentSessionID = &sessionID
	}
	return order
}

type fakeFinder struct {
	orders        []models.Order
	err           error
	expiredBefore time.Time
	createdBefore time.Time
	checkedBefore time.Time
	limit         int
	marked        []uuid.UUID
}

func (f *fakeFinder) FindExpiredHostedPending(_ context.Context, expiredBefore, createdBefore, checkedBefore time.Time, limit int) ([]models.Order, error) {
	f.expiredBefore, f.createdBefore, f.checkedBefore, f.limit = expiredBefore, createdBefore, checkedBefore, limit
	return f.orders, f.err
}

func (f *fakeFinder) MarkSweepChecked(_ context.Context, orderID uuid.UUID, _ time.Time) error {
	f.marked = append(f.marked, orderID)
	return nil
}

// fakeSessions reports SessionClosed unless states says otherwise.
type fakeSessions struct {
	expired []string
	states  map[string]payments.SessionState
	err     error
}

func (f *fakeSessions) ExpireSession(_ context.Context, sessionID string) (payments.SessionState, error) {
	if f.err != nil {
		return "", f.err
	}
	f.expired = append(f.expired, sessionID)
	if state, ok := f.states[sessionID]; ok {
		return state, nil
	}
	return payments.SessionClosed, nil
}

type fakeNotificationHandler struct {
	got     []reconciliation.Notification
	outcome reconciliation.Outcome
}

func (f *fakeNotificationHandler) Handle(_ context.Context, n reconciliation.Notification) (reconciliation.Outcome, error) {
	f.got = append(f.got, n)
	return f.outcome, nil
}

type noReceipts struct{}

func (noReceipts) SendReceipt(context.Context, *models.Order) bool { return false }
