package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/reconciliation"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultSweepBatch   = 100
	defaultSweepRecheck = time.Hour
)

type expiredOrderStore interface {
	FindExpiredHostedPending(ctx context.Context, expiredBefore, createdBefore, checkedBefore time.Time, limit int) ([]models.Order, error)
	MarkSweepChecked(ctx context.Context, orderID uuid.UUID, at time.Time) error
}

type sessionExpirer interface {
	ExpireSession(ctx context.Context, sessionID string) (payments.SessionState, error)
}

type notificationHandler interface {
	Handle(ctx context.Context, n reconciliation.Notification) (reconciliation.Outcome, error)
}

type ReservationExpiryJobParams struct {
	Logger   *logger.Logger
	Orders   expiredOrderStore
	Sessions sessionExpirer
	Handler  notificationHandler
	// SessionTTL is the lifetime given to payment sessions at checkout. Orders
	// with no stored session expiry are swept once they are this old.
	SessionTTL time.Duration
	// Grace delays the sweep past the session expiry so provider events that
	// are already in flight land first.
	Grace time.Duration
	Batch int
	// Recheck is how long an order the sweep could not settle stays out of
	// later batches.
	Recheck time.Duration
	Clock   func() time.Time
}

// NewReservationExpiryJob builds the job that cancels hosted orders whose
// payment session lapsed without a provider outcome, returning their stock.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("order finder required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("session provider required")
	case params.Handler == nil:
		return nil, fmt.Errorf("notification handler required")
	case params.SessionTTL <= 0:
		return nil, fmt.Errorf("session ttl must be positive")
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	recheck := params.Recheck
	if recheck <= 0 {
		recheck = defaultSweepRecheck
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reservationExpiryJob{
		logg:       params.Logger,
		orders:     params.Orders,
		sessions:   params.Sessions,
		handler:    params.Handler,
		sessionTTL: params.SessionTTL,
		grace:      params.Grace,
		batch:      batch,
		recheck:    recheck,
		now:        clock,
	}, nil
}

type reservationExpiryJob struct {
	logg       *logger.Logger
	orders     expiredOrderStore
	sessions   sessionExpirer
	handler    notificationHandler
	sessionTTL time.Duration
	grace      time.Duration
	batch      int
	recheck    time.Duration
	now        func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expiredBefore := now.Add(-j.grace)
	createdBefore := now.Add(-j.sessionTTL - j.grace)

	stale, err := j.orders.FindExpiredHostedPending(ctx, expiredBefore, createdBefore, now.Add(-j.recheck), j.batch)
	if err != nil {
		return fmt.Errorf("query expired hosted orders: %w", err)
	}

	var errs error
	settled, skipped, failed := 0, 0, 0
	for i := range stale {
		order := &stale[i]
		done, err := j.settle(ctx, order)
		switch {
		case err != nil:
			failed++
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
		case done:
			settled++
			continue
		default:
			skipped++
		}
		// parked orders must not hold the head of the next batch
		if err := j.orders.MarkSweepChecked(ctx, order.ID, now); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: mark sweep checked: %w", order.ID, err))
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(stale),
		"settled":    settled,
		"skipped":    skipped,
		"failed":     failed,
	}), "reservation expiry sweep complete")
	return errs
}

// settle closes the provider session before touching stock so a buyer can no
// longer pay for an order whose reservation is being returned. A session the
// buyer already paid is settled as paid, recovering a lost webhook.
func (j *reservationExpiryJob) settle(ctx context.Context, order *models.Order) (bool, error) {
	ctx = j.logg.WithOrderID(ctx, order.ID.String())

	sessionID := ""
	if order.PaymentSessionID != nil {
		sessionID = *order.PaymentSessionID
	}

	kind := reconciliation.KindExpired
	reason := "reservation_expired"
	if sessionID != "" {
		sctx := j.logg.WithField(ctx, "session_id", sessionID)
		state, err := j.sessions.ExpireSession(sctx, sessionID)
		if err != nil {
			return false, fmt.Errorf("expire session: %w", err)
		}
		switch state {
		case payments.SessionPaid:
			j.logg.Warn(sctx, "payment session already paid; settling order without webhook")
			kind, reason = reconciliation.KindSucceeded, "session_paid"
		case payments.SessionSettling:
			j.logg.Info(sctx, "payment session awaiting async payment; leaving order to webhook")
			return false, nil
		}
	}

	outcome, err := j.handler.Handle(ctx, reconciliation.Notification{
		Kind:      kind,
		OrderID:   order.ID,
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		return false, err
	}
	return outcome == reconciliation.OutcomeApplied || outcome == reconciliation.OutcomeAlreadyTerminal, nil
}
