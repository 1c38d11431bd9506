// Package stripewebhook turns verified Stripe events into payment
// notifications for the reconciliation handler.
package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/reconciliation"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// ErrNoOrderReference marks a checkout session that cannot be tied to an order.
var ErrNoOrderReference = errors.New("checkout session carries no usable order id")

type notificationHandler interface {
	Handle(ctx context.Context, n reconciliation.Notification) (reconciliation.Outcome, error)
}

type eventGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type ServiceParams struct {
	Handler notificationHandler
	Guard   eventGuard
	Logger  *logger.Logger
}

type Service struct {
	handler notificationHandler
	guard   eventGuard
	logg    *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notification handler required")
	}
	if params.Guard == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "event guard required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{handler: params.Handler, guard: params.Guard, logg: params.Logger}, nil
}

// HandleEvent processes one verified event. Events that carry no payment
// outcome are acknowledged as ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (reconciliation.Outcome, error) {
	if event == nil || event.Data == nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})

	n, ok, err := MapEvent(event)
	if errors.Is(err, ErrNoOrderReference) {
		s.logg.Warn(s.logg.WithField(ctx, "reason", err.Error()), "stripe event without order reference ignored")
		return reconciliation.OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if !ok {
		s.logg.Debug(ctx, "stripe event ignored")
		return reconciliation.OutcomeIgnored, nil
	}

	seen, err := s.guard.CheckAndMark(ctx, event.ID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check webhook event")
	}
	if seen {
		s.logg.Info(ctx, "stripe event already processed")
		return reconciliation.OutcomeDuplicate, nil
	}

	outcome, err := s.handler.Handle(ctx, n)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "retryable", pkgerrors.Retryable(err)), "stripe event handling failed, key released for redelivery")
		if delErr := s.guard.Delete(ctx, event.ID); delErr != nil {
			s.logg.Error(ctx, "failed to clear webhook event key", delErr)
		}
		return "", err
	}
	return outcome, nil
}

// MapEvent reduces a checkout session event to a notification. The boolean is
// false for events that carry no payment outcome.
func MapEvent(event *stripe.Event) (reconciliation.Notification, bool, error) {
	var kind reconciliation.Kind
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		kind = reconciliation.KindSucceeded
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		kind = reconciliation.KindCancelled
	case stripe.EventTypeCheckoutSessionExpired:
		kind = reconciliation.KindExpired
	default:
		return reconciliation.Notification{}, false, nil
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return reconciliation.Notification{}, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session")
	}

	// a completed session paid by a delayed method settles later through
	// async_payment_succeeded or async_payment_failed
	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		session.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return reconciliation.Notification{}, false, nil
	}

	orderID, err := orderIDFromSession(&session)
	if err != nil {
		return reconciliation.Notification{}, false, err
	}

	n := reconciliation.Notification{
		EventID:   event.ID,
		Kind:      kind,
		OrderID:   orderID,
		SessionID: session.ID,
	}
	switch kind {
	case reconciliation.KindCancelled:
		n.Reason = "async_payment_failed"
	case reconciliation.KindExpired:
		n.Reason = "session_expired"
	}
	return n, true, nil
}

func orderIDFromSession(session *stripe.CheckoutSession) (uuid.UUID, error) {
	raw := session.Metadata[payments.MetadataOrderID]
	if raw == "" {
		raw = session.ClientReferenceID
	}
	if raw == "" {
		return uuid.Nil, fmt.Errorf("session %s: %w", session.ID, ErrNoOrderReference)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("session %s order id %q: %w", session.ID, raw, ErrNoOrderReference)
	}
	return id, nil
}
