package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"

	"github.com/angelmondragon/storefront-backend/pkg/breaker"
	"github.com/angelmondragon/storefront-backend/pkg/config"
)

// MetadataOrderID is the session metadata key carrying the order id.
const MetadataOrderID = "order_id"

const surchargeLabel = "Service fee"

type sessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeSessions struct{}

func (stripeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.New(params)
}

func (stripeSessions) Expire(id string, params *stripe.CheckoutSessionExpireParams) (*stripe.CheckoutSession, error) {
	return session.Expire(id, params)
}

func (stripeSessions) Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return session.Get(id, params)
}

// StripeProvider opens Stripe Checkout sessions behind a circuit breaker.
type StripeProvider struct {
	api        sessionAPI
	breaker    *breaker.Breaker
	successURL string
	cancelURL  string
}

// NewStripeProvider wires the Stripe checkout session API. The Stripe key must
// already be set through pkg/stripe.
func NewStripeProvider(cfg config.CheckoutConfig, cb *breaker.Breaker) (*StripeProvider, error) {
	return newStripeProvider(stripeSessions{}, cfg, cb)
}

func newStripeProvider(api sessionAPI, cfg config.CheckoutConfig, cb *breaker.Breaker) (*StripeProvider, error) {
	if cb == nil {
		return nil, errors.New("circuit breaker required")
	}
	if strings.TrimSpace(cfg.SuccessURL) == "" || strings.TrimSpace(cfg.CancelURL) == "" {
		return nil, errors.New("checkout success and cancel urls required")
	}
	return &StripeProvider{
		api:        api,
		breaker:    cb,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}, nil
}

// OpenSession creates a payment-mode Checkout session for the order.
func (p *StripeProvider) OpenSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := buildSessionParams(req, p.successURL, p.cancelURL)
	params.Context = ctx

	cs, err := breaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return p.api.New(params)
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return &Session{
		ID:        cs.ID,
		URL:       cs.URL,
		ExpiresAt: time.Unix(cs.ExpiresAt, 0).UTC(),
	}, nil
}

// ExpireSession closes an open session so it can no longer be paid. Stripe
// only expires open sessions, so a rejected expire is followed by a lookup
// that tells a session that already lapsed from one the buyer completed.
func (p *StripeProvider) ExpireSession(ctx context.Context, sessionID string) (SessionState, error) {
	expireParams := &stripe.CheckoutSessionExpireParams{}
	expireParams.Context = ctx

	_, err := breaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return p.api.Expire(sessionID, expireParams)
	})
	if err == nil {
		return SessionClosed, nil
	}
	if !IsClientError(err) {
		return "", fmt.Errorf("expire checkout session %s: %w", sessionID, err)
	}

	getParams := &stripe.CheckoutSessionParams{}
	getParams.Context = ctx
	cs, getErr := breaker.Execute(p.breaker, func() (*stripe.CheckoutSession, error) {
		return p.api.Get(sessionID, getParams)
	})
	if getErr != nil {
		return "", fmt.Errorf("retrieve checkout session %s after rejected expire: %w", sessionID, getErr)
	}
	return stateOf(cs)
}

func stateOf(cs *stripe.CheckoutSession) (SessionState, error) {
	switch cs.Status {
	case stripe.CheckoutSessionStatusExpired:
		return SessionClosed, nil
	case stripe.CheckoutSessionStatusComplete:
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
			return SessionSettling, nil
		}
		return SessionPaid, nil
	default:
		return "", fmt.Errorf("checkout session %s: %w", cs.ID, ErrSessionStillOpen)
	}
}

// IsClientError reports whether Stripe rejected the request itself.
func IsClientError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Type == stripe.ErrorTypeInvalidRequest ||
		(stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429)
}

func buildSessionParams(req SessionRequest, successURL, cancelURL string) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(req.Currency)
	orderID := req.OrderID.String()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(orderID),
		ExpiresAt:         stripe.Int64(req.ExpiresAt.Unix()),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{MetadataOrderID: orderID},
		},
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.AddMetadata(MetadataOrderID, orderID)

	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, lineItem(currency, line.Name, line.UnitPrice, line.Quantity))
	}
	if req.Surcharge.IsPositive() {
		params.LineItems = append(params.LineItems, lineItem(currency, surchargeLabel, req.Surcharge, 1))
	}
	return params
}

func lineItem(currency, name string, unit decimal.Decimal, qty int) *stripe.CheckoutSessionLineItemParams {
	return &stripe.CheckoutSessionLineItemParams{
		Quantity: stripe.Int64(int64(qty)),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(currency),
			UnitAmount: stripe.Int64(MinorUnits(unit)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
	}
}
