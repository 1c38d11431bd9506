package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/address"
	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/checkout/helpers"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

const (
	outcomeRejected   = "rejected"
	outcomeOutOfStock = "out_of_stock"
	outcomeFailed     = "failed"
	outcomePlaced     = "placed"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type addressFinder interface {
	FindForUser(ctx context.Context, userID, addressID uuid.UUID) (*models.Address, error)
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type receiptSender interface {
	SendReceipt(ctx context.Context, order *models.Order) bool
}

type outcomeRecorder interface {
	Observe(method, outcome string)
}

// ServiceParams wires the checkout orchestrator.
type ServiceParams struct {
	Tx        txRunner
	Ledger    *inventory.Ledger
	Orders    orders.Repository
	Carts     *cart.Repository
	Addresses addressFinder
	Sessions  payments.SessionProvider
	Outbox    outboxEmitter
	Receipts  receiptSender
	Metrics   outcomeRecorder
	Logger    *logger.Logger
	Config    config.CheckoutConfig
	Clock     func() time.Time
}

// Service places orders. Stock is reserved line by line before the order is
// written; any failure before the order is durable hands every hold back.
type Service struct {
	tx        txRunner
	ledger    *inventory.Ledger
	orders    orders.Repository
	carts     *cart.Repository
	addresses addressFinder
	sessions  payments.SessionProvider
	outbox    outboxEmitter
	receipts  receiptSender
	metrics   outcomeRecorder
	logg      *logger.Logger
	cfg       config.CheckoutConfig
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("inventory ledger required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Carts == nil:
		return nil, fmt.Errorf("cart repository required")
	case params.Addresses == nil:
		return nil, fmt.Errorf("address finder required")
	case params.Sessions == nil:
		return nil, fmt.Errorf("payment session provider required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Receipts == nil:
		return nil, fmt.Errorf("receipt sender required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		tx:        params.Tx,
		ledger:    params.Ledger,
		orders:    params.Orders,
		carts:     params.Carts,
		addresses: params.Addresses,
		sessions:  params.Sessions,
		outbox:    params.Outbox,
		receipts:  params.Receipts,
		metrics:   params.Metrics,
		logg:      params.Logger,
		cfg:       params.Config,
		now:       clock,
	}, nil
}

// Checkout validates the request, reserves stock and places the order on the
// requested payment path.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := helpers.ValidateOrderRequest(req.BuyerID, req.AddressID, req.PaymentMethod, req.itemInputs()); err != nil {
		s.observe(req.PaymentMethod, outcomeRejected)
		return nil, err
	}
	ctx = s.logg.WithUserID(ctx, req.BuyerID.String())

	shipTo, err := s.addresses.FindForUser(ctx, req.BuyerID, req.AddressID)
	if err != nil {
		s.observe(req.PaymentMethod, outcomeRejected)
		if errors.Is(err, address.ErrNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load address")
	}

	lines, err := s.reserveAll(ctx, req.Items)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeOutOfStock) {
			s.observe(req.PaymentMethod, outcomeOutOfStock)
		} else {
			s.observe(req.PaymentMethod, outcomeFailed)
		}
		return nil, err
	}

	order := s.buildOrder(req, lines)
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	var result *Result
	switch req.PaymentMethod {
	case enums.PaymentMethodCashOnDelivery:
		result, err = s.placeCashOnDelivery(ctx, order, lines)
	case enums.PaymentMethodHosted:
		result, err = s.placeHosted(ctx, order, lines, shipTo)
	}
	if err != nil {
		s.observe(req.PaymentMethod, outcomeFailed)
		return nil, err
	}
	s.observe(req.PaymentMethod, outcomePlaced)
	s.logg.Info(ctx, "order placed")
	return result, nil
}

// reserveAll holds stock for each item in order. The first failure releases
// everything held so far and is returned unchanged.
func (s *Service) reserveAll(ctx context.Context, items []Item) ([]reservedLine, error) {
	lines := make([]reservedLine, 0, len(items))
	for _, item := range items {
		product, err := s.ledger.FindProduct(ctx, item.ProductID)
		if err == nil {
			err = s.ledger.Reserve(ctx, item.ProductID, item.Quantity)
		}
		if err != nil {
			s.releaseAll(ctx, lines)
			return nil, err
		}
		lines = append(lines, reservedLine{product: product, quantity: item.Quantity})
	}
	return lines, nil
}

func (s *Service) releaseAll(ctx context.Context, lines []reservedLine) {
	var errs error
	for _, line := range lines {
		errs = multierr.Append(errs, s.ledger.Release(ctx, line.product.ID, line.quantity))
	}
	if errs != nil {
		s.logg.Error(ctx, "checkout: releasing reservations failed", errs)
	}
}

func (s *Service) buildOrder(req Request, lines []reservedLine) *models.Order {
	priced := make([]helpers.PricedLine, len(lines))
	items := make([]models.OrderLineItem, len(lines))
	for i, line := range lines {
		priced[i] = helpers.PricedLine{UnitPrice: line.product.UnitPrice(), Quantity: line.quantity}
		items[i] = models.OrderLineItem{
			Position:  i,
			ProductID: line.product.ID,
			Name:      line.product.Name,
			Quantity:  line.quantity,
			UnitPrice: priced[i].UnitPrice,
			LineTotal: helpers.LineTotal(priced[i]),
		}
	}
	totals := helpers.ComputeTotals(priced)
	return &models.Order{
		ID:                uuid.New(),
		BuyerID:           req.BuyerID,
		ShippingAddressID: req.AddressID,
		Subtotal:          totals.Subtotal,
		Surcharge:         totals.Surcharge,
		TotalAmount:       totals.Total,
		Currency:          strings.ToLower(s.cfg.Currency),
		PaymentMethod:     req.PaymentMethod,
		PaymentState:      enums.PaymentStatePending,
		FulfillmentState:  enums.FulfillmentStatePending,
		LineItems:         items,
	}
}

// placeCashOnDelivery confirms the order in the same transaction that creates
// it: stock is committed, the cart emptied and the order becomes payable.
func (s *Service) placeCashOnDelivery(ctx context.Context, order *models.Order, lines []reservedLine) (*Result, error) {
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.orders.WithTx(tx)
		if err := s.createOrder(ctx, tx, repo, order); err != nil {
			return err
		}
		ledger := s.ledger.WithTx(tx)
		for _, li := range order.LineItems {
			if err := ledger.Commit(ctx, li.ProductID, li.Quantity); err != nil {
				return err
			}
		}
		won, err := repo.TransitionPaymentState(ctx, order.ID, enums.PaymentStatePending, enums.PaymentStatePayableOnDelivery, now)
		if err != nil {
			return err
		}
		if !won {
			return orders.ErrAlreadyTerminal
		}
		if err := s.carts.WithTx(tx).Clear(ctx, order.BuyerID); err != nil {
			return err
		}
		return s.emitPaymentEvent(ctx, tx, order, enums.EventOrderPayable, enums.PaymentStatePayableOnDelivery, "")
	})
	if err != nil {
		s.releaseAll(ctx, lines)
		return nil, asCheckoutError(err, "place order")
	}

	order.PaymentState = enums.PaymentStatePayableOnDelivery
	s.receipts.SendReceipt(ctx, order)
	return &Result{Order: order}, nil
}

// placeHosted persists the pending order, then opens the provider session.
// The session call happens outside any transaction.
func (s *Service) placeHosted(ctx context.Context, order *models.Order, lines []reservedLine, shipTo *models.Address) (*Result, error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.createOrder(ctx, tx, s.orders.WithTx(tx), order)
	})
	if err != nil {
		s.releaseAll(ctx, lines)
		return nil, asCheckoutError(err, "place order")
	}

	expiresAt := s.now().UTC().Add(s.cfg.SessionTTL).Truncate(time.Second)
	session, err := s.sessions.OpenSession(ctx, payments.SessionRequest{
		OrderID:       order.ID,
		CustomerEmail: shipTo.Email,
		Currency:      order.Currency,
		Lines:         sessionLines(order),
		Surcharge:     order.Surcharge,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		s.abandon(ctx, order, "payment_session_failed")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment provider unavailable")
	}

	if err := s.orders.SetPaymentSession(ctx, order.ID, session.ID, session.ExpiresAt); err != nil {
		if _, expireErr := s.sessions.ExpireSession(ctx, session.ID); expireErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "session_id", session.ID), "checkout: expiring orphaned session failed", expireErr)
		}
		s.abandon(ctx, order, "payment_session_unrecorded")
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record payment session")
	}
	order.PaymentSessionID = &session.ID
	order.PaymentSessionExpiresAt = &session.ExpiresAt

	if s.cfg.ClearCartOnSession() {
		if err := s.carts.Clear(ctx, order.BuyerID); err != nil {
			s.logg.Error(ctx, "checkout: clearing cart failed", err)
		}
	}
	return &Result{Order: order, RedirectURL: session.URL}, nil
}

// abandon removes an order whose payment session never opened and hands its
// stock back, in one transaction.
func (s *Service) abandon(ctx context.Context, order *models.Order, reason string) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Delete(ctx, order.ID); err != nil {
			return err
		}
		ledger := s.ledger.WithTx(tx)
		for _, li := range order.LineItems {
			if err := ledger.Release(ctx, li.ProductID, li.Quantity); err != nil {
				return err
			}
		}
		return s.emitPaymentEvent(ctx, tx, order, enums.EventOrderCancelled, enums.PaymentStateCancelled, reason)
	})
	if err != nil {
		s.logg.Error(s.logg.WithField(ctx, "reason", reason), "checkout: compensating order removal failed", err)
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "reason", reason), "checkout: order abandoned")
}

func (s *Service) createOrder(ctx context.Context, tx *gorm.DB, repo orders.Repository, order *models.Order) error {
	if err := repo.Create(ctx, order); err != nil {
		return err
	}
	items := make([]payloads.OrderItem, len(order.LineItems))
	for i, li := range order.LineItems {
		items[i] = payloads.OrderItem{ProductID: li.ProductID, Quantity: li.Quantity}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{UserID: order.BuyerID, Role: string(enums.UserRoleBuyer)},
		Data: payloads.OrderCreatedEvent{
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			PaymentMethod: order.PaymentMethod,
			Subtotal:      order.Subtotal,
			Surcharge:     order.Surcharge,
			TotalAmount:   order.TotalAmount,
			Currency:      order.Currency,
			Items:         items,
		},
	})
}

func (s *Service) emitPaymentEvent(ctx context.Context, tx *gorm.DB, order *models.Order, eventType enums.OutboxEventType, state enums.PaymentState, reason string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderPaymentEvent{
			OrderID:       order.ID,
			BuyerID:       order.BuyerID,
			PaymentMethod: order.PaymentMethod,
			PaymentState:  state,
			TotalAmount:   order.TotalAmount,
			Currency:      order.Currency,
			Reason:        reason,
		},
	})
}

func (s *Service) observe(method enums.PaymentMethod, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Observe(string(method), outcome)
}

func sessionLines(order *models.Order) []payments.SessionLine {
	lines := make([]payments.SessionLine, len(order.LineItems))
	for i, li := range order.LineItems {
		lines[i] = payments.SessionLine{Name: li.Name, Quantity: li.Quantity, UnitPrice: li.UnitPrice}
	}
	return lines
}

// asCheckoutError keeps coded errors (stock, validation) and reports anything
// else as a storage failure.
func asCheckoutError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
